package registry

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Link is one pipeline-definition link (spec.md §6: "Links are either
// 'src.plug->dst.plug' strings or [src, dst] pairs"). It unmarshals from
// either JSON form.
type Link struct {
	Src string
	Dst string
}

// UnmarshalJSON accepts both accepted link encodings.
func (l *Link) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		parts := strings.SplitN(asString, "->", 2)
		if len(parts) != 2 {
			return fmt.Errorf("registry: link %q is not of the form \"src->dst\"", asString)
		}
		l.Src, l.Dst = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		return nil
	}

	var asPair [2]string
	if err := json.Unmarshal(data, &asPair); err != nil {
		return fmt.Errorf("registry: link must be a \"src->dst\" string or a [src, dst] pair: %w", err)
	}
	l.Src, l.Dst = asPair[0], asPair[1]
	return nil
}

// MarshalJSON emits the canonical "src->dst" string form.
func (l Link) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Src + "->" + l.Dst)
}
