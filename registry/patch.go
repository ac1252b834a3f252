package registry

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/capsul-go/capsul/common/validation"
	"github.com/capsul-go/capsul/graph"
)

// Patch applies a JSON-Patch (RFC 6902) document to a pipeline-definition
// document's JSON encoding, returning the patched bytes. Used for
// parameter overrides and test fixtures layered on top of a stored
// definition without forking it (SPEC_FULL.md domain-stack entry for
// evanphx/json-patch/v5). Operations are checked by a DefinitionValidator
// before being applied, so a malformed or runaway patch fails with a
// plain error instead of either an opaque jsonpatch error or a document
// that silently passes Apply but fails Load later.
func Patch(document, patch []byte) ([]byte, error) {
	var operations []map[string]interface{}
	if err := json.Unmarshal(patch, &operations); err != nil {
		return nil, fmt.Errorf("registry: invalid patch: %w", err)
	}
	if err := validation.NewDefinitionValidator().ValidateOperations(operations); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	decoded, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return nil, fmt.Errorf("registry: decode patch: %w", err)
	}
	out, err := decoded.Apply(document)
	if err != nil {
		return nil, fmt.Errorf("registry: apply patch: %w", err)
	}
	return out, nil
}

// LoadJSON unmarshals a top-level pipeline-definition document and loads
// it against reg in one step.
func LoadJSON(reg *Registry, data []byte, name string) (graph.NodeKind, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("registry: invalid document: %w", err)
	}
	return Load(reg, &doc, name)
}
