package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchAppliesAReplaceOperation(t *testing.T) {
	document := []byte(`{"type":"process","definition":{"name":"a"}}`)
	patch := []byte(`[{"op":"replace","path":"/definition/name","value":"b"}]`)

	out, err := Patch(document, patch)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"process","definition":{"name":"b"}}`, string(out))
}

func TestPatchRejectsAnExecutableMissingType(t *testing.T) {
	document := []byte(`{"type":"custom_pipeline","definition":{"executables":{}}}`)
	patch := []byte(`[{"op":"add","path":"/definition/executables/n1","value":{"name":"n1"}}]`)

	_, err := Patch(document, patch)
	assert.ErrorContains(t, err, "type")
}

func TestPatchRejectsMoreThanFiveExecutablesAdded(t *testing.T) {
	document := []byte(`{"type":"custom_pipeline","definition":{"executables":{}}}`)

	patch := `[`
	for i := 0; i < 6; i++ {
		if i > 0 {
			patch += ","
		}
		patch += `{"op":"add","path":"/definition/executables/n` +
			string(rune('0'+i)) + `","value":{"type":"test.a"}}`
	}
	patch += `]`

	_, err := Patch(document, []byte(patch))
	assert.ErrorContains(t, err, "cannot add more than 5 executables")
}
