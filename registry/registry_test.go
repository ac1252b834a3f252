package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsul-go/capsul/field"
	"github.com/capsul-go/capsul/graph"
	"github.com/capsul-go/capsul/pipeline"
	"github.com/capsul-go/capsul/process"
)

func newTestRegistry() *Registry {
	reg := New()
	reg.Register("test.a", func(name string) (graph.NodeKind, error) {
		p := process.New(name, "test.a")
		if err := p.DeclareField(&field.Field{Name: "out", Type: "string", IsOutput: true}); err != nil {
			return nil, err
		}
		return p, nil
	})
	reg.Register("test.b", func(name string) (graph.NodeKind, error) {
		p := process.New(name, "test.b")
		if err := p.DeclareField(&field.Field{Name: "in", Type: "string"}); err != nil {
			return nil, err
		}
		return p, nil
	})
	return reg
}

func TestRegistryNewRejectsUnknownDefinition(t *testing.T) {
	reg := New()
	_, err := reg.New("x", "nope")
	assert.Error(t, err)
}

func TestLoadProcessDocumentAppliesParameters(t *testing.T) {
	reg := newTestRegistry()
	doc := &Document{
		Type:       "process",
		Definition: []byte(`"test.a"`),
		Parameters: map[string]interface{}{"out": "seed"},
	}

	node, err := Load(reg, doc, "a")
	require.NoError(t, err)
	p, ok := node.(*process.Process)
	require.True(t, ok)

	v, ok := p.Fields.Get("out")
	require.True(t, ok)
	assert.Equal(t, "seed", v)
}

func TestLoadCustomPipelineWiresLinksAndExports(t *testing.T) {
	reg := newTestRegistry()
	docJSON := []byte(`{
		"type": "custom_pipeline",
		"definition": {
			"executables": {
				"a": {"type": "process", "definition": "test.a"},
				"b": {"type": "process", "definition": "test.b"}
			},
			"links": ["a.out->b.in", "value->a.out"]
		}
	}`)

	node, err := LoadJSON(reg, docJSON, "pl")
	require.NoError(t, err)

	pl, ok := node.(*pipeline.Pipeline)
	require.True(t, ok)

	a := pl.Child("a")
	b := pl.Child("b")
	require.NotNil(t, a)
	require.NotNil(t, b)

	outPlug := a.Base().Plug("out")
	require.NotNil(t, outPlug)
	require.Len(t, outPlug.LinksTo, 2) // one to b.in, one exported to the pipeline boundary as "value"

	var peers []string
	for _, end := range outPlug.LinksTo {
		peers = append(peers, end.PeerPlug)
	}
	assert.Contains(t, peers, "in")

	require.NotNil(t, pl.Fields.Field("value"))
}

func TestLoadIterativeProcessWrapsBaseExecutable(t *testing.T) {
	reg := New()
	reg.Register("test.a", func(name string) (graph.NodeKind, error) {
		p := process.New(name, "test.a")
		if err := p.DeclareField(&field.Field{Name: "in", Type: "string"}); err != nil {
			return nil, err
		}
		return p, nil
	})

	docJSON := []byte(`{
		"type": "iterative_process",
		"definition": {
			"process": {"type": "process", "definition": "test.a"},
			"iterative_parameters": ["in"]
		}
	}`)

	node, err := LoadJSON(reg, docJSON, "it")
	require.NoError(t, err)
	assert.False(t, node.IsJob())
	assert.Equal(t, "iterative_process", node.Definition())
}

func TestPatchAppliesJSONPatchToADocument(t *testing.T) {
	doc := []byte(`{"type":"process","definition":"test.a","parameters":{"out":"old"}}`)
	patch := []byte(`[{"op":"replace","path":"/parameters/out","value":"new"}]`)

	patched, err := Patch(doc, patch)
	require.NoError(t, err)
	assert.Contains(t, string(patched), `"new"`)
}
