package procmeta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsul-go/capsul/dataset"
	"github.com/capsul-go/capsul/field"
	"github.com/capsul-go/capsul/iteration"
	"github.com/capsul-go/capsul/pipeline"
	"github.com/capsul-go/capsul/process"
)

func newTestProcess(name string, ins, outs []string) *process.Process {
	p := process.New(name, "test."+name)
	for _, in := range ins {
		p.DeclareField(&field.Field{Name: in, Type: "string", PathType: field.PathTypeFile})
	}
	for _, out := range outs {
		p.DeclareField(&field.Field{Name: out, Type: "string", IsOutput: true, PathType: field.PathTypeFile})
	}
	return p
}

func TestMetadataModificationSetAndUnusedOnMatchedParameters(t *testing.T) {
	a := newTestProcess("a", []string{"input_file"}, []string{"output_file"})
	mm := NewMetadataModification(a)
	mm.current = a
	mm.Param("*_file").Item("prefix").Set("denoised")
	mm.Param("output_*").Item("suffix").Unused(true)

	unused, metadata := mm.Apply()
	assert.Equal(t, "denoised", metadata["input_file"]["prefix"])
	assert.Equal(t, "denoised", metadata["output_file"]["prefix"])
	assert.True(t, unused["output_file"]["suffix"])
	_, hasInputSuffix := unused["input_file"]["suffix"]
	assert.False(t, hasInputSuffix)
}

func TestMetadataModificationAppendAndPrependChain(t *testing.T) {
	a := newTestProcess("a", nil, []string{"output_file"})
	mm := NewMetadataModification(a)
	mm.current = a
	mm.Param("output_file").Item("suffix").Set("raw")
	mm.Param("output_file").Item("suffix").Append("denoised", "_")
	mm.Param("output_file").Item("suffix").Prepend("sub-01", "_")

	_, metadata := mm.Apply()
	assert.Equal(t, "sub-01_raw_denoised", metadata["output_file"]["suffix"])
}

func TestMetadataModificationSetExprComputesFromSiblingMetadata(t *testing.T) {
	a := newTestProcess("a", nil, []string{"output_file"})
	mm := NewMetadataModification(a)
	mm.current = a
	mm.Param("output_file").Item("suffix").Set("raw")
	mm.Param("output_file").Item("extension").SetExpr(`metadata.suffix + "_computed"`)

	_, metadata := mm.Apply()
	assert.Equal(t, "raw_computed", metadata["output_file"]["extension"])
}

func TestResolveProcessSchemaOnlyVisitsDirectJobChildrenOfAPipeline(t *testing.T) {
	pl := pipeline.New("pl", "test.pl")
	a := newTestProcess("a", nil, []string{"out"})
	require.NoError(t, pl.AddNode(a))
	require.NoError(t, pl.ExportParameter("a", "out", "", false))

	called := false
	RegisterProcessSchema("unit-test-schema", "test.a", func(m *MetadataModification) {
		called = true
		m.Param("out").Item("prefix").Set("hit")
	})

	_, metadata := ResolveProcessSchema("unit-test-schema", pl)
	assert.True(t, called)
	require.Contains(t, metadata, "out")
	assert.Equal(t, "hit", metadata["out"]["prefix"])
}

func TestNewProcessMetadataAssociatesInputOutputByDirection(t *testing.T) {
	input, err := dataset.New("/in", "")
	require.NoError(t, err)
	require.NoError(t, input.SetMetadataSchema("bids"))
	output, err := dataset.New("/out", "")
	require.NoError(t, err)
	require.NoError(t, output.SetMetadataSchema("bids"))

	a := newTestProcess("a", []string{"input_file"}, []string{"output_file"})
	pm, err := NewProcessMetadata(a, map[string]*dataset.Dataset{"input": input, "output": output}, nil)
	require.NoError(t, err)
	assert.Equal(t, "input", pm.datasetPerParameter["input_file"])
	assert.Equal(t, "output", pm.datasetPerParameter["output_file"])
	assert.Equal(t, "bids", pm.schemaPerParameter["input_file"])
}

func TestPathForParametersBuildsPlaceholderPathsAndResolvePathsSubstitutesThem(t *testing.T) {
	input, err := dataset.New("/data/in", "bids")
	require.NoError(t, err)
	a := newTestProcess("a", []string{"input_file"}, nil)

	RegisterProcessSchema("bids", "test.a", func(m *MetadataModification) {
		m.Param("input_file").Item("folder").Set("rawdata")
		m.Param("input_file").Item("sub").Set("01")
		m.Param("input_file").Item("ses").Set("1")
		m.Param("input_file").Item("data_type").Set("anat")
		m.Param("input_file").Item("suffix").Set("T1w")
		m.Param("input_file").Item("extension").Set("nii.gz")
	})

	pm, err := NewProcessMetadata(a, map[string]*dataset.Dataset{"input": input}, nil)
	require.NoError(t, err)

	values, err := pm.PathForParameters(a, []string{"input_file"})
	require.NoError(t, err)
	require.Contains(t, values, "input_file")
	assert.Contains(t, values["input_file"], "!{dataset.input.path}")

	resolved := ResolvePaths(values, map[string]*dataset.Dataset{"input": input})
	assert.Equal(t, "/data/in/rawdata/sub-01/ses-1/anat/sub-01_ses-1_T1w.nii.gz", resolved["input_file"])
}

func TestPathForParametersRejectsAnIterationNodeDirectly(t *testing.T) {
	a := newTestProcess("a", []string{"input_file"}, nil)
	it, err := iteration.New("a_iter", "test.a_iter", a, []string{"input_file"})
	require.NoError(t, err)

	pm, err := NewProcessMetadata(it, nil, nil)
	require.NoError(t, err)

	_, err = pm.PathForParameters(it, nil)
	require.Error(t, err, "PathForParameters operates on a concrete process; GeneratePaths is the iteration-aware entry point")
}

func TestGeneratePathsOnAnIterationBroadcastsOnePathPerIndex(t *testing.T) {
	input, err := dataset.New("/data/in", "bids")
	require.NoError(t, err)

	a := newTestProcess("a", []string{"input_file"}, nil)
	RegisterProcessSchema("bids", "test.a", func(m *MetadataModification) {
		m.Param("input_file").Item("folder").Set("rawdata")
		m.Param("input_file").Item("sub").Set("01")
		m.Param("input_file").Item("ses").Set("1")
		m.Param("input_file").Item("data_type").Set("anat")
		m.Param("input_file").Item("suffix").Set("T1w")
		m.Param("input_file").Item("extension").Set("nii.gz")
	})

	it, err := iteration.New("a_iter2", "test.a_iter2", a, []string{"input_file"})
	require.NoError(t, err)
	it.Fields.Set("input_file", []interface{}{"01", "02", "03"})

	pm, err := NewProcessMetadata(it, map[string]*dataset.Dataset{"input": input}, nil)
	require.NoError(t, err)

	require.NoError(t, pm.GeneratePaths(it))

	v, ok := it.Fields.Get("input_file")
	require.True(t, ok)
	paths, isList := v.([]interface{})
	require.True(t, isList)
	require.Len(t, paths, 3)
	for _, p := range paths {
		assert.Contains(t, p.(string), "!{dataset.input.path}")
	}
}
