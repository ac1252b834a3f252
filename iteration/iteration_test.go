package iteration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsul-go/capsul/field"
	"github.com/capsul-go/capsul/process"
)

func newBase() *process.Process {
	p := process.New("worker", "test.worker")
	p.DeclareField(&field.Field{Name: "input_file", Type: "string"})
	p.DeclareField(&field.Field{Name: "threshold", Type: "float"})
	p.DeclareField(&field.Field{Name: "output_file", Type: "string", IsOutput: true})
	return p
}

func TestNewExposesListTypedIterativeFieldsAndProxiesTheRest(t *testing.T) {
	base := newBase()
	it, err := New("iter", "test.iter", base, []string{"input_file", "output_file"})
	require.NoError(t, err)

	assert.Equal(t, field.ListOf("string"), it.Fields.Field("input_file").Type)
	assert.Equal(t, field.ListOf("string"), it.Fields.Field("output_file").Type)
	assert.Equal(t, "float", it.Fields.Field("threshold").Type)
	assert.ElementsMatch(t, []string{"input_file", "output_file"}, it.IterativeParameters())
	assert.ElementsMatch(t, []string{"threshold"}, it.RegularParameters())
}

func TestNewRejectsUnknownIterativeParameter(t *testing.T) {
	base := newBase()
	_, err := New("iter", "test.iter", base, []string{"does_not_exist"})
	require.Error(t, err)
}

func TestIterationSizeBroadcastsSizeOneLists(t *testing.T) {
	base := newBase()
	it, err := New("iter", "test.iter", base, []string{"input_file", "output_file"})
	require.NoError(t, err)

	it.Fields.Set("input_file", []interface{}{"a.nii", "b.nii", "c.nii"})
	it.Fields.Set("output_file", []interface{}{"out.nii"})

	size, err := it.IterationSize()
	require.NoError(t, err)
	assert.Equal(t, 3, size)
}

func TestIterationSizeRejectsIncompatibleLengths(t *testing.T) {
	base := newBase()
	it, err := New("iter", "test.iter", base, []string{"input_file", "output_file"})
	require.NoError(t, err)

	it.Fields.Set("input_file", []interface{}{"a.nii", "b.nii"})
	it.Fields.Set("output_file", []interface{}{"x.nii", "y.nii", "z.nii"})

	_, err = it.IterationSize()
	assert.Error(t, err)
}

func TestSelectIterationIndexPushesRegularAndIterativeValues(t *testing.T) {
	base := newBase()
	it, err := New("iter", "test.iter", base, []string{"input_file"})
	require.NoError(t, err)

	it.Fields.Set("threshold", 0.5)
	it.Fields.Set("input_file", []interface{}{"a.nii", "b.nii"})

	it.SelectIterationIndex(0)
	v, ok := base.Fields.Get("input_file")
	require.True(t, ok)
	assert.Equal(t, "a.nii", v)
	v, ok = base.Fields.Get("threshold")
	require.True(t, ok)
	assert.Equal(t, 0.5, v)

	it.SelectIterationIndex(1)
	v, _ = base.Fields.Get("input_file")
	assert.Equal(t, "b.nii", v)

	// index beyond the list repeats the last element (broadcast rule).
	it.SelectIterationIndex(5)
	v, _ = base.Fields.Get("input_file")
	assert.Equal(t, "b.nii", v)
}

func TestChangeIterativePlugTogglesState(t *testing.T) {
	base := newBase()
	it, err := New("iter", "test.iter", base, []string{"input_file"})
	require.NoError(t, err)

	require.NoError(t, it.ChangeIterativePlug("threshold", nil))
	assert.Contains(t, it.IterativeParameters(), "threshold")
	assert.Equal(t, field.ListOf("float"), it.Fields.Field("threshold").Type)

	require.NoError(t, it.ChangeIterativePlug("threshold", nil))
	assert.NotContains(t, it.IterativeParameters(), "threshold")
	assert.Equal(t, "float", it.Fields.Field("threshold").Type)
}
