package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsul-go/capsul/field"
	"github.com/capsul-go/capsul/iteration"
	"github.com/capsul-go/capsul/pipeline"
	"github.com/capsul-go/capsul/process"
)

func newTestProcess(name string, ins, outs []string) *process.Process {
	p := process.New(name, "test."+name)
	for _, in := range ins {
		p.DeclareField(&field.Field{Name: in, Type: "string"})
	}
	for _, out := range outs {
		p.DeclareField(&field.Field{Name: out, Type: "string", IsOutput: true})
	}
	return p
}

func TestCompileTwoJobsWithAStrongLinkProducesADependencyAndAProxy(t *testing.T) {
	pl := pipeline.New("pl", "test.pl")
	a := newTestProcess("a", nil, []string{"out"})
	b := newTestProcess("b", []string{"in"}, nil)
	require.NoError(t, pl.AddNode(a))
	require.NoError(t, pl.AddNode(b))
	require.NoError(t, pl.AddLink("a", "out", "b", "in", false))
	pl.UpdateActivation()

	wf, err := Compile(pl)
	require.NoError(t, err)
	require.Len(t, wf.Jobs, 2)

	var jobA, jobB *Job
	for _, j := range wf.Jobs {
		switch j.ProcessDefinition {
		case "test.a":
			jobA = j
		case "test.b":
			jobB = j
		}
	}
	require.NotNil(t, jobA)
	require.NotNil(t, jobB)

	assert.True(t, jobB.WaitFor[jobA.UUID])
	assert.False(t, jobA.IsTerminal)

	entries := wf.EntryJobs()
	require.Len(t, entries, 1)
	assert.Equal(t, jobA.UUID, entries[0].UUID)

	terminals := wf.TerminalJobs()
	require.Len(t, terminals, 1)
	assert.Equal(t, jobB.UUID, terminals[0].UUID)

	wf.Parameters.Set(jobA.ParametersLocation, "out", "hello")
	v, ok := wf.Parameters.Get(jobB.ParametersLocation, "in")
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestCompileSkipsADisabledNode(t *testing.T) {
	pl := pipeline.New("pl", "test.pl")
	a := newTestProcess("a", nil, []string{"out"})
	b := newTestProcess("b", []string{"in"}, nil)
	b.Base().Fields.Field("in").Optional = true
	b.Base().Plug("in").Optional = true
	require.NoError(t, pl.AddNode(a))
	require.NoError(t, pl.AddNode(b))
	require.NoError(t, pl.AddLink("a", "out", "b", "in", false))

	a.Enabled = false
	pl.UpdateActivation()

	wf, err := Compile(pl)
	require.NoError(t, err)
	require.Len(t, wf.Jobs, 1)
	for _, j := range wf.Jobs {
		assert.Equal(t, "test.b", j.ProcessDefinition)
	}
}

func TestCompileResolvesUpstreamThroughASwitch(t *testing.T) {
	pl := pipeline.New("pl", "test.pl")
	a := newTestProcess("a", nil, []string{"out"})
	other := newTestProcess("other", nil, []string{"out"})
	sw := pipeline.NewSwitch("sw", []string{"a", "other"}, []string{"out"}, "test.sw")
	c := newTestProcess("c", []string{"in"}, nil)

	require.NoError(t, pl.AddNode(a))
	require.NoError(t, pl.AddNode(other))
	require.NoError(t, pl.AddNode(sw))
	require.NoError(t, pl.AddNode(c))

	require.NoError(t, pl.AddLink("a", "out", "sw", "a_switch_out", false))
	require.NoError(t, pl.AddLink("other", "out", "sw", "other_switch_out", false))
	require.NoError(t, pl.AddLink("sw", "out", "c", "in", false))
	pl.UpdateActivation()

	wf, err := Compile(pl)
	require.NoError(t, err)
	require.Len(t, wf.Jobs, 3, "the switch itself contributes no job")

	var jobA, jobC *Job
	for _, j := range wf.Jobs {
		switch j.ProcessDefinition {
		case "test.a":
			jobA = j
		case "test.c":
			jobC = j
		}
	}
	require.NotNil(t, jobA)
	require.NotNil(t, jobC)
	assert.True(t, jobC.WaitFor[jobA.UUID], "c should depend on a, the currently selected switch option")
}

func TestCompileExpandsAnIterationIntoPerIndexJobsPlusMapReduce(t *testing.T) {
	pl := pipeline.New("pl", "test.pl")
	a := newTestProcess("a", []string{"input_file"}, []string{"output_file"})
	a.Base().Fields.Field("input_file").Optional = true
	a.Base().Plug("input_file").Optional = true
	it, err := iteration.New("a_iter", "test.a_iter", a, []string{"input_file"})
	require.NoError(t, err)

	require.NoError(t, pl.AddNode(it))

	it.Fields.Set("input_file", []interface{}{"one.txt", "two.txt", "three.txt"})
	pl.UpdateActivation()

	wf, err := Compile(pl)
	require.NoError(t, err)

	var mapJob, reduceJob *Job
	var indexJobs []*Job
	for _, j := range wf.Jobs {
		switch j.ProcessDefinition {
		case "a_iter_map":
			mapJob = j
		case "a_iter_reduce":
			reduceJob = j
		case "test.a":
			indexJobs = append(indexJobs, j)
		}
	}
	require.NotNil(t, mapJob)
	require.NotNil(t, reduceJob)
	require.Len(t, indexJobs, 3)

	for _, j := range indexJobs {
		assert.True(t, j.WaitFor[mapJob.UUID])
		assert.True(t, reduceJob.WaitFor[j.UUID])
	}
}

func TestParameterStoreProxyChainResolvesToTheOwningSlot(t *testing.T) {
	ps := NewParameterStore()
	ps.Import("a", map[string]interface{}{"out": "original"})
	ps.Proxy("b", "in", "a", "out")
	ps.Proxy("c", "in", "b", "in")

	v, ok := ps.Get("c", "in")
	require.True(t, ok)
	assert.Equal(t, "original", v)

	ps.Set("c", "in", "updated")
	v, ok = ps.Get("a", "out")
	require.True(t, ok)
	assert.Equal(t, "updated", v, "writing through any alias in the chain updates the single owning slot")
}

func TestParameterStoreLocationReturnsEveryParameterRootedThere(t *testing.T) {
	ps := NewParameterStore()
	ps.Import("job1", map[string]interface{}{"in": "x", "out": "y"})

	values := ps.Location("job1")
	assert.Equal(t, map[string]interface{}{"in": "x", "out": "y"}, values)
}

func TestCompileWithNoJobsReturnsAnEmptyWorkflow(t *testing.T) {
	pl := pipeline.New("pl", "test.pl")
	pl.UpdateActivation()
	wf, err := Compile(pl)
	require.NoError(t, err)
	assert.Empty(t, wf.Jobs)
}
