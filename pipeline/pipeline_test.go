package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsul-go/capsul/field"
	"github.com/capsul-go/capsul/graph"
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

func TestActivationPropagatesAcrossAStrongLink(t *testing.T) {
	pl := New("pl", "test.pl")
	a := newTestProcess("a", nil, []string{"out"})
	b := newTestProcess("b", []string{"in"}, nil)
	require.NoError(t, pl.AddNode(a))
	require.NoError(t, pl.AddNode(b))
	require.NoError(t, pl.AddLink("a", "out", "b", "in", false))
	pl.UpdateActivation()

	assert.True(t, a.Plug("out").Activated)
	assert.True(t, b.Plug("in").Activated)
	assert.True(t, b.Activated)
}

func TestDisablingUpstreamNodeDeactivatesDownstreamMandatoryInput(t *testing.T) {
	pl := New("pl", "test.pl")
	a := newTestProcess("a", nil, []string{"out"})
	b := newTestProcess("b", []string{"in"}, nil)
	require.NoError(t, pl.AddNode(a))
	require.NoError(t, pl.AddNode(b))
	require.NoError(t, pl.AddLink("a", "out", "b", "in", false))

	a.Enabled = false
	pl.UpdateActivation()

	assert.False(t, a.Activated)
	assert.False(t, b.Plug("in").Activated, "b.in has no default and no active predecessor")
	assert.False(t, b.Activated)
}

func TestWeakLinkNeverForcesActivation(t *testing.T) {
	pl := New("pl", "test.pl")
	a := newTestProcess("a", nil, []string{"out"})
	b := newTestProcess("b", []string{"in"}, nil)
	b.Base().Fields.Field("in").Optional = true
	b.Base().Plug("in").Optional = true
	require.NoError(t, pl.AddNode(a))
	require.NoError(t, pl.AddNode(b))
	require.NoError(t, pl.AddLink("a", "out", "b", "in", true))

	pl.UpdateActivation()
	assert.False(t, b.Plug("in").Activated, "weak predecessor never counts as active")
}

func TestExportParameterCreatesOutputBoundaryField(t *testing.T) {
	pl := New("pl", "test.pl")
	a := newTestProcess("a", nil, []string{"out"})
	require.NoError(t, pl.AddNode(a))
	require.NoError(t, pl.ExportParameter("a", "out", "", false))

	require.NotNil(t, pl.Fields.Field("out"))
	pl.Fields.Set("out", "ignored-direction-check")
	// out is an output plug, so the boundary link runs a.out -> pl.out and
	// the boundary plug is an output too; value propagation across the link
	// is the compiler's job, so only the direction is checked here.
	assert.True(t, pl.Plug("out").Output)
}

func TestAutoexportSkipsConnectedAndDoNotExportPlugs(t *testing.T) {
	pl := New("pl", "test.pl")
	a := newTestProcess("a", []string{"in"}, []string{"out"})
	b := newTestProcess("b", []string{"in"}, nil)
	require.NoError(t, pl.AddNode(a))
	require.NoError(t, pl.AddNode(b))
	require.NoError(t, pl.AddLink("a", "out", "b", "in", false))
	pl.SetDoNotExport("a", "in")

	require.NoError(t, pl.AutoexportNodesParameters(true))

	assert.Nil(t, pl.Fields.Field("a_in"), "do_not_export plug must not be exported")
	assert.Nil(t, pl.Fields.Field("a_out"), "linked plug must not be exported")
	assert.Nil(t, pl.Fields.Field("b_in"), "linked plug must not be exported")
}

func TestNestedPipelineBoundaryParticipatesInActivation(t *testing.T) {
	inner := New("inner", "test.inner")
	ip := newTestProcess("ip", []string{"in"}, nil)
	require.NoError(t, inner.AddNode(ip))
	require.NoError(t, inner.ExportParameter("ip", "in", "in", false))

	outer := New("outer", "test.outer")
	src := newTestProcess("src", nil, []string{"out"})
	require.NoError(t, outer.AddNode(src))
	require.NoError(t, outer.AddNode(inner))
	require.NoError(t, outer.AddLink("src", "out", "inner", "in", false))

	outer.UpdateActivation()

	assert.True(t, inner.Plug("in").Activated)
	assert.True(t, ip.Plug("in").Activated, "inner node sees its boundary input as an active predecessor")
}

func TestDelayActivationDefersRecompute(t *testing.T) {
	pl := New("pl", "test.pl")
	a := newTestProcess("a", nil, []string{"out"})
	b := newTestProcess("b", []string{"in"}, nil)
	require.NoError(t, pl.AddNode(a))
	require.NoError(t, pl.AddNode(b))

	var delayer graph.ActivationDelayer = pl
	delayer.DelayActivation()
	require.NoError(t, pl.AddLink("a", "out", "b", "in", false))
	assert.False(t, b.Plug("in").Activated, "activation must not recompute while delayed")
	delayer.RestoreActivation()
	assert.True(t, b.Plug("in").Activated)
}
