package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsul-go/capsul/field"
)

func TestSwitchDefaultsToFirstOptionAndEnablesOnlyItsInputs(t *testing.T) {
	s := NewSwitch("sw", []string{"a", "b"}, []string{"out"}, "test.sw")
	assert.True(t, s.Plug("a_switch_out").Enabled)
	assert.False(t, s.Plug("b_switch_out").Enabled)
}

func TestSwitchChangeFlipsEnabledInputsAndCopiesSelectedValue(t *testing.T) {
	s := NewSwitch("sw", []string{"a", "b"}, []string{"out"}, "test.sw")
	s.Fields.Set("a_switch_out", "from-a")
	s.Fields.Set("b_switch_out", "from-b")

	s.Fields.Set("switch", "b")

	assert.False(t, s.Plug("a_switch_out").Enabled)
	assert.True(t, s.Plug("b_switch_out").Enabled)
	v, ok := s.Fields.Get("out")
	require.True(t, ok)
	assert.Equal(t, "from-b", v)
}

func TestSwitchForwardsSelectedInputToOutputOnChange(t *testing.T) {
	s := NewSwitch("sw", []string{"a", "b"}, []string{"out"}, "test.sw")
	s.Fields.Set("a_switch_out", "v1")
	v, ok := s.Fields.Get("out")
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	// b is not selected, changing its input must not touch the output.
	s.Fields.Set("b_switch_out", "v2")
	v, ok = s.Fields.Get("out")
	require.True(t, ok)
	assert.Equal(t, "v1", v)
}

func TestSwitchPropagatesDirectOutputAssignmentBackToEveryOptionInput(t *testing.T) {
	s := NewSwitch("sw", []string{"a", "b"}, []string{"out"}, "test.sw")
	s.Fields.Set("out", "direct")
	v, ok := s.Fields.Get("a_switch_out")
	require.True(t, ok)
	assert.Equal(t, "direct", v)

	// Every option's input must receive the value, not just the selected
	// one, so flipping the switch later doesn't lose it.
	v, ok = s.Fields.Get("b_switch_out")
	require.True(t, ok)
	assert.Equal(t, "direct", v)
}

func TestOptionalOutputSwitchFollowsOutputValue(t *testing.T) {
	o := NewOptionalOutputSwitch("opt", "out", "test.opt")
	assert.Equal(t, "real", o.selectedOption(), "\"real\" is the first option and thus the construction-time default")

	o.Fields.Set("out", nil)
	assert.Equal(t, "_none", o.selectedOption())

	o.Fields.Set("out", "value")
	assert.Equal(t, "real", o.selectedOption())
}

func TestOptionalOutputSwitchTreatsUndefinedAsNone(t *testing.T) {
	o := NewOptionalOutputSwitch("opt", "out", "test.opt")
	o.Fields.Set("out", field.Undefined)
	assert.Equal(t, "_none", o.selectedOption())
}
