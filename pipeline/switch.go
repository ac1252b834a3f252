package pipeline

import (
	"strings"

	"github.com/capsul-go/capsul/field"
	"github.com/capsul-go/capsul/graph"
)

// Switch is a transparent connector node that picks, at any moment, one of
// several upstream option groups to feed its outputs: each combination of
// (option, output) has its own flat input plug named "<option>_switch_
// <output>", and only the plugs for the currently selected option are
// enabled (grounded on pipeline_nodes.Switch).
type Switch struct {
	*graph.Node

	Options []string
	Outputs []string

	locked bool
}

func flatPlugName(option, output string) string {
	return option + "_switch_" + output
}

// NewSwitch constructs a switch over options, each producing the same set
// of named outputs. The first option is selected by default.
func NewSwitch(name string, options, outputs []string, definition string) *Switch {
	s := &Switch{Node: graph.NewNode(name, definition), Options: options, Outputs: outputs}

	switchDefault := interface{}(field.Undefined)
	if len(options) > 0 {
		switchDefault = options[0]
	}
	s.AddField(&field.Field{Name: "switch", Type: "string", Default: switchDefault})

	for _, out := range outputs {
		s.AddField(&field.Field{Name: out, Type: "any", IsOutput: true})
	}
	for _, opt := range options {
		for _, out := range outputs {
			s.AddField(&field.Field{Name: flatPlugName(opt, out), Type: "any", Optional: true})
		}
	}

	for _, opt := range options {
		selected := opt == switchDefault
		for _, out := range outputs {
			if pl := s.Plug(flatPlugName(opt, out)); pl != nil {
				pl.Enabled = selected
			}
		}
	}

	s.Fields.OnAttributeChange(s.switchChanged, "switch")
	s.Fields.OnAttributeChange(s.anyAttributeChanged)
	return s
}

// Base implements graph.NodeKind.
func (s *Switch) Base() *graph.Node { return s.Node }

// IsJob implements graph.NodeKind: a switch never contributes a job, it
// only selects which upstream link is live.
func (s *Switch) IsJob() bool { return false }

func (s *Switch) selectedOption() string {
	v, ok := s.Fields.Get("switch")
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

// switchChanged enables the newly selected option's flat inputs, disables
// every other option's, and copies the selected inputs onto the outputs
// (grounded on pipeline_nodes.Switch._switch_changed).
func (s *Switch) switchChanged(name string, old, new interface{}) {
	if s.locked {
		return
	}
	s.locked = true
	defer func() { s.locked = false }()

	newOption, _ := new.(string)
	for _, opt := range s.Options {
		for _, out := range s.Outputs {
			if pl := s.Plug(flatPlugName(opt, out)); pl != nil {
				pl.Enabled = opt == newOption
			}
		}
	}
	for _, out := range s.Outputs {
		if v, ok := s.Fields.Get(flatPlugName(newOption, out)); ok {
			s.Fields.Set(out, v)
		}
	}
	s.UpdateActivationIfPipeline()
}

// anyAttributeChanged propagates values across the switch in both
// directions: an input belonging to the currently selected option forwards
// to its output, and an output assigned directly (e.g. programmatically)
// propagates back to every option's corresponding input, except an input
// that is itself linked from an enclosing pipeline's input plug (grounded on
// pipeline_nodes.Switch._any_attribute_changed).
func (s *Switch) anyAttributeChanged(name string, old, new interface{}) {
	if s.locked || name == "switch" {
		return
	}
	s.locked = true
	defer func() { s.locked = false }()

	if opt, out, ok := parseFlatPlugName(name, s.Options, s.Outputs); ok {
		if opt == s.selectedOption() {
			s.Fields.Set(out, new)
		}
		return
	}
	for _, out := range s.Outputs {
		if out != name {
			continue
		}
		for _, opt := range s.Options {
			plugName := flatPlugName(opt, out)
			pl := s.Plug(plugName)
			if pl == nil || linkedFromPipelineInput(pl) {
				continue
			}
			s.Fields.Set(plugName, new)
		}
	}
}

// linkedFromPipelineInput reports whether pl is connected from an enclosing
// pipeline's own input plug (as opposed to an ordinary upstream producer),
// mirroring pipeline_nodes.py's
// "isinstance(link_spec[2], Pipeline) and not link_spec[3].output" check.
func linkedFromPipelineInput(pl *graph.Plug) bool {
	for _, le := range pl.LinksFrom {
		p, ok := le.PeerNode.(*Pipeline)
		if !ok {
			continue
		}
		if peerPlug := p.Plug(le.PeerPlug); peerPlug != nil && !peerPlug.Output {
			return true
		}
	}
	return false
}

func parseFlatPlugName(name string, options, outputs []string) (option, output string, ok bool) {
	for _, opt := range options {
		prefix := opt + "_switch_"
		if strings.HasPrefix(name, prefix) {
			candidate := name[len(prefix):]
			for _, out := range outputs {
				if out == candidate {
					return opt, out, true
				}
			}
		}
	}
	return "", "", false
}

// UpdateActivationIfPipeline recomputes the enclosing pipeline's activation
// after a switch flips, if the switch is attached to one.
func (s *Switch) UpdateActivationIfPipeline() {
	if parent, ok := s.Parent.(*Pipeline); ok {
		parent.UpdateActivation()
	}
}

// ConnectionsThrough returns the upstream link ends actually feeding
// plugName through the switch: for an output name, the links of every
// option's flat input (only of the activated ones, which belong to the
// selected option, when activatedOnly is set); for a flat input name, its
// own links. Used by the
// workflow compiler to flatten switches out of the job graph (spec.md §4.5,
// grounded on pipeline_nodes.Switch.get_connections_through).
func (s *Switch) ConnectionsThrough(plugName string, activatedOnly bool) []graph.LinkEnd {
	for _, out := range s.Outputs {
		if out != plugName {
			continue
		}
		var ends []graph.LinkEnd
		for _, opt := range s.Options {
			pl := s.Plug(flatPlugName(opt, out))
			if pl == nil || (activatedOnly && !pl.Activated) {
				continue
			}
			ends = append(ends, pl.LinksFrom...)
		}
		return ends
	}
	if pl := s.Plug(plugName); pl != nil {
		return pl.LinksFrom
	}
	return nil
}

// OptionalOutputSwitch is a two-option switch ("real" / "_none") that
// tracks a single output's own value: assigning the output selects "real",
// clearing it (nil or Undefined) selects "_none" (grounded on
// pipeline_nodes.OptionalOutputSwitch).
type OptionalOutputSwitch struct {
	*Switch

	output string
}

// NewOptionalOutputSwitch constructs the switch for a single optional
// output.
func NewOptionalOutputSwitch(name, output, definition string) *OptionalOutputSwitch {
	sw := NewSwitch(name, []string{"real", "_none"}, []string{output}, definition)
	o := &OptionalOutputSwitch{Switch: sw, output: output}
	sw.Fields.OnAttributeChange(o.outputChanged, output)
	return o
}

func (o *OptionalOutputSwitch) outputChanged(name string, old, new interface{}) {
	if o.locked {
		return
	}
	if new == nil || field.IsUndefined(new) {
		o.Fields.Set("switch", "_none")
	} else {
		o.Fields.Set("switch", "real")
	}
}
