// Package pipeline implements the composite executable node: a pipeline
// owns a set of child nodes (processes, switches, nested pipelines) and the
// links between their plugs, and computes the activation fixed point that
// decides which of them actually contribute jobs at compile time (spec.md
// §4.2, §4.5).
package pipeline

import (
	"fmt"

	"github.com/capsul-go/capsul/field"
	"github.com/capsul-go/capsul/graph"
)

type nodePlug struct{ node, plug string }

// Pipeline is a transparent container node: it never contributes a job of
// its own, only its activated children do (spec.md §4.5 step 2).
type Pipeline struct {
	*graph.Node

	children   map[string]graph.NodeKind
	childOrder []string
	links      []graph.Link

	steps     map[string][]string
	stepOrder []string

	doNotExport map[nodePlug]bool

	delayDepth int
}

// New constructs an empty pipeline.
func New(name, definition string) *Pipeline {
	return &Pipeline{
		Node:        graph.NewNode(name, definition),
		children:    make(map[string]graph.NodeKind),
		steps:       make(map[string][]string),
		doNotExport: make(map[nodePlug]bool),
	}
}

// Base implements graph.NodeKind.
func (p *Pipeline) Base() *graph.Node { return p.Node }

// IsJob implements graph.NodeKind: a pipeline is a connector, not a job.
func (p *Pipeline) IsJob() bool { return false }

// AddNode registers a child node and claims it (a node belongs to at most
// one pipeline, spec.md §9 parent back-reference).
func (p *Pipeline) AddNode(node graph.NodeKind) error {
	name := node.Base().Name
	if _, exists := p.children[name]; exists {
		return fmt.Errorf("pipeline %q already has a node named %q", p.Name, name)
	}
	node.Base().Parent = p
	p.children[name] = node
	p.childOrder = append(p.childOrder, name)
	return nil
}

// Child returns a previously added child by name, or nil.
func (p *Pipeline) Child(name string) graph.NodeKind { return p.children[name] }

// Nodes returns the pipeline's children in the order they were added.
func (p *Pipeline) Nodes() []graph.NodeKind {
	out := make([]graph.NodeKind, 0, len(p.childOrder))
	for _, name := range p.childOrder {
		out = append(out, p.children[name])
	}
	return out
}

// resolveNode maps a link endpoint's node name to the node it identifies;
// the empty string refers to the pipeline's own boundary (spec.md §6: a
// link with no node name on one side exports through the pipeline).
func (p *Pipeline) resolveNode(name string) (graph.NodeKind, error) {
	if name == "" {
		return p, nil
	}
	n, ok := p.children[name]
	if !ok {
		return nil, fmt.Errorf("pipeline %q has no node named %q", p.Name, name)
	}
	return n, nil
}

// AddLink connects two plugs, recomputing activation afterward. An empty
// node name on either side addresses the pipeline's own boundary plugs.
func (p *Pipeline) AddLink(srcNode, srcPlug, dstNode, dstPlug string, weak bool) error {
	sn, err := p.resolveNode(srcNode)
	if err != nil {
		return err
	}
	dn, err := p.resolveNode(dstNode)
	if err != nil {
		return err
	}
	if err := graph.Connect(sn, srcPlug, dn, dstPlug, weak); err != nil {
		return err
	}
	p.links = append(p.links, graph.Link{SourceNode: sn, SourcePlug: srcPlug, DestNode: dn, DestPlug: dstPlug, Weak: weak})
	p.UpdateActivation()
	return nil
}

// ExportParameter mirrors an inner node's plug as one of the pipeline's own
// boundary fields, creating the field on first use (spec.md §4.2
// export_parameter). outerName defaults to innerPlug when empty.
func (p *Pipeline) ExportParameter(nodeName, innerPlug, outerName string, optional bool) error {
	inner, err := p.resolveNode(nodeName)
	if err != nil {
		return err
	}
	pl := inner.Base().Plug(innerPlug)
	if pl == nil {
		return &graph.ErrUnknownPlug{Node: nodeName, Plug: innerPlug}
	}
	if outerName == "" {
		outerName = innerPlug
	}
	if p.Fields.Field(outerName) == nil {
		innerField := inner.Base().Fields.Field(innerPlug)
		f := &field.Field{
			Name:     outerName,
			Type:     innerField.Type,
			Default:  innerField.Default,
			IsOutput: pl.Output,
			Optional: optional || pl.Optional,
			Doc:      innerField.Doc,
		}
		if _, err := p.AddField(f); err != nil {
			return err
		}
	}
	if pl.Output {
		return graph.Connect(inner, innerPlug, p, outerName, false)
	}
	return graph.Connect(p, outerName, inner, innerPlug, false)
}

// SetDoNotExport excludes a child plug from AutoexportNodesParameters
// (spec.md §4.2 do_not_export).
func (p *Pipeline) SetDoNotExport(nodeName, plugName string) {
	p.doNotExport[nodePlug{nodeName, plugName}] = true
}

// AutoexportNodesParameters exports every still-unconnected child plug not
// listed in do_not_export, naming each boundary field "<node>_<plug>"
// (spec.md §4.2 autoexport_nodes_parameters). includeOptional controls
// whether optional plugs are swept in too.
func (p *Pipeline) AutoexportNodesParameters(includeOptional bool) error {
	for _, name := range p.childOrder {
		child := p.children[name]
		for _, f := range child.Base().Fields.UserFields() {
			if p.doNotExport[nodePlug{name, f.Name}] {
				continue
			}
			pl := child.Base().Plug(f.Name)
			if pl == nil || len(pl.LinksFrom) > 0 || len(pl.LinksTo) > 0 {
				continue
			}
			if f.Optional && !includeOptional {
				continue
			}
			if err := p.ExportParameter(name, f.Name, name+"_"+f.Name, f.Optional); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddPipelineStep groups nodes under a named step, letting callers disable
// a whole phase of the pipeline at once (spec.md glossary: pipeline_steps).
func (p *Pipeline) AddPipelineStep(step string, nodeNames ...string) {
	if _, exists := p.steps[step]; !exists {
		p.stepOrder = append(p.stepOrder, step)
	}
	p.steps[step] = append(p.steps[step], nodeNames...)
}

// Steps returns the step names in declaration order.
func (p *Pipeline) Steps() []string {
	out := make([]string, len(p.stepOrder))
	copy(out, p.stepOrder)
	return out
}

// StepNodes returns the node names belonging to a step.
func (p *Pipeline) StepNodes(step string) []string {
	return p.steps[step]
}

// DisableStep turns off every node belonging to a step in one call.
func (p *Pipeline) DisableStep(step string) {
	for _, name := range p.steps[step] {
		if n, ok := p.children[name]; ok {
			n.Base().Enabled = false
		}
	}
	p.UpdateActivation()
}
