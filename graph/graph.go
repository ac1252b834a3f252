// Package graph implements the common node/plug/link machinery shared by
// every pipeline element (process, pipeline, switch, iteration): plugs are
// the connection points mirroring a node's fields, links are directed
// edges between two plugs, and Node is the polymorphic base every concrete
// node variant embeds (spec.md §3).
package graph

import "github.com/capsul-go/capsul/field"

// NodeKind is implemented by every concrete node variant (Process,
// Pipeline, Switch, OptionalOutputSwitch, ProcessIteration). Base exposes
// the shared bookkeeping; IsJob/Definition distinguish variants the way
// spec.md's "polymorphic over variants" description requires without a
// closed type switch.
type NodeKind interface {
	Base() *Node
	// IsJob reports whether this node variant contributes a Job at
	// workflow-compile time (true for Process, false for Switch and other
	// transparent connector nodes).
	IsJob() bool
	// Definition returns the module+name identifier used by the executable
	// registry (spec.md §6, §9).
	Definition() string
}

// ActivationDelayer is implemented by Pipeline. ProcessIteration and other
// callers that bulk-edit a wrapped executable's parameters use it to defer
// activation recomputation without importing the pipeline package
// directly (spec.md §4.2 delay_update_nodes_and_plugs_activation).
type ActivationDelayer interface {
	DelayActivation()
	RestoreActivation()
}

// LinkEnd is one side of a link as recorded on a Plug: the peer node/plug
// and whether the link is weak.
type LinkEnd struct {
	PeerNode NodeKind
	PeerPlug string
	Weak     bool
}

// Plug is a graph endpoint mirroring one field on a node.
type Plug struct {
	Name            string
	Output          bool
	Optional        bool
	Enabled         bool
	Activated       bool
	HasDefaultValue bool

	LinksFrom []LinkEnd // incoming, only meaningful for non-output plugs
	LinksTo   []LinkEnd // outgoing, only meaningful for output plugs
}

// Link is a directed edge between two plugs on two nodes. Weak links do
// not force activation of either endpoint (spec.md §3).
type Link struct {
	SourceNode NodeKind
	SourcePlug string
	DestNode   NodeKind
	DestPlug   string
	Weak       bool
}

// Node is the shared base embedded by every concrete node variant: a set
// of fields (via field.Controller) and a matching set of plugs, plus a
// non-owning back-reference to the enclosing pipeline (spec.md §9: cyclic
// references via a parent reference that does not own the parent).
type Node struct {
	Name       string
	definition string
	Fields     *field.Controller
	Plugs      map[string]*Plug
	Enabled    bool
	Activated  bool
	Parent     NodeKind // nil for the root pipeline
}

// NewNode constructs an empty Node with its own field Controller.
func NewNode(name, definition string) *Node {
	return &Node{
		Name:       name,
		definition: definition,
		Fields:     field.NewController(),
		Plugs:      make(map[string]*Plug),
		Enabled:    true,
	}
}

// Definition returns the node's registry identifier.
func (n *Node) Definition() string { return n.definition }

// Plug looks up a plug by name, or nil.
func (n *Node) Plug(name string) *Plug { return n.Plugs[name] }

// AddPlug registers a plug mirroring a field that was already added to
// n.Fields via AddField.
func (n *Node) AddPlug(f *field.Field) *Plug {
	p := &Plug{
		Name:            f.Name,
		Output:          f.IsOutput,
		Optional:        f.Optional,
		Enabled:         true,
		HasDefaultValue: f.HasDefault(),
	}
	n.Plugs[f.Name] = p
	return p
}

// AddField registers a field on the node and a matching plug in one step,
// the common case for process/pipeline construction.
func (n *Node) AddField(f *field.Field) (*Plug, error) {
	if err := n.Fields.AddField(f); err != nil {
		return nil, err
	}
	return n.AddPlug(f), nil
}

// Connect records a symmetric link between two plugs: the invariant of
// spec.md §8 property 1 (A.p.links_to ↔ B.q.links_from) is established by
// construction here rather than checked after the fact.
func Connect(srcNode NodeKind, srcPlug string, dstNode NodeKind, dstPlug string, weak bool) error {
	sp := srcNode.Base().Plug(srcPlug)
	dp := dstNode.Base().Plug(dstPlug)
	if sp == nil {
		return &ErrUnknownPlug{Node: srcNode.Base().Name, Plug: srcPlug}
	}
	if dp == nil {
		return &ErrUnknownPlug{Node: dstNode.Base().Name, Plug: dstPlug}
	}
	srcField := srcNode.Base().Fields.Field(srcPlug)
	dstField := dstNode.Base().Fields.Field(dstPlug)
	if srcField != nil && dstField != nil && !field.TypesCompatible(dstField.Type, srcField.Type) {
		return &ErrTypeMismatch{
			SrcNode: srcNode.Base().Name, SrcPlug: srcPlug, SrcType: srcField.Type,
			DstNode: dstNode.Base().Name, DstPlug: dstPlug, DstType: dstField.Type,
		}
	}
	sp.LinksTo = append(sp.LinksTo, LinkEnd{PeerNode: dstNode, PeerPlug: dstPlug, Weak: weak})
	dp.LinksFrom = append(dp.LinksFrom, LinkEnd{PeerNode: srcNode, PeerPlug: srcPlug, Weak: weak})
	return nil
}

// Disconnect removes a previously established link from both plugs,
// preserving the symmetric-links invariant.
func Disconnect(srcNode NodeKind, srcPlug string, dstNode NodeKind, dstPlug string) {
	sp := srcNode.Base().Plug(srcPlug)
	dp := dstNode.Base().Plug(dstPlug)
	if sp != nil {
		sp.LinksTo = removeLinkEnd(sp.LinksTo, dstNode, dstPlug)
	}
	if dp != nil {
		dp.LinksFrom = removeLinkEnd(dp.LinksFrom, srcNode, srcPlug)
	}
}

func removeLinkEnd(ends []LinkEnd, node NodeKind, plug string) []LinkEnd {
	out := ends[:0]
	for _, e := range ends {
		if e.PeerNode == node && e.PeerPlug == plug {
			continue
		}
		out = append(out, e)
	}
	return out
}
