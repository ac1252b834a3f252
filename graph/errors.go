package graph

import "fmt"

// ErrUnknownPlug is a definition error: a link referenced a plug that does
// not exist on the named node (spec.md §7 category 1).
type ErrUnknownPlug struct {
	Node, Plug string
}

func (e *ErrUnknownPlug) Error() string {
	return fmt.Sprintf("unknown plug %q on node %q", e.Plug, e.Node)
}

// ErrTypeMismatch is a definition error: a link connects two plugs whose
// field types are not structurally compatible (spec.md §4.2 link
// discipline).
type ErrTypeMismatch struct {
	SrcNode, SrcPlug, SrcType string
	DstNode, DstPlug, DstType string
}

func (e *ErrTypeMismatch) Error() string {
	return fmt.Sprintf("type mismatch linking %s.%s (%s) -> %s.%s (%s)",
		e.SrcNode, e.SrcPlug, e.SrcType, e.DstNode, e.DstPlug, e.DstType)
}
