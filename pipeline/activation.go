package pipeline

import "github.com/capsul-go/capsul/graph"

// DelayActivation defers recomputation until a matching RestoreActivation;
// nested calls stack (spec.md §4.2
// delay_update_nodes_and_plugs_activation, used by bulk editors such as
// ProcessIteration). Implements graph.ActivationDelayer.
func (p *Pipeline) DelayActivation() {
	p.delayDepth++
}

// RestoreActivation pops one delay level, recomputing activation once the
// outermost level is released. Implements graph.ActivationDelayer.
func (p *Pipeline) RestoreActivation() {
	if p.delayDepth > 0 {
		p.delayDepth--
	}
	if p.delayDepth == 0 {
		p.UpdateActivation()
	}
}

// maxActivationPasses bounds the fixed-point loop; activation only ever
// turns off once seeded on; with N plugs across the tree the loop cannot
// usefully run longer than N passes (spec.md §4.2, §8 property 2).
const maxActivationPasses = 10000

// UpdateActivation runs the activation fixed point to convergence (spec.md
// §4.2 steps 1-4): seed every plug from its own enabled flag, then repeat
// the relaxation pass until nothing changes. A no-op while activation is
// delayed.
func (p *Pipeline) UpdateActivation() {
	if p.delayDepth > 0 {
		return
	}
	var seed func(n graph.NodeKind)
	seed = func(n graph.NodeKind) {
		base := n.Base()
		for _, pl := range base.Plugs {
			pl.Activated = base.Enabled && pl.Enabled
		}
		if sub, ok := n.(*Pipeline); ok && sub.delayDepth == 0 {
			for _, name := range sub.childOrder {
				seed(sub.children[name])
			}
		}
	}
	seed(p)
	for i := 0; i < maxActivationPasses; i++ {
		if !p.singlePass() {
			return
		}
	}
}

// singlePass recomputes nested pipelines first (so their boundary plugs
// reflect their own internal state) and then relaxes this pipeline's own
// node/link graph once. Returns whether anything changed.
func (p *Pipeline) singlePass() bool {
	changed := false
	for _, name := range p.childOrder {
		if sub, ok := p.children[name].(*Pipeline); ok {
			if sub.delayDepth == 0 && sub.singlePass() {
				changed = true
			}
		}
	}
	if p.relax() {
		changed = true
	}
	return changed
}

// relax applies one pass of the activation rules (spec.md §4.2 step 2) over
// this pipeline's children plus the pipeline itself, which participates as
// the boundary pseudo-node whose plugs are the pipeline's own exported
// fields.
func (p *Pipeline) relax() bool {
	participants := make([]graph.NodeKind, 0, len(p.childOrder)+1)
	for _, name := range p.childOrder {
		participants = append(participants, p.children[name])
	}
	participants = append(participants, p)

	changed := false

	// Step 2: recompute every plug's activation from the current state of
	// its predecessors (non-output plugs) or its node's own mandatory
	// inputs (output plugs).
	for _, n := range participants {
		base := n.Base()
		for _, pl := range base.Plugs {
			var newVal bool
			if !pl.Output {
				hasActivePredecessor := false
				for _, le := range pl.LinksFrom {
					if le.Weak {
						continue
					}
					peer := le.PeerNode.Base().Plug(le.PeerPlug)
					if peer != nil && peer.Activated {
						hasActivePredecessor = true
						break
					}
				}
				newVal = base.Enabled && pl.Enabled && (hasActivePredecessor || pl.HasDefaultValue)
			} else {
				mandatoryCount, activeMandatory := 0, false
				for _, sibling := range base.Plugs {
					if sibling.Output || sibling.Optional {
						continue
					}
					mandatoryCount++
					if sibling.Activated {
						activeMandatory = true
					}
				}
				satisfied := mandatoryCount == 0 || activeMandatory
				newVal = base.Enabled && pl.Enabled && satisfied
			}
			if newVal != pl.Activated {
				pl.Activated = newVal
				changed = true
			}
		}
	}

	// Step 3/4: a node is active iff enabled and every mandatory plug
	// (input or output) is active.
	for _, n := range participants {
		base := n.Base()
		allMandatoryActive := true
		for _, pl := range base.Plugs {
			if pl.Optional {
				continue
			}
			if !pl.Activated {
				allMandatoryActive = false
				break
			}
		}
		newNodeActivated := base.Enabled && allMandatoryActive
		if newNodeActivated != base.Activated {
			base.Activated = newNodeActivated
			changed = true
		}
	}

	return changed
}
