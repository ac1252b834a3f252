// Package registry implements executable loading by string (spec.md §9):
// every process or pipeline definition registers a constructor under a
// string identifier, and pipeline-definition JSON documents (spec.md §6)
// are loaded by resolving their "definition" strings against this table.
// Grounded on cmd/workflow-runner/compiler/ir.go's validExecutableTypes
// registration idea, generalized from a closed set of node-type constants
// to an open, caller-extensible string→constructor table.
package registry

import (
	"fmt"
	"sync"

	"github.com/capsul-go/capsul/graph"
)

// Constructor builds a fresh graph.NodeKind for one registered definition,
// given the name the node should carry in its owning pipeline.
type Constructor func(name string) (graph.NodeKind, error)

// Registry resolves definition strings to constructors (spec.md §9:
// "the loader resolves strings against this registry").
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register associates a definition string with a constructor. Registering
// the same definition twice overwrites the previous constructor, matching
// the teacher's package-level registration-at-init-time idiom where a
// later import simply wins.
func (r *Registry) Register(definition string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[definition] = ctor
}

// Has reports whether definition is registered.
func (r *Registry) Has(definition string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.constructors[definition]
	return ok
}

// New builds a node for definition under the given name, or an error if
// definition was never registered (spec.md §9: "ambiguous module
// resolution" is a Definition-category error; here, simply unresolved).
func (r *Registry) New(name, definition string) (graph.NodeKind, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[definition]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: no executable registered under %q", definition)
	}
	return ctor(name)
}
