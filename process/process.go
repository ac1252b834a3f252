// Package process implements the atomic executable node: the leaf of the
// pipeline graph that actually runs work (spec.md §3 Process, §4.7
// "Execute the job's command").
package process

import (
	"context"
	"fmt"

	"github.com/capsul-go/capsul/field"
	"github.com/capsul-go/capsul/graph"
)

// ExecuteFunc is an in-process implementation of a process, invoked through
// Process.Run. The engine's executors, local and distributed, do not call
// it: every job runs the command line built from CommandLine (spec.md §4.7).
type ExecuteFunc func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// CommandLineFunc builds the argv a worker process should exec for this
// job, given the working directory assigned to it.
type CommandLineFunc func(workdir string, params map[string]interface{}) ([]string, error)

// Process is an atomic executable graph node.
type Process struct {
	*graph.Node

	Execute     ExecuteFunc
	CommandLine CommandLineFunc

	// UseTempOutputDir requests that the job run in a scratch directory
	// whose contents are moved to the declared outputs on success
	// (spec.md §5 glossary: use_temp_output_dir).
	UseTempOutputDir bool
}

// New constructs an empty process. definition is the registry identifier
// used for executable loading by string (spec.md §9).
func New(name, definition string) *Process {
	return &Process{Node: graph.NewNode(name, definition)}
}

// Base implements graph.NodeKind.
func (p *Process) Base() *graph.Node { return p.Node }

// IsJob implements graph.NodeKind: every Process contributes one Job at
// compile time (spec.md §4.5 step 2), unless disabled/inactive, which the
// compiler checks separately.
func (p *Process) IsJob() bool { return true }

// DeclareField adds a field and its mirroring plug in one call, the usual
// way a process builds its parameter list at construction time.
func (p *Process) DeclareField(f *field.Field) error {
	_, err := p.AddField(f)
	return err
}

// Run invokes the in-process implementation directly, for callers that
// don't want to shell out; the engine's executors do not use it.
func (p *Process) Run(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	if p.Execute == nil {
		return nil, fmt.Errorf("process %q has no in-process implementation", p.Name)
	}
	return p.Execute(ctx, params)
}
