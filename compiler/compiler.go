// Package compiler implements workflow compilation: lowering a fully
// activated pipeline into a job DAG plus a parameter store, the boundary
// between the graph-authoring side of Capsul and its execution side
// (spec.md §4.5). Directly adapted from
// cmd/workflow-runner/compiler/ir.go's node-walk / dependency-edge /
// terminal-node-computation / validation shape, restructured around
// Capsul's Job/ParameterStore/proxy model instead of the teacher's IR node
// map.
package compiler

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/capsul-go/capsul/graph"
	"github.com/capsul-go/capsul/iteration"
	"github.com/capsul-go/capsul/pipeline"
	"github.com/capsul-go/capsul/process"
)

// Job is one unit of work in a compiled Workflow: a single process
// execution, addressed by its parameter-store location (spec.md §4.5).
type Job struct {
	UUID               string
	Command            []string
	ProcessDefinition  string
	ParametersLocation string
	WaitFor            map[string]bool
	IsTerminal         bool
}

func newJob(definition, location string) *Job {
	return &Job{
		UUID:               uuid.NewString(),
		ProcessDefinition:  definition,
		ParametersLocation: location,
		WaitFor:            make(map[string]bool),
	}
}

// Workflow is the compiled output: a job DAG plus the parameter values (and
// proxies) those jobs read from and write to (spec.md §4.5).
type Workflow struct {
	Jobs         map[string]*Job
	Parameters   *ParameterStore
	Dependencies map[[2]string]bool // (upstream uuid, downstream uuid)
}

// AddDependency records that downstream waits for upstream, both in the
// flat Dependencies set and in downstream's own WaitFor.
func (w *Workflow) AddDependency(upstream, downstream string) {
	w.Dependencies[[2]string{upstream, downstream}] = true
	if job, ok := w.Jobs[downstream]; ok {
		job.WaitFor[upstream] = true
	}
}

// EntryJobs returns jobs with no WaitFor (spec.md §4.5 step 1's starting
// points), the Go analogue of ir.go's GetEntryNodes.
func (w *Workflow) EntryJobs() []*Job {
	var out []*Job
	for _, j := range w.Jobs {
		if len(j.WaitFor) == 0 {
			out = append(out, j)
		}
	}
	return out
}

// TerminalJobs returns jobs nothing else depends on, the Go analogue of
// ir.go's GetTerminalNodes.
func (w *Workflow) TerminalJobs() []*Job {
	hasDependent := make(map[string]bool)
	for key := range w.Dependencies {
		hasDependent[key[0]] = true
	}
	var out []*Job
	for uid, j := range w.Jobs {
		if !hasDependent[uid] {
			j.IsTerminal = true
			out = append(out, j)
		}
	}
	return out
}

// compilation carries the state threaded through one Compile call: the
// workflow under construction and the lookup tables tying graph nodes back
// to the jobs they compiled to.
type compilation struct {
	wf *Workflow

	jobByNode          map[graph.NodeKind]*Job
	iterationMapJob    map[*iteration.ProcessIteration]*Job
	iterationReduceJob map[*iteration.ProcessIteration]*Job
}

// Compile lowers an activated pipeline (or a bare process) into a
// Workflow, per spec.md §4.5's six-step algorithm.
func Compile(root graph.NodeKind) (*Workflow, error) {
	c := &compilation{
		wf: &Workflow{
			Jobs:         make(map[string]*Job),
			Parameters:   NewParameterStore(),
			Dependencies: make(map[[2]string]bool),
		},
		jobByNode:          make(map[graph.NodeKind]*Job),
		iterationMapJob:    make(map[*iteration.ProcessIteration]*Job),
		iterationReduceJob: make(map[*iteration.ProcessIteration]*Job),
	}

	if err := c.collect(root, root.Base().Name); err != nil {
		return nil, err
	}
	if err := c.wireDependencies(root); err != nil {
		return nil, err
	}
	c.wf.TerminalJobs()

	if len(c.wf.Jobs) > 0 && len(c.wf.EntryJobs()) == 0 {
		return nil, fmt.Errorf("compiled workflow has no entry jobs (every job waits on another)")
	}
	return c.wf, nil
}

// collect walks the pipeline tree (step 2 of §4.5: create one Job per
// active Process with is_job() true), recursing into nested pipelines and
// expanding ProcessIterations, skipping disabled/inactive nodes (step 6).
func (c *compilation) collect(node graph.NodeKind, location string) error {
	base := node.Base()
	if !base.Enabled || !base.Activated {
		return nil
	}

	switch n := node.(type) {
	case *process.Process:
		job := newJob(n.Definition(), location)
		if n.CommandLine != nil {
			if args, err := n.CommandLine(location, exportValues(n.Base())); err == nil {
				job.Command = args
			}
		}
		c.wf.Jobs[job.UUID] = job
		c.jobByNode[node] = job
		c.wf.Parameters.Import(location, exportValues(n.Base()))
		return nil

	case *pipeline.Pipeline:
		for _, child := range n.Nodes() {
			childLocation := location + "." + child.Base().Name
			if err := c.collect(child, childLocation); err != nil {
				return err
			}
		}
		return nil

	case *iteration.ProcessIteration:
		return c.collectIteration(n, location)

	default:
		// Switches and other transparent connector nodes contribute no
		// job of their own (spec.md §4.5 step 1: "treat switches ... as
		// transparent").
		return nil
	}
}

// collectIteration expands a ProcessIteration into iteration_size()
// sibling jobs plus synthetic map/reduce fan-out/fan-in jobs (spec.md §4.5
// step 5).
func (c *compilation) collectIteration(it *iteration.ProcessIteration, location string) error {
	size, err := it.IterationSize()
	if err != nil {
		return fmt.Errorf("compiling iteration %s: %w", it.Base().Name, err)
	}

	mapJob := newJob(it.Base().Name+"_map", location+"._map")
	reduceJob := newJob(it.Base().Name+"_reduce", location+"._reduce")
	c.wf.Jobs[mapJob.UUID] = mapJob
	c.wf.Jobs[reduceJob.UUID] = reduceJob
	c.iterationMapJob[it] = mapJob
	c.iterationReduceJob[it] = reduceJob

	for i := 0; i < size; i++ {
		it.SelectIterationIndex(i)
		// it.Base_ is never itself a child of any pipeline, so its own
		// Enabled/Activated flags are never computed by a relax() pass;
		// propagate the iteration's own state down, the same way
		// SelectIterationIndex propagates field values.
		it.Base_.Base().Enabled = it.Base().Enabled
		it.Base_.Base().Activated = it.Base().Activated
		indexLocation := fmt.Sprintf("%s[%d]", location, i)

		// Track new jobs by UUID, not by jobByNode membership: it.Base_ is
		// the same wrapped node object reused across every index (only its
		// values change), so jobByNode[it.Base_] gets overwritten each
		// pass rather than gaining a new key.
		before := make(map[string]bool, len(c.wf.Jobs))
		for uid := range c.wf.Jobs {
			before[uid] = true
		}

		if err := c.collect(it.Base_, indexLocation); err != nil {
			return err
		}

		var indexJobs []*Job
		for uid, job := range c.wf.Jobs {
			if !before[uid] {
				indexJobs = append(indexJobs, job)
			}
		}
		for _, job := range indexJobs {
			job.WaitFor[mapJob.UUID] = true
			c.wf.Dependencies[[2]string{mapJob.UUID, job.UUID}] = true
			reduceJob.WaitFor[job.UUID] = true
			c.wf.Dependencies[[2]string{job.UUID, reduceJob.UUID}] = true
		}
	}
	return nil
}

// wireDependencies is step 3 of §4.5: for every job-producing node, resolve
// each of its input plugs' transitive upstream producer and record a
// dependency edge.
func (c *compilation) wireDependencies(root graph.NodeKind) error {
	for node, job := range c.jobByNode {
		for _, plug := range node.Base().Plugs {
			if plug.Output {
				continue
			}
			for _, upstream := range c.resolveUpstreamJobs(node, plug.Name) {
				if upstream.job.UUID == job.UUID {
					continue
				}
				c.wf.AddDependency(upstream.job.UUID, job.UUID)
				c.wf.Parameters.Proxy(job.ParametersLocation, plug.Name, upstream.job.ParametersLocation, upstream.plugName)
			}
		}
	}
	for it, mapJob := range c.iterationMapJob {
		for _, plug := range it.Base().Plugs {
			if plug.Output {
				continue
			}
			for _, upstream := range c.resolveUpstreamJobs(it, plug.Name) {
				c.wf.AddDependency(upstream.job.UUID, mapJob.UUID)
			}
		}
	}
	return nil
}

// upstreamRef names the job and the specific plug on it that produces a
// value flowing downstream, so the caller can both add a dependency edge
// and proxy the consuming parameter onto the producing one.
type upstreamRef struct {
	job      *Job
	plugName string
}

// resolveUpstreamJobs looks at (node, plugName)'s own incoming links
// directly: node is always the consuming job (or iteration) itself here,
// so jobByNode[node] would trivially "find" it before ever walking to its
// real producer, which is why the jobByNode short-circuit only belongs in
// the recursive peer-resolution step below, not here.
func (c *compilation) resolveUpstreamJobs(node graph.NodeKind, plugName string) []upstreamRef {
	visited := map[graph.NodeKind]bool{node: true}
	var refs []upstreamRef
	for _, end := range connectionsInto(node, plugName) {
		if end.Weak {
			continue
		}
		refs = append(refs, c.resolveUpstreamJobsVisited(end.PeerNode, end.PeerPlug, visited)...)
	}
	return refs
}

// resolveUpstreamJobsVisited resolves one peer reached by following a
// link: a peer that is itself a compiled job (or whose iteration has a
// reduce job) is the answer; otherwise it's a transparent connector
// (pipeline boundary, switch, nested iteration) and resolution continues
// through its own incoming links (spec.md §4.5 step 1:
// get_connections_through).
func (c *compilation) resolveUpstreamJobsVisited(node graph.NodeKind, plugName string, visited map[graph.NodeKind]bool) []upstreamRef {
	if visited[node] {
		return nil
	}
	visited[node] = true

	if job, ok := c.jobByNode[node]; ok {
		return []upstreamRef{{job: job, plugName: plugName}}
	}
	if it, ok := node.(*iteration.ProcessIteration); ok {
		if reduce, ok := c.iterationReduceJob[it]; ok {
			return []upstreamRef{{job: reduce, plugName: plugName}}
		}
	}

	var refs []upstreamRef
	for _, end := range connectionsInto(node, plugName) {
		if end.Weak {
			continue
		}
		refs = append(refs, c.resolveUpstreamJobsVisited(end.PeerNode, end.PeerPlug, visited)...)
	}
	return refs
}

// connectionsInto returns the link ends actually feeding (node, plugName),
// going through Switch's ConnectionsThrough where available so a switch's
// currently selected option resolves rather than its literal output plug
// (which has no direct links of its own).
func connectionsInto(node graph.NodeKind, plugName string) []graph.LinkEnd {
	if bridge, ok := node.(interface {
		ConnectionsThrough(plug string, activatedOnly bool) []graph.LinkEnd
	}); ok {
		return bridge.ConnectionsThrough(plugName, true)
	}
	if pl := node.Base().Plug(plugName); pl != nil {
		return pl.LinksFrom
	}
	return nil
}

func exportValues(base *graph.Node) map[string]interface{} {
	out := make(map[string]interface{})
	for _, f := range base.Fields.UserFields() {
		if v, ok := base.Fields.Get(f.Name); ok {
			out[f.Name] = v
		}
	}
	return out
}
