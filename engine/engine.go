// Package engine implements the Engine lifecycle of spec.md §4.7: compile
// an activated pipeline to a Workflow, persist it through an
// execdb.ExecutionDatabase, run its jobs to completion, and collect
// outputs back onto the executable. Grounded on
// _examples/original_source/capsul/engine/local.py's start/status/
// update_executable/dispose shape and common/bootstrap's component-wiring
// style, restructured around execdb.ExecutionDatabase instead of a
// filesystem-backed redis database.
package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/capsul-go/capsul/capsulerr"
	"github.com/capsul-go/capsul/common/cache"
	"github.com/capsul-go/capsul/common/metrics"
	"github.com/capsul-go/capsul/compiler"
	"github.com/capsul-go/capsul/dataset"
	"github.com/capsul-go/capsul/execdb"
	"github.com/capsul-go/capsul/graph"
	"github.com/capsul-go/capsul/pipeline"
)

// Logger is the narrow logging surface this package needs.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// nopLogger discards everything; used when no Logger is configured.
type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Debug(string, ...interface{}) {}

// Engine runs executables against an ExecutionDatabase (spec.md §4.7). The
// zero value is not usable; build one with New.
type Engine struct {
	Database execdb.ExecutionDatabase
	Log      Logger

	// ID identifies this engine in execdb (spec.md §4.7: "register the
	// engine").
	ID string

	// WorkDir is the root directory under which each execution gets its
	// own scratch subdirectory (CAPSUL_TMP, spec.md §6).
	WorkDir string

	// NumWorkers is the number of worker processes to start for the
	// distributed path (spec.md §4.7's "number_of_workers_to_start").
	// Ignored when WorkerCommand is empty, since the local executor is
	// always single-concurrency (spec.md §4.7 "Local executor variant").
	NumWorkers int

	// WorkerCommand is the argv prefix used to spawn a worker subprocess
	// (e.g. the path to a built capsul-worker binary), one execution id
	// argument appended per spec.md §6's CLI surface. When empty, Start
	// instead runs the sequential in-process local executor (RunLocal),
	// since an in-memory ExecutionDatabase cannot be reached from a
	// separate process anyway.
	WorkerCommand []string

	// DatabaseDescriptor is the value passed to spawned workers as
	// CAPSUL_DATABASE (spec.md §6). Unused by the local executor path.
	DatabaseDescriptor string

	// ClaimRetryInterval paces the local executor's claim-retry loop when
	// jobs are waiting but none are ready yet. Defaults to 50ms.
	ClaimRetryInterval time.Duration

	// WaitTimeout bounds Run's call to Database.Wait. Defaults to 24h,
	// effectively "no practical timeout" for a foreground run.
	WaitTimeout time.Duration

	// Datasets maps dataset name to root path (spec.md §6's
	// "databases.<name>.path" config), resolved into each started
	// execution's context so workers can substitute
	// "!{dataset.<name>.path}" command-line placeholders.
	Datasets map[string]string

	// Cache, if set, avoids re-reading a dataset's capsul.json metadata
	// schema file on every Start call against the same path. Nil disables
	// caching; ResolveDatasets falls back to dataset.New's own lookup.
	Cache cache.Cache
}

// New builds an Engine with spec.md §4.7 defaults: a single local worker,
// a 50ms claim-retry pace, and no practical wait timeout.
func New(database execdb.ExecutionDatabase, id, workDir string, log Logger) *Engine {
	if log == nil {
		log = nopLogger{}
	}
	log.Info("engine host", "system", metrics.GetSystemInfo().ToMap())
	return &Engine{
		Database:           database,
		Log:                log,
		ID:                 id,
		WorkDir:            workDir,
		NumWorkers:         1,
		ClaimRetryInterval: 50 * time.Millisecond,
		WaitTimeout:        24 * time.Hour,
	}
}

// Start compiles executable with params applied as kwargs, persists the
// resulting Workflow, and starts its workers, returning the execution id
// (spec.md §4.7: "start(executable, **params) → id runs compilation and
// persistence").
func (e *Engine) Start(ctx context.Context, executable graph.NodeKind, params map[string]interface{}) (string, error) {
	for name, value := range params {
		executable.Base().Fields.Set(name, value)
	}
	if p, ok := executable.(*pipeline.Pipeline); ok {
		p.UpdateActivation()
	}

	wf, err := compiler.Compile(executable)
	if err != nil {
		return "", capsulerr.New(capsulerr.Definition, "", err.Error())
	}

	if err := os.MkdirAll(e.WorkDir, 0o755); err != nil {
		return "", capsulerr.Wrap(capsulerr.Scheduling, "", err)
	}
	workdir, err := os.MkdirTemp(e.WorkDir, "capsul_execution_")
	if err != nil {
		return "", capsulerr.Wrap(capsulerr.Scheduling, "", err)
	}

	execContext := map[string]interface{}{"workdir": workdir}
	if datasets, err := e.ResolveDatasets(ctx); err != nil {
		e.Log.Error("failed to resolve datasets", "error", err)
	} else if len(datasets) > 0 {
		paths := make(map[string]string, len(datasets))
		for name, ds := range datasets {
			paths[name] = ds.Path
		}
		execContext["datasets"] = paths
	}

	id, err := e.Database.NewExecution(ctx, executable.Base().Definition(), e.ID, execContext, wf, time.Now())
	if err != nil {
		return "", capsulerr.Wrap(capsulerr.Scheduling, "", err)
	}

	e.Log.Info("execution started", "execution_id", id, "engine_id", e.ID, "jobs", len(wf.Jobs))
	e.startWorkers(id, workdir)
	return id, nil
}

// startWorkers launches either the in-process local executor or up to
// NumWorkers worker subprocesses, depending on WorkerCommand (spec.md
// §4.7: "spawn up to number_of_workers_to_start worker processes").
func (e *Engine) startWorkers(executionID, workdir string) {
	if len(e.WorkerCommand) == 0 {
		go func() {
			if err := RunLocal(context.Background(), e.Database, executionID, e.ID, workdir, e.Log, e.ClaimRetryInterval); err != nil {
				e.Log.Error("local executor failed", "execution_id", executionID, "error", err)
			}
		}()
		return
	}

	n := e.NumWorkers
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		e.spawnWorker(executionID, workdir)
	}
}

func (e *Engine) spawnWorker(executionID, workdir string) {
	argv := append(append([]string(nil), e.WorkerCommand...), executionID)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(),
		"CAPSUL_DATABASE="+e.DatabaseDescriptor,
		"CAPSUL_TMP="+workdir,
	)
	if err := cmd.Start(); err != nil {
		e.Log.Error("failed to spawn worker", "execution_id", executionID, "error", err)
		return
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			e.Log.Debug("worker process exited", "execution_id", executionID, "error", err)
		}
	}()
}

// Run starts executable, waits for it to finish, writes its outputs back
// onto executable, disposes the execution, and reports the first job
// failure if any (spec.md §4.7: "run additionally waits, collects outputs
// back onto the executable via the parameter store, and disposes").
func (e *Engine) Run(ctx context.Context, executable graph.NodeKind, params map[string]interface{}) error {
	id, err := e.Start(ctx, executable, params)
	if err != nil {
		return err
	}
	defer func() {
		if derr := e.Dispose(ctx, id); derr != nil {
			e.Log.Error("dispose failed", "execution_id", id, "error", derr)
		}
	}()

	if _, err := e.Database.Wait(ctx, id, e.WaitTimeout); err != nil {
		return capsulerr.Wrap(capsulerr.Scheduling, id, err)
	}

	if err := e.UpdateExecutable(ctx, executable, id); err != nil {
		e.Log.Error("failed to collect outputs", "execution_id", id, "error", err)
	}

	return e.RaiseForStatus(ctx, id)
}

// Status returns the execution's current status.
func (e *Engine) Status(ctx context.Context, executionID string) (execdb.ExecutionStatus, error) {
	return e.Database.Status(ctx, executionID)
}

// Wait blocks until executionID reaches a terminal status or timeout
// elapses (spec.md §5: "wait(id, timeout) blocks ... on a condition
// variable or polling").
func (e *Engine) Wait(ctx context.Context, executionID string, timeout time.Duration) (execdb.ExecutionStatus, error) {
	return e.Database.Wait(ctx, executionID, timeout)
}

// Stop cancels an execution in progress (spec.md §5: "stop(execution_id,
// kill_running) transitions the execution to failed, prevents future
// claims, and optionally signals already-running workers").
func (e *Engine) Stop(ctx context.Context, executionID string, killRunning bool) error {
	return e.Database.Stop(ctx, executionID, killRunning)
}

// Dispose releases an execution's resources (spec.md §4.7 engine release:
// "dispose the engine row and disconnect").
func (e *Engine) Dispose(ctx context.Context, executionID string) error {
	return e.Database.Dispose(ctx, executionID)
}

// RaiseForStatus surfaces the first failed job's detail as a typed error,
// or nil if the execution did not fail (spec.md §4.7: "Errors from
// raise_for_status surface the first failed job's detail").
func (e *Engine) RaiseForStatus(ctx context.Context, executionID string) error {
	report, err := e.Database.ExecutionReport(ctx, executionID)
	if err != nil {
		return capsulerr.Wrap(capsulerr.Scheduling, executionID, err)
	}
	if report.Status != execdb.ExecutionFailed {
		return nil
	}
	for _, job := range report.Jobs {
		if job.Status == execdb.JobFailed {
			detail := job.ErrorDetail
			if detail == "" {
				detail = report.ErrorDetail
			}
			return (&capsulerr.Error{
				Kind:        capsulerr.Job,
				ExecutionID: executionID,
				Detail:      detail,
			}).WithJob(job.UUID)
		}
	}
	return capsulerr.New(capsulerr.Job, executionID, report.ErrorDetail)
}

// UpdateExecutable walks executable's node tree and writes each node's
// materialized parameters back from the execution's parameter store,
// following proxy chains transparently (spec.md §4.7 "run ... collects
// outputs back onto the executable"; grounded on local.py's
// update_executable stack-walk).
func (e *Engine) UpdateExecutable(ctx context.Context, executable graph.NodeKind, executionID string) error {
	params, err := e.Database.Parameters(ctx, executionID)
	if err != nil {
		return fmt.Errorf("collect outputs: %w", err)
	}

	type frame struct {
		node     graph.NodeKind
		location string
	}
	stack := []frame{{node: executable, location: executable.Base().Name}}

	for len(stack) > 0 {
		f := stack[0]
		stack = stack[1:]

		base := f.node.Base()
		for _, field := range base.Fields.UserFields() {
			if value, ok := params.Get(f.location, field.Name); ok {
				base.Fields.Set(field.Name, value)
			}
		}

		if p, ok := f.node.(*pipeline.Pipeline); ok {
			for _, child := range p.Nodes() {
				if !child.Base().Activated {
					continue
				}
				stack = append(stack, frame{node: child, location: f.location + "." + child.Base().Name})
			}
		}
	}
	return nil
}

// ResolveDatasets builds e.Datasets into dataset.Dataset instances,
// consulting Cache (if configured) for each path's metadata schema name
// before falling back to dataset.New's own capsul.json read.
func (e *Engine) ResolveDatasets(ctx context.Context) (map[string]*dataset.Dataset, error) {
	out := make(map[string]*dataset.Dataset, len(e.Datasets))
	for name, path := range e.Datasets {
		schemaName, err := e.cachedSchemaName(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("resolve dataset %q: %w", name, err)
		}
		ds, err := dataset.New(path, schemaName)
		if err != nil {
			return nil, fmt.Errorf("resolve dataset %q: %w", name, err)
		}
		out[name] = ds
	}
	return out, nil
}

func (e *Engine) cachedSchemaName(ctx context.Context, path string) (string, error) {
	if e.Cache == nil {
		return "", nil
	}

	key := "capsul:dataset-schema:" + path
	if cached, ok, err := e.Cache.Get(ctx, key); err == nil && ok {
		return string(cached), nil
	}

	ds, err := dataset.New(path, "")
	if err != nil {
		return "", err
	}
	if ds.MetadataSchemaName != "" {
		_ = e.Cache.Set(ctx, key, []byte(ds.MetadataSchemaName), time.Hour)
	}
	return ds.MetadataSchemaName, nil
}
