// Package execdb implements the ExecutionDatabase contract of spec.md
// §4.6: persistence for one execution record and its compiled workflow,
// with atomic job claiming and completion. Grounded on
// common/repository's CRUD shape and common/db/common/redis's
// connection wrappers, restructured around Capsul's
// compiler.Workflow/ParameterStore model instead of the teacher's
// Run/models.Run rows.
package execdb

import (
	"context"
	"errors"
	"time"

	"github.com/capsul-go/capsul/compiler"
)

// JobStatus is the lifecycle state of one compiled job (spec.md §4.6/§4.7).
type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobReady     JobStatus = "ready"
	JobSubmitted JobStatus = "submitted"
	JobDone      JobStatus = "done"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// ExecutionStatus is the lifecycle state of one execution record.
type ExecutionStatus string

const (
	ExecutionReady   ExecutionStatus = "ready"
	ExecutionRunning ExecutionStatus = "running"
	ExecutionEnded   ExecutionStatus = "ended"
	ExecutionFailed  ExecutionStatus = "failed"
)

// ErrNotFound is returned when an execution or job id is unknown.
var ErrNotFound = errors.New("execdb: not found")

// ErrTimeout is returned by Wait when the deadline elapses before the
// execution reaches a terminal status (spec.md §4.6: "wait raises on
// timeout").
var ErrTimeout = errors.New("execdb: wait timed out")

// JobRecord is one persisted job, the row-shape counterpart of
// compiler.Job plus its runtime execution state.
type JobRecord struct {
	UUID               string
	Command            []string
	ProcessDefinition  string
	ParametersLocation string
	WaitFor            []string
	IsTerminal         bool

	Status      JobStatus
	StartTime   time.Time
	EndTime     time.Time
	ErrorDetail string
	StdoutPath  string
	StderrPath  string
}

// JobReport is the per-job view returned by ExecutionReport.
type JobReport struct {
	UUID               string
	ProcessDefinition  string
	Status             JobStatus
	StartTime          time.Time
	EndTime            time.Time
	ErrorDetail        string
	StdoutPath         string
	StderrPath         string
}

// ExecutionReport is the aggregated view of §4.6's execution_report.
type ExecutionReport struct {
	ID          string
	Status      ExecutionStatus
	StartTime   time.Time
	EndTime     time.Time
	Error       string
	ErrorDetail string
	Jobs        []JobReport
}

// ExecutionDatabase is the minimal operation contract of spec.md §4.6.
// claim and complete must be serializable with respect to concurrent
// workers; implementations realize this either with database-level
// locking (execdb/postgres's SELECT ... FOR UPDATE SKIP LOCKED) or, for
// the in-process/local-engine case, a single mutex (Memory).
type ExecutionDatabase interface {
	// NewExecution atomically creates an execution record from a compiled
	// workflow. The record starts in state "running" ("ended" when the
	// workflow has no jobs); no record is stored in state "ready".
	NewExecution(ctx context.Context, executableDefinition, engineID string, execContext map[string]interface{}, wf *compiler.Workflow, startTime time.Time) (string, error)

	// Claim returns one job whose WaitFor is a subset of done jobs and
	// marks it submitted, atomically; returns ErrNotFound if none is
	// currently ready (distinct from "no work remains", which the
	// caller determines via ExecutionReport).
	Claim(ctx context.Context, executionID, engineID string) (*JobRecord, error)

	// Complete stores outputs into the parameter store (resolving
	// proxies) and marks the job done or failed.
	Complete(ctx context.Context, executionID, jobUUID string, outputs map[string]interface{}, status JobStatus, errorDetail string) error

	// Status returns the execution's current status.
	Status(ctx context.Context, executionID string) (ExecutionStatus, error)

	// Wait blocks until the execution reaches a terminal status or
	// timeout elapses, returning ErrTimeout in the latter case.
	Wait(ctx context.Context, executionID string, timeout time.Duration) (ExecutionStatus, error)

	// ExecutionReport returns the aggregated per-job view.
	ExecutionReport(ctx context.Context, executionID string) (*ExecutionReport, error)

	// ExecutionContext returns the execContext map NewExecution was given
	// (spec.md §4.3: "workdir" plus whatever dataset/module config the
	// engine resolved before starting), so a worker can resolve
	// "!{dataset.<name>.path}" placeholders without a separate side
	// channel back to the engine that started the execution.
	ExecutionContext(ctx context.Context, executionID string) (map[string]interface{}, error)

	// Parameters returns the live parameter store backing an execution,
	// so the engine can resolve final output values back onto the
	// executable (spec.md §4.7: Engine.run "collects outputs back onto
	// the executable via the parameter store").
	Parameters(ctx context.Context, executionID string) (*compiler.ParameterStore, error)

	// Stop transitions the execution to failed, preventing future
	// claims (spec.md §5: cancellation).
	Stop(ctx context.Context, executionID string, killRunning bool) error

	// Dispose releases all backing resources for the execution.
	Dispose(ctx context.Context, executionID string) error
}
