// Package capsulerr defines the typed-failure taxonomy engine operations
// raise instead of bare errors (spec.md §7's five error categories).
// Grounded on graph/errors.go's pattern of small typed error structs with an
// Error() method, generalized to the single discriminated Kind the engine
// needs to report through RaiseForStatus.
package capsulerr

import "fmt"

// Kind classifies a failure by the stage of the pipeline it occurred in
// (spec.md §7).
type Kind string

const (
	// Definition errors happen during pipeline construction or load:
	// unknown plug, type mismatch, duplicate field, cyclic activation.
	Definition Kind = "definition"
	// Completion errors happen while resolving dataset paths: missing
	// schema, unresolved dataset, incompatible metadata.
	Completion Kind = "completion"
	// Scheduling errors happen starting an execution: no workers
	// startable, database unreachable.
	Scheduling Kind = "scheduling"
	// Job errors happen inside a running job: non-zero exit, missing
	// output, timeout. Recorded against the job and propagated to the
	// execution's failed status.
	Job Kind = "job"
	// Infrastructure errors are transient failures (database connection
	// glitches) retried locally before escalating to Scheduling.
	Infrastructure Kind = "infrastructure"
)

// Error is the typed failure carried by engine operations (spec.md §7:
// "engine methods either return a value or raise a typed failure carrying
// {kind, execution_id?, job_id?, detail}").
type Error struct {
	Kind        Kind
	ExecutionID string
	JobID       string
	Detail      string
	Err         error
}

func (e *Error) Error() string {
	switch {
	case e.JobID != "":
		return fmt.Sprintf("capsul: %s error in execution %s job %s: %s", e.Kind, e.ExecutionID, e.JobID, e.Detail)
	case e.ExecutionID != "":
		return fmt.Sprintf("capsul: %s error in execution %s: %s", e.Kind, e.ExecutionID, e.Detail)
	default:
		return fmt.Sprintf("capsul: %s error: %s", e.Kind, e.Detail)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a *Error without a wrapped cause.
func New(kind Kind, executionID, detail string) *Error {
	return &Error{Kind: kind, ExecutionID: executionID, Detail: detail}
}

// Wrap builds a *Error around an existing error, preserving it for errors.Is/As.
func Wrap(kind Kind, executionID string, err error) *Error {
	return &Error{Kind: kind, ExecutionID: executionID, Detail: err.Error(), Err: err}
}

// WithJob attaches a job id to an existing *Error, returning e for chaining.
func (e *Error) WithJob(jobID string) *Error {
	e.JobID = jobID
	return e
}
