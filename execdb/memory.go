package execdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capsul-go/capsul/compiler"
)

// Memory is an in-process ExecutionDatabase, the simplest correct
// realization spec.md §4.6 allows for claim/complete serializability: a
// single mutex per execution rather than database-level locking.
// Grounded on common/queue.MemoryQueue's map-of-channels-behind-a-mutex
// shape, and the primary backing store for the local engine variant
// (spec.md §4.7).
type Memory struct {
	mu         sync.Mutex
	executions map[string]*executionState
}

// NewMemory constructs an empty in-process execution database.
func NewMemory() *Memory {
	return &Memory{executions: make(map[string]*executionState)}
}

type executionState struct {
	mu sync.Mutex

	id       string
	engineID string
	context  map[string]interface{}

	status      ExecutionStatus
	startTime   time.Time
	endTime     time.Time
	errMsg      string
	errorDetail string

	jobs       map[string]*JobRecord
	waitFor    map[string][]string // downstream uuid -> upstream uuids
	dependents map[string][]string // upstream uuid -> downstream uuids

	params *compiler.ParameterStore

	doneCh chan struct{}
	closed bool
}

func (s *executionState) markDone() {
	if !s.closed {
		s.closed = true
		close(s.doneCh)
	}
}

func (m *Memory) get(id string) (*executionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// NewExecution implements ExecutionDatabase.
func (m *Memory) NewExecution(ctx context.Context, executableDefinition, engineID string, execContext map[string]interface{}, wf *compiler.Workflow, startTime time.Time) (string, error) {
	id := uuid.NewString()

	s := &executionState{
		id:         id,
		engineID:   engineID,
		context:    execContext,
		status:     ExecutionReady,
		startTime:  startTime,
		jobs:       make(map[string]*JobRecord),
		waitFor:    make(map[string][]string),
		dependents: make(map[string][]string),
		params:     wf.Parameters,
		doneCh:     make(chan struct{}),
	}

	for uid, job := range wf.Jobs {
		waitFor := make([]string, 0, len(job.WaitFor))
		for upstream := range job.WaitFor {
			waitFor = append(waitFor, upstream)
		}
		status := JobReady
		if len(waitFor) > 0 {
			status = JobWaiting
		}
		s.jobs[uid] = &JobRecord{
			UUID:               job.UUID,
			Command:            job.Command,
			ProcessDefinition:  job.ProcessDefinition,
			ParametersLocation: job.ParametersLocation,
			WaitFor:            waitFor,
			IsTerminal:         job.IsTerminal,
			Status:             status,
		}
		s.waitFor[uid] = waitFor
	}
	for key := range wf.Dependencies {
		upstream, downstream := key[0], key[1]
		s.dependents[upstream] = append(s.dependents[upstream], downstream)
	}

	if len(s.jobs) == 0 {
		s.status = ExecutionEnded
		s.endTime = startTime
		s.markDone()
	} else {
		s.status = ExecutionRunning
	}

	m.mu.Lock()
	m.executions[id] = s
	m.mu.Unlock()

	return id, nil
}

// Claim implements ExecutionDatabase.
func (m *Memory) Claim(ctx context.Context, executionID, engineID string) (*JobRecord, error) {
	s, err := m.get(executionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != ExecutionRunning {
		return nil, ErrNotFound
	}

	for _, job := range s.jobs {
		if job.Status == JobReady {
			job.Status = JobSubmitted
			job.StartTime = time.Now()
			jobCopy := *job
			return &jobCopy, nil
		}
	}
	return nil, ErrNotFound
}

// Complete implements ExecutionDatabase.
func (m *Memory) Complete(ctx context.Context, executionID, jobUUID string, outputs map[string]interface{}, status JobStatus, errorDetail string) error {
	s, err := m.get(executionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobUUID]
	if !ok {
		return fmt.Errorf("execdb: unknown job %s", jobUUID)
	}

	job.Status = status
	job.EndTime = time.Now()
	job.ErrorDetail = errorDetail

	for name, value := range outputs {
		s.params.Set(job.ParametersLocation, name, value)
	}

	switch status {
	case JobDone:
		s.promoteReady(jobUUID)
	case JobFailed:
		s.errMsg = "job failed"
		s.errorDetail = errorDetail
		s.cancelDependents(jobUUID)
	}

	s.recomputeStatus()
	return nil
}

// promoteReady moves every waiting direct dependent of upstream to
// ready once all of its WaitFor jobs are done (the fan-in promotion
// loop grounded on the Python local engine's ready/waiting sets).
func (s *executionState) promoteReady(upstream string) {
	for _, downstream := range s.dependents[upstream] {
		job, ok := s.jobs[downstream]
		if !ok || job.Status != JobWaiting {
			continue
		}
		allDone := true
		for _, w := range s.waitFor[downstream] {
			if s.jobs[w].Status != JobDone {
				allDone = false
				break
			}
		}
		if allDone {
			job.Status = JobReady
		}
	}
}

// cancelDependents marks every transitive dependent of a failed job as
// cancelled, since spec.md §4.7/§7 guarantees they are "never claimed
// (cancelled implicitly)".
func (s *executionState) cancelDependents(upstream string) {
	queue := append([]string(nil), s.dependents[upstream]...)
	for len(queue) > 0 {
		uid := queue[0]
		queue = queue[1:]
		job, ok := s.jobs[uid]
		if !ok || job.Status == JobDone || job.Status == JobFailed || job.Status == JobCancelled {
			continue
		}
		job.Status = JobCancelled
		queue = append(queue, s.dependents[uid]...)
	}
}

// recomputeStatus transitions the execution to ended/failed once every
// job has reached a terminal state, and signals any blocked Wait calls.
func (s *executionState) recomputeStatus() {
	if s.status != ExecutionRunning {
		return
	}

	allTerminal := true
	anyFailed := false
	for _, job := range s.jobs {
		switch job.Status {
		case JobDone, JobCancelled:
		case JobFailed:
			anyFailed = true
		default:
			allTerminal = false
		}
	}
	if !allTerminal {
		return
	}

	s.endTime = time.Now()
	if anyFailed {
		s.status = ExecutionFailed
	} else {
		s.status = ExecutionEnded
	}
	s.markDone()
}

// Status implements ExecutionDatabase.
func (m *Memory) Status(ctx context.Context, executionID string) (ExecutionStatus, error) {
	s, err := m.get(executionID)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, nil
}

// Wait implements ExecutionDatabase.
func (m *Memory) Wait(ctx context.Context, executionID string, timeout time.Duration) (ExecutionStatus, error) {
	s, err := m.get(executionID)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		status := s.status
		s.mu.Unlock()
		return status, nil
	}
	doneCh := s.doneCh
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-doneCh:
		s.mu.Lock()
		status := s.status
		s.mu.Unlock()
		return status, nil
	case <-timer.C:
		return "", ErrTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ExecutionReport implements ExecutionDatabase.
func (m *Memory) ExecutionReport(ctx context.Context, executionID string) (*ExecutionReport, error) {
	s, err := m.get(executionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &ExecutionReport{
		ID:          s.id,
		Status:      s.status,
		StartTime:   s.startTime,
		EndTime:     s.endTime,
		Error:       s.errMsg,
		ErrorDetail: s.errorDetail,
	}
	for _, job := range s.jobs {
		report.Jobs = append(report.Jobs, JobReport{
			UUID:              job.UUID,
			ProcessDefinition: job.ProcessDefinition,
			Status:            job.Status,
			StartTime:         job.StartTime,
			EndTime:           job.EndTime,
			ErrorDetail:       job.ErrorDetail,
			StdoutPath:        job.StdoutPath,
			StderrPath:        job.StderrPath,
		})
	}
	return report, nil
}

// ExecutionContext implements ExecutionDatabase.
func (m *Memory) ExecutionContext(ctx context.Context, executionID string) (map[string]interface{}, error) {
	s, err := m.get(executionID)
	if err != nil {
		return nil, err
	}
	return s.context, nil
}

// Parameters implements ExecutionDatabase.
func (m *Memory) Parameters(ctx context.Context, executionID string) (*compiler.ParameterStore, error) {
	s, err := m.get(executionID)
	if err != nil {
		return nil, err
	}
	return s.params, nil
}

// Stop implements ExecutionDatabase.
func (m *Memory) Stop(ctx context.Context, executionID string, killRunning bool) error {
	s, err := m.get(executionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == ExecutionEnded || s.status == ExecutionFailed {
		return nil
	}
	s.status = ExecutionFailed
	s.errMsg = "stopped"
	s.endTime = time.Now()
	for uid, job := range s.jobs {
		if job.Status == JobReady || job.Status == JobWaiting {
			job.Status = JobCancelled
		}
		if job.Status == JobSubmitted && killRunning {
			s.jobs[uid].Status = JobCancelled
		}
	}
	s.markDone()
	return nil
}

// Dispose implements ExecutionDatabase.
func (m *Memory) Dispose(ctx context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.executions, executionID)
	return nil
}
