package execdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsul-go/capsul/compiler"
	"github.com/capsul-go/capsul/field"
	"github.com/capsul-go/capsul/pipeline"
	"github.com/capsul-go/capsul/process"
)

func newChainWorkflow(t *testing.T) *compiler.Workflow {
	t.Helper()
	pl := pipeline.New("pl", "test.pl")
	a := process.New("a", "test.a")
	a.DeclareField(&field.Field{Name: "out", Type: "string", IsOutput: true})
	b := process.New("b", "test.b")
	b.DeclareField(&field.Field{Name: "in", Type: "string"})
	require.NoError(t, pl.AddNode(a))
	require.NoError(t, pl.AddNode(b))
	require.NoError(t, pl.AddLink("a", "out", "b", "in", false))
	pl.UpdateActivation()

	wf, err := compiler.Compile(pl)
	require.NoError(t, err)
	return wf
}

func TestMemoryClaimCompleteWalksAChainOfTwoJobs(t *testing.T) {
	ctx := context.Background()
	db := NewMemory()
	wf := newChainWorkflow(t)

	id, err := db.NewExecution(ctx, "test.pl", "engine-1", nil, wf, time.Now())
	require.NoError(t, err)

	status, err := db.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ExecutionRunning, status)

	first, err := db.Claim(ctx, id, "engine-1")
	require.NoError(t, err)
	assert.Equal(t, "test.a", first.ProcessDefinition)

	_, err = db.Claim(ctx, id, "engine-1")
	assert.ErrorIs(t, err, ErrNotFound, "b is still waiting on a")

	require.NoError(t, db.Complete(ctx, id, first.UUID, map[string]interface{}{"out": "hello"}, JobDone, ""))

	second, err := db.Claim(ctx, id, "engine-1")
	require.NoError(t, err)
	assert.Equal(t, "test.b", second.ProcessDefinition)

	params, err := db.Parameters(ctx, id)
	require.NoError(t, err)
	v, ok := params.Get(second.ParametersLocation, "in")
	require.True(t, ok)
	assert.Equal(t, "hello", v, "b's input should observe a's output through the proxy")

	require.NoError(t, db.Complete(ctx, id, second.UUID, nil, JobDone, ""))

	status, err = db.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ExecutionEnded, status)
}

func TestMemoryWaitBlocksUntilEnded(t *testing.T) {
	ctx := context.Background()
	db := NewMemory()
	wf := newChainWorkflow(t)

	id, err := db.NewExecution(ctx, "test.pl", "engine-1", nil, wf, time.Now())
	require.NoError(t, err)

	done := make(chan ExecutionStatus, 1)
	go func() {
		status, err := db.Wait(ctx, id, time.Second)
		require.NoError(t, err)
		done <- status
	}()

	first, err := db.Claim(ctx, id, "engine-1")
	require.NoError(t, err)
	require.NoError(t, db.Complete(ctx, id, first.UUID, map[string]interface{}{"out": "v"}, JobDone, ""))
	second, err := db.Claim(ctx, id, "engine-1")
	require.NoError(t, err)
	require.NoError(t, db.Complete(ctx, id, second.UUID, nil, JobDone, ""))

	select {
	case status := <-done:
		assert.Equal(t, ExecutionEnded, status)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after execution ended")
	}
}

func TestMemoryWaitTimesOut(t *testing.T) {
	ctx := context.Background()
	db := NewMemory()
	wf := newChainWorkflow(t)

	id, err := db.NewExecution(ctx, "test.pl", "engine-1", nil, wf, time.Now())
	require.NoError(t, err)

	_, err = db.Wait(ctx, id, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestMemoryCompleteFailurePropagatesAndCancelsDependents(t *testing.T) {
	ctx := context.Background()
	db := NewMemory()
	wf := newChainWorkflow(t)

	id, err := db.NewExecution(ctx, "test.pl", "engine-1", nil, wf, time.Now())
	require.NoError(t, err)

	first, err := db.Claim(ctx, id, "engine-1")
	require.NoError(t, err)
	require.NoError(t, db.Complete(ctx, id, first.UUID, nil, JobFailed, "exit code 1"))

	status, err := db.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ExecutionFailed, status)

	report, err := db.ExecutionReport(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "exit code 1", report.ErrorDetail)

	var downstreamStatus JobStatus
	for _, j := range report.Jobs {
		if j.ProcessDefinition == "test.b" {
			downstreamStatus = j.Status
		}
	}
	assert.Equal(t, JobCancelled, downstreamStatus, "b should never have been claimed after a failed")
}

func TestMemoryStopCancelsPendingJobs(t *testing.T) {
	ctx := context.Background()
	db := NewMemory()
	wf := newChainWorkflow(t)

	id, err := db.NewExecution(ctx, "test.pl", "engine-1", nil, wf, time.Now())
	require.NoError(t, err)

	require.NoError(t, db.Stop(ctx, id, false))

	status, err := db.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ExecutionFailed, status)

	_, err = db.Claim(ctx, id, "engine-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDisposeRemovesTheExecution(t *testing.T) {
	ctx := context.Background()
	db := NewMemory()
	wf := newChainWorkflow(t)

	id, err := db.NewExecution(ctx, "test.pl", "engine-1", nil, wf, time.Now())
	require.NoError(t, err)

	require.NoError(t, db.Dispose(ctx, id))
	_, err = db.Status(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}
