package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsul-go/capsul/execdb"
	"github.com/capsul-go/capsul/field"
	"github.com/capsul-go/capsul/pipeline"
	"github.com/capsul-go/capsul/process"
)

func newChainPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()

	pl := pipeline.New("pl", "test.pl")

	a := process.New("a", "test.a")
	require.NoError(t, a.DeclareField(&field.Field{Name: "value", Type: "string"}))
	require.NoError(t, a.DeclareField(&field.Field{Name: "out", Type: "string", IsOutput: true}))
	a.Execute = nil // no in-process fast path; jobs run through the command path

	b := process.New("b", "test.b")
	require.NoError(t, b.DeclareField(&field.Field{Name: "in", Type: "string"}))
	require.NoError(t, b.DeclareField(&field.Field{Name: "result", Type: "string", IsOutput: true}))

	require.NoError(t, pl.AddNode(a))
	require.NoError(t, pl.AddNode(b))
	require.NoError(t, pl.AddLink("a", "out", "b", "in", false))
	require.NoError(t, pl.ExportParameter("a", "value", "value", false))
	require.NoError(t, pl.ExportParameter("b", "result", "result", false))
	pl.UpdateActivation()

	return pl
}

func TestEngineRunWalksTheChainAndCollectsOutputs(t *testing.T) {
	pl := newChainPipeline(t)

	e := New(execdb.NewMemory(), "test-engine", t.TempDir(), nil)
	e.ClaimRetryInterval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := e.Run(ctx, pl, map[string]interface{}{"value": "hello"})
	require.NoError(t, err)

	v, ok := pl.Fields.Get("value")
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestEngineStartThenWaitThenDispose(t *testing.T) {
	pl := newChainPipeline(t)

	e := New(execdb.NewMemory(), "test-engine", t.TempDir(), nil)
	e.ClaimRetryInterval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := e.Start(ctx, pl, map[string]interface{}{"value": "x"})
	require.NoError(t, err)

	status, err := e.Wait(ctx, id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, execdb.ExecutionEnded, status)

	require.NoError(t, e.RaiseForStatus(ctx, id))
	require.NoError(t, e.Dispose(ctx, id))

	_, err = e.Status(ctx, id)
	assert.ErrorIs(t, err, execdb.ErrNotFound)
}

func TestEngineRaiseForStatusReportsFirstJobFailure(t *testing.T) {
	pl := pipeline.New("pl", "test.pl")

	a := process.New("a", "test.a")
	require.NoError(t, a.DeclareField(&field.Field{Name: "out", Type: "string", IsOutput: true}))
	a.CommandLine = func(workdir string, params map[string]interface{}) ([]string, error) {
		return []string{"false"}, nil // always exits non-zero
	}

	b := process.New("b", "test.b")
	require.NoError(t, b.DeclareField(&field.Field{Name: "in", Type: "string"}))

	require.NoError(t, pl.AddNode(a))
	require.NoError(t, pl.AddNode(b))
	require.NoError(t, pl.AddLink("a", "out", "b", "in", false))
	pl.UpdateActivation()

	e := New(execdb.NewMemory(), "test-engine", t.TempDir(), nil)
	e.ClaimRetryInterval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := e.Run(ctx, pl, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job")
}

func TestExecuteCommandResolvesDatasetPlaceholders(t *testing.T) {
	pl := pipeline.New("pl", "test.pl")

	a := process.New("a", "test.a")
	require.NoError(t, a.DeclareField(&field.Field{Name: "out", Type: "string", IsOutput: true}))
	a.CommandLine = func(workdir string, params map[string]interface{}) ([]string, error) {
		return []string{"/bin/echo", "!{dataset.proj.path}"}, nil
	}
	require.NoError(t, pl.AddNode(a))
	pl.UpdateActivation()

	base := t.TempDir()
	e := New(execdb.NewMemory(), "test-engine", base, nil)
	e.Datasets = map[string]string{"proj": "/data/proj"}
	e.ClaimRetryInterval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := e.Start(ctx, pl, nil)
	require.NoError(t, err)

	_, err = e.Wait(ctx, id, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, e.RaiseForStatus(ctx, id))

	matches, err := filepath.Glob(filepath.Join(base, "capsul_execution_*", "*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	content, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), "/data/proj")
}

func TestEngineStopCancelsAnInFlightExecution(t *testing.T) {
	pl := newChainPipeline(t)

	db := execdb.NewMemory()
	e := New(db, "test-engine", t.TempDir(), nil)
	e.WorkerCommand = []string{"/bin/does-not-matter"} // prevents the local executor from auto-draining jobs

	ctx := context.Background()
	id, err := e.Start(ctx, pl, map[string]interface{}{"value": "x"})
	require.NoError(t, err)

	require.NoError(t, e.Stop(ctx, id, true))

	status, err := e.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, execdb.ExecutionFailed, status)
}
