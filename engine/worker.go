package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/capsul-go/capsul/common/logger"
	"github.com/capsul-go/capsul/common/metrics"
	"github.com/capsul-go/capsul/dataset"
	"github.com/capsul-go/capsul/execdb"
	"github.com/capsul-go/capsul/procmeta"
)

// RunLocal runs executionID's jobs to completion in the calling process,
// claiming and executing one job at a time (spec.md §4.7: "Local executor
// variant runs jobs sequentially in a single detached worker"). It is also
// the loop a distributed worker subprocess runs: cmd/capsul-worker calls
// RunLocal and exits once it returns.
//
// Grounded on local.py's __main__ ready/waiting/done loop, translated from
// set-based promotion (handled upstream by execdb itself now) to a plain
// claim-retry loop.
func RunLocal(ctx context.Context, database execdb.ExecutionDatabase, executionID, engineID, workdir string, log Logger, retryInterval time.Duration) error {
	if log == nil {
		log = nopLogger{}
	}
	if retryInterval <= 0 {
		retryInterval = 50 * time.Millisecond
	}

	for {
		claimed, err := RunJob(ctx, database, executionID, engineID, workdir, log)
		if err != nil {
			return err
		}
		if claimed {
			continue
		}

		status, err := database.Status(ctx, executionID)
		if err != nil {
			return err
		}
		if status != execdb.ExecutionRunning {
			return nil
		}

		select {
		case <-time.After(retryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunJob claims at most one ready job from executionID and runs it to
// completion, reporting whether a job was actually claimed (spec.md §4.7
// steps 1-3: claim, execute, complete).
func RunJob(ctx context.Context, database execdb.ExecutionDatabase, executionID, engineID, workdir string, log Logger) (bool, error) {
	if log == nil {
		log = nopLogger{}
	}

	job, err := database.Claim(ctx, executionID, engineID)
	if errors.Is(err, execdb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	jobLog := scopeToJob(log, executionID, job.UUID)
	jobLog.Debug("job claimed", "definition", job.ProcessDefinition)
	status, detail := executeCommand(ctx, database, job, executionID, workdir, jobLog)

	if err := database.Complete(ctx, executionID, job.UUID, nil, status, detail); err != nil {
		return true, fmt.Errorf("complete job %s: %w", job.UUID, err)
	}
	return true, nil
}

// executeCommand runs a job's command with stdout+stderr captured to a
// per-job file under workdir (spec.md §4.7 step 2). A job with no command
// (a synthetic map/reduce fan node, for instance) completes immediately.
func executeCommand(ctx context.Context, database execdb.ExecutionDatabase, job *execdb.JobRecord, executionID, workdir string, log Logger) (execdb.JobStatus, string) {
	if len(job.Command) == 0 {
		return execdb.JobDone, ""
	}

	command := resolveDatasetPlaceholders(ctx, database, executionID, job.Command, log)

	logPath := filepath.Join(workdir, job.UUID+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return execdb.JobFailed, fmt.Sprintf("create log file: %s", err)
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Env = append(os.Environ(),
		"CAPSUL_DATABASE="+executionID,
		"CAPSUL_TMP="+workdir,
	)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	rm := metrics.CaptureStart(ctx)
	err = cmd.Run()
	rm.Finalize(ctx)
	log.Debug("job runtime", "metrics", rm.ToMap())

	if err != nil {
		var buf bytes.Buffer
		if tail, rerr := os.ReadFile(logPath); rerr == nil {
			buf.Write(tail)
		}
		log.Error("job failed", "error", err)
		return execdb.JobFailed, fmt.Sprintf("%s: %s", err, buf.String())
	}
	return execdb.JobDone, ""
}

// scopeToJob attaches execution_id/job_id context to log when it's built
// on common/logger.Logger; other Logger implementations (nopLogger, test
// fakes) are returned unchanged.
func scopeToJob(log Logger, executionID, jobID string) Logger {
	l, ok := log.(*logger.Logger)
	if !ok {
		return log
	}
	return l.WithExecutionID(executionID).WithJobID(jobID)
}

// resolveDatasetPlaceholders substitutes any "!{dataset.<name>.path}"
// token baked into a job's command line at compile time (spec.md §4.3)
// with the dataset root paths Engine.Start resolved into the execution
// context, so a distributed worker process - which never sees the
// Engine that started the execution - can still locate dataset-relative
// inputs. A context lookup failure just means no datasets were
// configured; the command runs unresolved in that case, grounded on
// procmeta.ResolvePaths.
func resolveDatasetPlaceholders(ctx context.Context, database execdb.ExecutionDatabase, executionID string, command []string, log Logger) []string {
	execContext, err := database.ExecutionContext(ctx, executionID)
	if err != nil {
		return command
	}
	raw, ok := execContext["datasets"]
	if !ok {
		return command
	}

	datasets := make(map[string]*dataset.Dataset)
	switch paths := raw.(type) {
	case map[string]string:
		for name, path := range paths {
			datasets[name] = &dataset.Dataset{Path: path}
		}
	case map[string]interface{}:
		for name, path := range paths {
			if p, ok := path.(string); ok {
				datasets[name] = &dataset.Dataset{Path: p}
			}
		}
	default:
		log.Debug("execution context datasets field has unexpected type", "execution_id", executionID)
		return command
	}
	if len(datasets) == 0 {
		return command
	}

	indexed := make(map[string]string, len(command))
	for i, arg := range command {
		indexed[strconv.Itoa(i)] = arg
	}
	resolved := procmeta.ResolvePaths(indexed, datasets)

	out := make([]string, len(command))
	for i := range command {
		out[i] = resolved[strconv.Itoa(i)]
	}
	return out
}
