// Package executor runs one claimed job and records its outcome while the
// job's advisory lock is still held.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/RezaEskandarii/gofire/custom_errors"
	"github.com/RezaEskandarii/gofire/internal/lifecycle"
	"github.com/RezaEskandarii/gofire/internal/performer"
	"github.com/RezaEskandarii/gofire/types"
	"github.com/RezaEskandarii/gofire/types/config"
)

// JobWriter is the part of store.JobStore the executor writes through.
type JobWriter interface {
	MarkPerformed(ctx context.Context, id int64, at time.Time) (int, error)
	Finish(ctx context.Context, id int64, at time.Time, errText string) error
	RetryInPlace(ctx context.Context, id int64, runAt time.Time, errText string) error
	RetryAsSuccessor(ctx context.Context, job *types.Job, at time.Time, runAt time.Time, errText string) (int64, error)
}

type Executor struct {
	jobs          JobWriter
	handlers      *config.JobHandler
	policy        lifecycle.Policy
	retainHistory bool
	logger        *slog.Logger
	now           func() time.Time
}

func New(jobs JobWriter, handlers *config.JobHandler, policy lifecycle.Policy, retainHistory bool, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		jobs:          jobs,
		handlers:      handlers,
		policy:        policy,
		retainHistory: retainHistory,
		logger:        logger,
		now:           time.Now,
	}
}

// Execute runs the claimed job, writes the lifecycle decision and releases
// the claim. Handler errors and panics end up in the result; the returned
// error is only set when the outcome could not be recorded.
func (e *Executor) Execute(ctx context.Context, claim *performer.Claim) (types.JobResult, error) {
	job := claim.Job
	defer func() {
		if err := claim.Release(ctx); err != nil {
			e.logger.Warn("failed to release job lock", "job_id", job.ID, "error", err)
		}
	}()

	// Outcome writes must land even when the caller is shutting down.
	writeCtx := context.WithoutCancel(ctx)
	ranAt := e.now()

	executions, err := e.jobs.MarkPerformed(writeCtx, job.ID, ranAt)
	if err != nil {
		return types.JobResult{JobID: job.ID, RanAt: ranAt}, fmt.Errorf("failed to start job %d: %w", job.ID, err)
	}
	job.ExecutionsCount = executions

	runErr := e.run(ctx, &job)
	decision := lifecycle.Decide(runErr, executions, e.policy)
	result := types.JobResult{
		JobID:      job.ID,
		Err:        runErr,
		Executions: executions,
		State:      decision.State,
		RanAt:      ranAt,
	}

	finishedAt := e.now()
	switch decision.State {
	case types.StateFinished, types.StateDiscarded:
		err = e.jobs.Finish(writeCtx, job.ID, finishedAt, decision.Error)
	case types.StateRetried:
		runAt := finishedAt.Add(decision.Delay)
		result.NextRun = &runAt
		if e.retainHistory {
			_, err = e.jobs.RetryAsSuccessor(writeCtx, &job, finishedAt, runAt, decision.Error)
		} else {
			err = e.jobs.RetryInPlace(writeCtx, job.ID, runAt, decision.Error)
		}
	}
	if err != nil {
		return result, fmt.Errorf("failed to record outcome of job %d: %w", job.ID, err)
	}

	e.log(job, result, decision)
	return result, nil
}

// run invokes the handler. Unknown handlers and undecodable payloads are
// fatal; a panic is an ordinary, retryable error.
func (e *Executor) run(ctx context.Context, job *types.Job) (err error) {
	handler, ok := e.handlers.Lookup(job.JobClass)
	if !ok {
		return custom_errors.Fatal(fmt.Errorf("handler %q not registered", job.JobClass))
	}

	args, err := job.Args()
	if err != nil {
		return custom_errors.Fatal(fmt.Errorf("invalid payload: %w", err))
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("job panicked", "job_id", job.ID, "job_class", job.JobClass, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, args...)
}

func (e *Executor) log(job types.Job, result types.JobResult, decision lifecycle.Decision) {
	attrs := []any{
		"job_id", job.ID,
		"job_class", job.JobClass,
		"queue", job.QueueName,
		"executions", result.Executions,
		"state", decision.State,
	}
	switch decision.State {
	case types.StateFinished:
		e.logger.Info("job finished", attrs...)
	case types.StateRetried:
		e.logger.Warn("job failed, retrying", append(attrs, "error", result.Err, "retry_at", result.NextRun)...)
	default:
		e.logger.Error("job discarded", append(attrs, "error", result.Err)...)
	}
}
