// Package client is the producer and operator surface of gofire: enqueueing
// jobs, acting on individual jobs and pausing queues or job classes.
package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/RezaEskandarii/gofire/custom_errors"
	"github.com/RezaEskandarii/gofire/internal/lock"
	"github.com/RezaEskandarii/gofire/internal/message_broaker"
	"github.com/RezaEskandarii/gofire/internal/notifier"
	"github.com/RezaEskandarii/gofire/internal/performer"
	"github.com/RezaEskandarii/gofire/internal/state"
	"github.com/RezaEskandarii/gofire/internal/store"
	"github.com/RezaEskandarii/gofire/types"
	"github.com/RezaEskandarii/gofire/types/config"
)

// Claimer claims one specific job for inline execution.
type Claimer interface {
	ClaimByID(ctx context.Context, id int64) (*performer.Claim, error)
}

// Runner executes a claimed job and records its outcome.
type Runner interface {
	Execute(ctx context.Context, claim *performer.Claim) (types.JobResult, error)
}

type JobManager struct {
	JobStore   store.JobStore
	PauseStore store.PauseStore
	MBroker    message_broaker.MessageBroker

	db               notifier.Execer
	claimer          Claimer
	runner           Runner
	mode             config.ExecutionMode
	writeJobsToQueue bool
	channel          string
	statePolicy      state.Policy
	logger           *slog.Logger
	now              func() time.Time
}

// NewJobManager builds a job manager. db carries the notify signals; claimer
// and runner are only used in inline mode and may be nil otherwise.
func NewJobManager(jobs store.JobStore, pauses store.PauseStore, db notifier.Execer, claimer Claimer, runner Runner, broker message_broaker.MessageBroker, cfg *config.GofireConfig) *JobManager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobManager{
		JobStore:         jobs,
		PauseStore:       pauses,
		MBroker:          broker,
		db:               db,
		claimer:          claimer,
		runner:           runner,
		mode:             cfg.ExecutionMode,
		writeJobsToQueue: cfg.UseQueueWriter,
		channel:          cfg.NotifyChannel,
		statePolicy:      state.Policy{RetriedAfterExecutions: cfg.RetriedAfterExecutions},
		logger:           logger.With("component", "client"),
		now:              time.Now,
	}
}

// FindByID returns a job with its derived state.
func (jm *JobManager) FindByID(ctx context.Context, id int64) (*types.JobInfo, error) {
	job, err := jm.JobStore.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &types.JobInfo{Job: *job, State: state.Of(job, jm.now(), jm.statePolicy)}, nil
}

// List pages through jobs matching filter, newest first.
func (jm *JobManager) List(ctx context.Context, filter store.JobFilter, page, pageSize int) (*types.PaginationResult[types.JobInfo], error) {
	jobs, err := jm.JobStore.List(ctx, filter, page, pageSize)
	if err != nil {
		return nil, err
	}
	now := jm.now()
	return types.MapPage(jobs, func(job *types.Job) types.JobInfo {
		return types.JobInfo{Job: *job, State: state.Of(job, now, jm.statePolicy)}
	}), nil
}

// CountByState returns how many jobs are in each state.
func (jm *JobManager) CountByState(ctx context.Context) (map[types.JobState]int, error) {
	return jm.JobStore.CountByState(ctx, jm.now())
}

// Discard finishes a waiting job without running it.
func (jm *JobManager) Discard(ctx context.Context, id int64) error {
	return jm.operate(ctx, id, state.ActionDiscard, func(ctx context.Context, jobs store.JobStore, job *types.Job) (bool, error) {
		return false, jobs.Finish(ctx, id, jm.now(), custom_errors.DiscardedByOperator)
	})
}

// Retry makes a discarded job runnable again.
func (jm *JobManager) Retry(ctx context.Context, id int64) error {
	return jm.operate(ctx, id, state.ActionRetry, func(ctx context.Context, jobs store.JobStore, job *types.Job) (bool, error) {
		return true, jobs.Requeue(ctx, id, jm.now())
	})
}

// Reschedule moves a waiting job to runAt. A zero runAt means now.
func (jm *JobManager) Reschedule(ctx context.Context, id int64, runAt time.Time) error {
	now := jm.now()
	if runAt.IsZero() {
		runAt = now
	}
	return jm.operate(ctx, id, state.ActionReschedule, func(ctx context.Context, jobs store.JobStore, job *types.Job) (bool, error) {
		return !runAt.After(now), jobs.SetScheduledAt(ctx, id, runAt)
	})
}

// Destroy deletes a job that reached a terminal state.
func (jm *JobManager) Destroy(ctx context.Context, id int64) error {
	return jm.operate(ctx, id, state.ActionDestroy, func(ctx context.Context, jobs store.JobStore, job *types.Job) (bool, error) {
		return false, jobs.Delete(ctx, id)
	})
}

type operation func(ctx context.Context, jobs store.JobStore, job *types.Job) (wake bool, err error)

// operate applies op in a transaction that holds the job's lock, so a
// worker cannot claim the job between the state check and the write.
func (jm *JobManager) operate(ctx context.Context, id int64, action state.Action, op operation) (err error) {
	tx, err := jm.JobStore.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				jm.logger.Warn("failed to roll back operator action", "job_id", id, "error", rbErr)
			}
		}
	}()

	locked, err := lock.NewPostgresTxLock(tx).TryLock(ctx, lock.JobKey(id))
	if err != nil {
		return err
	}
	if !locked {
		return &custom_errors.StateMismatchError{JobID: id, Action: string(action), State: types.StateRunning.String()}
	}

	jobs := jm.JobStore.WithTx(tx)
	job, err := jobs.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err = state.Check(action, job, jm.now(), jm.statePolicy); err != nil {
		return err
	}

	wake, err := op(ctx, jobs, job)
	if err != nil {
		return fmt.Errorf("failed to %s job %d: %w", action, id, err)
	}
	if wake {
		if err = notifier.Publish(ctx, tx, jm.channel, notifier.Signal{Kind: notifier.KindWork, Queue: job.QueueName}); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s of job %d: %w", action, id, err)
	}

	jm.logger.Info("operator action applied", "job_id", id, "action", action)
	return nil
}

// Pause stops every performer from claiming jobs of the given queue or job
// class. Running jobs are not interrupted.
func (jm *JobManager) Pause(ctx context.Context, kind types.PauseKind, value string) error {
	if err := kind.Validate(); err != nil {
		return err
	}
	if err := jm.PauseStore.Pause(ctx, kind, value); err != nil {
		return err
	}
	jm.signalPause(ctx, kind, value)
	return nil
}

// Unpause lifts a pause and wakes the schedulers.
func (jm *JobManager) Unpause(ctx context.Context, kind types.PauseKind, value string) error {
	if err := kind.Validate(); err != nil {
		return err
	}
	if err := jm.PauseStore.Unpause(ctx, kind, value); err != nil {
		return err
	}
	jm.signalPause(ctx, kind, value)
	return nil
}

// Paused lists the current pause entries.
func (jm *JobManager) Paused(ctx context.Context) ([]types.Pause, error) {
	return jm.PauseStore.List(ctx)
}

func (jm *JobManager) IsPaused(ctx context.Context, kind types.PauseKind, value string) (bool, error) {
	if err := kind.Validate(); err != nil {
		return false, err
	}
	return jm.PauseStore.IsPaused(ctx, kind, value)
}

func (jm *JobManager) signalPause(ctx context.Context, kind types.PauseKind, value string) {
	sig := notifier.Signal{Kind: notifier.KindPause}
	if kind == types.PauseQueue {
		sig.Queue = value
	}
	if err := notifier.Publish(ctx, jm.db, jm.channel, sig); err != nil {
		jm.logger.Warn("failed to signal pause change", "kind", kind, "value", value, "error", err)
	}
}
