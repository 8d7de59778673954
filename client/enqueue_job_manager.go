package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/RezaEskandarii/gofire/internal/inline"
	"github.com/RezaEskandarii/gofire/internal/message_broaker"
	"github.com/RezaEskandarii/gofire/internal/notifier"
	"github.com/RezaEskandarii/gofire/types"
	"github.com/RezaEskandarii/gofire/types/config"
)

// Enqueue persists a job and returns its id.
//
// With the queue writer enabled the job is published to the broker instead
// and 0 is returned, since the id is only known once the sync worker has
// inserted it. In inline mode a due job runs before Enqueue returns, or when
// the surrounding Capture's runner is run; a job scheduled for later is only
// persisted.
func (jm *JobManager) Enqueue(ctx context.Context, params types.EnqueueParams) (int64, error) {
	if params.JobClass == "" {
		return 0, errors.New("job class is required")
	}

	if jm.writeJobsToQueue && jm.mode != config.ExecutionInline {
		payload, err := message_broaker.EncodeJob(params)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal job: %w", err)
		}
		if err := jm.MBroker.Publish(ctx, payload); err != nil {
			return 0, fmt.Errorf("failed to publish job to broker: %w", err)
		}
		return 0, nil
	}

	id, err := jm.JobStore.Insert(ctx, params)
	if err != nil {
		return 0, err
	}

	if jm.mode == config.ExecutionInline {
		if params.ScheduledAt != nil && params.ScheduledAt.After(jm.now()) {
			return id, nil
		}
		if buf, ok := inline.FromContext(ctx); ok {
			buf.Add(id)
			return id, nil
		}
		return id, jm.ExecuteInline(ctx, id)
	}

	jm.signalWork(ctx, jm.db, params)
	return id, nil
}

// EnqueueTx inserts the job inside the caller's transaction. The job and
// its wake-up signal become visible when tx commits. Inline mode does not
// apply: the row is not visible to other connections until commit.
func (jm *JobManager) EnqueueTx(ctx context.Context, tx *sql.Tx, params types.EnqueueParams) (int64, error) {
	if params.JobClass == "" {
		return 0, errors.New("job class is required")
	}
	id, err := jm.JobStore.WithTx(tx).Insert(ctx, params)
	if err != nil {
		return 0, err
	}
	jm.signalWork(ctx, tx, params)
	return id, nil
}

// Capture runs block with an inline buffer in its context. Jobs enqueued
// in inline mode inside block are held until the returned runner is run.
func (jm *JobManager) Capture(ctx context.Context, block func(ctx context.Context) error) (inline.Runner, error) {
	return inline.Capture(ctx, jm.ExecuteInline, block)
}

// ExecuteInline claims and runs one job in the calling goroutine. The
// handler's error is returned; the outcome is recorded like any other run.
func (jm *JobManager) ExecuteInline(ctx context.Context, id int64) error {
	if jm.claimer == nil || jm.runner == nil {
		return errors.New("inline execution is not configured")
	}
	claim, err := jm.claimer.ClaimByID(ctx, id)
	if err != nil {
		return err
	}
	result, err := jm.runner.Execute(ctx, claim)
	if err != nil {
		return err
	}
	return result.Err
}

// signalWork wakes the schedulers of the job's queue. Jobs scheduled for
// later are picked up by the schedulers' own polling.
func (jm *JobManager) signalWork(ctx context.Context, db notifier.Execer, params types.EnqueueParams) {
	if params.ScheduledAt != nil && params.ScheduledAt.After(jm.now()) {
		return
	}
	queue := params.Queue
	if queue == "" {
		queue = types.DefaultQueue
	}
	if err := notifier.Publish(ctx, db, jm.channel, notifier.Signal{Kind: notifier.KindWork, Queue: queue}); err != nil {
		jm.logger.Warn("failed to signal new job", "queue", queue, "error", err)
	}
}
