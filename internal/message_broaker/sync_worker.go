package message_broaker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/RezaEskandarii/gofire/types"
	"github.com/cenkalti/backoff"
)

const (
	defaultBatchSize     = 1000
	defaultFlushInterval = 2 * time.Second
)

// BulkInserter is the part of store.JobStore the sync worker writes through.
type BulkInserter interface {
	BulkInsert(ctx context.Context, params []types.EnqueueParams) error
}

// EncodeJob is the wire format of a job published to the broker.
func EncodeJob(params types.EnqueueParams) ([]byte, error) {
	return json.Marshal(params)
}

// SyncWorker drains jobs published to the broker into the jobs table in
// batches and wakes the schedulers of the affected queues.
type SyncWorker struct {
	broker        MessageBroker
	store         BulkInserter
	notify        func(ctx context.Context, queue string)
	batchSize     int
	flushInterval time.Duration
	newBackOff    func() backoff.BackOff
	logger        *slog.Logger
}

func NewSyncWorker(broker MessageBroker, store BulkInserter, notify func(ctx context.Context, queue string), logger *slog.Logger) *SyncWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncWorker{
		broker:        broker,
		store:         store,
		notify:        notify,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = time.Minute
			return b
		},
		logger: logger.With("component", "queue_sync"),
	}
}

// Run consumes until ctx is done or the broker closes the stream, flushing
// whatever is pending before it returns.
func (w *SyncWorker) Run(ctx context.Context) error {
	msgCh, err := w.broker.Consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	var batch []types.EnqueueParams
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := w.insert(ctx, batch); err != nil {
			w.logger.Error("failed to insert job batch", "count", len(batch), "error", err)
		} else {
			w.logger.Debug("inserted job batch", "count", len(batch))
			w.wake(ctx, batch)
		}
		batch = nil
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.WithoutCancel(ctx))
			return nil

		case msg, ok := <-msgCh:
			if !ok {
				flush(context.WithoutCancel(ctx))
				return nil
			}

			var params types.EnqueueParams
			if err := json.Unmarshal(msg, &params); err != nil {
				w.logger.Warn("dropping undecodable job message", "error", err)
				continue
			}

			batch = append(batch, params)
			if len(batch) >= w.batchSize {
				flush(ctx)
			}

		case <-ticker.C:
			flush(ctx)
		}
	}
}

func (w *SyncWorker) insert(ctx context.Context, batch []types.EnqueueParams) error {
	b := w.newBackOff()
	b.Reset()
	for {
		err := w.store.BulkInsert(ctx, batch)
		if err == nil {
			return nil
		}
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return err
		}
		w.logger.Warn("job batch insert failed, retrying", "error", err, "delay", delay)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
	}
}

func (w *SyncWorker) wake(ctx context.Context, batch []types.EnqueueParams) {
	if w.notify == nil {
		return
	}
	seen := make(map[string]struct{})
	for _, p := range batch {
		queue := p.Queue
		if queue == "" {
			queue = types.DefaultQueue
		}
		if _, ok := seen[queue]; ok {
			continue
		}
		seen[queue] = struct{}{}
		w.notify(ctx, queue)
	}
}
