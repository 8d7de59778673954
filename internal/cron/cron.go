// Package cron turns recurring job definitions into jobs. Every process
// evaluates the definitions; the (cron_key, cron_at) unique constraint makes
// sure each fire time is enqueued once.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/RezaEskandarii/gofire/custom_errors"
	"github.com/RezaEskandarii/gofire/internal/constants"
	"github.com/RezaEskandarii/gofire/internal/lock"
	"github.com/RezaEskandarii/gofire/internal/store"
	"github.com/RezaEskandarii/gofire/types"
	robfig "github.com/robfig/cron/v3"
)

// ErrUnknownEntry is returned for cron keys that are not configured.
var ErrUnknownEntry = errors.New("unknown cron entry")

// JobInserter is the part of store.JobStore cron writes through.
type JobInserter interface {
	InsertCron(ctx context.Context, params types.EnqueueParams) (bool, error)
}

type Options struct {
	Interval    time.Duration // how often definitions are evaluated
	GracePeriod time.Duration // how far back a missed fire time is still enqueued

	// Notify is called with the queue of every inserted job.
	Notify func(ctx context.Context, queue string)

	Logger *slog.Logger
}

type entry struct {
	def      types.CronEntry
	schedule robfig.Schedule
}

type Scheduler struct {
	entries  []entry
	jobs     JobInserter
	states   store.CronStateStore
	sessions lock.SessionFactory
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
	runner   *robfig.Cron
}

func New(defs []types.CronEntry, jobs JobInserter, states store.CronStateStore, sessions lock.SessionFactory, opts Options) (*Scheduler, error) {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	entries := make([]entry, 0, len(defs))
	for _, def := range defs {
		schedule, err := ParseSchedule(def.Schedule)
		if err != nil {
			return nil, fmt.Errorf("cron entry %q: %w", def.Key, err)
		}
		entries = append(entries, entry{def: def, schedule: schedule})
	}

	return &Scheduler{
		entries:  entries,
		jobs:     jobs,
		states:   states,
		sessions: sessions,
		opts:     opts,
		logger:   opts.Logger.With("component", "cron"),
		now:      time.Now,
	}, nil
}

func (s *Scheduler) lookback() time.Duration {
	return max(s.opts.GracePeriod, 2*s.opts.Interval)
}

func (s *Scheduler) keys() []string {
	keys := make([]string, len(s.entries))
	for i, e := range s.entries {
		keys[i] = e.def.Key
	}
	return keys
}

// Evaluate enqueues the latest due fire time of every enabled entry and
// returns how many jobs were inserted. It is a no-op while another process
// is evaluating.
func (s *Scheduler) Evaluate(ctx context.Context, now time.Time) (int, error) {
	if len(s.entries) == 0 {
		return 0, nil
	}

	session, err := s.sessions.NewSession(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to open cron session: %w", err)
	}
	defer func() {
		if err := session.Close(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to close cron session", "error", err)
		}
	}()

	ok, err := session.TryLock(ctx, lock.NamedKey(constants.CronLock))
	if err != nil {
		return 0, fmt.Errorf("failed to take cron lock: %w", err)
	}
	if !ok {
		return 0, nil
	}

	enabled, err := s.states.Enabled(ctx, s.keys())
	if err != nil {
		return 0, fmt.Errorf("failed to load cron states: %w", err)
	}

	inserted := 0
	var errs []error
	for _, e := range s.entries {
		if !enabled[e.def.Key] {
			continue
		}
		at, due := LatestFireTime(e.schedule, now, s.lookback())
		if !due {
			continue
		}

		created, err := s.jobs.InsertCron(ctx, types.EnqueueParams{
			JobClass:    e.def.JobClass,
			Args:        e.def.Args,
			Queue:       e.def.Queue,
			Priority:    e.def.Priority,
			ScheduledAt: &at,
			CronKey:     e.def.Key,
			CronAt:      &at,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("cron entry %q: %w", e.def.Key, err))
			continue
		}
		if !created {
			continue
		}
		inserted++
		s.logger.Info("enqueued cron job", "cron_key", e.def.Key, "cron_at", at)
		if s.opts.Notify != nil {
			queue := e.def.Queue
			if queue == "" {
				queue = types.DefaultQueue
			}
			s.opts.Notify(ctx, queue)
		}
	}
	return inserted, errors.Join(errs...)
}

// Start evaluates immediately and then every Interval until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.runner != nil {
		return fmt.Errorf("cron scheduler already started: %w", custom_errors.ErrInvalidState)
	}

	logger := slogLogger{logger: s.logger}
	runner := robfig.New(
		robfig.WithLogger(logger),
		robfig.WithChain(robfig.Recover(logger), robfig.SkipIfStillRunning(logger)),
	)
	id, err := runner.AddFunc(fmt.Sprintf("@every %s", s.opts.Interval), func() { s.tick(ctx) })
	if err != nil {
		return fmt.Errorf("failed to schedule cron evaluation: %w", err)
	}
	s.runner = runner
	runner.Start()

	go runner.Entry(id).WrappedJob.Run()
	return nil
}

// Stop halts evaluation and waits for a running one to return.
func (s *Scheduler) Stop() {
	if s.runner == nil {
		return
	}
	<-s.runner.Stop().Done()
	s.runner = nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.Evaluate(ctx, s.now()); err != nil {
		s.logger.Error("cron evaluation failed", "error", err)
	}
}

// Entries lists the configured entries with their persisted enabled flag
// and next fire time.
func (s *Scheduler) Entries(ctx context.Context) ([]types.CronEntryStatus, error) {
	enabled, err := s.states.Enabled(ctx, s.keys())
	if err != nil {
		return nil, fmt.Errorf("failed to load cron states: %w", err)
	}
	now := s.now()
	result := make([]types.CronEntryStatus, len(s.entries))
	for i, e := range s.entries {
		result[i] = types.CronEntryStatus{
			Entry:   e.def,
			Enabled: enabled[e.def.Key],
			NextAt:  e.schedule.Next(now),
		}
	}
	return result, nil
}

// SetEnabled persists the enabled flag of key.
func (s *Scheduler) SetEnabled(ctx context.Context, key string, enabled bool) error {
	for _, e := range s.entries {
		if e.def.Key == key {
			return s.states.SetEnabled(ctx, key, enabled)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownEntry, key)
}
