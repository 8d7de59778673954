package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RezaEskandarii/gofire/custom_errors"
	"github.com/RezaEskandarii/gofire/internal/performer"
	"github.com/RezaEskandarii/gofire/types"
	"github.com/cenkalti/backoff"
	"golang.org/x/sync/semaphore"
)

// Claimer hands out one locked job at a time.
type Claimer interface {
	Next(ctx context.Context, spec performer.QuerySpec) (*performer.Claim, error)
}

// Runner executes a claimed job and releases its claim.
type Runner interface {
	Execute(ctx context.Context, claim *performer.Claim) (types.JobResult, error)
}

type State int32

const (
	StateCreated State = iota
	StateRunning
	StateShuttingDown
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateShutdown:
		return "shutdown"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type Options struct {
	Name            string
	Query           performer.QuerySpec
	Threads         int
	PollInterval    time.Duration
	MaxPollInterval time.Duration

	// NewBackOff builds the delay sequence used after consecutive empty
	// polls. Defaults to an exponential backoff between PollInterval and
	// MaxPollInterval.
	NewBackOff func() backoff.BackOff

	Metrics *Metrics
	Logger  *slog.Logger
}

// Scheduler polls for work on one pool of queues and runs up to Threads
// jobs at a time.
type Scheduler struct {
	name     string
	query    performer.QuerySpec
	threads  int
	poll     time.Duration
	maxPoll  time.Duration
	claimer  Claimer
	runner   Runner
	newBO    func() backoff.BackOff
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
	sem      *semaphore.Weighted
	slotMu   sync.Mutex
	inUse    atomic.Int64
	wg       sync.WaitGroup
	wake     chan struct{}
	stats    stats
	shutMu   sync.Mutex
	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	loopDone chan struct{}
}

func New(claimer Claimer, runner Runner, opts Options) *Scheduler {
	if opts.Threads < 1 {
		opts.Threads = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxPollInterval < opts.PollInterval {
		opts.MaxPollInterval = opts.PollInterval
	}
	if opts.Name == "" {
		opts.Name = opts.Query.String()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Scheduler{
		name:    opts.Name,
		query:   opts.Query,
		threads: opts.Threads,
		poll:    opts.PollInterval,
		maxPoll: opts.MaxPollInterval,
		claimer: claimer,
		runner:  runner,
		newBO:   opts.NewBackOff,
		metrics: opts.Metrics,
		logger:  opts.Logger.With("scheduler", opts.Name),
		now:     time.Now,
		sem:     semaphore.NewWeighted(int64(opts.Threads)),
		wake:    make(chan struct{}, 1),
	}
	if s.newBO == nil {
		s.newBO = s.defaultBackOff
	}
	s.metrics.setIdle(s.name, s.threads)
	return s
}

func (s *Scheduler) defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.poll
	b.MaxInterval = s.maxPoll
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (s *Scheduler) Name() string { return s.name }

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Idle returns the number of free execution slots.
func (s *Scheduler) Idle() int {
	return s.threads - int(s.inUse.Load())
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Succeeded:       s.stats.succeeded.Load(),
		Errored:         s.stats.errored.Load(),
		EmptyPolls:      s.stats.emptyPolls.Load(),
		Idle:            s.Idle(),
		LastExecutionAt: unixNanos(s.stats.lastExecutionAt.Load()),
		LastPollAt:      unixNanos(s.stats.lastPollAt.Load()),
	}
}

// Start begins polling. Jobs run with ctx, so cancelling it reaches running
// handlers; Shutdown only stops new dispatch.
func (s *Scheduler) Start(ctx context.Context) error {
	return s.start(ctx, StateCreated)
}

// Restart starts a scheduler that was shut down.
func (s *Scheduler) Restart(ctx context.Context) error {
	return s.start(ctx, StateShutdown)
}

func (s *Scheduler) start(ctx context.Context, from State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return fmt.Errorf("cannot start scheduler %s in state %s: %w", s.name, s.state, custom_errors.ErrInvalidState)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	s.state = StateRunning

	go s.loop(loopCtx, ctx, s.loopDone)
	s.logger.Info("scheduler started", "threads", s.threads, "queues", s.query.String())
	return nil
}

// Wake asks for an immediate poll when queue is served by this scheduler.
// An empty queue wakes unconditionally. Wakes coalesce and never block.
func (s *Scheduler) Wake(queue string) {
	if queue != "" && !s.query.Matches(queue) {
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Shutdown stops polling and waits up to timeout for running jobs. Jobs that
// outlive the timeout keep their locks until they finish.
func (s *Scheduler) Shutdown(timeout time.Duration) error {
	s.shutMu.Lock()
	defer s.shutMu.Unlock()

	s.mu.Lock()
	switch s.state {
	case StateShutdown:
		s.mu.Unlock()
		return nil
	case StateCreated:
		s.state = StateShutdown
		s.mu.Unlock()
		return nil
	}
	s.state = StateShuttingDown
	cancel, loopDone := s.cancel, s.loopDone
	s.mu.Unlock()

	cancel()
	<-loopDone

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("scheduler %s: %d jobs still running after %s", s.name, s.inUse.Load(), timeout)
	}

	s.mu.Lock()
	s.state = StateShutdown
	s.mu.Unlock()
	s.logger.Info("scheduler stopped", "error", err)
	return err
}

// Wait blocks until every dispatched job has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx, jobCtx context.Context, done chan struct{}) {
	defer close(done)

	bo := s.newBO()
	bo.Reset()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			bo.Reset()
		case <-timer.C:
		}

		next := s.poll
		if !s.tick(ctx, jobCtx) {
			if d := bo.NextBackOff(); d == backoff.Stop {
				next = s.maxPoll
			} else {
				next = min(max(d, s.poll), s.maxPoll)
			}
		} else {
			bo.Reset()
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(next)
	}
}

// tick claims and dispatches jobs while there is idle capacity. It reports
// whether anything was claimed.
func (s *Scheduler) tick(ctx, jobCtx context.Context) bool {
	claimed := false
	for ctx.Err() == nil && s.sem.TryAcquire(1) {
		s.adjustSlots(1)

		claim, err := s.claimer.Next(ctx, s.query)
		now := s.now()
		s.stats.lastPollAt.Store(now.UnixNano())
		if err != nil || claim == nil {
			s.releaseSlot()
			if err != nil && ctx.Err() == nil {
				s.logger.Error("failed to claim job", "error", err)
			}
			if err == nil && !claimed {
				s.stats.emptyPolls.Add(1)
			}
			s.metrics.observePoll(s.name, err == nil && !claimed, now)
			break
		}

		s.metrics.observePoll(s.name, false, now)
		claimed = true
		s.dispatch(jobCtx, claim)
	}
	return claimed
}

func (s *Scheduler) dispatch(ctx context.Context, claim *performer.Claim) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.Wake("")
		defer s.releaseSlot()

		ok := s.run(ctx, claim)
		at := s.now()
		if ok {
			s.stats.succeeded.Add(1)
		} else {
			s.stats.errored.Add(1)
		}
		s.stats.lastExecutionAt.Store(at.UnixNano())
		s.metrics.observeExecution(s.name, ok, at)
	}()
}

func (s *Scheduler) run(ctx context.Context, claim *performer.Claim) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job execution panicked", "job_id", claim.Job.ID, "panic", r, "stack", string(debug.Stack()))
			if err := claim.Release(ctx); err != nil {
				s.logger.Warn("failed to release job lock", "job_id", claim.Job.ID, "error", err)
			}
			ok = false
		}
	}()

	res, err := s.runner.Execute(ctx, claim)
	if err != nil {
		s.logger.Error("failed to record job outcome", "job_id", claim.Job.ID, "error", err)
		return false
	}
	return res.Succeeded()
}

func (s *Scheduler) releaseSlot() {
	s.adjustSlots(-1)
	s.sem.Release(1)
}

func (s *Scheduler) adjustSlots(delta int64) {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()
	s.metrics.setIdle(s.name, s.threads-int(s.inUse.Add(delta)))
}
