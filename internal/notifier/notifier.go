// Package notifier wakes schedulers through Postgres LISTEN/NOTIFY and keeps
// this process registered in the process table.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RezaEskandarii/gofire/custom_errors"
	"github.com/RezaEskandarii/gofire/internal/store"
	"github.com/RezaEskandarii/gofire/types"
	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Waker is anything that wants to hear about new work, typically a scheduler.
type Waker interface {
	Wake(queue string)
}

// Listener is the subset of *pq.Listener the notifier uses.
type Listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// ListenerFactory builds a listener that reports connection events to
// onEvent.
type ListenerFactory func(onEvent func(ev pq.ListenerEventType, err error)) Listener

// PostgresListener returns a factory for pq listeners on dsn.
func PostgresListener(dsn string, minReconnect, maxReconnect time.Duration) ListenerFactory {
	return func(onEvent func(pq.ListenerEventType, error)) Listener {
		return pq.NewListener(dsn, minReconnect, maxReconnect, onEvent)
	}
}

type Options struct {
	Channel             string
	HeartbeatInterval   time.Duration
	StaleAfterIntervals int
	Process             types.ProcessState

	// ListenBackOff paces retries of the initial LISTEN.
	ListenBackOff func() backoff.BackOff

	Logger *slog.Logger
}

type Notifier struct {
	newListener ListenerFactory
	processes   store.ProcessStore
	opts        Options
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	wakers   []Waker
	listener Listener
	id       string
	cancel   context.CancelFunc
	done     chan struct{}

	connected atomic.Bool
}

func New(newListener ListenerFactory, processes store.ProcessStore, opts Options) *Notifier {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = time.Minute
	}
	if opts.StaleAfterIntervals < 1 {
		opts.StaleAfterIntervals = 4
	}
	if opts.ListenBackOff == nil {
		opts.ListenBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = time.Minute
			return b
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Notifier{
		newListener: newListener,
		processes:   processes,
		opts:        opts,
		logger:      opts.Logger.With("component", "notifier"),
		now:         time.Now,
	}
}

// Register adds a waker. Every signal reaches every waker.
func (n *Notifier) Register(w Waker) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.wakers = append(n.wakers, w)
}

// Connected reports whether the listener connection is currently up.
func (n *Notifier) Connected() bool {
	return n.connected.Load()
}

// ProcessID is the id of this process in the process table, empty before
// Start.
func (n *Notifier) ProcessID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.id
}

// Start registers the process, prunes stale process rows and begins
// listening. It fails when LISTEN cannot be established within the listen
// backoff.
func (n *Notifier) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.cancel != nil {
		n.mu.Unlock()
		return fmt.Errorf("notifier already started: %w", custom_errors.ErrInvalidState)
	}
	n.id = uuid.NewString()
	n.mu.Unlock()

	if err := n.processes.Register(ctx, n.id, n.processState()); err != nil {
		return fmt.Errorf("failed to register process: %w", err)
	}
	staleBefore := n.now().Add(-time.Duration(n.opts.StaleAfterIntervals) * n.opts.HeartbeatInterval)
	if removed, err := n.processes.DeleteStale(ctx, staleBefore); err != nil {
		n.logger.Warn("failed to prune stale processes", "error", err)
	} else if removed > 0 {
		n.logger.Info("pruned stale processes", "count", removed)
	}

	listener := n.newListener(n.onEvent)
	if err := n.listen(ctx, listener); err != nil {
		_ = listener.Close()
		n.deregister(ctx)
		return err
	}
	n.setConnected(true)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	n.mu.Lock()
	n.listener, n.cancel, n.done = listener, cancel, done
	n.mu.Unlock()

	go n.run(runCtx, listener, done)
	n.logger.Info("notifier started", "process_id", n.id, "channel", n.opts.Channel)
	return nil
}

func (n *Notifier) listen(ctx context.Context, listener Listener) error {
	b := n.opts.ListenBackOff()
	b.Reset()
	for {
		err := listener.Listen(n.opts.Channel)
		if err == nil || errors.Is(err, pq.ErrChannelAlreadyOpen) {
			return nil
		}
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return fmt.Errorf("failed to listen on %q: %w", n.opts.Channel, err)
		}
		n.logger.Warn("listen failed, retrying", "error", err, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Stop ends listening and removes this process from the process table.
func (n *Notifier) Stop(ctx context.Context) error {
	n.mu.Lock()
	cancel, done, listener := n.cancel, n.done, n.listener
	n.cancel, n.done, n.listener = nil, nil, nil
	n.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	<-done
	err := listener.Close()
	n.setConnected(false)
	n.deregister(ctx)
	return err
}

func (n *Notifier) deregister(ctx context.Context) {
	if err := n.processes.Deregister(context.WithoutCancel(ctx), n.ProcessID()); err != nil {
		n.logger.Warn("failed to deregister process", "error", err)
	}
}

func (n *Notifier) run(ctx context.Context, listener Listener, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(n.opts.HeartbeatInterval)
	defer ticker.Stop()
	notifications := listener.NotificationChannel()

	for {
		select {
		case <-ctx.Done():
			return
		case notification, ok := <-notifications:
			if !ok {
				return
			}
			// pq sends nil after a reconnect; signals may have been missed.
			if notification == nil {
				n.wakeAll("")
				continue
			}
			sig, err := decodeSignal(notification.Extra)
			if err != nil {
				n.logger.Warn("ignoring malformed signal", "error", err)
				continue
			}
			n.wakeAll(sig.Queue)
		case <-ticker.C:
			n.heartbeat(ctx, listener)
		}
	}
}

func (n *Notifier) heartbeat(ctx context.Context, listener Listener) {
	if err := n.processes.Heartbeat(ctx, n.ProcessID(), n.processState()); err != nil {
		n.logger.Warn("failed to refresh process heartbeat", "error", err)
	}
	if err := listener.Ping(); err != nil {
		n.logger.Warn("listener ping failed", "error", err)
		n.setConnected(false)
	}
}

func (n *Notifier) onEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		n.setConnected(true)
	case pq.ListenerEventReconnected:
		n.logger.Info("listener reconnected")
		n.setConnected(true)
	case pq.ListenerEventDisconnected:
		n.logger.Warn("listener disconnected", "error", err)
		n.setConnected(false)
	case pq.ListenerEventConnectionAttemptFailed:
		n.logger.Warn("listener connection attempt failed", "error", err)
		n.setConnected(false)
	}
}

func (n *Notifier) setConnected(up bool) {
	n.connected.Store(up)
}

func (n *Notifier) wakeAll(queue string) {
	n.mu.Lock()
	wakers := append([]Waker(nil), n.wakers...)
	n.mu.Unlock()
	for _, w := range wakers {
		w.Wake(queue)
	}
}

func (n *Notifier) processState() json.RawMessage {
	state, err := json.Marshal(n.opts.Process)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return state
}
