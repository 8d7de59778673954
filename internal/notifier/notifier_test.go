package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/RezaEskandarii/gofire/custom_errors"
	"github.com/RezaEskandarii/gofire/types"
	"github.com/cenkalti/backoff"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeListener struct {
	mu         sync.Mutex
	listenErrs []error
	listens    int
	pingErr    error
	pings      int
	closed     bool
	ch         chan *pq.Notification
}

func newFakeListener(listenErrs ...error) *fakeListener {
	return &fakeListener{listenErrs: listenErrs, ch: make(chan *pq.Notification, 8)}
}

func (f *fakeListener) Listen(channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listens++
	if len(f.listenErrs) > 0 {
		err := f.listenErrs[0]
		f.listenErrs = f.listenErrs[1:]
		return err
	}
	return nil
}

func (f *fakeListener) NotificationChannel() <-chan *pq.Notification { return f.ch }

func (f *fakeListener) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.pingErr
}

func (f *fakeListener) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeListener) Pings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

type fakeProcesses struct {
	mu           sync.Mutex
	registered   map[string]json.RawMessage
	heartbeats   int
	staleBefore  time.Time
	deregistered []string
}

func newFakeProcesses() *fakeProcesses {
	return &fakeProcesses{registered: map[string]json.RawMessage{}}
}

func (f *fakeProcesses) Register(ctx context.Context, id string, state json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered[id] = state
	return nil
}

func (f *fakeProcesses) Heartbeat(ctx context.Context, id string, state json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return nil
}

func (f *fakeProcesses) Deregister(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.registered, id)
	f.deregistered = append(f.deregistered, id)
	return nil
}

func (f *fakeProcesses) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staleBefore = before
	return 2, nil
}

func (f *fakeProcesses) List(ctx context.Context) ([]types.Process, error) { return nil, nil }

func (f *fakeProcesses) Heartbeats() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heartbeats
}

type fakeWaker struct {
	mu     sync.Mutex
	queues []string
}

func (w *fakeWaker) Wake(queue string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queues = append(w.queues, queue)
}

func (w *fakeWaker) Queues() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.queues...)
}

var fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func setup(listener *fakeListener, opts Options) (*Notifier, *fakeProcesses, *func(pq.ListenerEventType, error)) {
	processes := newFakeProcesses()
	var onEvent func(pq.ListenerEventType, error)
	factory := func(cb func(pq.ListenerEventType, error)) Listener {
		onEvent = cb
		return listener
	}
	if opts.Channel == "" {
		opts.Channel = "gofire"
	}
	if opts.ListenBackOff == nil {
		opts.ListenBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	}
	n := New(factory, processes, opts)
	n.now = func() time.Time { return fixedNow }
	return n, processes, &onEvent
}

func TestNotifier_StartRegistersAndListens(t *testing.T) {
	listener := newFakeListener()
	n, processes, _ := setup(listener, Options{
		HeartbeatInterval:   time.Minute,
		StaleAfterIntervals: 4,
		Process:             types.ProcessState{Hostname: "worker-1", PID: 42},
	})

	require.NoError(t, n.Start(context.Background()))
	id := n.ProcessID()
	require.NotEmpty(t, id)
	assert.True(t, n.Connected())

	processes.mu.Lock()
	assert.JSONEq(t, `{"hostname":"worker-1","pid":42,"instance":"","schedulers":null,"cron_enabled":false}`, string(processes.registered[id]))
	assert.Equal(t, fixedNow.Add(-4*time.Minute), processes.staleBefore)
	processes.mu.Unlock()

	require.NoError(t, n.Stop(context.Background()))
	assert.True(t, listener.closed)
	assert.False(t, n.Connected())
	assert.Equal(t, []string{id}, processes.deregistered)
}

func TestNotifier_StartTwice(t *testing.T) {
	n, _, _ := setup(newFakeListener(), Options{})
	require.NoError(t, n.Start(context.Background()))
	defer n.Stop(context.Background())

	assert.ErrorIs(t, n.Start(context.Background()), custom_errors.ErrInvalidState)
}

func TestNotifier_RetriesInitialListen(t *testing.T) {
	listener := newFakeListener(errors.New("dial tcp: refused"), errors.New("dial tcp: refused"))
	n, _, _ := setup(listener, Options{})

	require.NoError(t, n.Start(context.Background()))
	defer n.Stop(context.Background())
	assert.Equal(t, 3, listener.listens)
}

func TestNotifier_GivesUpListening(t *testing.T) {
	listener := newFakeListener(errors.New("a"), errors.New("b"), errors.New("c"))
	n, processes, _ := setup(listener, Options{
		ListenBackOff: func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1) },
	})

	err := n.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
	assert.True(t, listener.closed)
	assert.Len(t, processes.deregistered, 1)
	assert.False(t, n.Connected())
}

func TestNotifier_WakesEveryWakerWithQueue(t *testing.T) {
	listener := newFakeListener()
	n, _, _ := setup(listener, Options{})
	a, b := &fakeWaker{}, &fakeWaker{}
	n.Register(a)
	n.Register(b)

	require.NoError(t, n.Start(context.Background()))
	defer n.Stop(context.Background())

	listener.ch <- &pq.Notification{Channel: "gofire", Extra: `{"kind":"work","queue":"mice"}`}
	listener.ch <- &pq.Notification{Channel: "gofire", Extra: `not json`}
	listener.ch <- &pq.Notification{Channel: "gofire", Extra: `{"kind":"pause"}`}

	require.Eventually(t, func() bool { return len(b.Queues()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"mice", ""}, a.Queues())
	assert.Equal(t, []string{"mice", ""}, b.Queues())
}

func TestNotifier_ReconnectWakesAll(t *testing.T) {
	listener := newFakeListener()
	n, _, onEvent := setup(listener, Options{})
	w := &fakeWaker{}
	n.Register(w)

	require.NoError(t, n.Start(context.Background()))
	defer n.Stop(context.Background())

	(*onEvent)(pq.ListenerEventDisconnected, errors.New("connection reset"))
	assert.False(t, n.Connected())

	(*onEvent)(pq.ListenerEventReconnected, nil)
	listener.ch <- nil
	assert.True(t, n.Connected())
	require.Eventually(t, func() bool { return len(w.Queues()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{""}, w.Queues())
}

func TestNotifier_HeartbeatPingsListener(t *testing.T) {
	listener := newFakeListener()
	listener.pingErr = errors.New("connection lost")
	n, processes, _ := setup(listener, Options{HeartbeatInterval: 10 * time.Millisecond})

	require.NoError(t, n.Start(context.Background()))
	defer n.Stop(context.Background())

	require.Eventually(t, func() bool { return processes.Heartbeats() >= 2 && listener.Pings() >= 2 }, time.Second, 5*time.Millisecond)
	assert.False(t, n.Connected())
}

func TestNotifier_StopsWhenChannelCloses(t *testing.T) {
	listener := newFakeListener()
	n, _, _ := setup(listener, Options{})
	require.NoError(t, n.Start(context.Background()))

	close(listener.ch)
	require.NoError(t, n.Stop(context.Background()))
	require.NoError(t, n.Stop(context.Background()))
}

func TestPublish(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`SELECT pg_notify\(\$1, \$2\)`).
		WithArgs("gofire", `{"kind":"work","queue":"mice"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, Publish(context.Background(), db, "gofire", Signal{Kind: KindWork, Queue: "mice"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublish_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`SELECT pg_notify`).WillReturnError(errors.New("boom"))

	err = Publish(context.Background(), db, "gofire", Signal{Kind: KindPause})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish pause signal")
}
