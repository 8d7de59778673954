package client

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/RezaEskandarii/gofire/internal/performer"
	"github.com/RezaEskandarii/gofire/internal/store"
	"github.com/RezaEskandarii/gofire/types"
)

// MockJobStore is a function-field implementation of store.JobStore. Unset
// functions return zero values.
type MockJobStore struct {
	InsertFunc         func(ctx context.Context, params types.EnqueueParams) (int64, error)
	FindByIDFunc       func(ctx context.Context, id int64) (*types.Job, error)
	ListFunc           func(ctx context.Context, filter store.JobFilter, page int, pageSize int) (*types.PaginationResult[types.Job], error)
	CountByStateFunc   func(ctx context.Context, now time.Time) (map[types.JobState]int, error)
	FinishFunc         func(ctx context.Context, id int64, at time.Time, errText string) error
	RequeueFunc        func(ctx context.Context, id int64, runAt time.Time) error
	SetScheduledAtFunc func(ctx context.Context, id int64, runAt time.Time) error
	DeleteFunc         func(ctx context.Context, id int64) error
	BeginTxFunc        func(ctx context.Context) (*sql.Tx, error)

	mu  sync.Mutex
	txs []*sql.Tx
}

func (m *MockJobStore) Insert(ctx context.Context, params types.EnqueueParams) (int64, error) {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, params)
	}
	return 0, nil
}

func (m *MockJobStore) BulkInsert(ctx context.Context, params []types.EnqueueParams) error {
	return nil
}

func (m *MockJobStore) InsertCron(ctx context.Context, params types.EnqueueParams) (bool, error) {
	return false, nil
}

func (m *MockJobStore) FindByID(ctx context.Context, id int64) (*types.Job, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockJobStore) List(ctx context.Context, filter store.JobFilter, page int, pageSize int) (*types.PaginationResult[types.Job], error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter, page, pageSize)
	}
	return &types.PaginationResult[types.Job]{}, nil
}

func (m *MockJobStore) CountByState(ctx context.Context, now time.Time) (map[types.JobState]int, error) {
	if m.CountByStateFunc != nil {
		return m.CountByStateFunc(ctx, now)
	}
	return nil, nil
}

func (m *MockJobStore) Candidates(ctx context.Context, q store.CandidateQuery) ([]types.Job, error) {
	return nil, nil
}

func (m *MockJobStore) IsUnfinished(ctx context.Context, id int64) (bool, error) {
	return false, nil
}

func (m *MockJobStore) IsEligible(ctx context.Context, id int64, now time.Time) (bool, error) {
	return false, nil
}

func (m *MockJobStore) CountRunning(ctx context.Context, concurrencyKey string) (int, error) {
	return 0, nil
}

func (m *MockJobStore) MarkPerformed(ctx context.Context, id int64, at time.Time) (int, error) {
	return 0, nil
}

func (m *MockJobStore) Finish(ctx context.Context, id int64, at time.Time, errText string) error {
	if m.FinishFunc != nil {
		return m.FinishFunc(ctx, id, at, errText)
	}
	return nil
}

func (m *MockJobStore) RetryInPlace(ctx context.Context, id int64, runAt time.Time, errText string) error {
	return nil
}

func (m *MockJobStore) RetryAsSuccessor(ctx context.Context, job *types.Job, at time.Time, runAt time.Time, errText string) (int64, error) {
	return 0, nil
}

func (m *MockJobStore) Requeue(ctx context.Context, id int64, runAt time.Time) error {
	if m.RequeueFunc != nil {
		return m.RequeueFunc(ctx, id, runAt)
	}
	return nil
}

func (m *MockJobStore) SetScheduledAt(ctx context.Context, id int64, runAt time.Time) error {
	if m.SetScheduledAtFunc != nil {
		return m.SetScheduledAtFunc(ctx, id, runAt)
	}
	return nil
}

func (m *MockJobStore) Delete(ctx context.Context, id int64) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

func (m *MockJobStore) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

// WithTx records tx and returns the mock itself.
func (m *MockJobStore) WithTx(tx *sql.Tx) store.JobStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs = append(m.txs, tx)
	return m
}

func (m *MockJobStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	if m.BeginTxFunc != nil {
		return m.BeginTxFunc(ctx)
	}
	return nil, sql.ErrConnDone
}

func (m *MockJobStore) Txs() []*sql.Tx {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*sql.Tx(nil), m.txs...)
}

type MockPauseStore struct {
	PauseFunc    func(ctx context.Context, kind types.PauseKind, value string) error
	UnpauseFunc  func(ctx context.Context, kind types.PauseKind, value string) error
	IsPausedFunc func(ctx context.Context, kind types.PauseKind, value string) (bool, error)
	ListFunc     func(ctx context.Context) ([]types.Pause, error)
}

func (m *MockPauseStore) Pause(ctx context.Context, kind types.PauseKind, value string) error {
	if m.PauseFunc != nil {
		return m.PauseFunc(ctx, kind, value)
	}
	return nil
}

func (m *MockPauseStore) Unpause(ctx context.Context, kind types.PauseKind, value string) error {
	if m.UnpauseFunc != nil {
		return m.UnpauseFunc(ctx, kind, value)
	}
	return nil
}

func (m *MockPauseStore) IsPaused(ctx context.Context, kind types.PauseKind, value string) (bool, error) {
	if m.IsPausedFunc != nil {
		return m.IsPausedFunc(ctx, kind, value)
	}
	return false, nil
}

func (m *MockPauseStore) List(ctx context.Context) ([]types.Pause, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return nil, nil
}

type MockMessageBroker struct {
	PublishFunc func(ctx context.Context, message []byte) error
}

func (m *MockMessageBroker) Publish(ctx context.Context, message []byte) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, message)
	}
	return nil
}

func (m *MockMessageBroker) Consume(ctx context.Context) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (m *MockMessageBroker) Close() error { return nil }

// recordingExecer captures the pg_notify payloads published through it.
type recordingExecer struct {
	mu       sync.Mutex
	channels []string
	payloads []string
	err      error
}

func (r *recordingExecer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.channels = append(r.channels, args[0].(string))
	r.payloads = append(r.payloads, args[1].(string))
	return driverResult{}, nil
}

func (r *recordingExecer) Payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.payloads...)
}

type driverResult struct{}

func (driverResult) LastInsertId() (int64, error) { return 0, nil }
func (driverResult) RowsAffected() (int64, error) { return 1, nil }

type MockClaimer struct {
	ClaimByIDFunc func(ctx context.Context, id int64) (*performer.Claim, error)
}

func (m *MockClaimer) ClaimByID(ctx context.Context, id int64) (*performer.Claim, error) {
	return m.ClaimByIDFunc(ctx, id)
}

type MockRunner struct {
	ExecuteFunc func(ctx context.Context, claim *performer.Claim) (types.JobResult, error)
}

func (m *MockRunner) Execute(ctx context.Context, claim *performer.Claim) (types.JobResult, error) {
	defer claim.Release(ctx)
	return m.ExecuteFunc(ctx, claim)
}

func decodeParams(payload []byte) (types.EnqueueParams, error) {
	var params types.EnqueueParams
	err := json.Unmarshal(payload, &params)
	return params, err
}
