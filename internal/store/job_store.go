package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/RezaEskandarii/gofire/types"
)

// DBTX is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CandidateQuery selects the jobs a performer may try to claim.
type CandidateQuery struct {
	Queues  []string // empty means every queue
	Exclude bool     // Queues is a deny list rather than an allow list
	Now     time.Time
	Limit   int
}

// JobFilter narrows List. Zero values match everything.
type JobFilter struct {
	Queue    string
	JobClass string
	State    types.JobState
	CronKey  string
}

// JobStore defines the interface for persisting jobs.
type JobStore interface {
	// Insert persists a new job and returns its id.
	Insert(ctx context.Context, params types.EnqueueParams) (int64, error)

	// BulkInsert persists many jobs in one transaction.
	BulkInsert(ctx context.Context, params []types.EnqueueParams) error

	// InsertCron inserts a cron-stamped job unless one already exists for
	// the same (cron_key, cron_at); it reports whether a row was created.
	InsertCron(ctx context.Context, params types.EnqueueParams) (bool, error)

	// FindByID returns the job with its running flag, or ErrJobNotFound.
	FindByID(ctx context.Context, id int64) (*types.Job, error)

	List(ctx context.Context, filter JobFilter, page int, pageSize int) (*types.PaginationResult[types.Job], error)

	// CountByState counts jobs by their derived state.
	CountByState(ctx context.Context, now time.Time) (map[types.JobState]int, error)

	// Candidates returns due, unfinished, unpaused jobs in claim order.
	Candidates(ctx context.Context, q CandidateQuery) ([]types.Job, error)

	IsUnfinished(ctx context.Context, id int64) (bool, error)

	// IsEligible re-evaluates the candidate conditions against the row's
	// current fields. Missing rows are not eligible.
	IsEligible(ctx context.Context, id int64, now time.Time) (bool, error)

	// CountRunning counts unfinished jobs with the given concurrency key
	// whose advisory lock is held by some session.
	CountRunning(ctx context.Context, concurrencyKey string) (int, error)

	// MarkPerformed stamps an attempt and returns the new executions count.
	MarkPerformed(ctx context.Context, id int64, at time.Time) (int, error)

	// Finish sets finished_at. A non-empty errText makes the row discarded.
	Finish(ctx context.Context, id int64, at time.Time, errText string) error

	// RetryInPlace records the error and moves scheduled_at to runAt.
	RetryInPlace(ctx context.Context, id int64, runAt time.Time, errText string) error

	// RetryAsSuccessor finishes job with retried_to_id pointing to a new
	// row scheduled at runAt, and returns the new row's id.
	RetryAsSuccessor(ctx context.Context, job *types.Job, at time.Time, runAt time.Time, errText string) (int64, error)

	// Requeue makes a finished row runnable again at runAt.
	Requeue(ctx context.Context, id int64, runAt time.Time) error

	// SetScheduledAt moves an unfinished row to runAt.
	SetScheduledAt(ctx context.Context, id int64, runAt time.Time) error

	Delete(ctx context.Context, id int64) error

	// DeleteFinishedBefore prunes rows finished before the cutoff.
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)

	// WithTx returns a store whose statements run inside tx.
	WithTx(tx *sql.Tx) JobStore

	BeginTx(ctx context.Context) (*sql.Tx, error)
}
