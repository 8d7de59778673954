package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/RezaEskandarii/gofire/custom_errors"
	"github.com/RezaEskandarii/gofire/internal/state"
	"github.com/RezaEskandarii/gofire/internal/store"
	"github.com/RezaEskandarii/gofire/types"
	"github.com/lib/pq"
)

const bulkInsertChunk = 1000

type PostgresJobStore struct {
	db     store.DBTX
	pool   *sql.DB // nil when bound to a transaction
	policy state.Policy
}

func NewPostgresJobStore(db *sql.DB) *PostgresJobStore {
	return &PostgresJobStore{db: db, pool: db, policy: state.DefaultPolicy}
}

// WithStatePolicy sets the policy used when deriving states in SQL.
func (r *PostgresJobStore) WithStatePolicy(policy state.Policy) *PostgresJobStore {
	r.policy = policy
	return r
}

func (r *PostgresJobStore) WithTx(tx *sql.Tx) store.JobStore {
	return &PostgresJobStore{db: tx, policy: r.policy}
}

func (r *PostgresJobStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	if r.pool == nil {
		return nil, errors.New("job store is already bound to a transaction")
	}
	return r.pool.BeginTx(ctx, nil)
}

// inTx runs fn in a new transaction, or in the bound one.
func (r *PostgresJobStore) inTx(ctx context.Context, fn func(q store.DBTX) error) error {
	if r.pool == nil {
		return fn(r.db)
	}
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *PostgresJobStore) Insert(ctx context.Context, params types.EnqueueParams) (int64, error) {
	payload, err := params.Normalize()
	if err != nil {
		return 0, fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO gofire_jobs (queue_name, priority, job_class, payload, scheduled_at, concurrency_key, cron_key, cron_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	var jobID int64
	err = r.db.QueryRowContext(ctx, query,
		params.Queue, params.Priority, params.JobClass, string(payload), params.ScheduledAt,
		nullString(params.ConcurrencyKey), nullString(params.CronKey), params.CronAt,
	).Scan(&jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert job: %w", err)
	}
	return jobID, nil
}

func (r *PostgresJobStore) BulkInsert(ctx context.Context, params []types.EnqueueParams) error {
	if len(params) == 0 {
		return nil
	}

	return r.inTx(ctx, func(q store.DBTX) error {
		for start := 0; start < len(params); start += bulkInsertChunk {
			end := min(start+bulkInsertChunk, len(params))

			ib := psql.Insert("gofire_jobs").
				Columns("queue_name", "priority", "job_class", "payload", "scheduled_at", "concurrency_key", "cron_key", "cron_at")
			for i := start; i < end; i++ {
				p := params[i]
				payload, err := p.Normalize()
				if err != nil {
					return fmt.Errorf("failed to marshal payload of %s: %w", p.JobClass, err)
				}
				ib = ib.Values(p.Queue, p.Priority, p.JobClass, string(payload), p.ScheduledAt,
					nullString(p.ConcurrencyKey), nullString(p.CronKey), p.CronAt)
			}

			query, args, err := ib.ToSql()
			if err != nil {
				return fmt.Errorf("bulk insert: build query: %w", err)
			}
			if _, err := q.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("failed to bulk insert jobs: %w", err)
			}
		}
		return nil
	})
}

func (r *PostgresJobStore) InsertCron(ctx context.Context, params types.EnqueueParams) (bool, error) {
	if params.CronKey == "" || params.CronAt == nil {
		return false, errors.New("cron job needs a cron key and a fire time")
	}
	payload, err := params.Normalize()
	if err != nil {
		return false, fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO gofire_jobs (queue_name, priority, job_class, payload, scheduled_at, concurrency_key, cron_key, cron_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (cron_key, cron_at) DO NOTHING
		RETURNING id
	`

	var jobID int64
	err = r.db.QueryRowContext(ctx, query,
		params.Queue, params.Priority, params.JobClass, string(payload), params.ScheduledAt,
		nullString(params.ConcurrencyKey), params.CronKey, params.CronAt,
	).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert cron job: %w", err)
	}
	return true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner, withLocked bool) (types.Job, error) {
	var job types.Job
	var payload []byte
	dest := []any{
		&job.ID, &job.QueueName, &job.Priority, &job.JobClass, &payload, &job.ScheduledAt,
		&job.CreatedAt, &job.UpdatedAt, &job.PerformedAt, &job.FinishedAt, &job.Error,
		&job.ConcurrencyKey, &job.CronKey, &job.CronAt,
		&job.ExecutionsCount, &job.RetriedFromID, &job.RetriedToID,
	}
	if withLocked {
		dest = append(dest, &job.Locked)
	}
	if err := row.Scan(dest...); err != nil {
		return job, err
	}
	job.Payload = payload
	return job, nil
}

func (r *PostgresJobStore) FindByID(ctx context.Context, id int64) (*types.Job, error) {
	query := `SELECT ` + jobColumns + `, ` + lockedExpr + ` AS locked FROM gofire_jobs j WHERE j.id = $1`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id), true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, custom_errors.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find job %d: %w", id, err)
	}
	return &job, nil
}

func (r *PostgresJobStore) filterConditions(filter store.JobFilter, now time.Time) sq.And {
	conds := sq.And{}
	if filter.Queue != "" {
		conds = append(conds, sq.Eq{"j.queue_name": filter.Queue})
	}
	if filter.JobClass != "" {
		conds = append(conds, sq.Eq{"j.job_class": filter.JobClass})
	}
	if filter.CronKey != "" {
		conds = append(conds, sq.Eq{"j.cron_key": filter.CronKey})
	}
	if filter.State != "" {
		conds = append(conds, sq.Expr("("+stateExpr+") = ?", now, r.policy.RetriedAfterExecutions, now, string(filter.State)))
	}
	return conds
}

func (r *PostgresJobStore) List(ctx context.Context, filter store.JobFilter, page int, pageSize int) (*types.PaginationResult[types.Job], error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize
	conds := r.filterConditions(filter, time.Now())

	countQuery, countArgs, err := psql.Select("COUNT(*)").From("gofire_jobs j").Where(conds).ToSql()
	if err != nil {
		return nil, fmt.Errorf("list jobs: build count query: %w", err)
	}

	var totalItems int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&totalItems); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	selectQuery, args, err := psql.Select(jobColumns, lockedExpr+" AS locked").
		From("gofire_jobs j").
		Where(conds).
		OrderBy("j.id DESC").
		Limit(uint64(pageSize)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("list jobs: build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		job, err := scanJob(rows, true)
		if err != nil {
			return nil, fmt.Errorf("list jobs: scan: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return types.NewPaginationResult(jobs, totalItems, page, pageSize), nil
}

func (r *PostgresJobStore) CountByState(ctx context.Context, now time.Time) (map[types.JobState]int, error) {
	query := `SELECT ` + stateExpr + ` AS state, COUNT(*) FROM gofire_jobs j GROUP BY 1`
	query, err := sq.Dollar.ReplacePlaceholders(query)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, now, r.policy.RetriedAfterExecutions, now)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by state: %w", err)
	}
	defer rows.Close()

	result := make(map[types.JobState]int, len(types.AllStates))
	for rows.Next() {
		var s string
		var count int
		if err := rows.Scan(&s, &count); err != nil {
			return nil, err
		}
		result[types.JobState(s)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, s := range types.AllStates {
		if _, ok := result[s]; !ok {
			result[s] = 0
		}
	}
	return result, nil
}

func (r *PostgresJobStore) Candidates(ctx context.Context, q store.CandidateQuery) ([]types.Job, error) {
	sb := psql.Select(jobColumns).
		From("gofire_jobs j").
		Where("j.finished_at IS NULL").
		Where("COALESCE(j.scheduled_at, j.created_at) <= ?", q.Now).
		Where("NOT " + pausedExpr).
		OrderBy("j.priority DESC", "COALESCE(j.scheduled_at, j.created_at)", "j.created_at", "j.id").
		Limit(uint64(max(q.Limit, 1)))

	if len(q.Queues) > 0 {
		if q.Exclude {
			sb = sb.Where("NOT (j.queue_name = ANY(?))", pq.Array(q.Queues))
		} else {
			sb = sb.Where("j.queue_name = ANY(?)", pq.Array(q.Queues))
		}
	}

	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("candidates: build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candidates: %w", err)
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		job, err := scanJob(rows, false)
		if err != nil {
			return nil, fmt.Errorf("candidates: scan: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *PostgresJobStore) IsUnfinished(ctx context.Context, id int64) (bool, error) {
	var unfinished bool
	err := r.db.QueryRowContext(ctx, `SELECT finished_at IS NULL FROM gofire_jobs WHERE id = $1`, id).Scan(&unfinished)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check job %d: %w", id, err)
	}
	return unfinished, nil
}

// IsEligible reports whether the row, as it is now, would still pass the
// candidate query: unfinished, due at now and not paused.
func (r *PostgresJobStore) IsEligible(ctx context.Context, id int64, now time.Time) (bool, error) {
	query := `
		SELECT j.finished_at IS NULL
		   AND COALESCE(j.scheduled_at, j.created_at) <= $2
		   AND NOT ` + pausedExpr + `
		FROM gofire_jobs j WHERE j.id = $1`

	var eligible bool
	err := r.db.QueryRowContext(ctx, query, id, now).Scan(&eligible)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check job %d: %w", id, err)
	}
	return eligible, nil
}

func (r *PostgresJobStore) CountRunning(ctx context.Context, concurrencyKey string) (int, error) {
	query := `
		SELECT COUNT(*) FROM gofire_jobs j
		WHERE j.concurrency_key = $1
		  AND j.finished_at IS NULL
		  AND ` + lockedExpr

	var count int
	if err := r.db.QueryRowContext(ctx, query, concurrencyKey).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count running jobs for %q: %w", concurrencyKey, err)
	}
	return count, nil
}

func (r *PostgresJobStore) MarkPerformed(ctx context.Context, id int64, at time.Time) (int, error) {
	query := `
		UPDATE gofire_jobs
		SET performed_at = $2,
		    executions_count = executions_count + 1,
		    updated_at = now()
		WHERE id = $1
		RETURNING executions_count
	`

	var executions int
	err := r.db.QueryRowContext(ctx, query, id, at).Scan(&executions)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, custom_errors.ErrJobNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to mark job %d performed: %w", id, err)
	}
	return executions, nil
}

func (r *PostgresJobStore) Finish(ctx context.Context, id int64, at time.Time, errText string) error {
	query := `
		UPDATE gofire_jobs
		SET finished_at = $2,
		    error = $3,
		    updated_at = now()
		WHERE id = $1
	`
	return r.execOne(ctx, id, "finish", query, id, at, nullString(errText))
}

func (r *PostgresJobStore) RetryInPlace(ctx context.Context, id int64, runAt time.Time, errText string) error {
	query := `
		UPDATE gofire_jobs
		SET scheduled_at = $2,
		    error = $3,
		    updated_at = now()
		WHERE id = $1 AND finished_at IS NULL
	`
	return r.execOne(ctx, id, "retry", query, id, runAt, nullString(errText))
}

func (r *PostgresJobStore) RetryAsSuccessor(ctx context.Context, job *types.Job, at time.Time, runAt time.Time, errText string) (int64, error) {
	var successorID int64
	err := r.inTx(ctx, func(q store.DBTX) error {
		insert := `
			INSERT INTO gofire_jobs (queue_name, priority, job_class, payload, scheduled_at, concurrency_key, cron_key, executions_count, retried_from_id)
			SELECT queue_name, priority, job_class, payload, $2, concurrency_key, cron_key, executions_count, id
			FROM gofire_jobs WHERE id = $1
			RETURNING id
		`
		if err := q.QueryRowContext(ctx, insert, job.ID, runAt).Scan(&successorID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return custom_errors.ErrJobNotFound
			}
			return fmt.Errorf("failed to insert retry of job %d: %w", job.ID, err)
		}

		update := `
			UPDATE gofire_jobs
			SET finished_at = $2,
			    error = $3,
			    retried_to_id = $4,
			    updated_at = now()
			WHERE id = $1
		`
		if _, err := q.ExecContext(ctx, update, job.ID, at, nullString(errText), successorID); err != nil {
			return fmt.Errorf("failed to link retry of job %d: %w", job.ID, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return successorID, nil
}

func (r *PostgresJobStore) Requeue(ctx context.Context, id int64, runAt time.Time) error {
	query := `
		UPDATE gofire_jobs
		SET finished_at = NULL,
		    error = NULL,
		    scheduled_at = $2,
		    executions_count = 0,
		    updated_at = now()
		WHERE id = $1
	`
	return r.execOne(ctx, id, "requeue", query, id, runAt)
}

func (r *PostgresJobStore) SetScheduledAt(ctx context.Context, id int64, runAt time.Time) error {
	query := `
		UPDATE gofire_jobs
		SET scheduled_at = $2,
		    updated_at = now()
		WHERE id = $1 AND finished_at IS NULL
	`
	return r.execOne(ctx, id, "reschedule", query, id, runAt)
}

func (r *PostgresJobStore) Delete(ctx context.Context, id int64) error {
	return r.execOne(ctx, id, "delete", `DELETE FROM gofire_jobs WHERE id = $1`, id)
}

func (r *PostgresJobStore) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM gofire_jobs WHERE finished_at IS NOT NULL AND finished_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished jobs: %w", err)
	}
	return res.RowsAffected()
}

// execOne runs a statement that must touch exactly the row id.
func (r *PostgresJobStore) execOne(ctx context.Context, id int64, op string, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s job %d: %w", op, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return custom_errors.ErrJobNotFound
	}
	return nil
}
