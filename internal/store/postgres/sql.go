package postgres

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/RezaEskandarii/gofire/internal/store"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const jobColumns = `j.id, j.queue_name, j.priority, j.job_class, j.payload, j.scheduled_at,
	j.created_at, j.updated_at, j.performed_at, j.finished_at, COALESCE(j.error, ''),
	COALESCE(j.concurrency_key, ''), COALESCE(j.cron_key, ''), j.cron_at,
	j.executions_count, j.retried_from_id, j.retried_to_id`

// lockedExpr is true while some other session holds the job's advisory
// lock. A bigint key is split by postgres into classid (high 32 bits) and
// objid (low 32 bits) with objsubid = 1.
const lockedExpr = `EXISTS (
	SELECT 1 FROM pg_locks l
	WHERE l.locktype = 'advisory'
	  AND l.objsubid = 1
	  AND l.granted
	  AND l.database = (SELECT oid FROM pg_database WHERE datname = current_database())
	  AND l.pid <> pg_backend_pid()
	  AND ((l.classid::bigint << 32) | l.objid::bigint) = j.id
)`

const pausedExpr = `EXISTS (
	SELECT 1 FROM gofire_pauses p
	WHERE (p.kind = 'queue' AND p.value = j.queue_name)
	   OR (p.kind = 'job_class' AND p.value = j.job_class)
)`

// stateExpr derives the job state in SQL. It takes three arguments: now,
// the retried threshold and now again.
var stateExpr = strings.Join([]string{
	"CASE",
	"WHEN j.finished_at IS NOT NULL AND j.retried_to_id IS NOT NULL THEN 'retried'",
	"WHEN j.finished_at IS NOT NULL AND NULLIF(j.error, '') IS NOT NULL THEN 'discarded'",
	"WHEN j.finished_at IS NOT NULL THEN 'finished'",
	"WHEN " + lockedExpr + " THEN 'running'",
	"WHEN COALESCE(j.scheduled_at, j.created_at) > ? AND j.executions_count > ? THEN 'retried'",
	"WHEN COALESCE(j.scheduled_at, j.created_at) > ? THEN 'scheduled'",
	"ELSE 'queued'",
	"END",
}, " ")

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var (
	_ store.JobStore       = (*PostgresJobStore)(nil)
	_ store.PauseStore     = (*PostgresPauseStore)(nil)
	_ store.ProcessStore   = (*PostgresProcessStore)(nil)
	_ store.CronStateStore = (*PostgresCronStateStore)(nil)
)
