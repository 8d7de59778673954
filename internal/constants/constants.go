package constants

// Names of the process-wide advisory locks. They are hashed with
// lock.NamedKey, which keeps them clear of job-id keys.
const (
	MigrationLock = "gofire:migrate"
	CleanupLock   = "gofire:cleanup"
	CronLock      = "gofire:cron"
)
