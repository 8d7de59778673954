package types

import "time"

// CronEntry is a recurring job definition. Definitions are static
// configuration; only the enabled flag is persisted.
type CronEntry struct {
	Key         string
	Schedule    string
	JobClass    string
	Args        []any
	Queue       string
	Priority    int
	Description string
}

// CronEntryStatus pairs a definition with its persisted state.
type CronEntryStatus struct {
	Entry   CronEntry
	Enabled bool
	NextAt  time.Time
}
