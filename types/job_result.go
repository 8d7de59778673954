package types

import "time"

// JobResult is what an execution reports back to its scheduler.
type JobResult struct {
	JobID      int64
	Err        error
	Executions int
	State      JobState
	RanAt      time.Time
	NextRun    *time.Time
}

// Succeeded reports whether the execution finished without error.
func (r JobResult) Succeeded() bool {
	return r.Err == nil
}
