package types

// JobState is the single derived state of a job row.
type JobState string

const (
	StateScheduled JobState = "scheduled"
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateRetried   JobState = "retried"
	StateFinished  JobState = "finished"
	StateDiscarded JobState = "discarded"
)

func (s JobState) String() string {
	return string(s)
}

var AllStates = []JobState{
	StateScheduled,
	StateQueued,
	StateRunning,
	StateRetried,
	StateFinished,
	StateDiscarded,
}

// JobInfo is a job row together with its derived state.
type JobInfo struct {
	Job
	State JobState
}
