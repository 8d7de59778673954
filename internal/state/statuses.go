// Package state derives the single lifecycle state of a job row and guards
// operator actions against it.
package state

import (
	"time"

	"github.com/RezaEskandarii/gofire/custom_errors"
	"github.com/RezaEskandarii/gofire/types"
)

// Policy holds the tunable parts of status derivation.
type Policy struct {
	// RetriedAfterExecutions is the executions count above which an
	// unfinished row waiting for a future scheduled_at counts as Retried
	// rather than Scheduled.
	RetriedAfterExecutions int
}

// DefaultPolicy treats any row that already ran once as a retry.
var DefaultPolicy = Policy{RetriedAfterExecutions: 0}

// Of maps a job row to exactly one state.
//
//	finished_at set:   retried_to set -> Retried, error set -> Discarded, else Finished
//	finished_at null:  locked -> Running, due in future -> Retried|Scheduled, else Queued
func Of(job *types.Job, now time.Time, policy Policy) types.JobState {
	if job.FinishedAt != nil {
		switch {
		case job.RetriedToID != nil:
			return types.StateRetried
		case job.Error != "":
			return types.StateDiscarded
		default:
			return types.StateFinished
		}
	}

	if job.Locked {
		return types.StateRunning
	}
	if job.DueAt().After(now) {
		if job.ExecutionsCount > policy.RetriedAfterExecutions {
			return types.StateRetried
		}
		return types.StateScheduled
	}
	return types.StateQueued
}

// Action is an operator transition.
type Action string

const (
	ActionDiscard    Action = "discard"
	ActionRetry      Action = "retry"
	ActionReschedule Action = "reschedule"
	ActionDestroy    Action = "destroy"
)

var allowed = map[Action]map[types.JobState]bool{
	ActionDiscard: {
		types.StateScheduled: true,
		types.StateQueued:    true,
		types.StateRetried:   true,
	},
	ActionRetry: {
		types.StateDiscarded: true,
	},
	ActionReschedule: {
		types.StateScheduled: true,
		types.StateQueued:    true,
		types.StateRetried:   true,
	},
	ActionDestroy: {
		types.StateFinished:  true,
		types.StateDiscarded: true,
		types.StateRetried:   true,
	},
}

// Check returns a *custom_errors.StateMismatchError when action is not
// valid for the job. Unfinished retried rows may be discarded or
// rescheduled but not destroyed; finished retried rows only destroyed.
func Check(action Action, job *types.Job, now time.Time, policy Policy) error {
	s := Of(job, now, policy)
	ok := allowed[action][s]
	if ok && s == types.StateRetried {
		finished := job.FinishedAt != nil
		switch action {
		case ActionDestroy:
			ok = finished
		case ActionDiscard, ActionReschedule:
			ok = !finished
		}
	}
	if !ok {
		return &custom_errors.StateMismatchError{JobID: job.ID, Action: string(action), State: s.String()}
	}
	return nil
}
