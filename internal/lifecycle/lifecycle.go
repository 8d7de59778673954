// Package lifecycle decides what happens to a job after an attempt.
package lifecycle

import (
	"time"

	"github.com/RezaEskandarii/gofire/custom_errors"
	"github.com/RezaEskandarii/gofire/types"
)

// BackoffFunc returns the delay before the next attempt, given how many
// attempts have been made so far.
type BackoffFunc func(executions int) time.Duration

// DefaultBackoff waits executions^4 + 2 seconds.
func DefaultBackoff(executions int) time.Duration {
	n := time.Duration(executions)
	return (n*n*n*n + 2) * time.Second
}

// Policy bounds retries.
type Policy struct {
	MaxAttempts int
	Backoff     BackoffFunc
}

// DefaultPolicy returns a policy with maxAttempts and DefaultBackoff.
func DefaultPolicy(maxAttempts int) Policy {
	return Policy{MaxAttempts: maxAttempts, Backoff: DefaultBackoff}
}

// Decision is the outcome of one attempt as it will be written to the row.
type Decision struct {
	State types.JobState
	Delay time.Duration // only meaningful when State is StateRetried
	Error string        // stored error text, empty on success
}

// Decide maps the result of an attempt to the next state. executions is
// the count after this attempt was recorded.
func Decide(err error, executions int, policy Policy) Decision {
	if err == nil {
		return Decision{State: types.StateFinished}
	}

	text := custom_errors.FormatExecutionError(err)
	if custom_errors.IsFatal(err) || (policy.MaxAttempts > 0 && executions >= policy.MaxAttempts) {
		return Decision{State: types.StateDiscarded, Error: text}
	}

	backoff := policy.Backoff
	if backoff == nil {
		backoff = DefaultBackoff
	}
	return Decision{State: types.StateRetried, Delay: backoff(executions), Error: text}
}
