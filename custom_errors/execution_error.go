package custom_errors

import (
	"errors"
	"fmt"
)

// ErrNotOwned is returned when a lock is released, or relied on, by a
// caller that does not hold it.
var ErrNotOwned = errors.New("advisory lock not owned by caller")

// ErrStateMismatch matches every *StateMismatchError via errors.Is.
var ErrStateMismatch = errors.New("job state mismatch")

// ErrJobNotFound is returned by lookups and operator actions on unknown ids.
var ErrJobNotFound = errors.New("job not found")

// ErrInvalidState is returned by lifecycle calls made in the wrong order,
// such as restarting a scheduler that is still running.
var ErrInvalidState = errors.New("invalid lifecycle state")

// StateMismatchError reports an operator action that is not valid for the
// job's current state.
type StateMismatchError struct {
	JobID  int64
	Action string
	State  string
}

func (e *StateMismatchError) Error() string {
	return fmt.Sprintf("cannot %s job %d in state %q", e.Action, e.JobID, e.State)
}

func (e *StateMismatchError) Is(target error) bool {
	return target == ErrStateMismatch
}

// fatalError marks an execution error as non-retryable.
type fatalError struct {
	err error
}

func (f *fatalError) Error() string { return f.err.Error() }
func (f *fatalError) Unwrap() error { return f.err }

// Fatal wraps err so the retry lifecycle discards the job instead of
// scheduling another attempt. Fatal(nil) returns nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err, or anything it wraps, was marked with Fatal.
func IsFatal(err error) bool {
	var f *fatalError
	return errors.As(err, &f)
}

// Classification names used as the prefix of the persisted error text.
const (
	RetryableExecutionError = "RetryableExecutionError"
	FatalExecutionError     = "FatalExecutionError"
	DiscardedByOperator     = "DiscardedByOperator"
)

// Classify returns the classification prefix for an execution error.
func Classify(err error) string {
	if IsFatal(err) {
		return FatalExecutionError
	}
	return RetryableExecutionError
}

// FormatExecutionError renders err the way it is stored on the job row.
func FormatExecutionError(err error) string {
	if err == nil {
		return ""
	}
	return Classify(err) + ": " + err.Error()
}
