package custom_errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFatal(t *testing.T) {
	base := errors.New("bad input")

	assert.Nil(t, Fatal(nil))
	assert.False(t, IsFatal(base))
	assert.True(t, IsFatal(Fatal(base)))
	assert.True(t, IsFatal(fmt.Errorf("wrapped: %w", Fatal(base))))
	assert.ErrorIs(t, Fatal(base), base)
}

func TestFormatExecutionError(t *testing.T) {
	assert.Equal(t, "", FormatExecutionError(nil))
	assert.Equal(t, "RetryableExecutionError: boom", FormatExecutionError(errors.New("boom")))
	assert.Equal(t, "FatalExecutionError: boom", FormatExecutionError(Fatal(errors.New("boom"))))
}

func TestStateMismatchError(t *testing.T) {
	err := error(&StateMismatchError{JobID: 7, Action: "discard", State: "running"})

	assert.ErrorIs(t, err, ErrStateMismatch)
	assert.NotErrorIs(t, err, ErrNotOwned)
	assert.Equal(t, `cannot discard job 7 in state "running"`, err.Error())

	var sm *StateMismatchError
	assert.True(t, errors.As(fmt.Errorf("op: %w", err), &sm))
	assert.Equal(t, int64(7), sm.JobID)
}

func TestValidationError(t *testing.T) {
	v := &ValidationError{}
	assert.False(t, v.HasError())
	assert.Equal(t, "", v.Error())

	assert.NoError(t, v.Err())

	v.Add(errors.New("first"))
	v.Add(nil)
	v.Add(ErrJobNotFound)
	assert.True(t, v.HasError())
	assert.Equal(t, "first\njob not found", v.Error())

	err := v.Err()
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, ErrJobNotFound)
}
