package custom_errors

import (
	"errors"
	"strings"
)

// ErrInvalidConfig matches every *ValidationError via errors.Is.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError collects every problem found while validating a
// configuration so they are reported together.
type ValidationError struct {
	Errors []error `json:"errors"`
}

func (v *ValidationError) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

func (v *ValidationError) HasError() bool {
	return len(v.Errors) > 0
}

// Err returns v when it holds at least one error and nil otherwise.
func (v *ValidationError) Err() error {
	if !v.HasError() {
		return nil
	}
	return v
}

func (v *ValidationError) Error() string {
	msgs := make([]string, len(v.Errors))
	for i, err := range v.Errors {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "\n")
}

func (v *ValidationError) Unwrap() []error { return v.Errors }

func (v *ValidationError) Is(target error) bool {
	return target == ErrInvalidConfig
}
