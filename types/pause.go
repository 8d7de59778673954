package types

import (
	"fmt"
	"time"
)

// PauseKind selects what a pause entry applies to.
type PauseKind string

const (
	PauseQueue    PauseKind = "queue"
	PauseJobClass PauseKind = "job_class"
)

// Validate rejects unknown kinds.
func (k PauseKind) Validate() error {
	switch k {
	case PauseQueue, PauseJobClass:
		return nil
	}
	return fmt.Errorf("unknown pause kind %q", string(k))
}

// Pause is one entry of the pause registry.
type Pause struct {
	Kind     PauseKind
	Value    string
	PausedAt time.Time
}
