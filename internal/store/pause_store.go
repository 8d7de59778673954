package store

import (
	"context"

	"github.com/RezaEskandarii/gofire/types"
)

// PauseStore is the pause registry. A paused queue or job class is
// skipped by every performer until it is unpaused.
type PauseStore interface {
	Pause(ctx context.Context, kind types.PauseKind, value string) error
	Unpause(ctx context.Context, kind types.PauseKind, value string) error
	IsPaused(ctx context.Context, kind types.PauseKind, value string) (bool, error)
	List(ctx context.Context) ([]types.Pause, error)
}
