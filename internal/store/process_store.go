package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/RezaEskandarii/gofire/types"
)

// ProcessStore records live worker processes.
type ProcessStore interface {
	Register(ctx context.Context, id string, state json.RawMessage) error
	// Heartbeat refreshes updated_at and the state blob.
	Heartbeat(ctx context.Context, id string, state json.RawMessage) error
	Deregister(ctx context.Context, id string) error
	// DeleteStale removes rows whose heartbeat is older than before.
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
	List(ctx context.Context) ([]types.Process, error)
}

// CronStateStore persists the enabled flag of cron entries. Keys without a
// row are enabled.
type CronStateStore interface {
	Enabled(ctx context.Context, keys []string) (map[string]bool, error)
	SetEnabled(ctx context.Context, key string, enabled bool) error
}
