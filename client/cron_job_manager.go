package client

import (
	"context"

	"github.com/RezaEskandarii/gofire/types"
)

// CronSource is the part of the cron scheduler operators act on.
type CronSource interface {
	Entries(ctx context.Context) ([]types.CronEntryStatus, error)
	SetEnabled(ctx context.Context, key string, enabled bool) error
}

// CronJobManager enables and disables configured cron entries. The flag is
// persisted, so it holds across restarts and for every process.
type CronJobManager struct {
	source CronSource
}

func NewCronJobManager(source CronSource) *CronJobManager {
	return &CronJobManager{source: source}
}

func (cm *CronJobManager) List(ctx context.Context) ([]types.CronEntryStatus, error) {
	return cm.source.Entries(ctx)
}

// Activate resumes enqueueing for key.
func (cm *CronJobManager) Activate(ctx context.Context, key string) error {
	return cm.source.SetEnabled(ctx, key, true)
}

// DeActivate stops enqueueing for key. Jobs already enqueued still run.
func (cm *CronJobManager) DeActivate(ctx context.Context, key string) error {
	return cm.source.SetEnabled(ctx, key, false)
}
