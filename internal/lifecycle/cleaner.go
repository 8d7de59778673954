package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/RezaEskandarii/gofire/internal/constants"
	"github.com/RezaEskandarii/gofire/internal/lock"
)

// FinishedJobPruner deletes finished rows.
type FinishedJobPruner interface {
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
}

// Cleaner periodically deletes finished jobs older than a retention
// period. Only the process holding the cleanup lock prunes in a given
// round; the others skip it.
type Cleaner struct {
	store    FinishedJobPruner
	sessions lock.SessionFactory
	interval time.Duration
	preserve time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewCleaner(store FinishedJobPruner, sessions lock.SessionFactory, interval, preserve time.Duration, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{
		store:    store,
		sessions: sessions,
		interval: interval,
		preserve: preserve,
		logger:   logger,
		now:      time.Now,
	}
}

// Run prunes every interval until ctx is done. A zero interval disables
// pruning.
func (c *Cleaner) Run(ctx context.Context) {
	if c.interval <= 0 {
		return
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := c.RunOnce(ctx); err != nil {
				c.logger.Error("failed to prune finished jobs", "error", err)
			} else if n > 0 {
				c.logger.Info("pruned finished jobs", "count", n)
			}
		}
	}
}

// RunOnce prunes once and returns the number of deleted rows.
func (c *Cleaner) RunOnce(ctx context.Context) (int64, error) {
	session, err := c.sessions.NewSession(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to open cleanup session: %w", err)
	}
	defer func() {
		if err := session.Close(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("failed to close cleanup session", "error", err)
		}
	}()

	ok, err := session.TryLock(ctx, lock.NamedKey(constants.CleanupLock))
	if err != nil || !ok {
		return 0, err
	}

	return c.store.DeleteFinishedBefore(ctx, c.now().Add(-c.preserve))
}
