package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

type PostgresCronStateStore struct {
	db *sql.DB
}

func NewPostgresCronStateStore(db *sql.DB) *PostgresCronStateStore {
	return &PostgresCronStateStore{db: db}
}

// Enabled returns the flag of every key; keys without a stored row are
// enabled.
func (r *PostgresCronStateStore) Enabled(ctx context.Context, keys []string) (map[string]bool, error) {
	result := make(map[string]bool, len(keys))
	for _, k := range keys {
		result[k] = true
	}
	if len(keys) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx, `SELECT cron_key, enabled FROM gofire_cron_states WHERE cron_key = ANY($1)`, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("failed to load cron states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var enabled bool
		if err := rows.Scan(&key, &enabled); err != nil {
			return nil, err
		}
		result[key] = enabled
	}
	return result, rows.Err()
}

func (r *PostgresCronStateStore) SetEnabled(ctx context.Context, key string, enabled bool) error {
	query := `
		INSERT INTO gofire_cron_states (cron_key, enabled, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (cron_key) DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query, key, enabled); err != nil {
		return fmt.Errorf("failed to set cron %q enabled=%v: %w", key, enabled, err)
	}
	return nil
}
