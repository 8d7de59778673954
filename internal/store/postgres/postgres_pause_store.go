package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/RezaEskandarii/gofire/types"
)

type PostgresPauseStore struct {
	db *sql.DB
}

func NewPostgresPauseStore(db *sql.DB) *PostgresPauseStore {
	return &PostgresPauseStore{db: db}
}

// Pause is idempotent.
func (r *PostgresPauseStore) Pause(ctx context.Context, kind types.PauseKind, value string) error {
	if err := kind.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO gofire_pauses (kind, value, paused_at)
		VALUES ($1, $2, now())
		ON CONFLICT (kind, value) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, string(kind), value); err != nil {
		return fmt.Errorf("failed to pause %s %q: %w", kind, value, err)
	}
	return nil
}

func (r *PostgresPauseStore) Unpause(ctx context.Context, kind types.PauseKind, value string) error {
	if err := kind.Validate(); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM gofire_pauses WHERE kind = $1 AND value = $2`, string(kind), value); err != nil {
		return fmt.Errorf("failed to unpause %s %q: %w", kind, value, err)
	}
	return nil
}

func (r *PostgresPauseStore) IsPaused(ctx context.Context, kind types.PauseKind, value string) (bool, error) {
	var paused bool
	query := `SELECT EXISTS (SELECT 1 FROM gofire_pauses WHERE kind = $1 AND value = $2)`
	if err := r.db.QueryRowContext(ctx, query, string(kind), value).Scan(&paused); err != nil {
		return false, fmt.Errorf("failed to check pause of %s %q: %w", kind, value, err)
	}
	return paused, nil
}

func (r *PostgresPauseStore) List(ctx context.Context) ([]types.Pause, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT kind, value, paused_at FROM gofire_pauses ORDER BY paused_at, kind, value`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pauses: %w", err)
	}
	defer rows.Close()

	var pauses []types.Pause
	for rows.Next() {
		var p types.Pause
		var kind string
		if err := rows.Scan(&kind, &p.Value, &p.PausedAt); err != nil {
			return nil, err
		}
		p.Kind = types.PauseKind(kind)
		pauses = append(pauses, p)
	}
	return pauses, rows.Err()
}
