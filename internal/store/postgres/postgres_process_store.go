package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RezaEskandarii/gofire/types"
)

type PostgresProcessStore struct {
	db *sql.DB
}

func NewPostgresProcessStore(db *sql.DB) *PostgresProcessStore {
	return &PostgresProcessStore{db: db}
}

func (r *PostgresProcessStore) Register(ctx context.Context, id string, state json.RawMessage) error {
	query := `
		INSERT INTO gofire_processes (id, state, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query, id, string(state)); err != nil {
		return fmt.Errorf("failed to register process %s: %w", id, err)
	}
	return nil
}

// Heartbeat re-inserts the row when it was pruned as stale by another
// process while this one was unreachable.
func (r *PostgresProcessStore) Heartbeat(ctx context.Context, id string, state json.RawMessage) error {
	return r.Register(ctx, id, state)
}

func (r *PostgresProcessStore) Deregister(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM gofire_processes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to deregister process %s: %w", id, err)
	}
	return nil
}

func (r *PostgresProcessStore) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM gofire_processes WHERE updated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale processes: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresProcessStore) List(ctx context.Context) ([]types.Process, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, state, created_at, updated_at FROM gofire_processes ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	defer rows.Close()

	var processes []types.Process
	for rows.Next() {
		var p types.Process
		var state []byte
		if err := rows.Scan(&p.ID, &state, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.State = state
		processes = append(processes, p)
	}
	return processes, rows.Err()
}
