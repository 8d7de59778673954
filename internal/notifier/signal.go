package notifier

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type Kind string

const (
	KindWork  Kind = "work"
	KindPause Kind = "pause"
)

// Signal is the payload carried on the notify channel.
type Signal struct {
	Kind  Kind   `json:"kind"`
	Queue string `json:"queue,omitempty"`
}

// Execer is satisfied by *sql.DB, *sql.Tx and *sql.Conn. Publishing inside a
// transaction delivers the signal at commit.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Publish sends sig to every process listening on channel.
func Publish(ctx context.Context, db Execer, channel string, sig Signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("failed to encode signal: %w", err)
	}
	if _, err := db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, channel, string(payload)); err != nil {
		return fmt.Errorf("failed to publish %s signal: %w", sig.Kind, err)
	}
	return nil
}

func decodeSignal(extra string) (Signal, error) {
	var sig Signal
	if err := json.Unmarshal([]byte(extra), &sig); err != nil {
		return Signal{}, fmt.Errorf("failed to decode signal %q: %w", extra, err)
	}
	return sig, nil
}
