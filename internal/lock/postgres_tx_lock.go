package lock

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/RezaEskandarii/gofire/custom_errors"
)

// PostgresTxLock takes transaction-scoped advisory locks. PostgreSQL cannot
// release them early, so Unlock only balances the local count; the server
// frees the key when the transaction ends.
type PostgresTxLock struct {
	tx   *sql.Tx
	mu   sync.Mutex
	held map[Key]int
}

func NewPostgresTxLock(tx *sql.Tx) *PostgresTxLock {
	return &PostgresTxLock{
		tx:   tx,
		held: make(map[Key]int),
	}
}

func (l *PostgresTxLock) TryLock(ctx context.Context, key Key) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[key] > 0 {
		l.held[key]++
		return true, nil
	}

	var acquired bool
	if err := l.tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1)", int64(key)).Scan(&acquired); err != nil {
		return false, fmt.Errorf("failed to try transaction lock %d: %w", key, err)
	}
	if acquired {
		l.held[key] = 1
	}
	return acquired, nil
}

func (l *PostgresTxLock) Unlock(_ context.Context, key Key) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.held[key]
	if n == 0 {
		return fmt.Errorf("unlock %d: %w", key, custom_errors.ErrNotOwned)
	}
	if n == 1 {
		delete(l.held, key)
	} else {
		l.held[key] = n - 1
	}
	return nil
}

func (l *PostgresTxLock) Count(key Key) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}
