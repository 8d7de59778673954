package lock

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RezaEskandarii/gofire/custom_errors"
)

const closeTimeout = 5 * time.Second

type PostgresSessionLock struct {
	conn *sql.Conn
	mu   sync.Mutex
	held map[Key]int
	// dirty is set when an unlock failed; the server may still hold keys
	// that held no longer lists.
	dirty bool
}

func NewPostgresSessionLock(conn *sql.Conn) *PostgresSessionLock {
	return &PostgresSessionLock{
		conn: conn,
		held: make(map[Key]int),
	}
}

func (l *PostgresSessionLock) TryLock(ctx context.Context, key Key) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[key] > 0 {
		l.held[key]++
		return true, nil
	}

	var acquired bool
	if err := l.conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", int64(key)).Scan(&acquired); err != nil {
		return false, fmt.Errorf("failed to try lock %d: %w", key, err)
	}
	if acquired {
		l.held[key] = 1
	}
	return acquired, nil
}

func (l *PostgresSessionLock) Lock(ctx context.Context, key Key) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[key] > 0 {
		l.held[key]++
		return nil
	}

	if _, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", int64(key)); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.held[key] = 1
	return nil
}

func (l *PostgresSessionLock) Unlock(ctx context.Context, key Key) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch n := l.held[key]; {
	case n == 0:
		return fmt.Errorf("unlock %d: %w", key, custom_errors.ErrNotOwned)
	case n > 1:
		l.held[key] = n - 1
		return nil
	}

	delete(l.held, key)
	var released bool
	if err := l.conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", int64(key)).Scan(&released); err != nil {
		l.dirty = true
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if !released {
		// The server no longer had it, e.g. after a connection reset.
		return fmt.Errorf("unlock %d: %w", key, custom_errors.ErrNotOwned)
	}
	return nil
}

func (l *PostgresSessionLock) Count(key Key) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}

// Close releases every held key and returns the connection to the pool.
// When the release fails the connection is discarded instead, since a
// pooled connection must never carry a session lock.
func (l *PostgresSessionLock) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var unlockErr error
	if len(l.held) > 0 || l.dirty {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()

		if _, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock_all()"); err != nil {
			unlockErr = fmt.Errorf("failed to release locks: %w", err)
			_ = l.conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		l.held = make(map[Key]int)
		l.dirty = false
	}
	if err := l.conn.Close(); err != nil && unlockErr == nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return unlockErr
}

type PostgresSessionFactory struct {
	db *sql.DB
}

func NewPostgresSessionFactory(db *sql.DB) *PostgresSessionFactory {
	return &PostgresSessionFactory{db: db}
}

func (f *PostgresSessionFactory) NewSession(ctx context.Context) (Session, error) {
	conn, err := f.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to pin lock connection: %w", err)
	}
	return NewPostgresSessionLock(conn), nil
}
