// Package lock provides non-blocking PostgreSQL advisory locks with explicit
// reentrancy bookkeeping.
//
// A session lock lives on one pinned connection and is held until it is
// unlocked or the connection ends. A transaction lock is released by the
// database when the transaction commits or rolls back.
package lock

import (
	"context"
	"hash/fnv"
)

// Key identifies an advisory lock. Job keys are the (positive) job id;
// named keys are hashed into the negative half so the two never collide.
type Key int64

// JobKey returns the lock key of a job row.
func JobKey(id int64) Key {
	return Key(id)
}

// NamedKey derives a stable key from a string.
func NamedKey(name string) Key {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return Key(int64(h.Sum64() | 1<<63))
}

// AdvisoryLock is a reentrant, non-blocking mutex keyed by Key. N successful
// TryLock calls on a key need N Unlock calls before the key is free again.
type AdvisoryLock interface {
	// TryLock never blocks; it returns false when another holder owns key.
	TryLock(ctx context.Context, key Key) (bool, error)
	// Unlock returns custom_errors.ErrNotOwned when the caller does not hold key.
	Unlock(ctx context.Context, key Key) error
	// Count returns how many times the caller currently holds key.
	Count(key Key) int
}

// Session is a session-scoped AdvisoryLock bound to one database connection.
type Session interface {
	AdvisoryLock
	// Lock blocks until key is acquired or ctx expires.
	Lock(ctx context.Context, key Key) error
	// Close releases every key still held and returns the connection.
	Close(ctx context.Context) error
}

// SessionFactory hands out lock sessions, each on its own connection.
type SessionFactory interface {
	NewSession(ctx context.Context) (Session, error)
}
