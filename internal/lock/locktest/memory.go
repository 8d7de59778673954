// Package locktest provides an in-memory lock.SessionFactory whose sessions
// contend on one shared table, for tests.
package locktest

import (
	"context"
	"fmt"
	"sync"

	"github.com/RezaEskandarii/gofire/custom_errors"
	"github.com/RezaEskandarii/gofire/internal/lock"
)

type Table struct {
	mu       sync.Mutex
	owners   map[lock.Key]*Session
	nextID   int
	opened   int
	closed   int
	TryError error // returned by every TryLock when set
}

func NewTable() *Table {
	return &Table{owners: make(map[lock.Key]*Session)}
}

func (t *Table) NewSession(ctx context.Context) (lock.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	t.opened++
	return &Session{id: t.nextID, table: t, held: make(map[lock.Key]int)}, nil
}

// Held reports whether any session holds key.
func (t *Table) Held(key lock.Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.owners[key]
	return ok
}

// Grab makes a foreign session hold key, as another process would.
func (t *Table) Grab(key lock.Key) *Session {
	s, _ := t.NewSession(context.Background())
	ok, err := s.TryLock(context.Background(), key)
	if err != nil || !ok {
		panic(fmt.Sprintf("locktest: key %d already held", key))
	}
	return s.(*Session)
}

// Open returns how many sessions are not yet closed.
func (t *Table) Open() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opened - t.closed
}

type Session struct {
	id    int
	table *Table
	held  map[lock.Key]int
}

func (s *Session) TryLock(ctx context.Context, key lock.Key) (bool, error) {
	t := s.table
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.TryError != nil {
		return false, t.TryError
	}
	if owner, ok := t.owners[key]; ok && owner != s {
		return false, nil
	}
	t.owners[key] = s
	s.held[key]++
	return true, nil
}

func (s *Session) Lock(ctx context.Context, key lock.Key) error {
	ok, err := s.TryLock(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("locktest: key %d is held by another session", key)
	}
	return nil
}

func (s *Session) Unlock(ctx context.Context, key lock.Key) error {
	t := s.table
	t.mu.Lock()
	defer t.mu.Unlock()

	n := s.held[key]
	if n == 0 {
		return custom_errors.ErrNotOwned
	}
	if n == 1 {
		delete(s.held, key)
		delete(t.owners, key)
		return nil
	}
	s.held[key] = n - 1
	return nil
}

func (s *Session) Count(key lock.Key) int {
	s.table.mu.Lock()
	defer s.table.mu.Unlock()
	return s.held[key]
}

func (s *Session) Close(ctx context.Context) error {
	t := s.table
	t.mu.Lock()
	defer t.mu.Unlock()

	for key := range s.held {
		delete(t.owners, key)
	}
	s.held = make(map[lock.Key]int)
	t.closed++
	return nil
}
