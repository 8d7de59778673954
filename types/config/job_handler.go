package config

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// HandlerFunc executes one job. Returning an error wrapped with
// custom_errors.Fatal discards the job; any other error schedules a retry.
type HandlerFunc func(ctx context.Context, args ...any) error

// ErrHandlerNotFound is returned by Execute for a job class with no handler.
var ErrHandlerNotFound = errors.New("handler not found")

// JobHandler maps job classes to the functions that perform them.
type JobHandler struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewJobHandler() *JobHandler {
	return &JobHandler{handlers: make(map[string]HandlerFunc)}
}

// Register binds name to handler. A name can be registered once.
func (jh *JobHandler) Register(name string, handler HandlerFunc) error {
	if name == "" {
		return errors.New("handler name is required")
	}
	if handler == nil {
		return fmt.Errorf("handler '%s' is nil", name)
	}

	jh.mu.Lock()
	defer jh.mu.Unlock()
	if _, exists := jh.handlers[name]; exists {
		return fmt.Errorf("handler '%s' already registered", name)
	}
	jh.handlers[name] = handler
	return nil
}

func (jh *JobHandler) Lookup(name string) (HandlerFunc, bool) {
	jh.mu.RLock()
	defer jh.mu.RUnlock()
	handler, ok := jh.handlers[name]
	return handler, ok
}

func (jh *JobHandler) Exists(name string) bool {
	_, ok := jh.Lookup(name)
	return ok
}

func (jh *JobHandler) Execute(ctx context.Context, name string, args ...any) error {
	handler, ok := jh.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: '%s'", ErrHandlerNotFound, name)
	}
	return handler(ctx, args...)
}

// List returns the registered job classes in sorted order.
func (jh *JobHandler) List() []string {
	jh.mu.RLock()
	defer jh.mu.RUnlock()
	return slices.Sorted(maps.Keys(jh.handlers))
}
