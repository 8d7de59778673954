// Package inline buffers jobs enqueued in inline mode so they can run after
// the enclosing block, in enqueue order.
package inline

import (
	"context"
	"fmt"
	"sync"
)

// ExecuteFunc runs one persisted job to completion.
type ExecuteFunc func(ctx context.Context, jobID int64) error

type bufferKey struct{}

// Buffer collects job ids enqueued while a capture scope is open.
type Buffer struct {
	mu  sync.Mutex
	ids []int64
}

func (b *Buffer) Add(jobID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ids = append(b.ids, jobID)
}

func (b *Buffer) IDs() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int64(nil), b.ids...)
}

// FromContext returns the open capture buffer, if any.
func FromContext(ctx context.Context) (*Buffer, bool) {
	b, ok := ctx.Value(bufferKey{}).(*Buffer)
	return b, ok
}

// Runner executes the jobs captured by one scope.
type Runner struct {
	ids     []int64
	execute ExecuteFunc
}

// Run executes the captured jobs one after another and stops at the first
// failure. Jobs after the failing one stay enqueued and unstarted.
func (r Runner) Run(ctx context.Context) error {
	for _, id := range r.ids {
		if err := r.execute(ctx, id); err != nil {
			return fmt.Errorf("inline job %d: %w", id, err)
		}
	}
	return nil
}

// Len is the number of captured jobs.
func (r Runner) Len() int { return len(r.ids) }

// Capture runs block with a buffer in its context. Nested captures share the
// outer buffer and return an empty Runner; the outermost Runner owns every
// job. When block fails nothing is returned to run.
func Capture(ctx context.Context, execute ExecuteFunc, block func(ctx context.Context) error) (Runner, error) {
	if _, nested := FromContext(ctx); nested {
		return Runner{execute: execute}, block(ctx)
	}

	buf := &Buffer{}
	if err := block(context.WithValue(ctx, bufferKey{}, buf)); err != nil {
		return Runner{execute: execute}, err
	}
	return Runner{ids: buf.IDs(), execute: execute}, nil
}
