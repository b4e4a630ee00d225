// Package readahead implements the read-ahead task (C2): one speculative
// asynchronous multi-record read against the physical log container, whose
// result buffers are held until consumed or invalidated by an intervening
// write or truncate.
package readahead

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/liftbridge-io/logicallog/internal/container"
)

// ErrConsumedTwice is returned by GetResults when a Task's results have
// already been consumed by an earlier call.
var ErrConsumedTwice = errors.New("readahead: task results already consumed")

// Task is a single in-flight (or completed) read-ahead read covering the
// half-open stream range [Offset, Offset+Length).
type Task struct {
	Offset int64
	Length int64

	mu        sync.Mutex
	valid     bool
	done      chan struct{}
	records   []container.Record
	err       error
	consumed  bool
}

// Start issues the underlying multi-record read on a new goroutine and
// returns immediately with a Task whose GetResults will block until the
// read completes.
func Start(ctx context.Context, stream container.Stream, offset, length int64) *Task {
	t := &Task{
		Offset: offset,
		Length: length,
		valid:  true,
		done:   make(chan struct{}),
	}
	go func() {
		records, err := stream.MultiRecordRead(ctx, offset+1, uint32(length))
		t.mu.Lock()
		t.records = records
		t.err = err
		t.mu.Unlock()
		close(t.done)
	}()
	return t
}

// IsValid reports whether the task has not been invalidated by a write or
// truncate that overlaps its covered range, and has not already been
// invalidated directly.
func (t *Task) IsValid() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.valid
}

// IsInRange reports whether off falls within [Offset, Offset+Length].
func (t *Task) IsInRange(off int64) bool {
	return off >= t.Offset && off <= t.Offset+t.Length
}

// Invalidate marks the task invalid. Invalidated tasks continue to
// completion asynchronously but GetResults on an invalidated task still
// returns whatever the read produced -- it is the caller's responsibility
// to check IsValid before relying on the result, per spec.md §4.2.
func (t *Task) Invalidate() {
	t.mu.Lock()
	t.valid = false
	t.mu.Unlock()
}

// HandleWriteThrough invalidates the task if [writeOffset, writeOffset+writeLen)
// intersects the task's covered range.
func (t *Task) HandleWriteThrough(writeOffset, writeLen int64) {
	if writeOffset < t.Offset+t.Length && writeOffset+writeLen > t.Offset {
		t.Invalidate()
	}
}

// GetResults awaits the task's completion and returns its records. Callers
// must consume a Task at most once; a second call returns an error.
func (t *Task) GetResults(ctx context.Context) ([]container.Record, error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.consumed {
		return nil, ErrConsumedTwice
	}
	t.consumed = true
	return t.records, t.err
}
