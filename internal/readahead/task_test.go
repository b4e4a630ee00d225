package readahead

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/liftbridge-io/logicallog/internal/container"
)

// fakeStream is a minimal container.Stream stand-in: MultiRecordRead blocks
// on a gate channel so tests can observe a Task in its not-yet-done state,
// and every other method panics since read-ahead never calls them.
type fakeStream struct {
	container.Stream

	mu      sync.Mutex
	gate    chan struct{}
	records []container.Record
	err     error
	calls   []int64 // startingASN of each MultiRecordRead call, in order
}

func (f *fakeStream) MultiRecordRead(_ context.Context, startingASN int64, _ uint32) ([]container.Record, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	f.calls = append(f.calls, startingASN)
	f.mu.Unlock()
	return f.records, f.err
}

func TestStartCompletesAndReturnsRecords(t *testing.T) {
	want := []container.Record{{ASN: 1}, {ASN: 2}}
	fs := &fakeStream{records: want}

	task := Start(context.Background(), fs, 0, 128)
	got, err := task.GetResults(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, []int64{1}, fs.calls) // offset+1: ASN is 1-based
}

func TestGetResultsTwiceReturnsError(t *testing.T) {
	fs := &fakeStream{}
	task := Start(context.Background(), fs, 0, 128)
	_, err := task.GetResults(context.Background())
	require.NoError(t, err)
	_, err = task.GetResults(context.Background())
	require.ErrorIs(t, err, ErrConsumedTwice)
}

func TestGetResultsRespectsContextCancellation(t *testing.T) {
	fs := &fakeStream{gate: make(chan struct{})}
	task := Start(context.Background(), fs, 0, 128)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := task.GetResults(ctx)
	require.ErrorIs(t, err, context.Canceled)

	close(fs.gate) // let the goroutine finish so it doesn't leak past the test
}

func TestIsInRange(t *testing.T) {
	task := &Task{Offset: 100, Length: 50}
	require.True(t, task.IsInRange(100))
	require.True(t, task.IsInRange(150))
	require.False(t, task.IsInRange(99))
	require.False(t, task.IsInRange(151))
}

func TestInvalidate(t *testing.T) {
	fs := &fakeStream{}
	task := Start(context.Background(), fs, 0, 128)
	require.True(t, task.IsValid())
	task.Invalidate()
	require.False(t, task.IsValid())

	// Invalidation doesn't stop the underlying read from completing.
	_, err := task.GetResults(context.Background())
	require.NoError(t, err)
}

func TestHandleWriteThroughInvalidatesOnlyOnOverlap(t *testing.T) {
	task := &Task{Offset: 100, Length: 50, valid: true}
	task.HandleWriteThrough(10, 20) // [10, 30) doesn't overlap [100, 150)
	require.True(t, task.IsValid())

	task.HandleWriteThrough(140, 5) // [140, 145) overlaps
	require.False(t, task.IsValid())
}

func TestHandleWriteThroughIgnoresAdjacentNonOverlappingWrite(t *testing.T) {
	task := &Task{Offset: 100, Length: 50, valid: true}
	task.HandleWriteThrough(150, 10) // [150, 160) starts exactly at the task's end
	require.True(t, task.IsValid())
}

func TestStartIssuesReadAsynchronously(t *testing.T) {
	fs := &fakeStream{gate: make(chan struct{})}
	task := Start(context.Background(), fs, 5, 64)

	select {
	case <-task.done:
		t.Fatal("task completed before gate was released")
	case <-time.After(20 * time.Millisecond):
	}

	close(fs.gate)
	_, err := task.GetResults(context.Background())
	require.NoError(t, err)
}
