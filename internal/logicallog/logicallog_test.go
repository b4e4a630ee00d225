package logicallog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/liftbridge-io/logicallog/internal/container/inproc"
	"github.com/liftbridge-io/logicallog/internal/metrics"
	"github.com/liftbridge-io/logicallog/internal/readahead"
)

func newTestLog(t *testing.T) (*LogicalLog, func()) {
	t.Helper()
	dir := t.TempDir()
	c, err := inproc.Open(dir)
	require.NoError(t, err)

	id := uuid.New()
	stream, err := c.CreateStream(context.Background(), id, "", 1<<20, codecMaxBlockSize)
	require.NoError(t, err)

	l, err := Create(context.Background(), id, uuid.New(), uuid.New(), stream, codecMaxBlockSize, nil, metrics.New(nil))
	require.NoError(t, err)

	return l, func() { _ = l.Close(context.Background()); _ = c.Close() }
}

const codecMaxBlockSize = 4096 * 4

func TestAppendFlushReadRoundTrip(t *testing.T) {
	l, cleanup := newTestLog(t)
	defer cleanup()

	ctx := context.Background()
	payload := []byte("hello logical log")
	require.NoError(t, l.Append(ctx, payload, 0, len(payload)))
	require.NoError(t, l.Flush(ctx))

	got := make([]byte, len(payload))
	n, err := l.Read(ctx, got, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, got)
}

func TestAcquireReadBufferTranslatesDoubleConsumedTask(t *testing.T) {
	l, cleanup := newTestLog(t)
	defer cleanup()

	ctx := context.Background()
	payload := []byte("read-ahead double consume")
	require.NoError(t, l.Append(ctx, payload, 0, len(payload)))
	require.NoError(t, l.Flush(ctx))

	task := readahead.Start(ctx, l.stream, 0, int64(len(payload)))
	_, err := task.GetResults(ctx)
	require.NoError(t, err)

	rc := &readContext{nextTask: task}
	_, err = l.acquireReadBuffer(ctx, rc, 0)
	require.ErrorIs(t, err, ErrResultsConsumedTwice)
}

func TestReadBeforeFlushReturnsNothing(t *testing.T) {
	l, cleanup := newTestLog(t)
	defer cleanup()

	ctx := context.Background()
	payload := []byte("unflushed")
	require.NoError(t, l.Append(ctx, payload, 0, len(payload)))

	// next_write_position has already advanced past what's been buffered,
	// but nothing has reached the container yet, so a read from position
	// 0 fails: the physical log has no record containing it.
	got := make([]byte, len(payload))
	_, err := l.Read(ctx, got, 0)
	require.Error(t, err)
}

func TestFlushWithMarkerWritesBarrierWithNoBytes(t *testing.T) {
	l, cleanup := newTestLog(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, l.FlushWithMarker(ctx))
	require.Equal(t, int64(0), l.NextWritePosition())
}

func TestCloseThenRecoverRestoresPosition(t *testing.T) {
	dir := t.TempDir()
	c, err := inproc.Open(dir)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	id := uuid.New()
	owner := uuid.New()
	handle := uuid.New()

	stream, err := c.CreateStream(ctx, id, "", 1<<20, codecMaxBlockSize)
	require.NoError(t, err)
	l, err := Create(ctx, id, owner, handle, stream, codecMaxBlockSize, nil, metrics.New(nil))
	require.NoError(t, err)

	payload := []byte("persisted across recovery")
	require.NoError(t, l.Append(ctx, payload, 0, len(payload)))
	require.NoError(t, l.Flush(ctx))
	require.NoError(t, l.Close(ctx))

	stream2, err := c.OpenStream(ctx, id)
	require.NoError(t, err)
	recovered, err := Recover(ctx, id, owner, handle, stream2, nil, metrics.New(nil))
	require.NoError(t, err)
	defer recovered.Close(ctx)

	require.Equal(t, int64(len(payload)), recovered.NextWritePosition())

	got := make([]byte, len(payload))
	n, err := recovered.Read(ctx, got, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, got)
}

func TestTruncateHeadIsLazyAndIdempotent(t *testing.T) {
	l, cleanup := newTestLog(t)
	defer cleanup()

	ctx := context.Background()
	payload := []byte("0123456789")
	require.NoError(t, l.Append(ctx, payload, 0, len(payload)))
	require.NoError(t, l.Flush(ctx))

	require.NoError(t, l.TruncateHead(ctx, 5))
	require.Equal(t, int64(5), l.HeadTruncationPoint())

	// A smaller watermark is a no-op.
	require.NoError(t, l.TruncateHead(ctx, 2))
	require.Equal(t, int64(5), l.HeadTruncationPoint())
}

func TestTruncateHeadBeyondWrittenRangeIsInvalidArgument(t *testing.T) {
	l, cleanup := newTestLog(t)
	defer cleanup()

	ctx := context.Background()
	payload := []byte("short")
	require.NoError(t, l.Append(ctx, payload, 0, len(payload)))
	require.NoError(t, l.Flush(ctx))

	err := l.TruncateHead(ctx, 1000)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTruncateTailDiscardsSuffixAndRejectsBelowHead(t *testing.T) {
	l, cleanup := newTestLog(t)
	defer cleanup()

	ctx := context.Background()
	payload := []byte("0123456789")
	require.NoError(t, l.Append(ctx, payload, 0, len(payload)))
	require.NoError(t, l.Flush(ctx))

	require.NoError(t, l.TruncateTail(ctx, 5))
	require.Equal(t, int64(5), l.NextWritePosition())

	err := l.TruncateTail(ctx, 5)
	require.ErrorIs(t, err, ErrInvalidArgument)

	err = l.TruncateTail(ctx, 100)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestReadStreamIndependentCursor(t *testing.T) {
	l, cleanup := newTestLog(t)
	defer cleanup()

	ctx := context.Background()
	payload := []byte("abcdefghij")
	require.NoError(t, l.Append(ctx, payload, 0, len(payload)))
	require.NoError(t, l.Flush(ctx))

	rs, err := l.NewReadStream(0)
	require.NoError(t, err)
	defer rs.Close()

	first := make([]byte, 3)
	n, err := rs.Read(ctx, first)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []byte("abc"), first)
	require.Equal(t, int64(3), rs.Position())

	pos, err := rs.Seek(SeekBegin, 5)
	require.NoError(t, err)
	require.Equal(t, int64(5), pos)

	rest := make([]byte, 5)
	n, err = rs.Read(ctx, rest)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, []byte("fghij"), rest)

	// The log's own default cursor is unaffected by the ReadStream's seek.
	fromDefault := make([]byte, 10)
	n, err = l.Read(ctx, fromDefault, 0)
	require.NoError(t, err)
	require.Equal(t, 10, n)
	require.Equal(t, payload, fromDefault)
}

func TestAppendAcrossMultipleRecordsThenRead(t *testing.T) {
	l, cleanup := newTestLog(t)
	defer cleanup()

	ctx := context.Background()
	var all []byte
	for i := 0; i < 5; i++ {
		chunk := make([]byte, 1000)
		for j := range chunk {
			chunk[j] = byte(i)
		}
		require.NoError(t, l.Append(ctx, chunk, 0, len(chunk)))
		require.NoError(t, l.Flush(ctx))
		all = append(all, chunk...)
	}

	got := make([]byte, len(all))
	total := 0
	for total < len(got) {
		n, err := l.Read(ctx, got[total:], 4096)
		require.NoError(t, err)
		require.Greater(t, n, 0)
		total += n
	}
	require.Equal(t, all, got)
}
