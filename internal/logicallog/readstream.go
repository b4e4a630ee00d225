package logicallog

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// SeekOrigin selects the reference point for ReadStream.Seek.
type SeekOrigin int

const (
	SeekBegin SeekOrigin = iota
	SeekCurrent
	SeekEnd
)

// ReadStream is an independent positioned cursor over a LogicalLog (spec.md
// §4.4): its own read_context, its own read-ahead hint size, registered in
// the owning log's stream table so a write or tail truncation that
// overlaps its cached buffer invalidates it the same way the log's own
// default cursor is invalidated.
type ReadStream struct {
	log *LogicalLog
	rc  *readContext

	hintMu             sync.Mutex
	sequentialReadSize uint32
}

// Read reads up to len(p) bytes starting at the stream's current position,
// advancing it by the number of bytes read. Returns 0, nil (not io.EOF) when
// the position is at or past the log's current write boundary, matching
// LogicalLog.Read's semantics; io.EOF is never returned because the log may
// still grow.
func (rs *ReadStream) Read(ctx context.Context, p []byte) (int, error) {
	if err := rs.log.mustBeOpen(); err != nil {
		return 0, err
	}
	return rs.log.readFrom(ctx, rs.rc, p, rs.hint())
}

func (rs *ReadStream) hint() uint32 {
	rs.hintMu.Lock()
	defer rs.hintMu.Unlock()
	return rs.sequentialReadSize
}

// SetSequentialAccessReadSize sets the number of bytes the next read-ahead
// task issued from this stream should speculatively cover. A value of 0
// disables read-ahead for this stream (every read becomes a single
// ReadContaining call).
func (rs *ReadStream) SetSequentialAccessReadSize(n uint32) {
	rs.hintMu.Lock()
	rs.sequentialReadSize = n
	rs.hintMu.Unlock()
}

// Seek repositions the stream's cursor. origin SeekBegin is relative to
// stream position 0; SeekCurrent is relative to the cursor's current
// position; SeekEnd is relative to the log's current next_write_position.
// Seeking drops any cached read buffer and cancels any outstanding
// read-ahead task issued from this stream.
func (rs *ReadStream) Seek(origin SeekOrigin, offset int64) (int64, error) {
	// NextWritePosition takes the log's writeMu; it must never be called
	// while holding rc.mu, since internalFlushLocked takes the two locks in
	// the opposite order (writeMu, then each readContext's rc.mu while
	// invalidating caches). Fetch it up front to avoid a lock inversion.
	var end int64
	if origin == SeekEnd {
		end = rs.log.NextWritePosition()
	}

	rs.rc.mu.Lock()
	defer rs.rc.mu.Unlock()

	var base int64
	switch origin {
	case SeekBegin:
		base = 0
	case SeekCurrent:
		base = rs.rc.location
	case SeekEnd:
		base = end
	default:
		return 0, errors.Wrapf(ErrInvalidArgument, "readstream: unknown seek origin %d", origin)
	}
	newPos := base + offset
	if newPos < 0 {
		return 0, errors.Wrapf(ErrInvalidArgument, "readstream: seek to negative position %d", newPos)
	}

	if rs.rc.nextTask != nil {
		rs.rc.nextTask.Invalidate()
		rs.rc.nextTask = nil
	}
	rs.rc.cached = nil
	rs.rc.location = newPos
	return newPos, nil
}

// Position returns the stream's current cursor position.
func (rs *ReadStream) Position() int64 {
	rs.rc.mu.Lock()
	defer rs.rc.mu.Unlock()
	return rs.rc.location
}

// Close unregisters the stream from its owning log. It does not close the
// log itself.
func (rs *ReadStream) Close() error {
	rs.log.removeStream(rs)
	return nil
}

var _ io.Closer = (*ReadStream)(nil)
