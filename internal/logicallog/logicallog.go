// Package logicallog implements the logical log engine (C3) and its read
// stream (C4): one byte-addressable, append-only logical stream multiplexed
// onto a physical log container stream.
//
// Grounded on the teacher's commit log (server/commitlog/segment.go): the
// single-writer append path and the lock-guarded position bookkeeping are
// generalized from that file into the richer state machine spec.md §4.3
// describes (write buffer framing via internal/codec, read-ahead via
// internal/readahead, and dual-sided truncation, none of which the
// teacher's simpler append-only commit log needs). Reads never block: at
// the write boundary they return 0 bytes.
package logicallog

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/liftbridge-io/logicallog/internal/codec"
	"github.com/liftbridge-io/logicallog/internal/container"
	"github.com/liftbridge-io/logicallog/internal/lifecycle"
	"github.com/liftbridge-io/logicallog/internal/metrics"
	"github.com/liftbridge-io/logicallog/internal/readahead"
)

// zeroReadRetryLimit bounds the belt-and-braces retry the read loop applies
// to a record that yields zero bytes three times in a row. This is a
// workaround for a transient shared-log truncation race (spec.md §9 open
// question 2); it is not load-bearing logic; a correct container contract
// should never need it.
const zeroReadRetryLimit = 3

// readContext is one positioned cursor over a LogicalLog: the default
// cursor embedded in the log itself, or an independent one owned by a
// ReadStream. Each context has its own lock and its own cached buffer, so
// separate streams never contend with each other (spec.md §5).
type readContext struct {
	mu       sync.Mutex
	location int64
	cached   *codec.Buffer
	nextTask *readahead.Task
}

// LogicalLog owns one open logical stream: append buffering, flush/barrier
// discipline, truncate head/tail, random-access read with read-ahead, and
// length/space accounting.
type LogicalLog struct {
	ID             uuid.UUID
	OwnerID        uuid.UUID
	OwningHandleID uuid.UUID

	svc    *lifecycle.Service
	stream container.Stream
	logger log.Logger
	mx     *metrics.Collector

	blockMetadataSize uint32
	maxBlockSize      uint32
	maxReadRecordSize uint32
	streamVersion     container.InterfaceVersion

	writeMu           sync.Mutex
	writeBuf          *codec.Buffer
	flushInProgress   int32
	nextWritePosition int64
	nextOpNumber      int64

	headMu              sync.Mutex
	headTruncationPoint int64

	logSizeMu         sync.Mutex
	logSize           int64
	logSpaceRemaining int64

	defaultRC *readContext

	streamsMu sync.Mutex
	streams   map[*ReadStream]struct{}

	tasksMu sync.Mutex
	tasks   map[*readahead.Task]struct{}
}

func newLogicalLog(id, ownerID, handleID uuid.UUID, stream container.Stream, logger log.Logger, mx *metrics.Collector) *LogicalLog {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &LogicalLog{
		ID:                id,
		OwnerID:           ownerID,
		OwningHandleID:    handleID,
		svc:               lifecycle.New(),
		stream:            stream,
		logger:            logger,
		mx:                mx,
		blockMetadataSize: codec.MetadataBlockSize,
		streamVersion:     stream.Version(),
		defaultRC:         &readContext{location: 0},
		streams:           make(map[*ReadStream]struct{}),
		tasks:             make(map[*readahead.Task]struct{}),
	}
}

// Create opens a brand-new logical log: the write cursor starts at stream
// position 0, the head truncation point is empty (-1), and the operation
// counter starts at 1 (spec.md §4.3 "Opening — Create").
func Create(ctx context.Context, id, ownerID, handleID uuid.UUID, stream container.Stream, maxBlockSize uint32, logger log.Logger, mx *metrics.Collector) (*LogicalLog, error) {
	l := newLogicalLog(id, ownerID, handleID, stream, logger, mx)
	err := l.svc.Open(func() error {
		readInfo, err := stream.QueryReadInformation(ctx)
		if err != nil {
			return errors.Wrap(err, "logicallog: query read information failed")
		}
		l.maxReadRecordSize = readInfo.MaximumReadRecordSize
		l.maxBlockSize = maxBlockSize
		l.nextOpNumber = 1
		l.nextWritePosition = 0
		l.headTruncationPoint = -1
		buf, err := codec.OpenWrite(l.blockMetadataSize, l.maxBlockSize, 0, 1, l.ID)
		if err != nil {
			return err
		}
		l.writeBuf = buf
		return nil
	})
	if err != nil {
		return nil, err
	}
	level.Info(l.logger).Log("msg", "logical log created", "id", id, "owner", ownerID)
	return l, nil
}

// Recover reopens an existing logical log, restoring next_op_number,
// next_write_position and head_truncation_point from the container's
// recovery tuple (spec.md §4.3 "Opening — Recover").
func Recover(ctx context.Context, id, ownerID, handleID uuid.UUID, stream container.Stream, logger log.Logger, mx *metrics.Collector) (*LogicalLog, error) {
	l := newLogicalLog(id, ownerID, handleID, stream, logger, mx)
	err := l.svc.Open(func() error {
		readInfo, err := stream.QueryReadInformation(ctx)
		if err != nil {
			return errors.Wrap(err, "logicallog: query read information failed")
		}
		l.maxReadRecordSize = readInfo.MaximumReadRecordSize

		tail, err := stream.QueryTailAsnAndHighestOperation(ctx)
		if err != nil {
			return errors.Wrap(err, "logicallog: query tail asn failed")
		}
		l.maxBlockSize = tail.MaximumBlockSize
		if l.maxBlockSize == 0 {
			l.maxBlockSize = codec.MetadataBlockSize * 4
		}

		if tail.HighestOperationID == 0 {
			// Special-case an empty log: no records have ever been
			// sealed.
			l.nextOpNumber = 1
			l.nextWritePosition = 0
			l.headTruncationPoint = -1
		} else {
			l.nextOpNumber = tail.HighestOperationID + 1
			l.nextWritePosition = tail.TailASN - 1
			l.headTruncationPoint = tail.HeadTruncationPoint
		}
		buf, err := codec.OpenWrite(l.blockMetadataSize, l.maxBlockSize, l.nextWritePosition, l.nextOpNumber, l.ID)
		if err != nil {
			return err
		}
		l.writeBuf = buf
		return nil
	})
	if err != nil {
		return nil, err
	}
	level.Info(l.logger).Log("msg", "logical log recovered", "id", id, "owner", ownerID,
		"next_write_position", l.nextWritePosition, "head_truncation_point", l.headTruncationPoint)
	return l, nil
}

func (l *LogicalLog) mustBeOpen() error {
	if !l.svc.IsOpen() {
		return ErrClosed
	}
	return nil
}

// Append copies count bytes from buf starting at off into the write buffer,
// flushing and reopening mid-append whenever the buffer fills.
func (l *LogicalLog) Append(ctx context.Context, buf []byte, off, count int) error {
	if err := l.mustBeOpen(); err != nil {
		return err
	}
	if off < 0 || count < 0 || off+count > len(buf) {
		return errors.Wrapf(ErrInvalidArgument, "append: invalid range off=%d count=%d len=%d", off, count, len(buf))
	}
	p := buf[off : off+count]

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	for len(p) > 0 {
		n, err := l.writeBuf.Put(p)
		if err != nil {
			return err
		}
		l.nextWritePosition += int64(n)
		p = p[n:]
		if len(p) > 0 {
			if err := l.internalFlushLocked(ctx, false); err != nil {
				return err
			}
		}
	}
	l.mx.IncAppend()
	return nil
}

// Flush seals and writes the current write buffer if it holds any bytes.
func (l *LogicalLog) Flush(ctx context.Context) error {
	if err := l.mustBeOpen(); err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.internalFlushLocked(ctx, false)
}

// FlushWithMarker seals and writes the current write buffer as a barrier
// record, demarcating a flush boundary even if no bytes were appended
// since the last flush.
func (l *LogicalLog) FlushWithMarker(ctx context.Context) error {
	if err := l.mustBeOpen(); err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.internalFlushLocked(ctx, true)
}

// internalFlushLocked implements spec.md §4.3 "Flush". Caller must hold
// writeMu. The single-writer guard here is the flushInProgress test-and-set
// described in spec.md: if another flush is already running, this call
// returns immediately because the in-flight flush subsumes it.
func (l *LogicalLog) internalFlushLocked(ctx context.Context, isBarrier bool) error {
	if !atomic.CompareAndSwapInt32(&l.flushInProgress, 0, 1) {
		return nil
	}
	defer atomic.StoreInt32(&l.flushInProgress, 0)

	buf := l.writeBuf
	head := l.headTruncationPointSnapshot()
	result, err := buf.SealForWrite(head, isBarrier)
	if err != nil {
		return err
	}

	if result.UserDataSize == 0 && !isBarrier {
		// Nothing written: no physical write is issued, and the existing
		// buffer has already been sealed, so it must be replaced even
		// though nothing was sent to the container.
		newBuf, err := codec.OpenWrite(l.blockMetadataSize, l.maxBlockSize, l.nextWritePosition, l.nextOpNumber, l.ID)
		if err != nil {
			return err
		}
		l.writeBuf = newBuf
		return nil
	}

	sz, err := l.stream.Write(ctx, result.ASN, result.Op, head, result.MetadataBlock, result.Extent)
	if err != nil {
		// A sealed buffer cannot be sealed again: re-arm an unsealed buffer
		// holding the same bytes at the same (asn, op) for the next flush.
		if rb, rerr := codec.OpenRead(l.blockMetadataSize, result.ASN-1, result.MetadataBlock, result.Extent); rerr == nil {
			payload := make([]byte, result.UserDataSize)
			if _, gerr := rb.Get(payload); gerr == nil {
				if nb, oerr := codec.OpenWrite(l.blockMetadataSize, l.maxBlockSize, result.ASN-1, result.Op, l.ID); oerr == nil {
					if _, perr := nb.Put(payload); perr == nil {
						l.writeBuf = nb
					}
				}
			}
		}
		return errors.Wrap(ErrTransientIO, err.Error())
	}
	// Resolved open question 1 (spec.md §9): increment the operation
	// counter only after the physical write succeeds, so a failed write
	// can be retried with the same (asn, op) pair instead of leaving a
	// gap or mismatching the sealed buffer's op field.
	l.nextOpNumber++
	l.setSizeInfo(sz)

	l.invalidateOverlapping(result.ASN-1, result.UserDataSize)

	newBuf, err := codec.OpenWrite(l.blockMetadataSize, l.maxBlockSize, l.nextWritePosition, l.nextOpNumber, l.ID)
	if err != nil {
		return err
	}
	l.writeBuf = newBuf

	if isBarrier {
		l.mx.IncBarrierFlush()
	} else {
		l.mx.IncFlush()
	}
	return nil
}

func (l *LogicalLog) headTruncationPointSnapshot() int64 {
	l.headMu.Lock()
	defer l.headMu.Unlock()
	return l.headTruncationPoint
}

func (l *LogicalLog) setSizeInfo(sz container.SizeInformation) {
	l.logSizeMu.Lock()
	l.logSize = sz.LogSize
	l.logSpaceRemaining = sz.SpaceRemaining
	l.logSizeMu.Unlock()
}

// TruncateHead advances the head truncation watermark. It is lazy: the
// watermark only becomes durable when it is written inside the next sealed
// record's HeadTruncationPoint field. A no-op when p does not advance the
// watermark (idempotent per spec.md §8).
func (l *LogicalLog) TruncateHead(ctx context.Context, p int64) error {
	if err := l.mustBeOpen(); err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if p <= l.headTruncationPoint {
		return nil
	}
	if p > l.nextWritePosition {
		// Resolved open question 3 (spec.md §9): the original asserts
		// here; this port returns InvalidArgument instead, since Go
		// library code is expected to return errors across API
		// boundaries rather than crash the caller's process.
		return errors.Wrapf(ErrInvalidArgument, "truncate_head: %d exceeds next_write_position %d", p, l.nextWritePosition)
	}
	if err := l.stream.Truncate(ctx, p+1, p+1); err != nil {
		return errors.Wrap(ErrTransientIO, err.Error())
	}
	l.headMu.Lock()
	l.headTruncationPoint = p
	l.headMu.Unlock()
	l.mx.IncHeadTruncation()
	return nil
}

// TruncateTail discards the newest suffix of the log starting at p,
// recording the new tail with a dedicated empty barrier record and a
// container EOF/size update (spec.md §4.3 "Truncate").
func (l *LogicalLog) TruncateTail(ctx context.Context, p int64) error {
	if err := l.mustBeOpen(); err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if p >= l.nextWritePosition || p <= l.headTruncationPoint {
		return errors.Wrapf(ErrInvalidArgument,
			"truncate_tail: p=%d next_write_position=%d head_truncation_point=%d", p, l.nextWritePosition, l.headTruncationPoint)
	}

	if err := l.internalFlushLocked(ctx, false); err != nil {
		return err
	}

	head := l.headTruncationPointSnapshot()
	nullBuf, err := codec.OpenWrite(l.blockMetadataSize, l.maxBlockSize, p, l.nextOpNumber, l.ID)
	if err != nil {
		return err
	}
	result, err := nullBuf.SealForWrite(head, true)
	if err != nil {
		return err
	}
	sz, err := l.stream.Write(ctx, result.ASN, result.Op, head, result.MetadataBlock, result.Extent)
	if err != nil {
		return errors.Wrap(ErrTransientIO, err.Error())
	}
	l.nextOpNumber++
	l.setSizeInfo(sz)

	if err := l.stream.SetEndOfFile(ctx, p+1); err != nil {
		return errors.Wrap(ErrTransientIO, err.Error())
	}
	newFileSize := roundUp(p, int64(l.blockMetadataSize))
	if err := l.stream.SetFileSize(ctx, newFileSize); err != nil {
		return errors.Wrap(ErrTransientIO, err.Error())
	}

	l.nextWritePosition = p
	newBuf, err := codec.OpenWrite(l.blockMetadataSize, l.maxBlockSize, p, l.nextOpNumber, l.ID)
	if err != nil {
		return err
	}
	l.writeBuf = newBuf

	l.invalidateAll()
	l.mx.IncTailTruncation()
	return nil
}

func roundUp(n, multiple int64) int64 {
	if multiple <= 0 || n%multiple == 0 {
		return n
	}
	return n + (multiple - n%multiple)
}

// Read reads up to len(p) bytes from the log's own default cursor, prefetching
// bytesToRead bytes ahead when the container supports it.
func (l *LogicalLog) Read(ctx context.Context, p []byte, bytesToRead uint32) (int, error) {
	if err := l.mustBeOpen(); err != nil {
		return 0, err
	}
	return l.readFrom(ctx, l.defaultRC, p, bytesToRead)
}

func (l *LogicalLog) readFrom(ctx context.Context, rc *readContext, p []byte, bytesToRead uint32) (int, error) {
	// headTruncationPointSnapshot/snapshotNextWritePosition take headMu/
	// writeMu; they must be read before rc.mu is acquired below, since
	// internalFlushLocked takes the locks in the opposite order (writeMu,
	// then each readContext's rc.mu while invalidating caches). Taking
	// rc.mu first here would invert that order and risk deadlock.
	head := l.headTruncationPointSnapshot()
	nextWrite := l.snapshotNextWritePosition()

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.location <= head || rc.location >= nextWrite {
		return 0, nil
	}

	todo := nextWrite - rc.location
	if int64(len(p)) < todo {
		todo = int64(len(p))
	}

	written := 0
	zeroStreak := 0
	for todo > 0 {
		if rc.cached == nil {
			buf, err := l.acquireReadBuffer(ctx, rc, bytesToRead)
			if err != nil {
				return written, err
			}
			rc.cached = buf
		}
		n, err := rc.cached.Get(p[written:])
		if err != nil {
			return written, err
		}
		if n == 0 {
			zeroStreak++
			rc.cached = nil
			if zeroStreak >= zeroReadRetryLimit {
				return written, ErrTransientIO
			}
			continue
		}
		zeroStreak = 0
		written += n
		rc.location += int64(n)
		todo -= int64(n)
		if rc.cached.Remaining() == 0 {
			rc.cached = nil
		}
	}
	return written, nil
}

func (l *LogicalLog) acquireReadBuffer(ctx context.Context, rc *readContext, bytesToRead uint32) (*codec.Buffer, error) {
	var (
		recs []container.Record
		err  error
	)

	if rc.nextTask != nil && rc.nextTask.IsValid() && rc.nextTask.IsInRange(rc.location) {
		task := rc.nextTask
		rc.nextTask = nil
		recs, err = task.GetResults(ctx)
		l.forgetTask(task)
	} else {
		if rc.nextTask != nil {
			l.forgetTask(rc.nextTask)
			rc.nextTask = nil
		}
		if l.streamVersion == container.VersionLegacy || bytesToRead == 0 {
			var rec container.Record
			rec, err = l.stream.ReadContaining(ctx, rc.location+1)
			if err == nil {
				recs = []container.Record{rec}
			}
		} else {
			task := readahead.Start(ctx, l.stream, rc.location, int64(bytesToRead))
			l.trackTask(task)
			l.mx.IncReadAheadIssued()
			recs, err = task.GetResults(ctx)
			l.forgetTask(task)
		}
	}
	if err != nil {
		if errors.Is(err, readahead.ErrConsumedTwice) {
			return nil, ErrResultsConsumedTwice
		}
		return nil, errors.Wrap(ErrTransientIO, err.Error())
	}
	if len(recs) == 0 {
		return nil, ErrTransientIO
	}

	first := recs[0]
	buf, err := codec.OpenRead(l.blockMetadataSize, rc.location, first.Metadata, first.Extent)
	if err != nil {
		l.mx.IncDataIntegrityFail()
		return nil, errors.Wrap(ErrDataIntegrity, err.Error())
	}

	if bytesToRead > 0 && l.streamVersion != container.VersionLegacy {
		nextOffset := buf.BasePosition() + buf.SizeWritten()
		task := readahead.Start(ctx, l.stream, nextOffset, int64(bytesToRead))
		l.trackTask(task)
		l.mx.IncReadAheadIssued()
		rc.nextTask = task
	}
	return buf, nil
}

func (l *LogicalLog) trackTask(t *readahead.Task) {
	l.tasksMu.Lock()
	l.tasks[t] = struct{}{}
	l.tasksMu.Unlock()
}

func (l *LogicalLog) forgetTask(t *readahead.Task) {
	l.tasksMu.Lock()
	delete(l.tasks, t)
	l.tasksMu.Unlock()
}

// invalidateOverlapping invalidates every cached read buffer and in-flight
// read-ahead task whose covered range overlaps [writeBase, writeBase+writeLen),
// and does the same for every registered ReadStream. Invalidated tasks
// continue to completion but their results are discarded by callers who
// check IsValid (spec.md §4.2, §4.3 "Read invalidation").
func (l *LogicalLog) invalidateOverlapping(writeBase, writeLen int64) {
	l.tasksMu.Lock()
	for t := range l.tasks {
		wasValid := t.IsValid()
		t.HandleWriteThrough(writeBase, writeLen)
		if wasValid && !t.IsValid() {
			l.mx.IncReadAheadDiscarded()
		}
	}
	l.tasksMu.Unlock()

	invalidateRC := func(rc *readContext) {
		rc.mu.Lock()
		if rc.cached != nil && rc.cached.Intersects(writeBase, writeLen) {
			rc.cached = nil
		}
		rc.mu.Unlock()
	}
	invalidateRC(l.defaultRC)

	l.streamsMu.Lock()
	for s := range l.streams {
		invalidateRC(s.rc)
	}
	l.streamsMu.Unlock()
}

// invalidateAll unconditionally drops every cached read buffer and
// in-flight read-ahead task; used by TruncateTail, which can never be
// expressed as a bounded overlap (everything at or after p is gone).
func (l *LogicalLog) invalidateAll() {
	l.tasksMu.Lock()
	for t := range l.tasks {
		t.Invalidate()
		l.mx.IncReadAheadDiscarded()
	}
	l.tasksMu.Unlock()

	reset := func(rc *readContext) {
		rc.mu.Lock()
		rc.cached = nil
		rc.nextTask = nil
		rc.mu.Unlock()
	}
	reset(l.defaultRC)

	l.streamsMu.Lock()
	for s := range l.streams {
		reset(s.rc)
	}
	l.streamsMu.Unlock()
}

// NewReadStream creates a positioned cursor view over this log, registered
// in the log's stream table so invalidation reaches it (spec.md §4.4).
func (l *LogicalLog) NewReadStream(startOffset int64) (*ReadStream, error) {
	if err := l.mustBeOpen(); err != nil {
		return nil, err
	}
	rs := &ReadStream{
		log: l,
		rc:  &readContext{location: startOffset},
	}
	l.streamsMu.Lock()
	l.streams[rs] = struct{}{}
	l.streamsMu.Unlock()
	return rs, nil
}

func (l *LogicalLog) removeStream(rs *ReadStream) {
	l.streamsMu.Lock()
	delete(l.streams, rs)
	l.streamsMu.Unlock()
}

// Length returns next_write_position - head_truncation_point - 1, the
// number of currently readable bytes.
func (l *LogicalLog) Length() int64 {
	return l.snapshotNextWritePosition() - l.headTruncationPointSnapshot() - 1
}

func (l *LogicalLog) snapshotNextWritePosition() int64 {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.nextWritePosition
}

// MaxUserPayloadPerRecord returns max_block_size minus the fixed per-record
// overhead (metadata+stream headers and reserved bytes).
func (l *LogicalLog) MaxUserPayloadPerRecord() uint32 {
	return l.maxBlockSize - codec.RecordOverhead
}

// Size and SpaceRemaining return the values cached from the last physical
// write reply.
func (l *LogicalLog) Size() (logSize, spaceRemaining int64) {
	l.logSizeMu.Lock()
	defer l.logSizeMu.Unlock()
	return l.logSize, l.logSpaceRemaining
}

// HeadTruncationPoint returns the current head truncation watermark (-1 when
// empty).
func (l *LogicalLog) HeadTruncationPoint() int64 { return l.headTruncationPointSnapshot() }

// NextWritePosition returns the monotonic stream offset of the next byte to
// be written.
func (l *LogicalLog) NextWritePosition() int64 { return l.snapshotNextWritePosition() }

// IsOpen reports whether the log is open and not yet asked to close.
func (l *LogicalLog) IsOpen() bool { return l.svc.IsOpen() }

// Close does NOT imply a flush of pending unwritten data; callers that
// want durability must Flush before Close. Close tears down the stream
// handle and releases every tracked read-ahead task.
func (l *LogicalLog) Close(ctx context.Context) error {
	var closeErr error
	l.svc.Close(func() {
		l.invalidateAll()
		if err := l.stream.Close(); err != nil {
			closeErr = err
			level.Warn(l.logger).Log("msg", "closing logical log stream failed", "id", l.ID, "err", err)
		}
	})
	return closeErr
}
