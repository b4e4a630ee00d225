// Package physicallog implements the physical log wrapper (C5): the owner
// of one open physical container, tracking the logical logs and handles
// opened against it and closing the container once both go empty.
//
// Grounded on the teacher's broker-level bookkeeping (server/fsm.go tracks
// per-partition commit logs under a lock the same way this wrapper tracks
// per-container logical logs), generalized with the reusable deferred-close
// state machine from internal/lifecycle instead of liftbridge's ad hoc
// shutdown channel.
package physicallog

import (
	"context"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/liftbridge-io/logicallog/internal/container"
	"github.com/liftbridge-io/logicallog/internal/lifecycle"
	"github.com/liftbridge-io/logicallog/internal/logicallog"
	"github.com/liftbridge-io/logicallog/internal/metrics"
)

// Error kinds specific to this layer. Invalid-argument/closed/transient-io
// conditions reuse the logicallog package's sentinels so callers classify
// errors the same way regardless of which layer produced them.
var (
	// ErrCollision is returned when a create is attempted for a logical
	// log id that already has a live entry in this physical log.
	ErrCollision = errors.New("physicallog: logical log id already open")

	// ErrNotFound is returned when an operation names a logical log or
	// handle id this physical log has no entry for.
	ErrNotFound = errors.New("physicallog: no such open entry")

	// ErrCapacityExceeded is returned when creating a stream would push the
	// physical log over its configured maxStreams or maxSize cap.
	ErrCapacityExceeded = errors.New("physicallog: capacity exceeded")
)

const openRetryLimit = 3

// Handle represents one consumer's open reference to a PhysicalLog (one
// "get_handle" allocation, spec.md §4.5). Closing the handle releases the
// wrapper-level activity token it holds.
type Handle struct {
	ID        uuid.UUID
	ReplicaID uuid.UUID

	pl *PhysicalLog
}

// Close releases this handle's activity on the owning PhysicalLog.
func (h *Handle) Close(ctx context.Context) error {
	return h.pl.OnCloseHandle(ctx, h)
}

// PhysicalLog returns the PhysicalLog this handle was acquired against, for
// callers that need to create/open logical logs or query container
// metadata through it.
func (h *Handle) PhysicalLog() *PhysicalLog { return h.pl }

// PhysicalLog owns one open container and every logical log/handle opened
// against it.
type PhysicalLog struct {
	ID uuid.UUID

	container container.Container
	svc       *lifecycle.Service
	logger    log.Logger
	mx        *metrics.Collector

	// maxSize and maxStreams cap the aggregate configured size and stream
	// count this physical log will admit via OnCreateAndOpenLogicalLog.
	// Zero means unlimited. Streams recovered via OnOpenLogicalLog are
	// never rejected by these caps -- they already exist in the container.
	maxSize    int64
	maxStreams int

	mu          sync.Mutex
	handles     map[uuid.UUID]*Handle
	logicalLogs map[uuid.UUID]*logicallog.LogicalLog
	streamSizes map[uuid.UUID]int64
	usedSize    int64
}

// Open constructs a PhysicalLog around an already-opened container and
// transitions it to the Open state. The caller is responsible for having
// created/opened c; PhysicalLog takes ownership of closing it. maxSize and
// maxStreams bound the streams this physical log will admit through
// OnCreateAndOpenLogicalLog; either may be 0 for unlimited.
func Open(id uuid.UUID, c container.Container, maxSize int64, maxStreams int, logger log.Logger, mx *metrics.Collector) (*PhysicalLog, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	pl := &PhysicalLog{
		ID:          id,
		container:   c,
		svc:         lifecycle.New(),
		logger:      logger,
		mx:          mx,
		maxSize:     maxSize,
		maxStreams:  maxStreams,
		handles:     make(map[uuid.UUID]*Handle),
		logicalLogs: make(map[uuid.UUID]*logicallog.LogicalLog),
		streamSizes: make(map[uuid.UUID]int64),
	}
	if err := pl.svc.Open(nil); err != nil {
		return nil, err
	}
	pl.mx.AddOpenPhysicalLogs(1)
	level.Info(pl.logger).Log("msg", "physical log opened", "id", id)
	return pl, nil
}

// GetHandle allocates a new Handle, acquiring a wrapper-level activity
// token that keeps this PhysicalLog alive until the handle closes
// (spec.md §4.5 "get_handle").
func (pl *PhysicalLog) GetHandle(replicaID uuid.UUID) (*Handle, error) {
	if err := pl.svc.TryAcquireActivity(); err != nil {
		return nil, logicallog.ErrClosed
	}
	h := &Handle{ID: uuid.New(), ReplicaID: replicaID, pl: pl}
	pl.mu.Lock()
	pl.handles[h.ID] = h
	pl.mu.Unlock()
	pl.mx.AddOpenHandles(1)
	return h, nil
}

// OnCreateAndOpenLogicalLog creates a brand-new stream in the container and
// opens a LogicalLog over it in Create mode (spec.md §4.5).
func (pl *PhysicalLog) OnCreateAndOpenLogicalLog(ctx context.Context, owner *Handle, id uuid.UUID, alias string, maxSize int64, maxBlockSize uint32) (*logicallog.LogicalLog, error) {
	if err := pl.svc.TryAcquireActivity(); err != nil {
		return nil, logicallog.ErrClosed
	}

	pl.mu.Lock()
	if _, exists := pl.logicalLogs[id]; exists {
		pl.mu.Unlock()
		pl.svc.ReleaseActivity()
		return nil, ErrCollision
	}
	if pl.maxStreams > 0 && len(pl.logicalLogs) >= pl.maxStreams {
		pl.mu.Unlock()
		pl.svc.ReleaseActivity()
		return nil, errors.Wrapf(ErrCapacityExceeded, "physicallog: stream count limit of %d reached", pl.maxStreams)
	}
	if pl.maxSize > 0 && pl.usedSize+maxSize > pl.maxSize {
		pl.mu.Unlock()
		pl.svc.ReleaseActivity()
		return nil, errors.Wrapf(ErrCapacityExceeded, "physicallog: configured size limit of %d bytes reached", pl.maxSize)
	}
	pl.usedSize += maxSize
	pl.mu.Unlock()

	stream, err := pl.container.CreateStream(ctx, id, alias, maxSize, maxBlockSize)
	if err != nil {
		pl.mu.Lock()
		pl.usedSize -= maxSize
		pl.mu.Unlock()
		pl.svc.ReleaseActivity()
		return nil, errors.Wrap(err, "physicallog: create stream failed")
	}

	ll, err := logicallog.Create(ctx, id, pl.ID, owner.ID, stream, maxBlockSize, pl.logger, pl.mx)
	if err != nil {
		// Rollback ladder: close then delete the stream we just created,
		// then release the activity we acquired up front.
		_ = stream.Close()
		_ = pl.container.DeleteStream(ctx, id)
		pl.mu.Lock()
		pl.usedSize -= maxSize
		pl.mu.Unlock()
		pl.svc.ReleaseActivity()
		return nil, errors.Wrap(err, "physicallog: open logical log (create) failed")
	}

	pl.mu.Lock()
	if _, exists := pl.logicalLogs[id]; exists {
		pl.mu.Unlock()
		_ = ll.Close(ctx)
		_ = pl.container.DeleteStream(ctx, id)
		pl.mu.Lock()
		pl.usedSize -= maxSize
		pl.mu.Unlock()
		pl.svc.ReleaseActivity()
		return nil, ErrCollision
	}
	pl.logicalLogs[id] = ll
	pl.streamSizes[id] = maxSize
	pl.mu.Unlock()

	pl.mx.AddOpenLogicalLogs(1)
	level.Info(pl.logger).Log("msg", "logical log created", "physical_log", pl.ID, "id", id)
	return ll, nil
}

// OnOpenLogicalLog reopens an existing stream in Recover mode, retrying the
// container open up to openRetryLimit times (spec.md §4.5
// "on_open_logical_log"). Every open error is retried, including a missing
// stream; the container contract has no separate sharing-violation status.
func (pl *PhysicalLog) OnOpenLogicalLog(ctx context.Context, owner *Handle, id uuid.UUID) (*logicallog.LogicalLog, error) {
	if err := pl.svc.TryAcquireActivity(); err != nil {
		return nil, logicallog.ErrClosed
	}

	pl.mu.Lock()
	if existing, ok := pl.logicalLogs[id]; ok {
		pl.mu.Unlock()
		pl.svc.ReleaseActivity()
		return existing, nil
	}
	pl.mu.Unlock()

	var (
		stream container.Stream
		err    error
	)
	for attempt := 0; attempt < openRetryLimit; attempt++ {
		stream, err = pl.container.OpenStream(ctx, id)
		if err == nil {
			break
		}
		level.Warn(pl.logger).Log("msg", "open logical log stream retrying", "id", id, "attempt", attempt, "err", err)
	}
	if err != nil {
		pl.svc.ReleaseActivity()
		return nil, errors.Wrap(err, "physicallog: open stream failed after retries")
	}

	ll, err := logicallog.Recover(ctx, id, pl.ID, owner.ID, stream, pl.logger, pl.mx)
	if err != nil {
		_ = stream.Close()
		pl.svc.ReleaseActivity()
		return nil, errors.Wrap(err, "physicallog: open logical log (recover) failed")
	}

	pl.mu.Lock()
	if existing, ok := pl.logicalLogs[id]; ok {
		pl.mu.Unlock()
		_ = ll.Close(ctx)
		pl.svc.ReleaseActivity()
		return existing, nil
	}
	pl.logicalLogs[id] = ll
	pl.mu.Unlock()

	pl.mx.AddOpenLogicalLogs(1)
	return ll, nil
}

// OnCloseHandle removes h from the handle table, releases its activity
// token, and closes the wrapper once both tables are empty.
func (pl *PhysicalLog) OnCloseHandle(ctx context.Context, h *Handle) error {
	pl.mu.Lock()
	_, existed := pl.handles[h.ID]
	delete(pl.handles, h.ID)
	empty := len(pl.handles) == 0 && len(pl.logicalLogs) == 0
	pl.mu.Unlock()

	if !existed {
		return ErrNotFound
	}
	pl.mx.AddOpenHandles(-1)
	pl.svc.ReleaseActivity()

	if empty {
		return pl.closeIfUnreferenced(ctx)
	}
	return nil
}

// OnCloseLogicalLog closes and removes the logical log id, releases the
// corresponding activity, and closes the wrapper once both tables are
// empty.
func (pl *PhysicalLog) OnCloseLogicalLog(ctx context.Context, id uuid.UUID) error {
	pl.mu.Lock()
	ll, existed := pl.logicalLogs[id]
	delete(pl.logicalLogs, id)
	pl.usedSize -= pl.streamSizes[id]
	delete(pl.streamSizes, id)
	empty := len(pl.handles) == 0 && len(pl.logicalLogs) == 0
	pl.mu.Unlock()

	if !existed {
		return ErrNotFound
	}
	pl.mx.AddOpenLogicalLogs(-1)
	closeErr := ll.Close(ctx)
	pl.svc.ReleaseActivity()

	if empty {
		if err := pl.closeIfUnreferenced(ctx); err != nil && closeErr == nil {
			closeErr = err
		}
	}
	return closeErr
}

// closeIfUnreferenced re-checks that both tables are still empty (a racing
// GetHandle/OnCreateAndOpenLogicalLog may have repopulated one) and, if so,
// requests this wrapper's close.
func (pl *PhysicalLog) closeIfUnreferenced(ctx context.Context) error {
	pl.mu.Lock()
	stillEmpty := len(pl.handles) == 0 && len(pl.logicalLogs) == 0
	pl.mu.Unlock()
	if !stillEmpty {
		return nil
	}
	return pl.Close(ctx)
}

// Close requests this wrapper's close and waits for the container to be
// closed.
func (pl *PhysicalLog) Close(ctx context.Context) error {
	var closeErr error
	pl.svc.Close(func() {
		pl.mu.Lock()
		logs := make([]*logicallog.LogicalLog, 0, len(pl.logicalLogs))
		for _, ll := range pl.logicalLogs {
			logs = append(logs, ll)
		}
		pl.logicalLogs = make(map[uuid.UUID]*logicallog.LogicalLog)
		pl.mu.Unlock()

		for _, ll := range logs {
			_ = ll.Close(ctx)
		}
		if err := pl.container.Close(); err != nil {
			closeErr = err
			level.Warn(pl.logger).Log("msg", "closing container failed", "physical_log", pl.ID, "err", err)
		}
		pl.mx.AddOpenPhysicalLogs(-1)
		level.Info(pl.logger).Log("msg", "physical log closed", "id", pl.ID)
	})
	return closeErr
}

// IsOpen reports whether this wrapper is open and not yet asked to close.
func (pl *PhysicalLog) IsOpen() bool { return pl.svc.IsOpen() }

// Delete closes this wrapper (if not already closed) and then removes the
// underlying container's on-disk state entirely.
func (pl *PhysicalLog) Delete(ctx context.Context) error {
	if err := pl.Close(ctx); err != nil {
		return err
	}
	return pl.container.Delete(ctx)
}

// LogicalLogIDs returns a defensive snapshot of the ids of every logical
// log currently open against this physical log, for CLI/diagnostic use.
func (pl *PhysicalLog) LogicalLogIDs() []uuid.UUID {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(pl.logicalLogs))
	for id := range pl.logicalLogs {
		ids = append(ids, id)
	}
	return ids
}

// EnumerateStoredLogicalLogIDs lists every logical log stream persisted in
// the underlying container, including ones not currently open against this
// wrapper (spec.md §6.1 "enumerate"). Used by the CLI's ls subcommand.
func (pl *PhysicalLog) EnumerateStoredLogicalLogIDs(ctx context.Context) ([]uuid.UUID, error) {
	return pl.container.EnumerateStreams(ctx)
}

// QueryBuildInformation forwards to the underlying container's build-info
// ioctl (spec.md §6.1), exercised by the CLI's status subcommand.
func (pl *PhysicalLog) QueryBuildInformation(ctx context.Context) (container.BuildInformation, error) {
	return pl.container.QueryCurrentBuildInformation(ctx)
}

// QueryLogUsageInformation forwards to the underlying container's log-usage
// ioctl.
func (pl *PhysicalLog) QueryLogUsageInformation(ctx context.Context) (container.LogUsageInformation, error) {
	return pl.container.QueryCurrentLogUsageInformation(ctx)
}

// QuerySizeInformation forwards to the underlying container's size ioctl.
func (pl *PhysicalLog) QuerySizeInformation(ctx context.Context) (container.SizeInformation, error) {
	return pl.container.QueryLogSizeAndSpaceRemaining(ctx)
}
