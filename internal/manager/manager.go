// Package manager implements the process-wide logical log manager (C6):
// the single entry point that resolves configuration, selects a container
// mode, and owns every physical log opened against this process.
package manager

import (
	"context"
	"sync"

	"github.com/dustin/go-humanize/english"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/liftbridge-io/logicallog/internal/container/inproc"
	"github.com/liftbridge-io/logicallog/internal/lifecycle"
	"github.com/liftbridge-io/logicallog/internal/logicallog"
	"github.com/liftbridge-io/logicallog/internal/metrics"
	"github.com/liftbridge-io/logicallog/internal/physicallog"
)

// Manager is the process-wide singleton for one resolved configuration. It
// owns every physical log opened in this process, keyed by the directory
// (container) id it resolves to.
type Manager struct {
	cfg        Config
	logger     log.Logger
	mx         *metrics.Collector
	svc        *lifecycle.Service
	effective  Mode

	mu           sync.Mutex
	handles      map[uuid.UUID]*Handle
	physicalLogs map[uuid.UUID]*physicallog.PhysicalLog
}

// New constructs and opens a Manager for cfg.
func New(cfg Config, logger log.Logger, mx *metrics.Collector) (*Manager, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if mx == nil {
		mx = metrics.New(nil)
	}
	m := &Manager{
		cfg:          cfg,
		logger:       logger,
		mx:           mx,
		svc:          lifecycle.New(),
		handles:      make(map[uuid.UUID]*Handle),
		physicalLogs: make(map[uuid.UUID]*physicallog.PhysicalLog),
	}

	switch cfg.Mode {
	case OutOfProc:
		level.Warn(m.logger).Log("msg", "outofproc driver not loaded, downgrading to inproc")
		m.effective = InProc
	case InProc:
		m.effective = InProc
	default:
		m.effective = InProc
	}

	if err := m.svc.Open(nil); err != nil {
		return nil, err
	}
	level.Info(m.logger).Log("msg", "manager opened", "mode", m.effective)
	return m, nil
}

// Mode returns the effective container mode this Manager resolved to.
func (m *Manager) Mode() Mode { return m.effective }

// GetHandle allocates a new Handle scoped to replicaID/workDir, acquiring a
// manager-level activity token (the first of spec.md §5's three distinct
// tokens).
func (m *Manager) GetHandle(replicaID uuid.UUID, workDir string) (*Handle, error) {
	if err := m.svc.TryAcquireActivity(); err != nil {
		return nil, logicallog.ErrClosed
	}
	h := &Handle{ID: uuid.New(), ReplicaID: replicaID, WorkDir: workDir, mgr: m}
	m.mu.Lock()
	m.handles[h.ID] = h
	m.mu.Unlock()
	return h, nil
}

func (m *Manager) closeHandle(h *Handle) error {
	m.mu.Lock()
	_, existed := m.handles[h.ID]
	delete(m.handles, h.ID)
	m.mu.Unlock()
	if !existed {
		return errors.New("manager: no such open handle")
	}
	m.svc.ReleaseActivity()
	return nil
}

// openOrCreatePhysicalLog implements the compound open sequence spec.md
// §4.6 describes: create container -> build wrapper -> open wrapper ->
// insert in map -> acquire handle, with an explicit rollback ladder on any
// failure. create controls whether the container directory is expected to
// be pre-existing; the in-process binding is idempotent either way, so
// this only affects logging/semantics, not the container call itself.
func (m *Manager) openOrCreatePhysicalLog(ctx context.Context, resolvedID uuid.UUID, dir string, create bool, maxSize int64, maxStreams int) (*physicallog.PhysicalLog, error) {
	m.mu.Lock()
	if pl, ok := m.physicalLogs[resolvedID]; ok {
		m.mu.Unlock()
		return pl, nil
	}
	m.mu.Unlock()

	c, err := inproc.Open(dir)
	if err != nil {
		return nil, errors.Wrap(err, "manager: open container failed")
	}

	pl, err := physicallog.Open(resolvedID, c, maxSize, maxStreams, m.logger, m.mx)
	if err != nil {
		_ = c.Close()
		return nil, errors.Wrap(err, "manager: open physical log wrapper failed")
	}

	m.mu.Lock()
	if existing, ok := m.physicalLogs[resolvedID]; ok {
		m.mu.Unlock()
		_ = pl.Close(ctx)
		return existing, nil
	}
	m.physicalLogs[resolvedID] = pl
	m.mu.Unlock()

	verb := "opened"
	if create {
		verb = "created"
	}
	level.Info(m.logger).Log("msg", "physical log "+verb, "id", resolvedID, "dir", dir)
	return pl, nil
}

// CreateAndOpenPhysicalLog creates (or reuses) the physical log bound to
// id and returns a physicallog.Handle against it. If acquiring that handle
// fails because the wrapper is already closing, the wrapper is dropped from
// the manager's table; nothing is closed or deleted here.
func (m *Manager) CreateAndOpenPhysicalLog(ctx context.Context, h *Handle, id uuid.UUID, maxSize int64, maxStreams int) (*physicallog.Handle, error) {
	return m.openPhysicalLogHandle(ctx, h, id, true, maxSize, maxStreams)
}

// OpenPhysicalLog opens the physical log bound to id. It does not check
// that the container already exists: the in-process binding creates an
// empty container directory when there is none, exactly as
// CreateAndOpenPhysicalLog does, and only the log message differs.
func (m *Manager) OpenPhysicalLog(ctx context.Context, h *Handle, id uuid.UUID) (*physicallog.Handle, error) {
	return m.openPhysicalLogHandle(ctx, h, id, false, 0, 0)
}

// CreateAndOpenDefaultPhysicalLog creates/opens the per-replica staging log
// that spec.md §4.6 redirects default-shared-log requests to.
func (m *Manager) CreateAndOpenDefaultPhysicalLog(ctx context.Context, h *Handle) (*physicallog.Handle, error) {
	return m.openPhysicalLogHandle(ctx, h, DefaultApplicationSharedLogID, true, 0, 0)
}

// OpenDefaultPhysicalLog opens the per-replica staging log; like
// OpenPhysicalLog, it creates an empty container if none exists yet.
func (m *Manager) OpenDefaultPhysicalLog(ctx context.Context, h *Handle) (*physicallog.Handle, error) {
	return m.openPhysicalLogHandle(ctx, h, DefaultApplicationSharedLogID, false, 0, 0)
}

// openPhysicalLogHandle resolves id to a directory and opens/creates the
// physical log bound to it, enforcing maxSize/maxStreams caps. When id
// resolves through the staging redirect, resolvePhysicalLogDir's own
// stagingLogSize/stagingMaxStreams values take precedence over whatever
// the caller passed in, since CreateAndOpenDefaultPhysicalLog does not
// even expose cap parameters to its caller.
func (m *Manager) openPhysicalLogHandle(ctx context.Context, h *Handle, id uuid.UUID, create bool, maxSize int64, maxStreams int) (*physicallog.Handle, error) {
	if err := m.svc.TryAcquireActivity(); err != nil {
		return nil, logicallog.ErrClosed
	}
	defer m.svc.ReleaseActivity()

	resolvedID, dir, forcedSize, forcedStreams, err := h.resolvePhysicalLogDir(id)
	if err != nil {
		return nil, err
	}
	if forcedSize != 0 || forcedStreams != 0 {
		maxSize, maxStreams = forcedSize, forcedStreams
	}

	pl, err := m.openOrCreatePhysicalLog(ctx, resolvedID, dir, create, maxSize, maxStreams)
	if err != nil {
		return nil, err
	}

	plHandle, err := pl.GetHandle(h.ReplicaID)
	if err != nil {
		// GetHandle only fails once the wrapper is closing or closed, so
		// there is nothing left to close here: drop a no-longer-open
		// wrapper from the table so the next call opens a fresh one.
		m.mu.Lock()
		_, stillTracked := m.physicalLogs[resolvedID]
		m.mu.Unlock()
		if stillTracked && !pl.IsOpen() {
			m.mu.Lock()
			delete(m.physicalLogs, resolvedID)
			m.mu.Unlock()
		}
		return nil, errors.Wrap(err, "manager: acquire physical log handle failed")
	}
	return plHandle, nil
}

// DeletePhysicalLog closes the physical log bound to id and removes it from
// the manager's table, then deletes its on-disk state. Close blocks until
// every handle/logical log still open against it has been released; it
// does not forcibly evict them, so callers must close their own handles
// first or this will block indefinitely.
func (m *Manager) DeletePhysicalLog(ctx context.Context, h *Handle, id uuid.UUID) error {
	return m.deletePhysicalLog(ctx, h, id)
}

// DeleteDefaultPhysicalLog deletes the per-replica staging log.
func (m *Manager) DeleteDefaultPhysicalLog(ctx context.Context, h *Handle) error {
	return m.deletePhysicalLog(ctx, h, DefaultApplicationSharedLogID)
}

func (m *Manager) deletePhysicalLog(ctx context.Context, h *Handle, id uuid.UUID) error {
	resolvedID, _, _, _, err := h.resolvePhysicalLogDir(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	pl, ok := m.physicalLogs[resolvedID]
	m.mu.Unlock()
	if !ok {
		return errors.Errorf("manager: no open physical log for id %s", resolvedID)
	}
	if err := pl.Delete(ctx); err != nil {
		return errors.Wrap(err, "manager: delete physical log failed")
	}

	m.mu.Lock()
	delete(m.physicalLogs, resolvedID)
	count := len(m.physicalLogs)
	m.mu.Unlock()

	level.Info(m.logger).Log("msg", "physical log deleted", "id", resolvedID,
		"remaining", english.Plural(count, "physical log", ""))
	return nil
}

// Close requests this Manager's close, closing every physical log it still
// tracks.
func (m *Manager) Close(ctx context.Context) error {
	var firstErr error
	m.svc.Close(func() {
		m.mu.Lock()
		logs := make([]*physicallog.PhysicalLog, 0, len(m.physicalLogs))
		for _, pl := range m.physicalLogs {
			logs = append(logs, pl)
		}
		m.physicalLogs = make(map[uuid.UUID]*physicallog.PhysicalLog)
		m.mu.Unlock()

		for _, pl := range logs {
			if err := pl.Close(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		level.Info(m.logger).Log("msg", "manager closed")
	})
	return firstErr
}

// IsOpen reports whether the manager is open and not yet asked to close.
func (m *Manager) IsOpen() bool { return m.svc.IsOpen() }

// OpenContainers returns a defensive snapshot of the currently open
// physical log ids, for CLI/diagnostic use.
func (m *Manager) OpenContainers() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(m.physicalLogs))
	for id := range m.physicalLogs {
		ids = append(ids, id)
	}
	return ids
}

// PhysicalLog returns the tracked PhysicalLog for id, if open.
func (m *Manager) PhysicalLog(id uuid.UUID) (*physicallog.PhysicalLog, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pl, ok := m.physicalLogs[id]
	return pl, ok
}
