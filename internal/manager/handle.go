package manager

import (
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/liftbridge-io/logicallog/internal/logicallog"
)

// maxPathLength bounds the length of any path the manager builds before it
// is handed to a container call, matching the original's
// ValidateLogicalLogPath precheck (spec.md §4 supplement).
const maxPathLength = 259

const stagingLogFileName = "shared.stglog"

// Handle is one consumer's open reference to the Manager (spec.md §4.6
// "get_handle"), the first of the three distinct activity tokens spec.md
// §5 describes.
type Handle struct {
	ID        uuid.UUID
	ReplicaID uuid.UUID
	WorkDir   string

	mgr *Manager
}

// Close releases this handle's manager-level activity token.
func (h *Handle) Close() error {
	return h.mgr.closeHandle(h)
}

// resolvePhysicalLogDir returns the on-disk directory a physical log id
// should bind to, redirecting the well-known default application shared
// log id to this handle's staging log path (spec.md §4.6). It validates
// the resulting path length before any container call is attempted.
func (h *Handle) resolvePhysicalLogDir(id uuid.UUID) (resolvedID uuid.UUID, dir string, maxSize int64, maxStreams int, err error) {
	if id == DefaultApplicationSharedLogID {
		dir = filepath.Join(h.WorkDir, "staging", h.ReplicaID.String())
		if len(dir) > maxPathLength {
			return uuid.UUID{}, "", 0, 0, errors.Wrapf(logicallog.ErrInvalidArgument,
				"manager: staging log path exceeds %d characters: %q", maxPathLength, dir)
		}
		return stagingLogID(h.ReplicaID), filepath.Join(dir, stagingLogFileName), stagingLogSize, stagingMaxStreams, nil
	}

	dir = filepath.Join(h.WorkDir, id.String())
	if len(dir) > maxPathLength {
		return uuid.UUID{}, "", 0, 0, errors.Wrapf(logicallog.ErrInvalidArgument,
			"manager: physical log path exceeds %d characters: %q", maxPathLength, dir)
	}
	return id, dir, 0, 0, nil
}

// stagingLogID derives a stable per-replica physical log id for the
// staging log, so repeated lookups for the same replica resolve to the
// same map entry in Manager.physicalLogs.
func stagingLogID(replicaID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, append([]byte("staging-log:"), replicaID[:]...))
}
