package manager

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/liftbridge-io/logicallog/internal/physicallog"
)

func TestOutOfProcDowngradesToInProc(t *testing.T) {
	m, err := New(Config{Mode: OutOfProc}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, InProc, m.Mode())
}

func TestCreateAndOpenPhysicalLogThenReopenSharesWrapper(t *testing.T) {
	m, err := New(Config{Mode: InProc}, nil, nil)
	require.NoError(t, err)
	defer m.Close(context.Background())

	h, err := m.GetHandle(uuid.New(), t.TempDir())
	require.NoError(t, err)

	id := uuid.New()
	plHandle, err := m.CreateAndOpenPhysicalLog(context.Background(), h, id, 1<<20, 16)
	require.NoError(t, err)
	require.NotNil(t, plHandle)

	plHandle2, err := m.OpenPhysicalLog(context.Background(), h, id)
	require.NoError(t, err)
	require.NotNil(t, plHandle2)

	require.Len(t, m.OpenContainers(), 1)
}

func TestDefaultSharedLogRedirectsToStagingPath(t *testing.T) {
	m, err := New(Config{Mode: InProc}, nil, nil)
	require.NoError(t, err)
	defer m.Close(context.Background())

	replicaID := uuid.New()
	h, err := m.GetHandle(replicaID, t.TempDir())
	require.NoError(t, err)

	plHandle, err := m.CreateAndOpenDefaultPhysicalLog(context.Background(), h)
	require.NoError(t, err)
	require.NotNil(t, plHandle)

	_, dir, maxSize, maxStreams, err := h.resolvePhysicalLogDir(DefaultApplicationSharedLogID)
	require.NoError(t, err)
	require.Contains(t, dir, "staging")
	require.Equal(t, int64(stagingLogSize), maxSize)
	require.Equal(t, stagingMaxStreams, maxStreams)
}

func TestDeletePhysicalLogRemovesFromManager(t *testing.T) {
	m, err := New(Config{Mode: InProc}, nil, nil)
	require.NoError(t, err)
	defer m.Close(context.Background())

	h, err := m.GetHandle(uuid.New(), t.TempDir())
	require.NoError(t, err)

	id := uuid.New()
	_, err = m.CreateAndOpenPhysicalLog(context.Background(), h, id, 1<<20, 16)
	require.NoError(t, err)

	require.NoError(t, m.DeletePhysicalLog(context.Background(), h, id))
	require.Empty(t, m.OpenContainers())
}

func TestCreateAndOpenPhysicalLogEnforcesMaxStreamsCap(t *testing.T) {
	m, err := New(Config{Mode: InProc}, nil, nil)
	require.NoError(t, err)
	defer m.Close(context.Background())

	h, err := m.GetHandle(uuid.New(), t.TempDir())
	require.NoError(t, err)

	plHandle, err := m.CreateAndOpenPhysicalLog(context.Background(), h, uuid.New(), 0, 1)
	require.NoError(t, err)

	_, err = plHandle.PhysicalLog().OnCreateAndOpenLogicalLog(context.Background(), plHandle, uuid.New(), "", 1<<20, 16384)
	require.NoError(t, err)

	_, err = plHandle.PhysicalLog().OnCreateAndOpenLogicalLog(context.Background(), plHandle, uuid.New(), "", 1<<20, 16384)
	require.ErrorIs(t, err, physicallog.ErrCapacityExceeded)
}

func TestPathLengthValidationRejectsOverlongWorkDir(t *testing.T) {
	m, err := New(Config{Mode: InProc}, nil, nil)
	require.NoError(t, err)
	defer m.Close(context.Background())

	longDir := "/" + strings.Repeat("x", maxPathLength)
	h, err := m.GetHandle(uuid.New(), longDir)
	require.NoError(t, err)

	_, err = m.CreateAndOpenPhysicalLog(context.Background(), h, uuid.New(), 1<<20, 16)
	require.Error(t, err)
}
