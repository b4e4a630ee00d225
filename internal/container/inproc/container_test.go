package inproc

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/liftbridge-io/logicallog/internal/codec"
)

const testMaxBlockSize = 4096 * 4

func TestCreateOpenDeleteStream(t *testing.T) {
	ctx := context.Background()
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	id := uuid.New()
	s, err := c.CreateStream(ctx, id, "", 1<<20, testMaxBlockSize)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = c.CreateStream(ctx, id, "", 1<<20, testMaxBlockSize)
	require.Error(t, err)

	reopened, err := c.OpenStream(ctx, id)
	require.NoError(t, err)
	require.NoError(t, reopened.Close())

	require.NoError(t, c.DeleteStream(ctx, id))
	_, err = c.OpenStream(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAliasAssignResolveRemovePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)

	id := uuid.New()
	_, err = c.CreateStream(ctx, id, "primary", 1<<20, testMaxBlockSize)
	require.NoError(t, err)

	got, ok, err := c.ResolveAlias(ctx, "primary")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, got)

	require.NoError(t, c.Close())

	// Reopening the same directory must reload the alias table from disk.
	c2, err := Open(dir)
	require.NoError(t, err)
	got2, ok, err := c2.ResolveAlias(ctx, "primary")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, got2)

	require.NoError(t, c2.RemoveAlias(ctx, "primary"))
	_, ok, err = c2.ResolveAlias(ctx, "primary")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEnumerateStreamsListsOnlyDataFiles(t *testing.T) {
	ctx := context.Background()
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	first, err := c.CreateStream(ctx, uuid.New(), "", 1<<20, testMaxBlockSize)
	require.NoError(t, err)
	defer first.Close()
	second, err := c.CreateStream(ctx, uuid.New(), "alias", 1<<20, testMaxBlockSize)
	require.NoError(t, err)
	defer second.Close()

	ids, err := c.EnumerateStreams(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 2)
}

func TestDeleteRemovesContainerDirectory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)

	id := uuid.New()
	s, err := c.CreateStream(ctx, id, "", 1<<20, testMaxBlockSize)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.NoError(t, c.Close())
	require.NoError(t, c.Delete(ctx))

	_, err = Open(dir)
	require.NoError(t, err) // Open recreates an empty directory; Delete doesn't leave it unusable.

	ids, err := c.EnumerateStreams(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestStreamWriteAndReadContaining(t *testing.T) {
	ctx := context.Background()
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	id := uuid.New()
	s, err := c.CreateStream(ctx, id, "", 1<<20, testMaxBlockSize)
	require.NoError(t, err)
	defer s.Close()

	buf, err := codec.OpenWrite(codec.MetadataBlockSize, testMaxBlockSize, 0, 1, id)
	require.NoError(t, err)
	payload := []byte("payload bytes for the container write path")
	_, err = buf.Put(payload)
	require.NoError(t, err)
	result, err := buf.SealForWrite(-1, false)
	require.NoError(t, err)

	_, err = s.Write(ctx, result.ASN, result.Op, -1, result.MetadataBlock, result.Extent)
	require.NoError(t, err)

	rec, err := s.ReadContaining(ctx, 1)
	require.NoError(t, err)
	hdr, err := codec.OpenRead(codec.MetadataBlockSize, 0, rec.Metadata, rec.Extent)
	require.NoError(t, err)
	got := make([]byte, len(payload))
	n, err := hdr.Get(got)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, got)

	tail, err := s.QueryTailAsnAndHighestOperation(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), tail.HighestOperationID)
	require.Equal(t, int64(len(payload)+1), tail.TailASN)
}
