package inproc

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/liftbridge-io/logicallog/internal/codec"
	"github.com/liftbridge-io/logicallog/internal/container"
)

// sealedRecord builds one sealed record starting at 0-based stream position
// pos, carrying payload as its entire body.
func sealedRecord(t *testing.T, streamID uuid.UUID, pos int64, op int64, payload []byte) codec.SealResult {
	t.Helper()
	buf, err := codec.OpenWrite(codec.MetadataBlockSize, testMaxBlockSize, pos, op, streamID)
	require.NoError(t, err)
	_, err = buf.Put(payload)
	require.NoError(t, err)
	result, err := buf.SealForWrite(-1, false)
	require.NoError(t, err)
	return result
}

func writeSealed(t *testing.T, s container.Stream, result codec.SealResult) {
	t.Helper()
	_, err := s.Write(context.Background(), result.ASN, result.Op, -1, result.MetadataBlock, result.Extent)
	require.NoError(t, err)
}

func TestMultiRecordReadSpansSeveralRecords(t *testing.T) {
	ctx := context.Background()
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	id := uuid.New()
	s, err := c.CreateStream(ctx, id, "", 1<<20, testMaxBlockSize)
	require.NoError(t, err)
	defer s.Close()

	first := []byte("first record payload")
	second := []byte("second record payload, a bit longer")
	third := []byte("third")

	r1 := sealedRecord(t, id, 0, 1, first)
	writeSealed(t, s, r1)
	r2 := sealedRecord(t, id, int64(len(first)), 2, second)
	writeSealed(t, s, r2)
	r3 := sealedRecord(t, id, int64(len(first)+len(second)), 3, third)
	writeSealed(t, s, r3)

	recs, err := s.MultiRecordRead(ctx, 1, 1<<20)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, r1.ASN, recs[0].ASN)
	require.Equal(t, r2.ASN, recs[1].ASN)
	require.Equal(t, r3.ASN, recs[2].ASN)

	tail, err := s.QueryTailAsnAndHighestOperation(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), tail.HighestOperationID)
	require.Equal(t, int64(len(first)+len(second)+len(third)+1), tail.TailASN)
}

func TestTruncateRecordsHeadPointOnly(t *testing.T) {
	ctx := context.Background()
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	id := uuid.New()
	s, err := c.CreateStream(ctx, id, "", 1<<20, testMaxBlockSize)
	require.NoError(t, err)
	defer s.Close()

	payload := []byte("some bytes")
	r := sealedRecord(t, id, 0, 1, payload)
	writeSealed(t, s, r)

	require.NoError(t, s.Truncate(ctx, 5, 0))

	// Truncate only records the diagnostic head point; the record is still
	// physically present and readable.
	_, err = s.ReadContaining(ctx, 1)
	require.NoError(t, err)
}

func TestSetEndOfFileDiscardsTrailingRecords(t *testing.T) {
	ctx := context.Background()
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	id := uuid.New()
	s, err := c.CreateStream(ctx, id, "", 1<<20, testMaxBlockSize)
	require.NoError(t, err)
	defer s.Close()

	first := []byte("keep me")
	second := []byte("drop me")

	r1 := sealedRecord(t, id, 0, 1, first)
	writeSealed(t, s, r1)
	r2 := sealedRecord(t, id, int64(len(first)), 2, second)
	writeSealed(t, s, r2)

	require.NoError(t, s.SetEndOfFile(ctx, r2.ASN))

	recs, err := s.MultiRecordRead(ctx, 1, 1<<20)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, r1.ASN, recs[0].ASN)

	tail, err := s.QueryTailAsnAndHighestOperation(ctx)
	require.NoError(t, err)
	require.Equal(t, r1.ASN, tail.TailASN-int64(len(first)))
}

func TestSetFileSizeTruncatesUnderlyingFile(t *testing.T) {
	ctx := context.Background()
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	id := uuid.New()
	s, err := c.CreateStream(ctx, id, "", 1<<20, testMaxBlockSize)
	require.NoError(t, err)
	defer s.Close()

	r := sealedRecord(t, id, 0, 1, []byte("payload"))
	writeSealed(t, s, r)

	require.NoError(t, s.SetFileSize(ctx, 0))
}
