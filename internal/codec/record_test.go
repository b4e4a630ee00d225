package codec

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestWriteSealReadRoundTrip(t *testing.T) {
	streamID := uuid.New()
	buf, err := OpenWrite(MetadataBlockSize, MetadataBlockSize*4, 0, 1, streamID)
	require.NoError(t, err)

	payload := make([]byte, inlineCapacity+MetadataBlockSize+37)
	for i := range payload {
		payload[i] = byte((i*i + i) % 255)
	}

	n, err := buf.Put(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	result, err := buf.SealForWrite(-1, true)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.ASN)
	require.Equal(t, int64(1), result.Op)
	require.Equal(t, int64(len(payload)), result.UserDataSize)
	require.NotEmpty(t, result.Extent)

	read, err := OpenRead(MetadataBlockSize, 0, result.MetadataBlock, result.Extent)
	require.NoError(t, err)
	require.True(t, read.Header().IsSealed())
	require.True(t, MetadataBlockHeader{Flags: FlagEndOfLogicalRecord}.IsBarrier())

	got := make([]byte, len(payload))
	total := 0
	for total < len(got) {
		n, err := read.Get(got[total:])
		require.NoError(t, err)
		if n == 0 {
			break
		}
		total += n
	}
	require.Equal(t, len(payload), total)
	require.Equal(t, payload, got)
}

func TestSealIsInlineOnlyWhenItFits(t *testing.T) {
	buf, err := OpenWrite(MetadataBlockSize, MetadataBlockSize*4, 10, 1, uuid.New())
	require.NoError(t, err)
	_, err = buf.Put([]byte("hello world"))
	require.NoError(t, err)
	result, err := buf.SealForWrite(-1, false)
	require.NoError(t, err)
	require.Empty(t, result.Extent)
	require.Equal(t, int64(11), result.ASN-0) // ASN = streamPosition+1 = 11
}

func TestPutAfterSealIsRejected(t *testing.T) {
	buf, err := OpenWrite(MetadataBlockSize, MetadataBlockSize*4, 0, 1, uuid.New())
	require.NoError(t, err)
	_, err = buf.SealForWrite(-1, false)
	require.NoError(t, err)
	_, err = buf.Put([]byte("x"))
	require.ErrorIs(t, err, ErrSealed)
}

func TestReadDetectsBitFlip(t *testing.T) {
	buf, err := OpenWrite(MetadataBlockSize, MetadataBlockSize*4, 0, 1, uuid.New())
	require.NoError(t, err)
	_, err = buf.Put([]byte("some payload bytes"))
	require.NoError(t, err)
	result, err := buf.SealForWrite(-1, false)
	require.NoError(t, err)

	corrupted := append([]byte(nil), result.MetadataBlock...)
	corrupted[offsetToData] ^= 0xFF

	_, err = OpenRead(MetadataBlockSize, 0, corrupted, result.Extent)
	require.ErrorIs(t, err, ErrDataIntegrity)
}

func TestPutShortWriteOnCapacityExceeded(t *testing.T) {
	buf, err := OpenWrite(MetadataBlockSize, MetadataBlockSize*2, 0, 1, uuid.New())
	require.NoError(t, err)
	huge := make([]byte, MetadataBlockSize*4)
	n, err := buf.Put(huge)
	require.NoError(t, err)
	require.Less(t, n, len(huge))
	require.Equal(t, int(buf.remainingCapacity()), 0)
}

func TestIntersects(t *testing.T) {
	buf, err := OpenWrite(MetadataBlockSize, MetadataBlockSize*4, 100, 1, uuid.New())
	require.NoError(t, err)
	_, err = buf.Put([]byte("0123456789"))
	require.NoError(t, err)
	result, err := buf.SealForWrite(-1, false)
	require.NoError(t, err)
	read, err := OpenRead(MetadataBlockSize, 100, result.MetadataBlock, result.Extent)
	require.NoError(t, err)
	require.True(t, read.Intersects(105, 1))
	require.False(t, read.Intersects(111, 1))
}
