// Package codec implements the block-formatted record codec (C1): it frames
// a logical-log record's metadata and payload across a fixed-size metadata
// block and a page-aligned data extent, and computes/verifies the CRCs that
// protect both.
//
// On disk, StreamOffset is a 1-based application stream number (ASN); in
// memory, stream positions are 0-based. OpenWrite, OpenRead and
// BasePosition convert between the two here; code that addresses the
// container by ASN directly (the logical log engine, the read-ahead task,
// the in-process container) applies the same +1/-1 at its own call sites.
package codec

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MetadataBlockSize is the fixed size M of the metadata block, in bytes.
const MetadataBlockSize = 4096

// Signature identifies a valid stream block header. It has no particular
// meaning beyond distinguishing a real header from zeroed/garbage bytes.
const Signature uint64 = 0x4c4f47424c4f434b // "LOGBLOCK"

// FlagEndOfLogicalRecord marks a record as a barrier: a demarcation of a
// flush/truncate boundary.
const FlagEndOfLogicalRecord uint32 = 1 << 0

const (
	metadataBlockHeaderSize = 4 + 4 // Flags, OffsetToStreamHeader
	streamBlockHeaderSize   = 8 + 16 + 8 + 8 + 8 + 4 + 4 + 8 + 8
)

// ErrSealed is returned by Put once a buffer has been sealed; sealing is
// idempotent-unsafe and the caller must allocate a new buffer instead of
// reusing this one.
var ErrSealed = errors.New("codec: buffer already sealed for write")

// ErrDataIntegrity is returned by OpenRead when a header CRC, payload CRC,
// or stream offset check fails on readback.
var ErrDataIntegrity = errors.New("codec: data integrity check failed on readback")

// ErrShortRead is available for callers to signal that fewer bytes were
// available than requested; Get itself never returns it (it reports a short
// read through its byte count alone).
var ErrShortRead = errors.New("codec: short read")

// MetadataBlockHeader is the first, reserved-region-adjacent header in every
// metadata block.
type MetadataBlockHeader struct {
	Flags                uint32
	OffsetToStreamHeader uint32
}

// IsBarrier reports whether the IsEndOfLogicalRecord flag is set.
func (h MetadataBlockHeader) IsBarrier() bool { return h.Flags&FlagEndOfLogicalRecord != 0 }

// StreamBlockHeader is the per-record header that identifies the owning
// stream and the record's place within it. Field order is fixed: it is
// marshalled byte-for-byte in this order, native little-endian, matching
// spec.md §6.2.
type StreamBlockHeader struct {
	Signature           uint64
	StreamID            uuid.UUID
	StreamOffset        int64 // 1-based ASN
	HighestOperationID  int64
	HeadTruncationPoint int64
	DataSize            uint32
	Reserved            uint32
	HeaderCRC64         uint64
	DataCRC64           uint64
}

// IsSealed reports whether the record has been sealed for write (a non-zero
// HeaderCRC64 is the on-disk marker of sealing).
func (h StreamBlockHeader) IsSealed() bool { return h.HeaderCRC64 != 0 }

// BasePosition returns the 0-based stream position of the first payload
// byte, i.e. StreamOffset - 1.
func (h StreamBlockHeader) BasePosition() int64 { return h.StreamOffset - 1 }

// reservedBytes is the number of leading bytes of the metadata block set
// aside for the physical log container; this module's in-process container
// (internal/container/inproc) does not use any out-of-band metadata region,
// so it is zero here, but the offset math is still expressed in terms of it
// so a future container binding with a non-zero reservation only has to
// change this constant.
const reservedBytes = 0

const offsetToStreamHeader = reservedBytes + metadataBlockHeaderSize
const offsetToData = offsetToStreamHeader + streamBlockHeaderSize

// inlineCapacity is the number of payload bytes that fit directly in the
// metadata block, after both headers.
const inlineCapacity = MetadataBlockSize - offsetToData

// RecordOverhead is the fixed per-flush overhead charged against
// max_block_size: the metadata block header, stream block header, and
// reserved region together.
const RecordOverhead = offsetToData

// Buffer is a single open record: either a write buffer accumulating a
// record's payload, or a read buffer parsed from an on-disk record. Exactly
// one Buffer exists per LogicalLog write path at a time (spec.md §3).
type Buffer struct {
	metaHeader   MetadataBlockHeader
	streamHeader StreamBlockHeader

	metadata []byte // fixed MetadataBlockSize bytes
	extent   []byte // page-aligned data extent, may grow up to maxBlockSize-MetadataBlockSize

	maxBlockSize uint32
	position     int64 // bytes written/read relative to offsetToData
	sealed       bool
}

// OpenWrite allocates a fresh write buffer anchored at stream position
// streamPosition (0-based) with the given operation number. maxBlockSize is
// the total size of metadata block + data extent; blockMetadataSize must
// equal MetadataBlockSize (the container is queried for it at open time so
// a future container could, in principle, report something else, but this
// codec only implements the fixed 4096-byte block).
func OpenWrite(blockMetadataSize, maxBlockSize uint32, streamPosition, opNumber int64, streamID uuid.UUID) (*Buffer, error) {
	if blockMetadataSize != MetadataBlockSize {
		return nil, errors.Errorf("codec: unsupported metadata block size %d", blockMetadataSize)
	}
	if maxBlockSize <= MetadataBlockSize {
		return nil, errors.Errorf("codec: max block size %d must exceed metadata block size", maxBlockSize)
	}
	b := &Buffer{
		maxBlockSize: maxBlockSize,
		metadata:     make([]byte, MetadataBlockSize),
	}
	b.metaHeader = MetadataBlockHeader{OffsetToStreamHeader: offsetToStreamHeader}
	b.streamHeader = StreamBlockHeader{
		Signature:          Signature,
		StreamID:           streamID,
		StreamOffset:       streamPosition + 1,
		HighestOperationID: opNumber,
	}
	return b, nil
}

// Put copies up to len(p) bytes into the buffer, bounded by remaining
// capacity. It never blocks and never spills: a short write means the
// buffer is full and the caller must flush and reopen. Put must not be
// called on a sealed buffer.
func (b *Buffer) Put(p []byte) (n int, err error) {
	if b.sealed {
		return 0, ErrSealed
	}
	remaining := b.remainingCapacity()
	if remaining <= 0 {
		return 0, nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n = len(p)
	if n == 0 {
		return 0, nil
	}
	if b.position < inlineCapacity {
		room := inlineCapacity - b.position
		head := n
		if int64(head) > room {
			head = int(room)
		}
		copy(b.metadata[offsetToData+b.position:], p[:head])
		if head < n {
			b.growExtent(int64(n - head))
			copy(b.extent[:], p[head:])
		}
	} else {
		extentOffset := b.position - inlineCapacity
		b.growExtent(extentOffset + int64(n))
		copy(b.extent[extentOffset:], p)
	}
	b.position += int64(n)
	return n, nil
}

func (b *Buffer) remainingCapacity() int64 {
	total := int64(b.maxBlockSize) - offsetToData
	return total - b.position
}

func (b *Buffer) growExtent(minLen int64) {
	if int64(len(b.extent)) >= minLen {
		return
	}
	grown := make([]byte, minLen)
	copy(grown, b.extent)
	b.extent = grown
}

// SealResult carries the physical-log write descriptor produced by
// SealForWrite.
type SealResult struct {
	MetadataBlock []byte
	Extent        []byte // nil/empty when the record fits entirely inline
	UserDataSize  int64
	ASN           int64 // 1-based StreamOffset of the record's first byte
	Op            int64
}

// SealForWrite finalizes DataSize, HeadTruncationPoint and the barrier flag,
// computes PayloadCRC64 over exactly DataSize bytes walked across the
// inline/extent boundary, computes HeaderCRC64, and trims the extent view
// to a multiple of MetadataBlockSize. After this call the buffer must not
// be reused for further Put calls (ErrSealed).
func (b *Buffer) SealForWrite(headTruncationPoint int64, isBarrier bool) (SealResult, error) {
	if b.sealed {
		return SealResult{}, ErrSealed
	}
	b.streamHeader.DataSize = uint32(b.position)
	b.streamHeader.HeadTruncationPoint = headTruncationPoint
	if isBarrier {
		b.metaHeader.Flags |= FlagEndOfLogicalRecord
	}

	payload := b.payloadBytes()
	b.streamHeader.DataCRC64 = crc64Of(payload)

	overflow := b.position - inlineCapacity
	var extentOut []byte
	if overflow > 0 {
		extentLen := roundUp(overflow, MetadataBlockSize)
		b.growExtent(extentLen)
		extentOut = b.extent[:extentLen]
	}

	b.streamHeader.HeaderCRC64 = 0
	headerBytes := b.marshalStreamHeaderBytes()
	b.streamHeader.HeaderCRC64 = crc64Of(headerBytes)
	b.marshalHeaders()

	b.sealed = true

	return SealResult{
		MetadataBlock: b.metadata,
		Extent:        extentOut,
		UserDataSize:  b.position,
		ASN:           b.streamHeader.StreamOffset,
		Op:            b.streamHeader.HighestOperationID,
	}, nil
}

// payloadBytes returns the written payload as one contiguous (copied) slice,
// walking the inline/extent boundary.
func (b *Buffer) payloadBytes() []byte {
	out := make([]byte, b.position)
	inlineN := b.position
	if inlineN > inlineCapacity {
		inlineN = inlineCapacity
	}
	copy(out[:inlineN], b.metadata[offsetToData:offsetToData+inlineN])
	if b.position > inlineCapacity {
		copy(out[inlineN:], b.extent[:b.position-inlineCapacity])
	}
	return out
}

func (b *Buffer) marshalHeaders() {
	binary.LittleEndian.PutUint32(b.metadata[reservedBytes+0:], b.metaHeader.Flags)
	binary.LittleEndian.PutUint32(b.metadata[reservedBytes+4:], b.metaHeader.OffsetToStreamHeader)
	copy(b.metadata[offsetToStreamHeader:], b.marshalStreamHeaderBytes())
}

func (b *Buffer) marshalStreamHeaderBytes() []byte {
	buf := make([]byte, streamBlockHeaderSize)
	o := 0
	binary.LittleEndian.PutUint64(buf[o:], b.streamHeader.Signature)
	o += 8
	idBytes, _ := b.streamHeader.StreamID.MarshalBinary()
	copy(buf[o:], idBytes)
	o += 16
	binary.LittleEndian.PutUint64(buf[o:], uint64(b.streamHeader.StreamOffset))
	o += 8
	binary.LittleEndian.PutUint64(buf[o:], uint64(b.streamHeader.HighestOperationID))
	o += 8
	binary.LittleEndian.PutUint64(buf[o:], uint64(b.streamHeader.HeadTruncationPoint))
	o += 8
	binary.LittleEndian.PutUint32(buf[o:], b.streamHeader.DataSize)
	o += 4
	binary.LittleEndian.PutUint32(buf[o:], b.streamHeader.Reserved)
	o += 4
	binary.LittleEndian.PutUint64(buf[o:], b.streamHeader.HeaderCRC64)
	o += 8
	binary.LittleEndian.PutUint64(buf[o:], b.streamHeader.DataCRC64)
	return buf
}

func unmarshalStreamHeader(buf []byte) (StreamBlockHeader, error) {
	if len(buf) < streamBlockHeaderSize {
		return StreamBlockHeader{}, errors.New("codec: truncated stream block header")
	}
	var h StreamBlockHeader
	o := 0
	h.Signature = binary.LittleEndian.Uint64(buf[o:])
	o += 8
	id, err := uuid.FromBytes(buf[o : o+16])
	if err != nil {
		return StreamBlockHeader{}, errors.Wrap(err, "codec: invalid stream id")
	}
	h.StreamID = id
	o += 16
	h.StreamOffset = int64(binary.LittleEndian.Uint64(buf[o:]))
	o += 8
	h.HighestOperationID = int64(binary.LittleEndian.Uint64(buf[o:]))
	o += 8
	h.HeadTruncationPoint = int64(binary.LittleEndian.Uint64(buf[o:]))
	o += 8
	h.DataSize = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	h.Reserved = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	h.HeaderCRC64 = binary.LittleEndian.Uint64(buf[o:])
	o += 8
	h.DataCRC64 = binary.LittleEndian.Uint64(buf[o:])
	return h, nil
}

// OpenRead parses headers out of a metadata block (and optional data
// extent), validates StreamOffset against the expected starting stream
// position, verifies both CRCs, and positions the read cursor at
// startingStreamPosition.
func OpenRead(blockMetadataSize uint32, startingStreamPosition int64, metadata, extent []byte) (*Buffer, error) {
	if blockMetadataSize != MetadataBlockSize || len(metadata) < MetadataBlockSize {
		return nil, errors.New("codec: invalid metadata block")
	}
	metaHeader := MetadataBlockHeader{
		Flags:                binary.LittleEndian.Uint32(metadata[reservedBytes+0:]),
		OffsetToStreamHeader: binary.LittleEndian.Uint32(metadata[reservedBytes+4:]),
	}
	streamHeaderOffset := int(metaHeader.OffsetToStreamHeader)
	if streamHeaderOffset+streamBlockHeaderSize > len(metadata) {
		return nil, ErrDataIntegrity
	}
	streamHeader, err := unmarshalStreamHeader(metadata[streamHeaderOffset:])
	if err != nil {
		return nil, ErrDataIntegrity
	}
	if streamHeader.Signature != Signature {
		return nil, ErrDataIntegrity
	}

	b := &Buffer{
		metadata:     metadata,
		extent:       extent,
		metaHeader:   metaHeader,
		streamHeader: streamHeader,
		sealed:       true,
	}

	wantOffset := streamHeader.HeaderCRC64
	b.streamHeader.HeaderCRC64 = 0
	gotHeaderCRC := crc64Of(b.marshalStreamHeaderBytes())
	b.streamHeader.HeaderCRC64 = wantOffset
	if gotHeaderCRC != wantOffset {
		return nil, ErrDataIntegrity
	}

	payload := b.payloadBytesUpTo(int64(streamHeader.DataSize))
	if crc64Of(payload) != streamHeader.DataCRC64 {
		return nil, ErrDataIntegrity
	}

	base := streamHeader.BasePosition()
	if startingStreamPosition < base || startingStreamPosition > base+int64(streamHeader.DataSize) {
		return nil, errors.Wrapf(ErrDataIntegrity, "codec: stream offset mismatch: base=%d requested=%d", base, startingStreamPosition)
	}
	b.position = startingStreamPosition - base

	return b, nil
}

func (b *Buffer) payloadBytesUpTo(n int64) []byte {
	out := make([]byte, n)
	inlineN := n
	if inlineN > inlineCapacity {
		inlineN = inlineCapacity
	}
	copy(out[:inlineN], b.metadata[offsetToData:offsetToData+inlineN])
	if n > inlineCapacity {
		copy(out[inlineN:], b.extent[:n-inlineCapacity])
	}
	return out
}

// Get copies up to len(p) bytes from the current read position into p,
// returning the number of bytes actually read. A return of 0, nil signals
// the buffer is exhausted (not an error); ErrShortRead is never returned by
// Get itself, it exists for callers to signal partial fulfillment upstream.
func (b *Buffer) Get(p []byte) (n int, err error) {
	available := int64(b.streamHeader.DataSize) - b.position
	if available <= 0 {
		return 0, nil
	}
	n = len(p)
	if int64(n) > available {
		n = int(available)
	}
	if n == 0 {
		return 0, nil
	}
	if b.position < inlineCapacity {
		inlineAvail := inlineCapacity - b.position
		head := n
		if int64(head) > inlineAvail {
			head = int(inlineAvail)
		}
		copy(p[:head], b.metadata[offsetToData+b.position:offsetToData+b.position+int64(head)])
		if head < n {
			copy(p[head:n], b.extent[:n-head])
		}
	} else {
		extOff := b.position - inlineCapacity
		copy(p[:n], b.extent[extOff:extOff+int64(n)])
	}
	b.position += int64(n)
	return n, nil
}

// Intersects reports whether the half-open range [streamOffset,
// streamOffset+size) overlaps this record's payload range.
func (b *Buffer) Intersects(streamOffset int64, size int64) bool {
	if size <= 0 {
		size = 1
	}
	base := b.streamHeader.BasePosition()
	recEnd := base + int64(b.streamHeader.DataSize)
	rangeEnd := streamOffset + size
	return streamOffset < recEnd && rangeEnd > base
}

// SetPosition repositions the read cursor to an absolute buffer offset
// (relative to the first payload byte).
func (b *Buffer) SetPosition(bufferOffset int64) error {
	if bufferOffset < 0 || bufferOffset > int64(b.streamHeader.DataSize) {
		return errors.New("codec: position out of range")
	}
	b.position = bufferOffset
	return nil
}

// Header returns the parsed/sealed stream block header.
func (b *Buffer) Header() StreamBlockHeader { return b.streamHeader }

// BasePosition returns the 0-based stream position of the record's first
// payload byte.
func (b *Buffer) BasePosition() int64 { return b.streamHeader.BasePosition() }

// SizeWritten returns the record's DataSize: the total payload size of a
// read buffer or of a sealed write buffer. DataSize is set at seal time, so
// an unsealed write buffer reports 0.
func (b *Buffer) SizeWritten() int64 { return int64(b.streamHeader.DataSize) }

// Remaining returns the number of unread payload bytes left in a read
// buffer (DataSize minus the current read position).
func (b *Buffer) Remaining() int64 { return int64(b.streamHeader.DataSize) - b.position }

func roundUp(n, multiple int64) int64 {
	if multiple <= 0 {
		return n
	}
	rem := n % multiple
	if rem == 0 {
		return n
	}
	return n + (multiple - rem)
}
