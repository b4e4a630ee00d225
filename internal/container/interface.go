// Package container defines the narrow interface the logical-log engine
// consumes from the underlying physical log container (spec.md §6.1). The
// container itself — whether a kernel-mode driver (OutOfProc) or the
// in-process file-backed binding shipped in internal/container/inproc
// (InProc) — is treated as an external collaborator: this package only
// describes the contract, never a concrete implementation.
package container

import (
	"context"

	"github.com/google/uuid"
)

// Record is one physical record's buffers as returned by a read: the
// metadata block and, when the payload overflows it, the page-aligned data
// extent. Callers consume a Record at most once.
type Record struct {
	ASN      int64 // 1-based stream offset of the record's first payload byte
	Metadata []byte
	Extent   []byte
}

// TailInfo is the result of QueryLogicalLogTailAsnAndHighestOperation.
type TailInfo struct {
	TailASN             int64
	HighestOperationID   int64
	MaximumBlockSize     uint32
	HeadTruncationPoint  int64
}

// ReadInformation is the result of QueryLogicalLogReadInformation.
type ReadInformation struct {
	MaximumReadRecordSize uint32
}

// BuildInformation is the result of QueryCurrentBuildInformation.
type BuildInformation struct {
	BuildNumber uint32
	IsFreeBuild bool
}

// LogUsageInformation is the result of QueryCurrentLogUsageInformation.
type LogUsageInformation struct {
	PercentageLogUsage uint32
}

// SizeInformation is the result of QueryLogSizeAndSpaceRemaining, and is
// also returned inline by every Write.
type SizeInformation struct {
	LogSize        int64
	SpaceRemaining int64
}

// InterfaceVersion distinguishes containers that support multi-record reads
// and sequential-access read-ahead sizing (version 1) from older bindings
// that only support single-record ReadContaining calls (version 0);
// spec.md §4.3, §4.4.
type InterfaceVersion int

const (
	VersionLegacy InterfaceVersion = 0
	VersionCurrent InterfaceVersion = 1
)

// Stream is a single open physical log stream (one logical log's backing
// storage).
type Stream interface {
	// Version reports the interface version this stream binding implements.
	Version() InterfaceVersion

	// Write appends one sealed record (metadata block plus optional data
	// extent) at the given ASN/operation number, carrying the current head
	// truncation watermark. It returns the container's current log size and
	// remaining space.
	Write(ctx context.Context, asn, op int64, headTruncationPoint int64, metadata, extent []byte) (SizeInformation, error)

	// MultiRecordRead reads every record whose payload range intersects
	// [startingASN, startingASN+len) up to maxBytes of combined record
	// size, returning one Record per on-disk record in ASN order.
	MultiRecordRead(ctx context.Context, startingASN int64, maxBytes uint32) ([]Record, error)

	// ReadContaining reads the single record covering asn. Used when the
	// container is VersionLegacy or a multi-record read is not applicable.
	ReadContaining(ctx context.Context, asn int64) (Record, error)

	// Truncate is the head truncation call: the caller no longer needs the
	// bytes before asn (preferredASN is a hint for where to cut). The
	// in-process binding only records asn as a diagnostic head watermark
	// and discards nothing; the durable watermark is the next sealed
	// record's HeadTruncationPoint field.
	Truncate(ctx context.Context, asn int64, preferredASN int64) error

	// SetEndOfFile truncates the underlying storage so no bytes at or past
	// asn remain readable.
	SetEndOfFile(ctx context.Context, asn int64) error

	// SetFileSize sets the allocated size of the underlying storage,
	// typically rounded up to a physical block size by the caller.
	SetFileSize(ctx context.Context, size int64) error

	// QueryTailAsnAndHighestOperation implements the ioctl of the same name
	// (spec.md §6.1), used during recovery.
	QueryTailAsnAndHighestOperation(ctx context.Context) (TailInfo, error)

	// QueryReadInformation implements the ioctl of the same name.
	QueryReadInformation(ctx context.Context) (ReadInformation, error)

	// Close closes the stream's underlying storage handles.
	Close() error
}

// Container is one open physical log container: a collection of named,
// 128-bit-identified streams plus an alias table.
type Container interface {
	// CreateStream creates a new stream. alias may be empty.
	CreateStream(ctx context.Context, streamID uuid.UUID, alias string, maxSize int64, maxBlockSize uint32) (Stream, error)

	// OpenStream opens an existing stream for recovery/continued use.
	OpenStream(ctx context.Context, streamID uuid.UUID) (Stream, error)

	// DeleteStream removes a stream's on-disk state entirely.
	DeleteStream(ctx context.Context, streamID uuid.UUID) error

	// EnumerateStreams lists the ids of every stream currently stored in
	// this container.
	EnumerateStreams(ctx context.Context) ([]uuid.UUID, error)

	// AssignAlias binds a human-readable name to a stream id.
	AssignAlias(ctx context.Context, alias string, streamID uuid.UUID) error

	// ResolveAlias looks up the stream id bound to alias.
	ResolveAlias(ctx context.Context, alias string) (uuid.UUID, bool, error)

	// RemoveAlias unbinds alias, if present.
	RemoveAlias(ctx context.Context, alias string) error

	// QueryCurrentBuildInformation implements the ioctl of the same name.
	QueryCurrentBuildInformation(ctx context.Context) (BuildInformation, error)

	// QueryCurrentLogUsageInformation implements the ioctl of the same name.
	QueryCurrentLogUsageInformation(ctx context.Context) (LogUsageInformation, error)

	// QueryLogSizeAndSpaceRemaining implements the ioctl of the same name.
	QueryLogSizeAndSpaceRemaining(ctx context.Context) (SizeInformation, error)

	// Close closes the container. Streams opened from it are not closed
	// here; each is closed through its own Close (the in-process binding
	// does not track them).
	Close() error

	// Delete removes the container's on-disk state entirely. Callers must
	// Close the container first; Delete does not close open streams.
	Delete(ctx context.Context) error
}
