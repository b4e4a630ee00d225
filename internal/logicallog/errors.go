package logicallog

import "github.com/pkg/errors"

// Error kinds from spec.md §7. Each is a sentinel; call sites wrap it with
// errors.Wrap for context, and callers use errors.Is to classify.
var (
	// ErrInvalidArgument is returned for out-of-range offsets, negative
	// counts, or a tail truncation below the head.
	ErrInvalidArgument = errors.New("logicallog: invalid argument")

	// ErrClosed is returned when append/read/truncate is attempted after
	// the logical log has closed. It is never recovered.
	ErrClosed = errors.New("logicallog: log is closed")

	// ErrDataIntegrity is returned when a CRC or header check fails on
	// read. The read cursor is not advanced when this occurs.
	ErrDataIntegrity = errors.New("logicallog: data integrity check failed")

	// ErrTransientIO marks a retryable container error, e.g. a zero-byte
	// read caused by a truncation race.
	ErrTransientIO = errors.New("logicallog: transient I/O error")

	// ErrResultsConsumedTwice indicates a caller bug: a read-ahead task's
	// results were requested more than once.
	ErrResultsConsumedTwice = errors.New("logicallog: read-ahead results already consumed")
)
