package manager

import "github.com/google/uuid"

// Mode selects which physical log container binding Manager uses (spec.md
// §6.3). Default resolves to OutOfProc on platforms with a kernel-mode
// driver and to InProc otherwise; this module ships only the InProc
// binding (internal/container/inproc), so Default always resolves to
// InProc and an explicit OutOfProc request is transparently downgraded,
// exactly as spec.md §4.6 describes for the "driver not loaded" case.
type Mode int

const (
	Default Mode = iota
	InProc
	OutOfProc
)

func (m Mode) String() string {
	switch m {
	case Default:
		return "default"
	case InProc:
		return "inproc"
	case OutOfProc:
		return "outofproc"
	default:
		return "unknown"
	}
}

// SharedLogSettings describes a shared container (spec.md §6.3). Manager
// stores it in Config but does not read it: the no-arg default
// create/open/delete forms always resolve to the per-replica staging log.
type SharedLogSettings struct {
	Path          string
	ContainerID   uuid.UUID
	LogSize       int64
	MaxStreams    int
	MaxRecordSize uint32
}

// stagingLogSize and stagingMaxStreams are the fixed staging-log
// dimensions spec.md §4.6 names for InProc redirection of the default
// application shared log id.
const (
	stagingLogSize    int64 = 256 << 20
	stagingMaxStreams       = 256
)

// DefaultApplicationSharedLogID is the well-known id spec.md §4.6 refers
// to as "the default application shared log id"; requests naming it are
// redirected to a per-replica staging log in InProc mode.
var DefaultApplicationSharedLogID = uuid.Nil

// Config configures a Manager at construction (spec.md §6.3 "Manager.open").
type Config struct {
	Mode              Mode
	SharedLogSettings *SharedLogSettings
}
