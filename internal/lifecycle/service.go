// Package lifecycle implements the deferred-close activity model (C7): the
// {Constructed -> Open -> ClosePending -> Closed} state machine shared by
// LogicalLog, PhysicalLog, Manager and their handle types, so that
// outstanding operations and child handles keep a parent alive until they
// complete.
//
// This mirrors the teacher's habit (server/commitlog/segment.go) of guarding
// small pieces of state behind an embedded mutex and exposing narrow,
// always-locked accessors, generalized here into one reusable state machine
// instead of being reimplemented ad hoc in every owning type.
package lifecycle

import (
	"sync"

	"github.com/pkg/errors"
)

// State is one of the four states a deferred-close service passes through.
type State int

const (
	Constructed State = iota
	Open
	ClosePending
	Closed
)

func (s State) String() string {
	switch s {
	case Constructed:
		return "constructed"
	case Open:
		return "open"
	case ClosePending:
		return "close-pending"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrClosed is returned by TryAcquireActivity and by any operation attempted
// against a service that is closing or closed. It is never recovered: a
// closed service stays closed.
var ErrClosed = errors.New("lifecycle: service is closed or closing")

// CloseFunc runs a service's close-task. It is invoked at most once, on a
// worker goroutine, once the activity counter reaches zero after a close has
// been requested.
type CloseFunc func()

// Service is an embeddable deferred-close state machine. Zero value is not
// ready for use; construct with New.
type Service struct {
	mu        sync.Mutex
	state     State
	activity  int
	closeReq  bool
	closeFn   CloseFunc
	closeDone chan struct{}
}

// New constructs a Service in the Constructed state.
func New() *Service {
	return &Service{state: Constructed, closeDone: make(chan struct{})}
}

// Open runs the given open-task (which may fail) and transitions to Open on
// success. openFn is run synchronously, before the state flips, so that a
// failing open never leaves the service appearing Open.
func (s *Service) Open(openFn func() error) error {
	s.mu.Lock()
	if s.state != Constructed {
		s.mu.Unlock()
		return errors.Errorf("lifecycle: cannot open service in state %s", s.state)
	}
	s.mu.Unlock()

	if openFn != nil {
		if err := openFn(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.state = Open
	s.mu.Unlock()
	return nil
}

// IsOpen reports whether the service is in the Open state and has not been
// asked to close.
func (s *Service) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Open && !s.closeReq
}

// State returns the current state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TryAcquireActivity atomically checks the service is Open and not yet
// asked to close; on success it increments the activity counter and returns
// nil. If the service is ClosePending (or Closed) it returns ErrClosed.
func (s *Service) TryAcquireActivity() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Open || s.closeReq {
		return ErrClosed
	}
	s.activity++
	return nil
}

// ReleaseActivity decrements the activity counter; if it hits zero and a
// close has been requested, the service advances to ClosePending, runs its
// close-task on a new goroutine, and completes the close-awaiter when done.
func (s *Service) ReleaseActivity() {
	s.mu.Lock()
	if s.activity > 0 {
		s.activity--
	}
	runClose := s.activity == 0 && s.closeReq && s.state == Open
	if runClose {
		s.state = ClosePending
	}
	closeFn := s.closeFn
	s.mu.Unlock()

	if runClose {
		go s.finishClose(closeFn)
	}
}

// CloseAsync marks the service as close-requested and, if no activity is
// outstanding, runs the close-task immediately; otherwise the last
// ReleaseActivity call will run it. It is safe to call concurrently with
// outstanding activities. closeFn may be nil.
func (s *Service) CloseAsync(closeFn CloseFunc) {
	s.mu.Lock()
	if s.state == Closed || s.state == ClosePending {
		s.mu.Unlock()
		return
	}
	s.closeFn = closeFn
	s.closeReq = true
	runNow := s.activity == 0 && s.state == Open
	if runNow {
		s.state = ClosePending
	}
	s.mu.Unlock()

	if runNow {
		go s.finishClose(closeFn)
	}
}

func (s *Service) finishClose(closeFn CloseFunc) {
	if closeFn != nil {
		closeFn()
	}
	s.mu.Lock()
	s.state = Closed
	done := s.closeDone
	s.mu.Unlock()
	close(done)
}

// Wait blocks until the service has fully closed.
func (s *Service) Wait() {
	s.mu.Lock()
	done := s.closeDone
	state := s.state
	s.mu.Unlock()
	if state == Closed {
		return
	}
	<-done
}

// Close requests close and waits for it to complete.
func (s *Service) Close(closeFn CloseFunc) {
	s.CloseAsync(closeFn)
	s.Wait()
}
