package shutdown

import (
	"os"
	"sync"
	"syscall"

	"app_lifecycle/core"
)

// SignalCounter counts shutdown signals. The first one asks for a graceful
// shutdown; reaching the force threshold calls onForce exactly once.
//
// A vetoed Closing resets the counter, so the user gets a fresh graceful
// attempt before a forced exit.
//
// Usage:
//
//	counter := NewSignalCounter(2, func(sig os.Signal) {
//	    os.Exit(ExitCodeFor(sig))
//	})
//
//	for sig := range sigChan {
//	    if counter.Increment(sig) == 1 {
//	        manager.RequestShutdown()
//	    }
//	}
type SignalCounter struct {
	mu         sync.Mutex
	count      int
	last       os.Signal
	forceAfter int
	forced     bool
	onForce    func(os.Signal)
}

// NewSignalCounter creates a SignalCounter. forceAfter below 1 is treated
// as 1. onForce may be nil.
func NewSignalCounter(forceAfter int, onForce func(os.Signal)) *SignalCounter {
	if forceAfter < 1 {
		forceAfter = 1
	}
	return &SignalCounter{
		forceAfter: forceAfter,
		onForce:    onForce,
	}
}

// Increment records sig and returns the new count. When the count reaches
// forceAfter the force callback runs; it is invoked while holding the lock,
// so it should be fast or exit the process.
func (s *SignalCounter) Increment(sig os.Signal) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.last = sig
	if s.count >= s.forceAfter && !s.forced {
		s.forced = true
		if s.onForce != nil {
			s.onForce(sig)
		}
	}
	return s.count
}

// Count returns the current signal count.
func (s *SignalCounter) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Last returns the most recent signal, or nil.
func (s *SignalCounter) Last() os.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Forced reports whether the force callback has run.
func (s *SignalCounter) Forced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forced
}

// Reset clears the count after a vetoed shutdown. A force that already
// happened stays recorded.
func (s *SignalCounter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = 0
	s.last = nil
}

// ExitCodeFor maps a forcing signal to its process exit code.
func ExitCodeFor(sig os.Signal) int {
	switch sig {
	case syscall.SIGTERM:
		return core.ExitCodeSIGTERM
	case os.Interrupt:
		return core.ExitCodeSIGINT
	default:
		return core.ExitCodeError
	}
}
