// Package shutdown drives a lifecycle.Orchestrator from OS signals and
// provides the in-flight operation tracking that lets Closing be vetoed
// while work is still running.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"app_lifecycle/lifecycle"
)

// ErrTrackerClosed is returned when trying to start an operation on a closed tracker.
var ErrTrackerClosed = errors.New("operation tracker is closed")

// ErrWaitTimeout is returned when Wait times out before all operations complete.
var ErrWaitTimeout = errors.New("wait timeout: operations did not complete in time")

// OperationTracker tracks named in-flight operations. Its Closing handler
// vetoes shutdown while any are running; its Closed handler stops new ones
// and drains the rest.
//
// Usage:
//
//	tracker := NewOperationTracker()
//	reg.Register(owner, lifecycle.PhaseClosing, tracker.ClosingHandler(), 0)
//	reg.Register(owner, lifecycle.PhaseClosed, tracker.ClosedHandler(30*time.Second), 0)
//
//	// In a request handler:
//	done, err := tracker.Start("export")
//	if err != nil {
//	    return err // shutting down
//	}
//	defer done()
type OperationTracker struct {
	wg     sync.WaitGroup
	mu     sync.Mutex
	nextID uint64
	active map[uint64]string
	closed bool
}

// NewOperationTracker creates a new OperationTracker ready to track operations.
func NewOperationTracker() *OperationTracker {
	return &OperationTracker{active: make(map[uint64]string)}
}

// Start begins tracking an operation called name. The returned func marks it
// done and is safe to call more than once. ErrTrackerClosed is returned once
// the tracker is closed.
func (t *OperationTracker) Start(name string) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTrackerClosed
	}

	t.nextID++
	id := t.nextID
	t.active[id] = name
	t.wg.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.active, id)
			t.mu.Unlock()
			t.wg.Done()
		})
	}, nil
}

// Track runs fn as a tracked operation.
func (t *OperationTracker) Track(ctx context.Context, name string, fn func(context.Context) error) error {
	done, err := t.Start(name)
	if err != nil {
		return err
	}
	defer done()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// Wait blocks until all tracked operations complete or the timeout is reached.
func (t *OperationTracker) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrWaitTimeout
	}
}

// Close prevents new operations from starting. Operations already in
// progress continue until they call their done func.
func (t *OperationTracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// ActiveCount returns the current number of active operations.
func (t *OperationTracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Active returns the names of active operations, sorted.
func (t *OperationTracker) Active() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.active))
	for _, name := range t.active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsClosed returns true if the tracker has been closed.
func (t *OperationTracker) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// ClosingHandler vetoes Closing while operations are in flight.
func (t *OperationTracker) ClosingHandler() lifecycle.Handler {
	return lifecycle.HandlerFunc(func(context.Context, lifecycle.PhaseContext) lifecycle.Result {
		active := t.Active()
		if len(active) == 0 {
			return lifecycle.Success()
		}
		return lifecycle.Veto(fmt.Sprintf("%d operation(s) in flight: %s",
			len(active), strings.Join(active, ", ")))
	})
}

// ClosedHandler closes the tracker and waits up to timeout for stragglers
// that started after Closing was committed.
func (t *OperationTracker) ClosedHandler(timeout time.Duration) lifecycle.Handler {
	return lifecycle.ErrorHandler(func(context.Context) error {
		t.Close()
		if err := t.Wait(timeout); err != nil {
			return fmt.Errorf("%w (still running: %s)", err, strings.Join(t.Active(), ", "))
		}
		return nil
	})
}
