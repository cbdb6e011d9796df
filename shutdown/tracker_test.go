package shutdown

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"app_lifecycle/lifecycle"
)

func handle(h lifecycle.Handler, phase lifecycle.Phase) lifecycle.Result {
	return h.Handle(context.Background(), lifecycle.PhaseContext{Phase: phase, State: lifecycle.StateClosing})
}

func TestOperationTracker_StartDone(t *testing.T) {
	tracker := NewOperationTracker()

	done, err := tracker.Start("export")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if tracker.ActiveCount() != 1 {
		t.Errorf("expected 1 active, got %d", tracker.ActiveCount())
	}

	done()
	done() // second call is a no-op
	if tracker.ActiveCount() != 0 {
		t.Errorf("expected 0 active, got %d", tracker.ActiveCount())
	}
}

func TestOperationTracker_StartAfterClose(t *testing.T) {
	tracker := NewOperationTracker()
	tracker.Close()

	if _, err := tracker.Start("late"); !errors.Is(err, ErrTrackerClosed) {
		t.Errorf("Start() after Close error = %v, want ErrTrackerClosed", err)
	}
	if !tracker.IsClosed() {
		t.Error("IsClosed() should be true")
	}
}

func TestOperationTracker_Active(t *testing.T) {
	tracker := NewOperationTracker()
	doneB, _ := tracker.Start("upload")
	doneA, _ := tracker.Start("export")
	defer doneB()

	if got := strings.Join(tracker.Active(), ","); got != "export,upload" {
		t.Errorf("Active() = %s, want export,upload", got)
	}
	doneA()
	if got := strings.Join(tracker.Active(), ","); got != "upload" {
		t.Errorf("Active() = %s, want upload", got)
	}
}

func TestOperationTracker_Track(t *testing.T) {
	tracker := NewOperationTracker()

	var during int
	err := tracker.Track(context.Background(), "job", func(context.Context) error {
		during = tracker.ActiveCount()
		return nil
	})
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	if during != 1 || tracker.ActiveCount() != 0 {
		t.Errorf("active during/after = %d/%d, want 1/0", during, tracker.ActiveCount())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err = tracker.Track(ctx, "cancelled", func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Errorf("Track() with cancelled ctx = %v (called %v), want context.Canceled", err, called)
	}
}

func TestOperationTracker_Wait(t *testing.T) {
	tracker := NewOperationTracker()
	done, _ := tracker.Start("slow")

	if err := tracker.Wait(10 * time.Millisecond); !errors.Is(err, ErrWaitTimeout) {
		t.Errorf("Wait() error = %v, want ErrWaitTimeout", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		done()
	}()
	if err := tracker.Wait(time.Second); err != nil {
		t.Errorf("Wait() error = %v, want nil", err)
	}
}

func TestOperationTracker_ConcurrentStartDone(t *testing.T) {
	tracker := NewOperationTracker()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done, err := tracker.Start("op")
			if err != nil {
				return
			}
			done()
		}()
	}
	wg.Wait()

	if tracker.ActiveCount() != 0 {
		t.Errorf("expected 0 active, got %d", tracker.ActiveCount())
	}
}

func TestOperationTracker_ClosingHandler(t *testing.T) {
	tracker := NewOperationTracker()
	h := tracker.ClosingHandler()

	if res := handle(h, lifecycle.PhaseClosing); !res.IsSuccess() {
		t.Errorf("idle tracker should allow Closing, got veto %q", res.Reason())
	}

	done, _ := tracker.Start("export")
	res := handle(h, lifecycle.PhaseClosing)
	if !res.IsVeto() {
		t.Fatal("busy tracker should veto Closing")
	}
	if !strings.Contains(res.Reason(), "1 operation(s) in flight: export") {
		t.Errorf("veto reason = %q", res.Reason())
	}

	done()
	if res := handle(h, lifecycle.PhaseClosing); !res.IsSuccess() {
		t.Error("Closing should be allowed after the operation finished")
	}
}

func TestOperationTracker_ClosedHandler(t *testing.T) {
	tracker := NewOperationTracker()
	done, _ := tracker.Start("straggler")

	res := handle(tracker.ClosedHandler(10*time.Millisecond), lifecycle.PhaseClosed)
	if !res.IsFailure() {
		t.Fatal("ClosedHandler should fail while an operation is stuck")
	}
	if !errors.Is(res.Err(), ErrWaitTimeout) || !strings.Contains(res.Err().Error(), "straggler") {
		t.Errorf("ClosedHandler error = %v", res.Err())
	}
	if !tracker.IsClosed() {
		t.Error("ClosedHandler should close the tracker")
	}

	done()
	if res := handle(tracker.ClosedHandler(time.Second), lifecycle.PhaseClosed); !res.IsSuccess() {
		t.Errorf("ClosedHandler on a drained tracker = %v", res.Err())
	}
}
