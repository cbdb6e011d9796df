package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"app_lifecycle/lifecycle"
)

// blockingWriter records outcomes and can be paused to fill the queue.
type blockingWriter struct {
	mu      sync.Mutex
	phases  []lifecycle.Phase
	release chan struct{}
	err     error
}

func (w *blockingWriter) Record(_ context.Context, outcome *lifecycle.Outcome) (int64, error) {
	if w.release != nil {
		<-w.release
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.phases = append(w.phases, outcome.Phase)
	return int64(len(w.phases)), w.err
}

func (w *blockingWriter) Phases() []lifecycle.Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]lifecycle.Phase(nil), w.phases...)
}

func TestRecorder_WritesInOrder(t *testing.T) {
	writer := &blockingWriter{}
	rec := NewRecorder(writer, nil, DefaultRecorderConfig())

	orch := lifecycle.NewOrchestrator(lifecycle.NewRegistry(), lifecycle.WithObserver(rec))
	ctx := context.Background()
	for _, enter := range []func(context.Context) (*lifecycle.Outcome, error){
		orch.EnterStartup, orch.EnterClosing, orch.EnterClosed,
	} {
		if _, err := enter(ctx); err != nil {
			t.Fatal(err)
		}
	}

	if !rec.Close() {
		t.Fatal("Close() timed out")
	}

	got := writer.Phases()
	want := []lifecycle.Phase{lifecycle.PhaseStartup, lifecycle.PhaseClosing, lifecycle.PhaseClosed}
	if len(got) != len(want) {
		t.Fatalf("recorded %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("recorded[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	writer := &blockingWriter{release: make(chan struct{})}
	rec := NewRecorder(writer, nil, RecorderConfig{QueueCapacity: 1, DrainTimeout: time.Second})

	out := lifecycle.Aggregate(lifecycle.PhaseStartup, nil, lifecycle.StateRunning)

	// The first outcome is taken by the worker (blocked in Record), the
	// second fills the queue. Wait until the worker holds the first.
	rec.PhaseFinished(context.Background(), &out)
	deadline := time.Now().Add(time.Second)
	for rec.Pending() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	rec.PhaseFinished(context.Background(), &out)
	rec.PhaseFinished(context.Background(), &out)

	if got := rec.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}

	close(writer.release)
	if !rec.Close() {
		t.Fatal("Close() timed out")
	}
	if got := len(writer.Phases()); got != 2 {
		t.Errorf("recorded %d outcomes, want 2", got)
	}

	rec.PhaseFinished(context.Background(), &out)
	if got := rec.Dropped(); got != 2 {
		t.Errorf("Dropped() after Close = %d, want 2", got)
	}
}

func TestRecorder_WriteErrorsDoNotStop(t *testing.T) {
	writer := &blockingWriter{err: errors.New("disk full")}
	rec := NewRecorder(writer, nil, DefaultRecorderConfig())

	out := lifecycle.Aggregate(lifecycle.PhaseClosed, nil, lifecycle.StateClosed)
	rec.PhaseFinished(context.Background(), &out)
	rec.PhaseFinished(context.Background(), &out)

	if !rec.Close() {
		t.Fatal("Close() timed out")
	}
	if got := len(writer.Phases()); got != 2 {
		t.Errorf("attempted %d writes, want 2", got)
	}
}

func TestRecorder_CloseTimeout(t *testing.T) {
	writer := &blockingWriter{release: make(chan struct{})}
	defer close(writer.release)
	rec := NewRecorder(writer, nil, RecorderConfig{QueueCapacity: 4, DrainTimeout: 20 * time.Millisecond})

	out := lifecycle.Aggregate(lifecycle.PhaseStartup, nil, lifecycle.StateRunning)
	rec.PhaseFinished(context.Background(), &out)

	if rec.Close() {
		t.Error("Close() = true while the writer is blocked, want false")
	}
}

func TestRecorder_JournalRoundTrip(t *testing.T) {
	j := openTestJournal(t)
	rec := NewRecorder(j, nil, DefaultRecorderConfig())

	out, _ := vetoedClosing(t)
	rec.PhaseFinished(context.Background(), out)
	if !rec.Close() {
		t.Fatal("Close() timed out")
	}

	runs, err := j.Recent(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Verdict != "vetoed" {
		t.Errorf("Recent() = %+v, want one vetoed run", runs)
	}
}
