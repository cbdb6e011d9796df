package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects handler invocations in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) handler(name string, res Result) Handler {
	return HandlerFunc(func(context.Context, PhaseContext) Result {
		r.mu.Lock()
		r.calls = append(r.calls, name)
		r.mu.Unlock()
		return res
	})
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func startedOrchestrator(t *testing.T, reg *Registry) *Orchestrator {
	t.Helper()
	orch := NewOrchestrator(reg)
	out, err := orch.EnterStartup(context.Background())
	require.NoError(t, err)
	require.Equal(t, AllSucceeded, out.Verdict)
	require.Equal(t, StateRunning, orch.State())
	return orch
}

func TestOrchestrator_StartupAllSucceed(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	a, b := NewIdentity("a"), NewIdentity("b")
	require.NoError(t, reg.Register(b, PhaseStartup, rec.handler("b", Success()), 2))
	require.NoError(t, reg.Register(a, PhaseStartup, rec.handler("a", Success()), 1))

	orch := NewOrchestrator(reg)
	assert.Equal(t, StateUninitialized, orch.State())

	out, err := orch.EnterStartup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AllSucceeded, out.Verdict)
	assert.Equal(t, StateRunning, out.State)
	assert.Equal(t, StateRunning, orch.State())
	assert.Equal(t, []string{"a", "b"}, rec.Calls())
	assert.NoError(t, out.Err())
}

func TestOrchestrator_StartupFailuresRunEveryHandler(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		failing   map[int]bool
		wantState State
	}{
		{"none failing", 4, map[int]bool{}, StateRunning},
		{"first failing", 4, map[int]bool{0: true}, StateFailed},
		{"two failing", 5, map[int]bool{1: true, 3: true}, StateFailed},
		{"all failing", 3, map[int]bool{0: true, 1: true, 2: true}, StateFailed},
		{"empty", 0, map[int]bool{}, StateRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			rec := &recorder{}
			failErr := errors.New("boom")
			for i := 0; i < tt.total; i++ {
				res := Success()
				if tt.failing[i] {
					res = Fail(failErr)
				}
				require.NoError(t, reg.Register(NewIdentity("p"), PhaseStartup, rec.handler("p", res), i))
			}

			orch := NewOrchestrator(reg)
			out, err := orch.EnterStartup(context.Background())
			require.NoError(t, err)

			assert.Len(t, rec.Calls(), tt.total, "every handler runs")
			assert.Equal(t, tt.wantState, orch.State())
			assert.Len(t, out.Failures(), len(tt.failing))
			if len(tt.failing) > 0 {
				assert.Equal(t, PartialFailure, out.Verdict)
				assert.ErrorIs(t, out.Err(), failErr)
			} else {
				assert.Equal(t, AllSucceeded, out.Verdict)
			}
		})
	}
}

func TestOrchestrator_ClosingVetoShortCircuits(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	a, b, c := NewIdentity("A"), NewIdentity("B"), NewIdentity("C")
	require.NoError(t, reg.Register(a, PhaseClosing, rec.handler("A", Success()), 0))
	require.NoError(t, reg.Register(b, PhaseClosing, rec.handler("B", Veto("unsaved work")), 1))
	require.NoError(t, reg.Register(c, PhaseClosing, rec.handler("C", Success()), 2))

	orch := startedOrchestrator(t, reg)
	out, err := orch.EnterClosing(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, rec.Calls(), "C must not be invoked")
	assert.Equal(t, Vetoed, out.Verdict)
	assert.Equal(t, b, out.VetoedBy)
	assert.Equal(t, StateRunning, orch.State())

	status, ok := out.Status(c)
	require.True(t, ok)
	assert.Equal(t, StatusSkipped, status)
	assert.Equal(t, "unsaved work", out.Results[1].Reason)

	_, err = orch.EnterClosed(context.Background())
	assert.True(t, IsInvalidTransition(err), "closed requires a committed closing")
}

func TestOrchestrator_ClosingCanBeRetriedAfterVeto(t *testing.T) {
	reg := NewRegistry()
	busy := true
	guard := NewIdentity("guard")
	require.NoError(t, reg.Register(guard, PhaseClosing, HandlerFunc(func(context.Context, PhaseContext) Result {
		if busy {
			return Veto("busy")
		}
		return Success()
	}), 0))

	orch := startedOrchestrator(t, reg)
	out, err := orch.EnterClosing(context.Background())
	require.NoError(t, err)
	require.Equal(t, Vetoed, out.Verdict)

	busy = false
	out, err = orch.EnterClosing(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AllSucceeded, out.Verdict)
	assert.Equal(t, StateClosed, orch.State())
}

func TestOrchestrator_ClosingFailureStillCommits(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	require.NoError(t, reg.Register(NewIdentity("a"), PhaseClosing, rec.handler("a", Fail(errors.New("flush"))), 0))
	require.NoError(t, reg.Register(NewIdentity("b"), PhaseClosing, rec.handler("b", Success()), 1))

	orch := startedOrchestrator(t, reg)
	out, err := orch.EnterClosing(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, rec.Calls())
	assert.Equal(t, PartialFailure, out.Verdict)
	assert.Equal(t, StateClosed, orch.State())

	_, err = orch.EnterClosed(context.Background())
	assert.NoError(t, err)
}

func TestOrchestrator_FailureThenVetoIsVetoed(t *testing.T) {
	reg := NewRegistry()
	a, b := NewIdentity("a"), NewIdentity("b")
	require.NoError(t, reg.Register(a, PhaseClosing, HandlerFunc(func(context.Context, PhaseContext) Result {
		return Fail(errors.New("oops"))
	}), 0))
	require.NoError(t, reg.Register(b, PhaseClosing, HandlerFunc(func(context.Context, PhaseContext) Result {
		return Veto("no")
	}), 1))

	orch := startedOrchestrator(t, reg)
	out, err := orch.EnterClosing(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Vetoed, out.Verdict)
	assert.Equal(t, b, out.VetoedBy)
	assert.Len(t, out.Failures(), 1)
	assert.Equal(t, StateRunning, orch.State())
}

func TestOrchestrator_ClosedRunsToCompletion(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	failing := NewIdentity("failing")
	require.NoError(t, reg.Register(NewIdentity("a"), PhaseClosed, rec.handler("a", Success()), 0))
	require.NoError(t, reg.Register(failing, PhaseClosed, rec.handler("failing", Fail(errors.New("disk"))), 1))
	require.NoError(t, reg.Register(NewIdentity("c"), PhaseClosed, rec.handler("c", Success()), 2))

	orch := startedOrchestrator(t, reg)
	_, err := orch.EnterClosing(context.Background())
	require.NoError(t, err)

	out, err := orch.EnterClosed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "failing", "c"}, rec.Calls())
	assert.Equal(t, PartialFailure, out.Verdict)
	assert.Equal(t, StateClosed, out.State)
	assert.Equal(t, StateClosed, orch.State())

	var hf *HandlerFailure
	require.ErrorAs(t, out.Err(), &hf)
	assert.Equal(t, failing, hf.Owner)

	_, err = orch.EnterClosed(context.Background())
	assert.True(t, IsInvalidTransition(err), "closed runs once")
}

func TestOrchestrator_VetoOutsideClosingIsFailure(t *testing.T) {
	reg := NewRegistry()
	a := NewIdentity("a")
	require.NoError(t, reg.Register(a, PhaseStartup, HandlerFunc(func(_ context.Context, pc PhaseContext) Result {
		assert.False(t, pc.CanVeto())
		return Veto("not allowed")
	}), 0))

	orch := NewOrchestrator(reg)
	out, err := orch.EnterStartup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PartialFailure, out.Verdict)
	assert.True(t, out.VetoedBy.IsZero())
	assert.ErrorIs(t, out.Err(), ErrVetoNotPermitted)
	assert.Equal(t, StateFailed, orch.State())
}

func TestOrchestrator_PanicIsFolded(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	require.NoError(t, reg.Register(NewIdentity("panics"), PhaseStartup, HandlerFunc(func(context.Context, PhaseContext) Result {
		panic("nil map")
	}), 0))
	require.NoError(t, reg.Register(NewIdentity("after"), PhaseStartup, rec.handler("after", Success()), 1))

	orch := NewOrchestrator(reg)
	out, err := orch.EnterStartup(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"after"}, rec.Calls())
	require.Len(t, out.Failures(), 1)
	var hf *HandlerFailure
	require.ErrorAs(t, out.Failures()[0].Err, &hf)
	assert.True(t, hf.Panicked)
	assert.Contains(t, hf.Error(), "nil map")
}

func TestOrchestrator_PhaseContext(t *testing.T) {
	reg := NewRegistry()
	owner := NewIdentity("ctx")
	var seen []PhaseContext
	h := HandlerFunc(func(_ context.Context, pc PhaseContext) Result {
		seen = append(seen, pc)
		return Success()
	})
	for _, p := range Phases {
		require.NoError(t, reg.Register(owner, p, h, 0))
	}

	orch := startedOrchestrator(t, reg)
	_, err := orch.EnterClosing(context.Background())
	require.NoError(t, err)
	_, err = orch.EnterClosed(context.Background())
	require.NoError(t, err)

	require.Len(t, seen, 3)
	assert.Equal(t, PhaseContext{Phase: PhaseStartup, State: StateStarting, Owner: owner}, seen[0])
	assert.Equal(t, PhaseContext{Phase: PhaseClosing, State: StateClosing, Owner: owner}, seen[1])
	assert.True(t, seen[1].CanVeto())
	assert.Equal(t, PhaseContext{Phase: PhaseClosed, State: StateClosed, Owner: owner}, seen[2])
}

func TestOrchestrator_ReentrantCallRejected(t *testing.T) {
	reg := NewRegistry()
	guard, tail := NewIdentity("guard"), NewIdentity("tail")

	var nested error
	var orch *Orchestrator
	require.NoError(t, reg.Register(guard, PhaseClosing, HandlerFunc(func(ctx context.Context, _ PhaseContext) Result {
		_, nested = orch.EnterClosing(ctx)
		return Success()
	}), 0))
	require.NoError(t, reg.Register(tail, PhaseClosing, HandlerFunc(func(context.Context, PhaseContext) Result {
		return Veto("later")
	}), 1))

	orch = startedOrchestrator(t, reg)
	out, err := orch.EnterClosing(context.Background())
	require.NoError(t, err)

	require.Error(t, nested)
	assert.True(t, IsPhaseAlreadyRunning(nested))
	assert.Equal(t, ErrCodePhaseAlreadyRunning, ErrorCode(nested))

	// The in-flight run is unaffected by the rejected call.
	assert.Equal(t, Vetoed, out.Verdict)
	assert.Equal(t, tail, out.VetoedBy)
	assert.Equal(t, StateRunning, orch.State())
}

func TestOrchestrator_ConcurrentEntryRejected(t *testing.T) {
	reg := NewRegistry()
	entered := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, reg.Register(NewIdentity("slow"), PhaseClosing, HandlerFunc(func(context.Context, PhaseContext) Result {
		close(entered)
		<-release
		return Success()
	}), 0))

	orch := startedOrchestrator(t, reg)

	done := make(chan *Outcome)
	go func() {
		out, _ := orch.EnterClosing(context.Background())
		done <- out
	}()

	<-entered
	assert.Equal(t, PhaseClosing, orch.Running())
	assert.Equal(t, StateClosing, orch.State())
	_, err := orch.EnterClosing(context.Background())
	assert.True(t, IsPhaseAlreadyRunning(err))
	_, err = orch.EnterClosed(context.Background())
	assert.True(t, IsPhaseAlreadyRunning(err))
	close(release)

	out := <-done
	assert.Equal(t, AllSucceeded, out.Verdict)
	assert.Equal(t, StateClosed, orch.State())
}

func TestOrchestrator_InvalidTransitions(t *testing.T) {
	orch := NewOrchestrator(NewRegistry())

	_, err := orch.EnterClosing(context.Background())
	assert.True(t, IsInvalidTransition(err))
	_, err = orch.EnterClosed(context.Background())
	assert.True(t, IsInvalidTransition(err))

	_, err = orch.EnterStartup(context.Background())
	require.NoError(t, err)
	_, err = orch.EnterStartup(context.Background())
	assert.True(t, IsInvalidTransition(err))

	_, err = orch.Enter(context.Background(), "reboot")
	assert.True(t, IsInvalidPhase(err))
}

func TestOrchestrator_FailedIsTerminal(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewIdentity("bad"), PhaseStartup, ErrorHandler(func(context.Context) error {
		return errors.New("no config")
	}), 0))

	orch := NewOrchestrator(reg)
	_, err := orch.EnterStartup(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateFailed, orch.State())

	for _, p := range Phases {
		_, err := orch.Enter(context.Background(), p)
		assert.True(t, IsInvalidTransition(err), "phase %s after failed startup", p)
	}
}

func TestOrchestrator_RegistryBusyDuringRun(t *testing.T) {
	reg := NewRegistry()
	self := NewIdentity("self")
	var sameErr, otherErr error
	require.NoError(t, reg.Register(self, PhaseStartup, HandlerFunc(func(context.Context, PhaseContext) Result {
		sameErr = reg.Register(NewIdentity("late"), PhaseStartup, noop(), 0)
		otherErr = reg.Register(self, PhaseClosing, noop(), 0)
		return Success()
	}), 0))

	orch := NewOrchestrator(reg)
	_, err := orch.EnterStartup(context.Background())
	require.NoError(t, err)

	assert.True(t, IsRegistryBusy(sameErr))
	assert.NoError(t, otherErr)
	assert.Equal(t, 1, reg.Len(PhaseStartup))
	assert.Equal(t, 1, reg.Len(PhaseClosing))

	// The lock is released once the run ends.
	assert.NoError(t, reg.Register(NewIdentity("late"), PhaseStartup, noop(), 0))
}

func TestOrchestrator_Deterministic(t *testing.T) {
	reg := NewRegistry()
	ids := []Identity{NewIdentity("a"), NewIdentity("b"), NewIdentity("c"), NewIdentity("d")}
	failure := errors.New("fixed")
	results := []Result{Success(), Fail(failure), Veto("hold"), Success()}
	for i, id := range ids {
		res := results[i]
		require.NoError(t, reg.Register(id, PhaseClosing, HandlerFunc(func(context.Context, PhaseContext) Result {
			return res
		}), i%2))
	}

	var first *Outcome
	for run := 0; run < 5; run++ {
		orch := startedOrchestrator(t, reg)
		out, err := orch.EnterClosing(context.Background())
		require.NoError(t, err)
		if first == nil {
			first = out
			continue
		}
		assert.Equal(t, first, out)
	}
	assert.Equal(t, Vetoed, first.Verdict)
}

type spyObserver struct {
	NopObserver
	events []string
}

func (s *spyObserver) PhaseStarted(ctx context.Context, phase Phase, n int) context.Context {
	s.events = append(s.events, "start:"+phase.String())
	return ctx
}

func (s *spyObserver) HandlerFinished(_ context.Context, _ Phase, r HandlerResult) {
	s.events = append(s.events, "handler:"+r.Owner.Name()+":"+r.Status.String())
}

func (s *spyObserver) PhaseFinished(_ context.Context, out *Outcome) {
	s.events = append(s.events, "finish:"+out.Verdict.String())
}

func TestOrchestrator_Observer(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewIdentity("a"), PhaseStartup, noop(), 0))
	require.NoError(t, reg.Register(NewIdentity("b"), PhaseStartup, ErrorHandler(func(context.Context) error {
		return errors.New("x")
	}), 1))

	spy := &spyObserver{}
	orch := NewOrchestrator(reg, WithObserver(spy, nil))
	_, err := orch.EnterStartup(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"start:startup",
		"handler:a:succeeded",
		"handler:b:failed",
		"finish:partial_failure",
	}, spy.events)
}

// panickyObserver panics in every callback it is told to.
type panickyObserver struct {
	NopObserver
	in map[string]bool
}

func (p panickyObserver) PhaseStarted(ctx context.Context, _ Phase, _ int) context.Context {
	if p.in["PhaseStarted"] {
		panic("phase started")
	}
	return ctx
}

func (p panickyObserver) HandlerStarted(ctx context.Context, _ Phase, _ Contribution) context.Context {
	if p.in["HandlerStarted"] {
		panic("handler started")
	}
	return ctx
}

func (p panickyObserver) HandlerFinished(context.Context, Phase, HandlerResult) {
	if p.in["HandlerFinished"] {
		panic("handler finished")
	}
}

func (p panickyObserver) PhaseFinished(context.Context, *Outcome) {
	if p.in["PhaseFinished"] {
		panic("phase finished")
	}
}

func TestOrchestrator_ObserverPanicDoesNotWedge(t *testing.T) {
	for _, callback := range []string{"PhaseStarted", "HandlerStarted", "HandlerFinished", "PhaseFinished"} {
		t.Run(callback, func(t *testing.T) {
			reg := NewRegistry()
			rec := &recorder{}
			require.NoError(t, reg.Register(NewIdentity("a"), PhaseStartup, rec.handler("a", Success()), 0))

			spy := &spyObserver{}
			orch := NewOrchestrator(reg, WithObserver(panickyObserver{in: map[string]bool{callback: true}}, spy))

			out, err := orch.EnterStartup(context.Background())
			require.NoError(t, err)
			assert.Equal(t, AllSucceeded, out.Verdict)
			assert.Equal(t, []string{"a"}, rec.Calls())
			assert.Equal(t, StateRunning, orch.State())
			assert.Equal(t, Phase(""), orch.Running())
			assert.Equal(t, []string{"start:startup", "handler:a:succeeded", "finish:all_succeeded"}, spy.events)

			require.NoError(t, reg.Register(NewIdentity("late"), PhaseStartup, noop(), 0))
			_, err = orch.EnterStartup(context.Background())
			assert.True(t, IsInvalidTransition(err))
		})
	}
}

func TestOrchestrator_EscapingPanicFailsPhase(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewIdentity("a"), PhaseStartup, noop(), 0))

	orch := NewOrchestrator(reg)
	// A nil fan-out logger makes guard panic while logging the observer
	// panic, so the panic leaves run.
	orch.observers.list = append(orch.observers.list, panickyObserver{in: map[string]bool{"PhaseStarted": true}})
	orch.observers.logger = nil

	assert.Panics(t, func() { _, _ = orch.EnterStartup(context.Background()) })
	assert.Equal(t, StateFailed, orch.State())
	assert.Equal(t, Phase(""), orch.Running())
	assert.NoError(t, reg.Register(NewIdentity("b"), PhaseStartup, noop(), 0))
}
