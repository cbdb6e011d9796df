package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Orchestrator drives the application through Startup, Closing and Closed.
// It owns the lifecycle State; nothing else mutates it.
//
// Only one phase runs at a time. Entering a phase while another is in flight
// fails with PhaseAlreadyRunningError instead of queueing. Handlers run
// sequentially on the calling goroutine; no lock is held while they run.
//
// Usage:
//
//	orch := NewOrchestrator(registry, WithLogger(logger))
//
//	if out, err := orch.EnterStartup(ctx); err != nil || !out.Succeeded() {
//	    ...
//	}
//
//	// on shutdown request
//	out, err := orch.EnterClosing(ctx)
//	if err == nil && out.Verdict == Vetoed {
//	    // keep running
//	}
//	out, err = orch.EnterClosed(ctx)
type Orchestrator struct {
	registry  *Registry
	logger    *zap.Logger
	observers observers

	mu        sync.Mutex
	state     State
	running   Phase
	committed bool // Closing finished without veto
	closedRun bool // Closed phase has been run
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver appends observers notified during phase runs.
func WithObserver(obs ...Observer) Option {
	return func(o *Orchestrator) {
		for _, ob := range obs {
			if ob != nil {
				o.observers.list = append(o.observers.list, ob)
			}
		}
	}
}

// NewOrchestrator creates an Orchestrator in StateUninitialized reading
// contributions from registry.
func NewOrchestrator(registry *Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		logger:   zap.NewNop(),
		state:    StateUninitialized,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.observers.logger = o.logger
	return o
}

// Registry returns the registry the orchestrator reads from.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Running returns the phase currently in flight, or "" if none.
func (o *Orchestrator) Running() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// EnterStartup runs every Startup contribution. All handlers run even when
// some fail; any failure leaves the orchestrator in StateFailed.
func (o *Orchestrator) EnterStartup(ctx context.Context) (*Outcome, error) {
	return o.run(ctx, PhaseStartup)
}

// EnterClosing runs Closing contributions until one vetoes. On veto the
// state reverts to StateRunning and the remaining contributions are marked
// skipped; otherwise the orchestrator commits to StateClosed and
// EnterClosed becomes available.
func (o *Orchestrator) EnterClosing(ctx context.Context) (*Outcome, error) {
	return o.run(ctx, PhaseClosing)
}

// EnterClosed runs every Closed contribution after a committed Closing.
// Failures are recorded; the state is StateClosed regardless.
func (o *Orchestrator) EnterClosed(ctx context.Context) (*Outcome, error) {
	return o.run(ctx, PhaseClosed)
}

// Enter runs the named phase. It is the token-based entry point used by
// hosts that drive the lifecycle from configuration or commands.
func (o *Orchestrator) Enter(ctx context.Context, phase Phase) (*Outcome, error) {
	if !phase.Valid() {
		return nil, &InvalidPhaseError{Token: string(phase)}
	}
	return o.run(ctx, phase)
}

// begin validates the transition and marks phase as running.
func (o *Orchestrator) begin(phase Phase) (State, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running != "" {
		return o.state, &PhaseAlreadyRunningError{Requested: phase, Running: o.running}
	}

	var during State
	switch phase {
	case PhaseStartup:
		if o.state != StateUninitialized {
			return o.state, &InvalidTransitionError{Requested: phase, From: o.state}
		}
		during = StateStarting
	case PhaseClosing:
		if o.state != StateRunning {
			return o.state, &InvalidTransitionError{Requested: phase, From: o.state}
		}
		during = StateClosing
	case PhaseClosed:
		if !o.committed || o.closedRun {
			return o.state, &InvalidTransitionError{Requested: phase, From: o.state}
		}
		during = StateClosed
	}

	o.running = phase
	o.state = during
	return during, nil
}

// finish records the final state and releases the run.
func (o *Orchestrator) finish(phase Phase, after State) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.state = after
	o.running = ""
	switch phase {
	case PhaseClosing:
		o.committed = after == StateClosed
	case PhaseClosed:
		o.closedRun = true
	}
}

func (o *Orchestrator) run(ctx context.Context, phase Phase) (*Outcome, error) {
	during, err := o.begin(phase)
	if err != nil {
		o.logger.Warn("Rejected lifecycle phase",
			zap.String("phase", phase.String()),
			zap.String("code", ErrorCode(err)),
			zap.Error(err),
		)
		return nil, err
	}

	records := o.registry.begin(phase)
	startTime := time.Now()

	// A panic past this point must not leave the phase locked or the state
	// intermediate. The panic still propagates.
	released := false
	defer func() {
		if released {
			return
		}
		o.registry.end()
		o.finish(phase, StateFailed)
		o.logger.Error("Lifecycle phase aborted",
			zap.String("phase", phase.String()),
			zap.String("state", StateFailed.String()),
		)
	}()

	o.logger.Info("Entering lifecycle phase",
		zap.String("phase", phase.String()),
		zap.Int("contributions", len(records)),
	)

	phaseCtx := o.observers.PhaseStarted(ctx, phase, len(records))
	results := make([]HandlerResult, 0, len(records))
	vetoed := false

	for _, c := range records {
		if vetoed {
			results = append(results, HandlerResult{
				Owner:    c.Owner,
				Priority: c.Priority,
				Status:   StatusSkipped,
			})
			continue
		}

		handlerCtx := o.observers.HandlerStarted(phaseCtx, phase, c)
		result := o.invoke(handlerCtx, c, during)
		o.observers.HandlerFinished(handlerCtx, phase, result)
		results = append(results, result)

		switch result.Status {
		case StatusVetoed:
			vetoed = true
			o.logger.Info("Closing vetoed",
				zap.String("owner", c.Owner.String()),
				zap.String("reason", result.Reason),
			)
		case StatusFailed:
			o.logger.Error("Lifecycle handler failed",
				zap.String("phase", phase.String()),
				zap.String("owner", c.Owner.String()),
				zap.Error(result.Err),
			)
		default:
			o.logger.Debug("Lifecycle handler succeeded",
				zap.String("phase", phase.String()),
				zap.String("owner", c.Owner.String()),
			)
		}
	}

	after := nextState(phase, results)
	outcome := Aggregate(phase, results, after)
	o.registry.end()
	o.finish(phase, after)
	released = true
	o.observers.PhaseFinished(phaseCtx, &outcome)

	o.logger.Info("Lifecycle phase finished",
		zap.String("phase", phase.String()),
		zap.String("verdict", outcome.Verdict.String()),
		zap.String("state", after.String()),
		zap.Int("failed", outcome.Count(StatusFailed)),
		zap.Duration("duration", time.Since(startTime)),
	)

	return &outcome, nil
}

// nextState applies the per-phase policy to the collected results.
func nextState(phase Phase, results []HandlerResult) State {
	switch phase {
	case PhaseStartup:
		for _, r := range results {
			if r.Status == StatusFailed {
				return StateFailed
			}
		}
		return StateRunning
	case PhaseClosing:
		for _, r := range results {
			if r.Status == StatusVetoed {
				return StateRunning
			}
		}
		return StateClosed
	default:
		return StateClosed
	}
}

// invoke calls one handler and classifies its result. Panics and vetoes
// outside Closing become handler failures.
func (o *Orchestrator) invoke(ctx context.Context, c Contribution, during State) (hr HandlerResult) {
	hr = HandlerResult{Owner: c.Owner, Priority: c.Priority}
	pc := PhaseContext{Phase: c.Phase, State: during, Owner: c.Owner}

	defer func() {
		if rec := recover(); rec != nil {
			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("%v", rec)
			}
			hr.Status = StatusFailed
			hr.Reason = ""
			hr.Err = &HandlerFailure{Owner: c.Owner, Phase: c.Phase, Panicked: true, Err: err}
		}
	}()

	res := c.Handler.Handle(ctx, pc)
	switch {
	case res.IsVeto() && pc.CanVeto():
		hr.Status = StatusVetoed
		hr.Reason = res.Reason()
	case res.IsVeto():
		hr.Status = StatusFailed
		hr.Err = &HandlerFailure{
			Owner: c.Owner,
			Phase: c.Phase,
			Err:   fmt.Errorf("%w: %s", ErrVetoNotPermitted, res.Reason()),
		}
	case res.IsFailure():
		hr.Status = StatusFailed
		hr.Err = &HandlerFailure{Owner: c.Owner, Phase: c.Phase, Err: res.Err()}
	default:
		hr.Status = StatusSucceeded
	}
	return hr
}
