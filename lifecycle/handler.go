package lifecycle

import (
	"context"
	"errors"
)

// resultKind tags the variant held by a Result.
type resultKind int

const (
	resultSuccess resultKind = iota
	resultVeto
	resultFailure
)

// Result is what a handler returns: success, a veto (Closing only) or a
// failure carrying a diagnostic error. Build one with Success, Veto or Fail.
type Result struct {
	kind   resultKind
	reason string
	err    error
}

// Success reports that the handler completed.
func Success() Result {
	return Result{kind: resultSuccess}
}

// Veto blocks an in-progress Closing phase. Returned from any other phase it
// is recorded as a handler failure.
func Veto(reason string) Result {
	return Result{kind: resultVeto, reason: reason}
}

// Fail reports a handler failure. A nil err is replaced with a generic one so
// the failure is never lost.
func Fail(err error) Result {
	if err == nil {
		err = errors.New("handler failed without diagnostic")
	}
	return Result{kind: resultFailure, err: err}
}

// FromError maps err to Success when nil and Fail otherwise.
func FromError(err error) Result {
	if err == nil {
		return Success()
	}
	return Fail(err)
}

// IsSuccess reports whether r is a success.
func (r Result) IsSuccess() bool { return r.kind == resultSuccess }

// IsVeto reports whether r is a veto.
func (r Result) IsVeto() bool { return r.kind == resultVeto }

// IsFailure reports whether r is a failure.
func (r Result) IsFailure() bool { return r.kind == resultFailure }

// Reason returns the veto reason, empty for other variants.
func (r Result) Reason() string { return r.reason }

// Err returns the failure payload, nil for other variants.
func (r Result) Err() error { return r.err }

// PhaseContext is handed to every handler invocation.
type PhaseContext struct {
	// Phase being run.
	Phase Phase
	// State of the orchestrator while the phase runs (Starting, Closing or Closed).
	State State
	// Owner is the identity the contribution was registered under.
	Owner Identity
}

// CanVeto reports whether the handler may return Veto.
func (pc PhaseContext) CanVeto() bool {
	return pc.Phase.Vetoable()
}

// Handler is the single capability a plugin contributes to a phase.
//
// Handlers run sequentially on the caller's goroutine. The orchestrator never
// applies a timeout; a handler that needs one must derive it from ctx itself.
type Handler interface {
	Handle(ctx context.Context, pc PhaseContext) Result
}

// HandlerFunc adapts an ordinary function to Handler.
type HandlerFunc func(ctx context.Context, pc PhaseContext) Result

// Handle calls f(ctx, pc).
func (f HandlerFunc) Handle(ctx context.Context, pc PhaseContext) Result {
	return f(ctx, pc)
}

// ErrorHandler adapts a cleanup-style func(ctx) error to Handler.
//
//	registry.Register(id, lifecycle.PhaseClosed, lifecycle.ErrorHandler(server.Shutdown), 30)
func ErrorHandler(fn func(ctx context.Context) error) Handler {
	return HandlerFunc(func(ctx context.Context, _ PhaseContext) Result {
		return FromError(fn(ctx))
	})
}
