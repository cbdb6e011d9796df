package lifecycle

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Observer is notified as phases run. Implementations must be fast and must
// not call back into the Orchestrator. The context returned by PhaseStarted
// and HandlerStarted is passed on to the handlers, which lets tracing
// observers parent handler spans.
type Observer interface {
	PhaseStarted(ctx context.Context, phase Phase, contributions int) context.Context
	HandlerStarted(ctx context.Context, phase Phase, c Contribution) context.Context
	HandlerFinished(ctx context.Context, phase Phase, result HandlerResult)
	PhaseFinished(ctx context.Context, outcome *Outcome)
}

// NopObserver implements Observer with no-ops. Embed it to implement only
// the callbacks you need.
type NopObserver struct{}

func (NopObserver) PhaseStarted(ctx context.Context, _ Phase, _ int) context.Context {
	return ctx
}

func (NopObserver) HandlerStarted(ctx context.Context, _ Phase, _ Contribution) context.Context {
	return ctx
}

func (NopObserver) HandlerFinished(context.Context, Phase, HandlerResult) {}

func (NopObserver) PhaseFinished(context.Context, *Outcome) {}

// observers fans callbacks out in registration order. A panicking observer
// is logged and skipped; it never aborts the phase run.
type observers struct {
	list   []Observer
	logger *zap.Logger
}

// guard runs fn and logs any panic it raises.
func (obs *observers) guard(callback string, o Observer, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			obs.logger.Error("Lifecycle observer panicked",
				zap.String("callback", callback),
				zap.String("observer", fmt.Sprintf("%T", o)),
				zap.Any("panic", rec),
			)
		}
	}()
	fn()
}

func (obs *observers) PhaseStarted(ctx context.Context, phase Phase, n int) context.Context {
	for _, o := range obs.list {
		obs.guard("PhaseStarted", o, func() {
			if next := o.PhaseStarted(ctx, phase, n); next != nil {
				ctx = next
			}
		})
	}
	return ctx
}

func (obs *observers) HandlerStarted(ctx context.Context, phase Phase, c Contribution) context.Context {
	for _, o := range obs.list {
		obs.guard("HandlerStarted", o, func() {
			if next := o.HandlerStarted(ctx, phase, c); next != nil {
				ctx = next
			}
		})
	}
	return ctx
}

// HandlerFinished and PhaseFinished run in reverse so nested spans close
// inside out.
func (obs *observers) HandlerFinished(ctx context.Context, phase Phase, r HandlerResult) {
	for i := len(obs.list) - 1; i >= 0; i-- {
		o := obs.list[i]
		obs.guard("HandlerFinished", o, func() { o.HandlerFinished(ctx, phase, r) })
	}
}

func (obs *observers) PhaseFinished(ctx context.Context, outcome *Outcome) {
	for i := len(obs.list) - 1; i >= 0; i-- {
		o := obs.list[i]
		obs.guard("PhaseFinished", o, func() { o.PhaseFinished(ctx, outcome) })
	}
}
