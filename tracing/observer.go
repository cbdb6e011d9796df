// Package tracing turns lifecycle phases into OpenTelemetry spans: one span
// per phase run with a child span per invoked handler.
package tracing

import (
	"context"

	"app_lifecycle/lifecycle"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ScopeName is the instrumentation scope of lifecycle spans.
const ScopeName = "app_lifecycle/lifecycle"

// Attribute keys.
const (
	AttrPhase         = attribute.Key("lifecycle.phase")
	AttrOwner         = attribute.Key("lifecycle.owner")
	AttrPriority      = attribute.Key("lifecycle.priority")
	AttrStatus        = attribute.Key("lifecycle.status")
	AttrVerdict       = attribute.Key("lifecycle.verdict")
	AttrContributions = attribute.Key("lifecycle.contributions")
	AttrVetoReason    = attribute.Key("lifecycle.veto_reason")
	AttrVetoedBy      = attribute.Key("lifecycle.vetoed_by")
	AttrState         = attribute.Key("lifecycle.state")
)

// Observer is a lifecycle.Observer that records spans with tracer.
type Observer struct {
	tracer trace.Tracer
}

// NewObserver creates an Observer using the given provider. A nil provider
// yields a no-op tracer.
func NewObserver(tp trace.TracerProvider) *Observer {
	if tp == nil {
		return &Observer{tracer: noopTracer}
	}
	return &Observer{tracer: tp.Tracer(ScopeName)}
}

// PhaseStarted opens the phase span.
func (o *Observer) PhaseStarted(ctx context.Context, phase lifecycle.Phase, contributions int) context.Context {
	ctx, _ = o.tracer.Start(ctx, "lifecycle."+phase.String(),
		trace.WithAttributes(
			AttrPhase.String(phase.String()),
			AttrContributions.Int(contributions),
		),
	)
	return ctx
}

// HandlerStarted opens a handler span as a child of the phase span.
func (o *Observer) HandlerStarted(ctx context.Context, phase lifecycle.Phase, c lifecycle.Contribution) context.Context {
	ctx, _ = o.tracer.Start(ctx, "lifecycle.handler "+c.Owner.Name(),
		trace.WithAttributes(
			AttrPhase.String(phase.String()),
			AttrOwner.String(c.Owner.String()),
			AttrPriority.Int(c.Priority),
		),
	)
	return ctx
}

// HandlerFinished ends the handler span opened by HandlerStarted.
func (o *Observer) HandlerFinished(ctx context.Context, _ lifecycle.Phase, result lifecycle.HandlerResult) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(AttrStatus.String(result.Status.String()))

	switch result.Status {
	case lifecycle.StatusFailed:
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
	case lifecycle.StatusVetoed:
		span.SetAttributes(AttrVetoReason.String(result.Reason))
	}
	span.End()
}

// PhaseFinished ends the phase span.
func (o *Observer) PhaseFinished(ctx context.Context, outcome *lifecycle.Outcome) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		AttrVerdict.String(outcome.Verdict.String()),
		AttrState.String(outcome.State.String()),
	)

	switch outcome.Verdict {
	case lifecycle.Vetoed:
		span.SetAttributes(AttrVetoedBy.String(outcome.VetoedBy.String()))
	case lifecycle.PartialFailure:
		span.SetStatus(codes.Error, "one or more handlers failed")
	}
	span.End()
}

var _ lifecycle.Observer = (*Observer)(nil)
