// Package metrics exports lifecycle activity as Prometheus metrics and serves
// them, together with liveness and readiness probes, over HTTP.
package metrics

import (
	"context"
	"time"

	"app_lifecycle/lifecycle"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "lifecycle"

type handlerStartKey struct{}
type phaseStartKey struct{}

// Collector is a lifecycle.Observer that records phase and handler results.
// It is also a prometheus.Collector, so a single Register call exposes all
// of its series.
//
// Usage:
//
//	c := metrics.NewCollector(metrics.DefaultNamespace)
//	prometheus.MustRegister(c)
//	orch := lifecycle.NewOrchestrator(reg, lifecycle.WithObserver(c))
type Collector struct {
	phaseRuns       *prometheus.CounterVec
	handlerResults  *prometheus.CounterVec
	vetoes          *prometheus.CounterVec
	phaseDuration   *prometheus.HistogramVec
	handlerDuration *prometheus.HistogramVec
	inProgress      prometheus.Gauge
	state           prometheus.Gauge
}

// NewCollector creates a Collector whose metric names start with namespace.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	return &Collector{
		phaseRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_runs_total",
			Help:      "Completed phase runs by phase and verdict.",
		}, []string{"phase", "verdict"}),
		handlerResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_results_total",
			Help:      "Contribution results by phase and status.",
		}, []string{"phase", "status"}),
		vetoes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "closing_vetoes_total",
			Help:      "Vetoed Closing runs by vetoing owner name.",
		}, []string{"owner"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall time of a phase run.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Wall time of a single handler invocation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		inProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase_in_progress",
			Help:      "1 while a phase run is in flight.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Orchestrator state after the last run (0 uninitialized .. 5 failed).",
		}),
	}
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.phaseRuns, c.handlerResults, c.vetoes,
		c.phaseDuration, c.handlerDuration, c.inProgress, c.state,
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.collectors() {
		m.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.collectors() {
		m.Collect(ch)
	}
}

// PhaseStarted implements lifecycle.Observer.
func (c *Collector) PhaseStarted(ctx context.Context, _ lifecycle.Phase, _ int) context.Context {
	c.inProgress.Set(1)
	return context.WithValue(ctx, phaseStartKey{}, time.Now())
}

// HandlerStarted implements lifecycle.Observer.
func (c *Collector) HandlerStarted(ctx context.Context, _ lifecycle.Phase, _ lifecycle.Contribution) context.Context {
	return context.WithValue(ctx, handlerStartKey{}, time.Now())
}

// HandlerFinished implements lifecycle.Observer.
func (c *Collector) HandlerFinished(ctx context.Context, phase lifecycle.Phase, result lifecycle.HandlerResult) {
	c.handlerResults.WithLabelValues(phase.String(), result.Status.String()).Inc()
	if start, ok := ctx.Value(handlerStartKey{}).(time.Time); ok {
		c.handlerDuration.WithLabelValues(phase.String()).Observe(time.Since(start).Seconds())
	}
}

// PhaseFinished implements lifecycle.Observer.
func (c *Collector) PhaseFinished(ctx context.Context, outcome *lifecycle.Outcome) {
	phase := outcome.Phase.String()

	// Skipped contributions never reach HandlerFinished.
	if skipped := outcome.Count(lifecycle.StatusSkipped); skipped > 0 {
		c.handlerResults.WithLabelValues(phase, lifecycle.StatusSkipped.String()).Add(float64(skipped))
	}

	c.phaseRuns.WithLabelValues(phase, outcome.Verdict.String()).Inc()
	if outcome.Verdict == lifecycle.Vetoed {
		c.vetoes.WithLabelValues(outcome.VetoedBy.Name()).Inc()
	}
	if start, ok := ctx.Value(phaseStartKey{}).(time.Time); ok {
		c.phaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
	}

	c.state.Set(float64(outcome.State))
	c.inProgress.Set(0)
}

var _ lifecycle.Observer = (*Collector)(nil)
var _ prometheus.Collector = (*Collector)(nil)
