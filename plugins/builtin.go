package plugins

import (
	"context"
	"errors"
	"time"

	"app_lifecycle/core"
	"app_lifecycle/journal"
	"app_lifecycle/lifecycle"
	"app_lifecycle/metrics"
	"app_lifecycle/shutdown"
	"app_lifecycle/tracing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/dig"
	"go.uber.org/zap"
)

// Contribution priorities of the built-in features.
const (
	PriorityJournalMigrate = 0
	PriorityTrackerVeto    = 0
	PriorityTrackerDrain   = 10
	PriorityMetricsServer  = lifecycle.DefaultPriority
	PriorityMetricsStop    = 80
)

// DefaultStopTimeout bounds Closed-phase shutdown of servers and exporters.
const DefaultStopTimeout = 5 * time.Second

// FromConfig returns the built-in features enabled by cfg.
func FromConfig(cfg *core.Config) []Feature {
	features := []Feature{NewTrackerFeature()}
	if cfg.JournalPath != "" {
		features = append(features, NewJournalFeature(cfg.JournalPath))
	}
	if cfg.MetricsAddr != "" {
		features = append(features, NewMetricsFeature(cfg.MetricsAddr))
	}
	features = append(features, NewTracingFeature(cfg.ServiceName, cfg.TracesEnabled))
	return features
}

// withTimeout runs fn with a context bounded by DefaultStopTimeout.
func withTimeout(fn func(context.Context) error) lifecycle.Handler {
	return lifecycle.ErrorHandler(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, DefaultStopTimeout)
		defer cancel()
		return fn(ctx)
	})
}

// TrackerFeature vetoes Closing while tracked operations run and drains
// them in Closed.
type TrackerFeature struct {
	DrainTimeout time.Duration
	owner        lifecycle.Identity
}

func NewTrackerFeature() *TrackerFeature {
	return &TrackerFeature{
		DrainTimeout: 30 * time.Second,
		owner:        lifecycle.NewIdentity("operations"),
	}
}

func (feature *TrackerFeature) Provider() any {
	return shutdown.NewOperationTracker
}

func (feature *TrackerFeature) Invoker() any {
	return func(reg *lifecycle.Registry, tracker *shutdown.OperationTracker) (err error) {
		err = reg.Register(feature.owner, lifecycle.PhaseClosing, tracker.ClosingHandler(), PriorityTrackerVeto)
		if err != nil {
			return
		}
		return reg.Register(feature.owner, lifecycle.PhaseClosed, tracker.ClosedHandler(feature.DrainTimeout), PriorityTrackerDrain)
	}
}

// JournalFeature records every phase outcome in SQLite. Migrations run as
// the first Startup contribution.
type JournalFeature struct {
	Path  string
	owner lifecycle.Identity
}

func NewJournalFeature(path string) *JournalFeature {
	return &JournalFeature{Path: path, owner: lifecycle.NewIdentity("journal")}
}

type journalOut struct {
	dig.Out

	Journal  *journal.Journal
	Recorder *journal.Recorder
	Observer lifecycle.Observer `group:"observers"`
}

func (feature *JournalFeature) Provider() any {
	return func(logger *zap.Logger) (out journalOut, err error) {
		j, err := journal.Open(context.Background(), feature.Path)
		if err != nil {
			return
		}
		rec := journal.NewRecorder(j, logger.Named("journal"), journal.DefaultRecorderConfig())

		out.Journal = j
		out.Recorder = rec
		out.Observer = rec
		return
	}
}

func (feature *JournalFeature) Invoker() any {
	return func(
		reg *lifecycle.Registry,
		j *journal.Journal,
		rec *journal.Recorder,
		fin *Finalizers,
	) error {
		fin.Add("journal", func() error {
			if !rec.Close() {
				return errors.New("timed out draining journal queue")
			}
			return j.Close()
		})
		return reg.Register(feature.owner, lifecycle.PhaseStartup, lifecycle.ErrorHandler(j.Migrate), PriorityJournalMigrate)
	}
}

// MetricsFeature serves Prometheus metrics and health probes while the
// application runs.
type MetricsFeature struct {
	Addr      string
	Namespace string
	owner     lifecycle.Identity
}

func NewMetricsFeature(addr string) *MetricsFeature {
	return &MetricsFeature{
		Addr:      addr,
		Namespace: metrics.DefaultNamespace,
		owner:     lifecycle.NewIdentity("metrics"),
	}
}

type metricsOut struct {
	dig.Out

	Gatherer  *prometheus.Registry
	Collector *metrics.Collector
	Server    *metrics.Server
	Observer  lifecycle.Observer `group:"observers"`
}

func (feature *MetricsFeature) Provider() any {
	return func(logger *zap.Logger) (out metricsOut, err error) {
		promReg := prometheus.NewRegistry()
		collector := metrics.NewCollector(feature.Namespace)

		err = promReg.Register(collector)
		if err != nil {
			return
		}
		err = promReg.Register(collectors.NewGoCollector())
		if err != nil {
			return
		}

		out.Gatherer = promReg
		out.Collector = collector
		out.Server = metrics.NewServer(feature.Addr, promReg, logger.Named("metrics"))
		out.Observer = collector
		return
	}
}

func (feature *MetricsFeature) Invoker() any {
	return func(
		reg *lifecycle.Registry,
		orch *lifecycle.Orchestrator,
		srv *metrics.Server,
	) (err error) {
		srv.Health().AddReadinessCheck("lifecycle", metrics.ReadinessCheck(orch))

		err = reg.Register(feature.owner, lifecycle.PhaseStartup,
			lifecycle.ErrorHandler(func(context.Context) error { return srv.Start() }),
			PriorityMetricsServer)
		if err != nil {
			return
		}
		return reg.Register(feature.owner, lifecycle.PhaseClosed, withTimeout(srv.Shutdown), PriorityMetricsStop)
	}
}

// TracingFeature emits spans for every phase and handler. The exporter is
// flushed by a finalizer, after the Closed phase span has ended.
type TracingFeature struct {
	ServiceName string
	Enabled     bool
	// SDK, when set, is used instead of building an OTLP provider.
	SDK *sdktrace.TracerProvider
}

func NewTracingFeature(serviceName string, enabled bool) *TracingFeature {
	return &TracingFeature{
		ServiceName: serviceName,
		Enabled:     enabled,
	}
}

type tracingOut struct {
	dig.Out

	Provider *tracing.Provider
	Observer lifecycle.Observer `group:"observers"`
}

func (feature *TracingFeature) Provider() any {
	return func() (out tracingOut, err error) {
		var provider *tracing.Provider
		if feature.SDK != nil {
			provider = tracing.NewProviderFrom(feature.SDK)
		} else {
			provider, err = tracing.NewProvider(context.Background(), feature.ServiceName, feature.Enabled)
			if err != nil {
				return
			}
		}
		out.Provider = provider
		out.Observer = tracing.NewObserver(provider.TracerProvider())
		return
	}
}

func (feature *TracingFeature) Invoker() any {
	return func(provider *tracing.Provider, fin *Finalizers) {
		fin.Add("tracing", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), DefaultStopTimeout)
			defer cancel()
			return provider.Shutdown(ctx)
		})
	}
}
