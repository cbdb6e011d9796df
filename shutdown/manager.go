package shutdown

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"app_lifecycle/lifecycle"
	"app_lifecycle/logging"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ErrStartupFailed is returned by Run when a Startup handler failed.
var ErrStartupFailed = errors.New("startup failed")

// ErrAlreadyRunning is returned by a second concurrent Run.
var ErrAlreadyRunning = errors.New("shutdown manager is already running")

// cancelRetryInterval paces Closing retries after the parent context was
// cancelled and no retry interval is configured. Nobody is left to send a
// new request, so the manager keeps asking on its own.
const cancelRetryInterval = time.Second

// Manager drives an Orchestrator through the whole lifecycle of a process:
//
//  1. Startup runs immediately; a failure ends Run with ErrStartupFailed.
//  2. Run waits for SIGINT/SIGTERM, RequestShutdown or ctx cancellation.
//  3. Closing runs. A veto resets the signal count and goes back to
//     waiting, optionally retrying on its own with backoff.
//  4. Once Closing commits, Closed runs and Run returns.
//
// The N-th signal (default 2) calls the force handler, which by default
// exits the process immediately with 130 or 143.
//
// Usage:
//
//	m := NewManager(orch, WithLogger(logger), WithVetoRetry(5*time.Second))
//	report, err := m.Run(ctx)
//	os.Exit(report.ExitCode())
type Manager struct {
	orch       *lifecycle.Orchestrator
	logger     *zap.Logger
	forceAfter int
	retry      time.Duration
	signals    <-chan os.Signal
	onForce    func(os.Signal)
	output     io.Writer

	requests chan struct{}
	counter  *SignalCounter

	mu      sync.Mutex
	running bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithForceAfter sets how many signals force an immediate exit. Default 2.
func WithForceAfter(n int) ManagerOption {
	return func(m *Manager) {
		m.forceAfter = n
	}
}

// WithVetoRetry makes the manager retry a vetoed Closing on its own, first
// after interval and then with exponential backoff up to ten times that.
// Zero waits for the next shutdown request instead.
func WithVetoRetry(interval time.Duration) ManagerOption {
	return func(m *Manager) {
		m.retry = interval
	}
}

// WithSignals replaces OS signal delivery with ch.
func WithSignals(ch <-chan os.Signal) ManagerOption {
	return func(m *Manager) {
		m.signals = ch
	}
}

// WithForceHandler replaces the default force handler, which exits the process.
func WithForceHandler(fn func(os.Signal)) ManagerOption {
	return func(m *Manager) {
		m.onForce = fn
	}
}

// WithOutput prints a colored summary of every phase outcome to w.
func WithOutput(w io.Writer) ManagerOption {
	return func(m *Manager) {
		m.output = w
	}
}

// NewManager creates a Manager for orch.
func NewManager(orch *lifecycle.Orchestrator, opts ...ManagerOption) *Manager {
	m := &Manager{
		orch:       orch,
		logger:     zap.NewNop(),
		forceAfter: 2,
		requests:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.onForce == nil {
		m.onForce = func(sig os.Signal) {
			_ = m.logger.Sync()
			os.Exit(ExitCodeFor(sig))
		}
	}

	m.counter = NewSignalCounter(m.forceAfter, func(sig os.Signal) {
		m.logger.Warn("Received repeated shutdown signal, forcing immediate exit",
			zap.String("signal", sig.String()),
			zap.Int("exit_code", ExitCodeFor(sig)),
		)
		m.onForce(sig)
	})
	return m
}

// Orchestrator returns the driven orchestrator.
func (m *Manager) Orchestrator() *lifecycle.Orchestrator {
	return m.orch
}

// Signals returns the signal counter.
func (m *Manager) Signals() *SignalCounter {
	return m.counter
}

// RequestShutdown asks Run to attempt Closing. It never blocks; requests
// made while one is already pending are merged.
func (m *Manager) RequestShutdown() {
	select {
	case m.requests <- struct{}{}:
	default:
	}
}

// Run executes the lifecycle and returns every outcome it produced. The
// error is non-nil when startup failed or the orchestrator rejected a
// transition. ctx cancellation requests shutdown; it is not passed on to
// handlers as a cancellation.
func (m *Manager) Run(ctx context.Context) (*Report, error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	stop := m.watchSignals()
	defer stop()

	phaseCtx := context.WithoutCancel(ctx)
	report := &Report{}

	out, err := m.orch.EnterStartup(phaseCtx)
	if err != nil {
		return report, err
	}
	report.Startup = out
	m.print(out)

	if !out.Succeeded() {
		m.logger.Error("Startup failed, not entering running state",
			logging.State(out.State),
			zap.Int("failed", out.Count(lifecycle.StatusFailed)),
		)
		return report, fmt.Errorf("%w: %w", ErrStartupFailed, out.Err())
	}

	m.logger.Info("Application running, waiting for shutdown request")

	if err := m.closeLoop(ctx, phaseCtx, report); err != nil {
		return report, err
	}

	out, err = m.orch.EnterClosed(phaseCtx)
	if err != nil {
		return report, err
	}
	report.Closed = out
	m.print(out)

	m.logger.Info("Shutdown complete",
		zap.Int("closing_attempts", report.Attempts()),
		zap.Int("exit_code", report.ExitCode()),
	)
	return report, nil
}

// closeLoop waits for shutdown triggers and runs Closing until it commits.
func (m *Manager) closeLoop(ctx, phaseCtx context.Context, report *Report) error {
	var (
		ctxDone   = ctx.Done()
		cancelled bool
		retry     <-chan time.Time
		b         backoff.BackOff
	)

	for {
		select {
		case <-m.requests:
			b = nil
		case <-ctxDone:
			m.logger.Info("Context cancelled, initiating shutdown")
			ctxDone = nil
			cancelled = true
			b = nil
		case <-retry:
			m.logger.Info("Retrying vetoed shutdown")
		}
		retry = nil

		out, err := m.orch.EnterClosing(phaseCtx)
		if err != nil {
			return err
		}
		report.Closing = append(report.Closing, out)
		m.print(out)

		if out.Verdict != lifecycle.Vetoed {
			return nil
		}

		// Drop requests that arrived during the vetoed attempt.
		select {
		case <-m.requests:
		default:
		}
		m.counter.Reset()

		vetoReason := ""
		for _, r := range out.Results {
			if r.Status == lifecycle.StatusVetoed {
				vetoReason = r.Reason
				break
			}
		}

		delay := time.Duration(0)
		if m.retry > 0 || cancelled {
			if b == nil {
				b = m.newBackOff(cancelled)
			}
			delay = b.NextBackOff()
			retry = time.After(delay)
		}

		m.logger.Warn("Shutdown vetoed",
			logging.Owner(out.VetoedBy),
			zap.String("reason", vetoReason),
			zap.Int("attempt", report.Attempts()),
			zap.Duration("retry_in", delay),
		)
	}
}

func (m *Manager) newBackOff(cancelled bool) backoff.BackOff {
	initial := m.retry
	if initial <= 0 && cancelled {
		initial = cancelRetryInterval
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = 10 * initial
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// watchSignals forwards shutdown signals to the counter until the returned
// stop func is called.
func (m *Manager) watchSignals() (stop func()) {
	in := m.signals
	release := func() {}
	if in == nil {
		ch := make(chan os.Signal, 2)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		in = ch
		release = func() { signal.Stop(ch) }
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig, ok := <-in:
				if !ok {
					return
				}
				if m.counter.Increment(sig) == 1 {
					m.logger.Info("Received shutdown signal, requesting graceful shutdown",
						zap.String("signal", sig.String()),
					)
					m.RequestShutdown()
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		release()
		close(done)
	}
}

func (m *Manager) print(out *lifecycle.Outcome) {
	m.logger.Debug("Phase outcome", logging.OutcomeField(out))
	if m.output != nil {
		PrintOutcome(m.output, out)
	}
}
