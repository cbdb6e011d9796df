package journal

import (
	"context"
	"sync"
	"time"

	"app_lifecycle/lifecycle"
	"app_lifecycle/logging"

	"go.uber.org/zap"
)

// DefaultQueueCapacity is the default number of outcomes buffered for writing.
const DefaultQueueCapacity = 64

// DefaultDrainTimeout bounds how long Close waits for queued outcomes.
const DefaultDrainTimeout = 10 * time.Second

// Writer is the subset of Journal the Recorder needs.
type Writer interface {
	Record(ctx context.Context, outcome *lifecycle.Outcome) (int64, error)
}

// RecorderConfig holds configuration for the Recorder.
type RecorderConfig struct {
	// QueueCapacity is the buffer size for pending outcomes
	QueueCapacity int
	// DrainTimeout is the maximum wait time in Close
	DrainTimeout time.Duration
}

// DefaultRecorderConfig returns the default configuration.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		QueueCapacity: DefaultQueueCapacity,
		DrainTimeout:  DefaultDrainTimeout,
	}
}

// Recorder is a lifecycle.Observer that writes every finished phase to a
// Writer on a background goroutine, so a slow disk never stalls a phase.
// Outcomes are written in the order the phases finished.
type Recorder struct {
	lifecycle.NopObserver

	writer  Writer
	logger  *zap.Logger
	config  RecorderConfig
	queue   chan lifecycle.Outcome
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewRecorder creates and starts a Recorder.
func NewRecorder(writer Writer, logger *zap.Logger, config RecorderConfig) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.QueueCapacity < 1 {
		config.QueueCapacity = DefaultQueueCapacity
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultDrainTimeout
	}

	r := &Recorder{
		writer: writer,
		logger: logger,
		config: config,
		queue:  make(chan lifecycle.Outcome, config.QueueCapacity),
	}
	r.wg.Add(1)
	go r.process()
	return r
}

func (r *Recorder) process() {
	defer r.wg.Done()

	for outcome := range r.queue {
		id, err := r.writer.Record(context.Background(), &outcome)
		if err != nil {
			r.logger.Error("Failed to journal phase outcome",
				logging.Phase(outcome.Phase),
				logging.Verdict(outcome.Verdict),
				zap.Error(err),
			)
			continue
		}
		r.logger.Debug("Journaled phase outcome",
			zap.Int64("run_id", id),
			logging.Phase(outcome.Phase),
		)
	}
}

// PhaseFinished queues a copy of outcome. When the queue is full the
// outcome is dropped and counted.
func (r *Recorder) PhaseFinished(_ context.Context, outcome *lifecycle.Outcome) {
	copied := *outcome
	copied.Results = append([]lifecycle.HandlerResult(nil), outcome.Results...)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.dropped++
		return
	}

	select {
	case r.queue <- copied:
	default:
		r.dropped++
		r.logger.Warn("Journal queue full, dropping phase outcome",
			logging.Phase(outcome.Phase),
			zap.Int("capacity", r.config.QueueCapacity),
		)
	}
}

// Pending returns the number of outcomes waiting to be written.
func (r *Recorder) Pending() int {
	return len(r.queue)
}

// Dropped returns how many outcomes were discarded.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close stops accepting outcomes and waits up to the drain timeout for
// queued ones to be written. It returns false on timeout.
func (r *Recorder) Close() bool {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(r.config.DrainTimeout):
		return false
	}
}

var _ lifecycle.Observer = (*Recorder)(nil)
