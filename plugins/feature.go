// Package plugins assembles the host's built-in features into a dig
// container. Each feature provides its values, then registers its lifecycle
// contributions from its invoker.
package plugins

import (
	"errors"
	"fmt"
	"sync"

	"app_lifecycle/lifecycle"

	"go.uber.org/dig"
	"go.uber.org/zap"
)

type Feature interface {
	// Provider return value should be a function that accepts any number of
	// parameters (dependencies) and returns any number of results with last
	// return value optionally being an error. Provider should not register
	// lifecycle contributions.
	Provider() any

	// Invoker return value should be a function that accepts any number of
	// parameters (dependencies) and returns error. Invoker registers the
	// feature's contributions with the *lifecycle.Registry.
	Invoker() any
}

type orchestratorIn struct {
	dig.In

	Registry  *lifecycle.Registry
	Logger    *zap.Logger
	Observers []lifecycle.Observer `group:"observers"`
}

func newOrchestrator(in orchestratorIn) *lifecycle.Orchestrator {
	return lifecycle.NewOrchestrator(in.Registry,
		lifecycle.WithLogger(in.Logger.Named("lifecycle")),
		lifecycle.WithObserver(in.Observers...),
	)
}

// Container builds a container holding the logger, the registry, the
// orchestrator and Finalizers, provides every feature and then invokes them
// in order.
func Container(logger *zap.Logger, features ...Feature) (c *dig.Container, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c = dig.New()

	err = c.Provide(func() *zap.Logger { return logger })
	if err != nil {
		return
	}

	err = c.Provide(lifecycle.NewRegistry)
	if err != nil {
		return
	}

	err = c.Provide(NewFinalizers)
	if err != nil {
		return
	}

	err = c.Provide(newOrchestrator)
	if err != nil {
		return
	}

	for _, feature := range features {
		err = c.Provide(feature.Provider())
		if err != nil {
			return nil, fmt.Errorf("provide %T: %w", feature, err)
		}
	}

	for _, feature := range features {
		err = c.Invoke(feature.Invoker())
		if err != nil {
			return nil, fmt.Errorf("invoke %T: %w", feature, err)
		}
	}

	return
}

// Finalizers run after the Closed phase has been fully observed, for
// resources the observers themselves depend on (the journal, log sinks).
// They run last-added first.
type Finalizers struct {
	mu    sync.Mutex
	names []string
	fns   []func() error
	done  bool
}

// NewFinalizers creates an empty Finalizers.
func NewFinalizers() *Finalizers {
	return &Finalizers{}
}

// Add appends a finalizer.
func (f *Finalizers) Add(name string, fn func() error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	f.fns = append(f.fns, fn)
}

// Names returns finalizer names in execution order.
func (f *Finalizers) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.names))
	for i := len(f.names) - 1; i >= 0; i-- {
		names = append(names, f.names[i])
	}
	return names
}

// Run executes every finalizer once, continuing past failures, and returns
// the joined errors. Later calls are no-ops.
func (f *Finalizers) Run() error {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return nil
	}
	f.done = true
	names, fns := f.names, f.fns
	f.mu.Unlock()

	var errs []error
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", names[i], err))
		}
	}
	return errors.Join(errs...)
}
