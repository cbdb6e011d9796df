// Package lifecycle implements the application lifecycle extension points:
// plugins contribute Startup, Closing and Closed handlers to a Registry, and
// an Orchestrator runs each phase in priority order and folds the handler
// results into an Outcome for the host.
//
// Usage:
//
//	registry := lifecycle.NewRegistry()
//	orch := lifecycle.NewOrchestrator(registry, lifecycle.WithLogger(logger))
//
//	db := lifecycle.NewIdentity("database")
//	registry.Register(db, lifecycle.PhaseStartup, openDB, 10)
//	registry.Register(db, lifecycle.PhaseClosed, closeDB, 30)
//
//	outcome, err := orch.EnterStartup(ctx)
//	if err != nil || outcome.Verdict != lifecycle.AllSucceeded {
//	    // surface outcome.Failures() and exit
//	}
package lifecycle

import "strings"

// Phase names one of the three lifecycle extension points.
type Phase string

const (
	// PhaseStartup runs once when the application starts. Best effort: every
	// handler runs, failures are collected.
	PhaseStartup Phase = "startup"

	// PhaseClosing runs when shutdown is requested. Any handler may veto,
	// which stops the phase and keeps the application running.
	PhaseClosing Phase = "closing"

	// PhaseClosed runs after a committed Closing. Nothing can stop it.
	PhaseClosed Phase = "closed"
)

// Phases lists the recognised phases in lifecycle order.
var Phases = []Phase{PhaseStartup, PhaseClosing, PhaseClosed}

// Valid reports whether p is one of the recognised phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseStartup, PhaseClosing, PhaseClosed:
		return true
	}
	return false
}

// Vetoable reports whether handlers of this phase may veto.
func (p Phase) Vetoable() bool {
	return p == PhaseClosing
}

func (p Phase) String() string {
	return string(p)
}

// ParsePhase converts a token such as "Startup" or " closed " into a Phase.
func ParsePhase(token string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(token)))
	if !p.Valid() {
		return "", &InvalidPhaseError{Token: token}
	}
	return p, nil
}
