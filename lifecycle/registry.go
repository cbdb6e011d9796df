package lifecycle

import (
	"sort"
	"sync"
)

// DefaultPriority is the priority used by RegisterDefault.
const DefaultPriority = 20

// Contribution is one registered lifecycle hook. Values returned by
// Snapshot are copies; mutating them has no effect on the registry.
type Contribution struct {
	Phase    Phase
	Owner    Identity
	Handler  Handler
	Priority int
	// Sequence is the registration order used to break priority ties.
	Sequence uint64
}

// Registry holds at most one Contribution per (owner, phase).
//
// Registration may happen from any goroutine. Snapshots are copies taken
// under the lock, so a run in progress never observes later mutation.
// While the orchestrator is running a phase, that phase is locked against
// mutation (RegistryBusyError); the other two stay writable.
//
// Usage:
//
//	registry := NewRegistry()
//
//	// Lower priority runs first; equal priorities run in registration order
//	registry.Register(cache, PhaseClosed, flushCache, 10)
//	registry.Register(db, PhaseClosed, closeDB, 30)
//
//	records, _ := registry.Snapshot(PhaseClosed)
type Registry struct {
	mu      sync.Mutex
	phases  map[Phase]map[Identity]Contribution
	seq     uint64
	running Phase
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	phases := make(map[Phase]map[Identity]Contribution, len(Phases))
	for _, p := range Phases {
		phases[p] = make(map[Identity]Contribution)
	}
	return &Registry{phases: phases}
}

// Register adds handler as owner's contribution to phase, replacing any
// previous one. A replacement counts as a new registration for tie-breaking.
func (r *Registry) Register(owner Identity, phase Phase, handler Handler, priority int) error {
	if !phase.Valid() {
		return &InvalidPhaseError{Token: string(phase)}
	}
	if owner.IsZero() {
		return ErrZeroOwner
	}
	if handler == nil {
		return ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running == phase {
		return &RegistryBusyError{Phase: phase, Owner: owner}
	}

	r.seq++
	r.phases[phase][owner] = Contribution{
		Phase:    phase,
		Owner:    owner,
		Handler:  handler,
		Priority: priority,
		Sequence: r.seq,
	}
	return nil
}

// RegisterDefault registers handler with DefaultPriority.
func (r *Registry) RegisterDefault(owner Identity, phase Phase, handler Handler) error {
	return r.Register(owner, phase, handler, DefaultPriority)
}

// Unregister removes owner's contribution to phase. Removing a contribution
// that does not exist is not an error.
func (r *Registry) Unregister(owner Identity, phase Phase) error {
	if !phase.Valid() {
		return &InvalidPhaseError{Token: string(phase)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.phases[phase][owner]; !ok {
		return nil
	}
	if r.running == phase {
		return &RegistryBusyError{Phase: phase, Owner: owner}
	}
	delete(r.phases[phase], owner)
	return nil
}

// UnregisterAll removes every contribution owned by owner, as happens when a
// plugin detaches. Phases that are currently running are left untouched and
// reported through the returned error.
func (r *Registry) UnregisterAll(owner Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var busy error
	for _, p := range Phases {
		if _, ok := r.phases[p][owner]; !ok {
			continue
		}
		if r.running == p {
			busy = &RegistryBusyError{Phase: p, Owner: owner}
			continue
		}
		delete(r.phases[p], owner)
	}
	return busy
}

// Snapshot returns phase's contributions ordered by ascending priority, ties
// broken by registration order.
func (r *Registry) Snapshot(phase Phase) ([]Contribution, error) {
	if !phase.Valid() {
		return nil, &InvalidPhaseError{Token: string(phase)}
	}

	r.mu.Lock()
	records := make([]Contribution, 0, len(r.phases[phase]))
	for _, c := range r.phases[phase] {
		records = append(records, c)
	}
	r.mu.Unlock()

	sortContributions(records)
	return records, nil
}

// Owners returns the owners contributing to phase, in snapshot order.
func (r *Registry) Owners(phase Phase) []Identity {
	records, err := r.Snapshot(phase)
	if err != nil {
		return nil
	}
	owners := make([]Identity, len(records))
	for i, c := range records {
		owners[i] = c.Owner
	}
	return owners
}

// Len returns the number of contributions registered for phase.
func (r *Registry) Len(phase Phase) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.phases[phase])
}

// begin takes the snapshot for a run and locks phase against mutation.
func (r *Registry) begin(phase Phase) []Contribution {
	r.mu.Lock()
	r.running = phase
	records := make([]Contribution, 0, len(r.phases[phase]))
	for _, c := range r.phases[phase] {
		records = append(records, c)
	}
	r.mu.Unlock()

	sortContributions(records)
	return records
}

// end releases the lock taken by begin.
func (r *Registry) end() {
	r.mu.Lock()
	r.running = ""
	r.mu.Unlock()
}

func sortContributions(records []Contribution) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Priority != records[j].Priority {
			return records[i].Priority < records[j].Priority
		}
		return records[i].Sequence < records[j].Sequence
	})
}
