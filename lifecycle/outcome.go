package lifecycle

import "errors"

// Verdict summarises a phase run.
type Verdict int

const (
	// AllSucceeded means every handler that ran succeeded.
	AllSucceeded Verdict = iota
	// Vetoed means a Closing handler blocked shutdown.
	Vetoed
	// PartialFailure means at least one handler failed.
	PartialFailure
)

func (v Verdict) String() string {
	switch v {
	case AllSucceeded:
		return "all_succeeded"
	case Vetoed:
		return "vetoed"
	case PartialFailure:
		return "partial_failure"
	default:
		return "unknown"
	}
}

// Status is the result of a single contribution within a run.
type Status int

const (
	StatusSucceeded Status = iota
	StatusVetoed
	StatusFailed
	// StatusSkipped marks contributions that were not invoked because an
	// earlier Closing handler vetoed.
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusVetoed:
		return "vetoed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// HandlerResult records what happened to one contribution during a run.
type HandlerResult struct {
	Owner    Identity
	Priority int
	Status   Status
	// Reason is the veto reason when Status is StatusVetoed.
	Reason string
	// Err is a *HandlerFailure when Status is StatusFailed.
	Err error
}

// Outcome is the aggregated result of one phase run. It holds no timing
// data: the same snapshot and handler results always produce an equal
// Outcome.
type Outcome struct {
	Phase   Phase
	Results []HandlerResult
	Verdict Verdict
	// VetoedBy is the first owner that vetoed; zero unless Verdict is Vetoed.
	VetoedBy Identity
	// State is the orchestrator state after the run.
	State State
}

// Aggregate folds results, in execution order, into an Outcome.
//
// Vetoed wins over PartialFailure when a Closing run both failed and was
// vetoed; the failures stay visible in Results and Failures.
func Aggregate(phase Phase, results []HandlerResult, after State) Outcome {
	out := Outcome{
		Phase:   phase,
		Results: append([]HandlerResult(nil), results...),
		Verdict: AllSucceeded,
		State:   after,
	}

	failed, vetoed := false, false
	for _, r := range results {
		switch r.Status {
		case StatusVetoed:
			if phase.Vetoable() && !vetoed {
				vetoed = true
				out.VetoedBy = r.Owner
			}
		case StatusFailed:
			failed = true
		}
	}

	switch {
	case vetoed:
		out.Verdict = Vetoed
	case failed:
		out.Verdict = PartialFailure
	}
	return out
}

// Succeeded reports whether the verdict is AllSucceeded.
func (o *Outcome) Succeeded() bool {
	return o.Verdict == AllSucceeded
}

// Failures returns the failed results in execution order.
func (o *Outcome) Failures() []HandlerResult {
	var failures []HandlerResult
	for _, r := range o.Results {
		if r.Status == StatusFailed {
			failures = append(failures, r)
		}
	}
	return failures
}

// Err joins every handler failure into one error, or returns nil.
func (o *Outcome) Err() error {
	var errs []error
	for _, r := range o.Results {
		if r.Status == StatusFailed {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}

// Status returns owner's status in this run and whether owner took part.
func (o *Outcome) Status(owner Identity) (Status, bool) {
	for _, r := range o.Results {
		if r.Owner == owner {
			return r.Status, true
		}
	}
	return 0, false
}

// Count returns how many results have status s.
func (o *Outcome) Count(s Status) int {
	n := 0
	for _, r := range o.Results {
		if r.Status == s {
			n++
		}
	}
	return n
}
