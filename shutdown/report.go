package shutdown

import (
	"fmt"
	"io"
	"strings"

	"app_lifecycle/core"
	"app_lifecycle/lifecycle"
	"app_lifecycle/logging"

	"github.com/fatih/color"
)

// Report collects every outcome of one Manager.Run.
type Report struct {
	Startup *lifecycle.Outcome
	// Closing holds each Closing attempt in order; all but the last were vetoed.
	Closing []*lifecycle.Outcome
	Closed  *lifecycle.Outcome
}

// Attempts returns how many times Closing ran.
func (r *Report) Attempts() int {
	return len(r.Closing)
}

// ExitCode maps the report to a process exit code.
func (r *Report) ExitCode() int {
	if r.Startup == nil || !r.Startup.Succeeded() {
		return core.ExitCodeStartupFailed
	}
	for _, out := range r.Closing {
		if out.Count(lifecycle.StatusFailed) > 0 {
			return core.ExitCodeShutdownErrors
		}
	}
	if r.Closed != nil && !r.Closed.Succeeded() {
		return core.ExitCodeShutdownErrors
	}
	return core.ExitCodeSuccess
}

// PrintOutcome writes a colored per-owner summary of out to w.
func PrintOutcome(w io.Writer, out *lifecycle.Outcome) {
	var header *color.Color
	switch out.Verdict {
	case lifecycle.AllSucceeded:
		header = color.New(color.FgGreen, color.Bold)
	case lifecycle.Vetoed:
		header = color.New(color.FgYellow, color.Bold)
	default:
		header = color.New(color.FgRed, color.Bold)
	}

	fmt.Fprintln(w)
	header.Fprintf(w, "━━━ %s: %s ", phaseTitle(out.Phase), strings.ReplaceAll(out.Verdict.String(), "_", " "))
	color.New(color.FgHiBlack).Fprintf(w, "(%d handlers, state %s)", len(out.Results), out.State)
	header.Fprintln(w, " ━━━")

	for _, r := range out.Results {
		printResult(w, r)
	}
}

func printResult(w io.Writer, r lifecycle.HandlerResult) {
	var icon string
	var clr *color.Color

	switch r.Status {
	case lifecycle.StatusSucceeded:
		icon = "✓"
		clr = color.New(color.FgGreen)
	case lifecycle.StatusVetoed:
		icon = "!"
		clr = color.New(color.FgYellow)
	case lifecycle.StatusFailed:
		icon = "✗"
		clr = color.New(color.FgRed)
	default:
		icon = "○"
		clr = color.New(color.FgHiBlack)
	}

	clr.Fprintf(w, "  %s %s", icon, r.Owner)
	dim := color.New(color.FgHiBlack)
	dim.Fprintf(w, " [%d]", r.Priority)

	switch r.Status {
	case lifecycle.StatusVetoed:
		dim.Fprintf(w, " - vetoed: %s", logging.RedactSensitiveData(r.Reason))
	case lifecycle.StatusSkipped:
		dim.Fprintf(w, " - skipped")
	}
	fmt.Fprintln(w)

	if r.Status == lifecycle.StatusFailed && r.Err != nil {
		color.New(color.FgRed).Fprintf(w, "    └─ %s\n", logging.RedactSensitiveData(r.Err.Error()))
	}
}

func phaseTitle(p lifecycle.Phase) string {
	s := p.String()
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
