package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/restprobe/restprobe/internal/engine"
	"github.com/restprobe/restprobe/pkg/contract"
)

// reporter renders runs for the console.
type reporter struct {
	w       io.Writer
	passC   *color.Color
	failC   *color.Color
	errC    *color.Color
	faintC  *color.Color
	headerC *color.Color
}

func newReporter(w io.Writer, noColor bool) *reporter {
	r := &reporter{
		w:       w,
		passC:   color.New(color.FgGreen),
		failC:   color.New(color.FgRed),
		errC:    color.New(color.FgYellow),
		faintC:  color.New(color.Faint),
		headerC: color.New(color.Bold),
	}
	if noColor {
		for _, c := range []*color.Color{r.passC, r.failC, r.errC, r.faintC, r.headerC} {
			c.DisableColor()
		}
	}
	return r
}

// Report prints a full suite run: header, one line per case with its
// violations or error, and a summary tally.
func (r *reporter) Report(report *engine.RunReport) {
	run := report.Run
	r.headerC.Fprintf(r.w, "\n%s", run.SuiteName)
	r.faintC.Fprintf(r.w, "  run %s\n", run.ID)

	for i := range report.Results {
		r.caseLine(&report.Results[i])
	}

	fmt.Fprintln(r.w)
	r.passC.Fprintf(r.w, "  %d passed", run.Passed)
	if run.Failed > 0 {
		r.failC.Fprintf(r.w, "  %d failed", run.Failed)
	}
	if run.Errored > 0 {
		r.errC.Fprintf(r.w, "  %d errored", run.Errored)
	}
	if run.CompletedAt != nil {
		r.faintC.Fprintf(r.w, "  (%s)", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintln(r.w)
}

func (r *reporter) caseLine(res *contract.CaseResult) {
	switch res.Status {
	case contract.CaseStatusPassed:
		r.passC.Fprint(r.w, "  ✓ ")
	case contract.CaseStatusFailed:
		r.failC.Fprint(r.w, "  ✗ ")
	default:
		r.errC.Fprint(r.w, "  ! ")
	}
	fmt.Fprint(r.w, res.CaseID)
	r.faintC.Fprintf(r.w, "  [%d, %dms", res.StatusCode, res.DurationMs)
	if res.Attempts > 1 {
		r.faintC.Fprintf(r.w, ", %d attempts", res.Attempts)
	}
	r.faintC.Fprintln(r.w, "]")

	for _, v := range res.Violations {
		r.failC.Fprintf(r.w, "      %s\n", v)
	}
	if res.Error != "" {
		r.errC.Fprintf(r.w, "      %s\n", res.Error)
	}
}

// RunLine prints a one-line summary of a stored run, for history listings.
func (r *reporter) RunLine(run *contract.Run) {
	status := r.passC
	if run.Status != contract.RunStatusCompleted {
		status = r.failC
	}
	fmt.Fprintf(r.w, "%s  %-20s ", run.ID, run.SuiteName)
	status.Fprintf(r.w, "%-9s", run.Status)
	fmt.Fprintf(r.w, "  %dP/%dF/%dE  %s\n",
		run.Passed, run.Failed, run.Errored, run.StartedAt.Format(time.RFC3339))
}

// RunDetail prints a stored run with all of its case results.
func (r *reporter) RunDetail(run *contract.Run, results []*contract.CaseResult) {
	r.RunLine(run)
	for _, res := range results {
		r.caseLine(res)
	}
}
