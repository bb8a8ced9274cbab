package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"course-payment-sync/internal/usecase"
)

// PrintSummary writes a short human-readable digest of a report.
func PrintSummary(out io.Writer, body any) {
	switch r := body.(type) {
	case *usecase.SyncSummary:
		printSync(out, r)
	case *usecase.ValidationReport:
		printValidation(out, r)
	case *usecase.HealthReport:
		printHealth(out, r)
	default:
		fmt.Fprintf(out, "%+v\n", body)
	}
}

func printSync(out io.Writer, s *usecase.SyncSummary) {
	fmt.Fprintf(out, "Sync finished in %s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(out, "  candidates:       %d\n", s.TotalCandidates)
	fmt.Fprintf(out, "  updated:          %d\n", s.Updated)
	fmt.Fprintf(out, "  unchanged:        %d\n", s.Unchanged)
	fmt.Fprintf(out, "  failed:           %d\n", s.Failed)
	fmt.Fprintf(out, "  courses added:    %d\n", s.CoursesAdded)
	fmt.Fprintf(out, "  inconsistencies:  %d\n", s.Inconsistencies)
	for _, f := range s.Failures {
		fmt.Fprintf(out, "  ! %s: %s\n", f.UserID, f.Error)
	}
}

func printValidation(out io.Writer, r *usecase.ValidationReport) {
	mode := "report"
	if r.FixMode {
		mode = "fix"
	}
	fmt.Fprintf(out, "Validation (%s mode): %d payments, %d users, %d checked\n",
		mode, r.TotalPayments, r.TotalUsers, r.UsersChecked)
	if len(r.Issues) == 0 {
		fmt.Fprintln(out, "  no issues found")
	}
	types := make([]string, 0, len(r.Summary.ByType))
	for t := range r.Summary.ByType {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(out, "  %-24s %d\n", t, r.Summary.ByType[usecase.IssueType(t)])
	}
	fmt.Fprintf(out, "  users affected:   %d\n", r.Summary.UsersAffected)
	if r.FixMode {
		fmt.Fprintf(out, "  users repaired:   %d\n", len(r.Fixed))
	}
	for _, f := range r.Failures {
		fmt.Fprintf(out, "  ! %s: %s\n", f.UserID, f.Error)
	}
}

func printHealth(out io.Writer, h *usecase.HealthReport) {
	fmt.Fprintf(out, "Status: %s\n", h.Status)
	for _, reason := range h.Reasons {
		fmt.Fprintf(out, "  - %s\n", reason)
	}
}
