package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/roach88/casework/internal/gate"
	"github.com/roach88/casework/internal/jobs"
	"github.com/roach88/casework/internal/progress"
	"github.com/roach88/casework/internal/section"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	goodStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	badStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

func styledStatus(status string) string {
	switch status {
	case "COMPLETED":
		return goodStyle.Render(status)
	case "FAILED":
		return badStyle.Render(status)
	case "PARTIAL", "SKIPPED":
		return warnStyle.Render(status)
	default:
		return status
	}
}

func renderSummary(w io.Writer, s jobs.Summary) {
	fmt.Fprintf(w, "%s %s  %s\n", headingStyle.Render("job"), s.JobID, styledStatus(string(s.Status)))
	if s.Message != "" {
		fmt.Fprintf(w, "  %s\n", dimStyle.Render(s.Message))
	}
	names := make([]string, 0, len(s.Runs))
	for name := range s.Runs {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		r := s.Runs[name]
		line := fmt.Sprintf("  %-18s %s", name, styledStatus(string(r.Status)))
		if r.Attempt > 1 {
			line += dimStyle.Render(fmt.Sprintf(" (attempt %d)", r.Attempt))
		}
		switch {
		case r.Reason != "":
			line += "  " + dimStyle.Render(r.Reason)
		case r.Error != "":
			line += "  " + dimStyle.Render(r.Error)
		}
		fmt.Fprintln(w, line)
	}
}

func renderSnapshot(w io.Writer, snap progress.Snapshot) {
	fmt.Fprintf(w, "%s %s  %s  %d%% (%d/%d)\n", headingStyle.Render("job"), snap.JobID,
		styledStatus(string(snap.OverallStatus)), snap.Percent, snap.Finished, snap.Total)
	if snap.CurrentAgent != "" {
		fmt.Fprintf(w, "  current: %s\n", snap.CurrentAgent)
	}
	names := make([]string, 0, len(snap.AgentStatus))
	for name := range snap.AgentStatus {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		line := fmt.Sprintf("  %-18s %s", name, styledStatus(string(snap.AgentStatus[name])))
		if reason := snap.Reasons[name]; reason != "" {
			line += "  " + dimStyle.Render(reason)
		}
		fmt.Fprintln(w, line)
	}
}

func renderReport(w io.Writer, r gate.Report) {
	verdict := goodStyle.Render("valid")
	if !r.IsValid {
		verdict = badStyle.Render("invalid")
	}
	fmt.Fprintf(w, "%s %s version %d: %s\n", headingStyle.Render("validation"), r.JobID, r.Version, verdict)
	for _, i := range r.Issues {
		style := warnStyle
		if i.Severity == gate.SeverityCritical {
			style = badStyle
		}
		fmt.Fprintf(w, "  %s %s: %s\n", style.Render(string(i.Severity)), i.Field, i.Message)
	}
}

func renderResult(w io.Writer, res jobs.Result) {
	renderSummary(w, res.Summary)
	if res.Synthesized == nil {
		fmt.Fprintln(w, dimStyle.Render("  no synthesized section"))
		return
	}
	fmt.Fprintln(w, headingStyle.Render("synthesized"))
	keys := make([]string, 0, len(res.Synthesized))
	for k := range res.Synthesized {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-20s %s\n", k, formatValue(res.Synthesized[k]))
	}
}

// formatValue renders a section value as canonical JSON.
func formatValue(v any) string {
	raw, err := section.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimSpace(string(raw))
}
