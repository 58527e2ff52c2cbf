// Package tui renders live job progress in the terminal.
package tui

import (
	"context"
	"fmt"
	"slices"
	"strings"

	bprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/roach88/casework/internal/progress"
	"github.com/roach88/casework/internal/task"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	styleCompleted = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	styleFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	styleRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	styleSkipped   = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	stylePending   = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	detailStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	footerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

type eventMsg struct{ ev progress.Event }

type streamClosedMsg struct{}

// Model is the bubbletea model of one watched job.
type Model struct {
	snap     progress.Snapshot
	names    []string
	events   <-chan progress.Event
	spinner  spinner.Model
	bar      bprogress.Model
	width    int
	finished bool
	detached bool
}

// New builds a model from the snapshot and the subscription returned with
// it. names fixes the display order; tasks missing from it are appended.
func New(snap progress.Snapshot, sub progress.Subscription, names []string) Model {
	order := slices.Clone(names)
	for name := range snap.AgentStatus {
		if !slices.Contains(order, name) {
			order = append(order, name)
		}
	}
	return Model{
		snap:     snap,
		names:    order,
		events:   sub.Events,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styleRunning)),
		bar:      bprogress.New(bprogress.WithDefaultGradient(), bprogress.WithWidth(40)),
		finished: snap.OverallStatus.IsTerminal(),
	}
}

// Snapshot returns the latest folded snapshot.
func (m Model) Snapshot() progress.Snapshot { return m.snap }

// Detached reports whether the user left before the job finished.
func (m Model) Detached() bool { return m.detached }

func (m Model) Init() tea.Cmd {
	if m.finished {
		return tea.Quit
	}
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

func waitForEvent(ch <-chan progress.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg{ev: ev}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		m.snap.Apply(msg.ev)
		if msg.ev.Terminal() {
			m.finished = true
			return m, tea.Quit
		}
		return m, waitForEvent(m.events)
	case streamClosedMsg:
		m.finished = true
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.detached = !m.finished
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(20, min(60, msg.Width-20))
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("casework job " + m.snap.JobID))
	b.WriteString("  ")
	b.WriteString(statusStyle(string(m.snap.OverallStatus)).Render(string(m.snap.OverallStatus)))
	b.WriteString("\n\n")
	b.WriteString(m.bar.ViewAs(float64(m.snap.Percent) / 100))
	fmt.Fprintf(&b, "  %d/%d\n\n", m.snap.Finished, m.snap.Total)

	for _, name := range m.names {
		st := m.snap.AgentStatus[name]
		b.WriteString(m.icon(st))
		b.WriteString(" ")
		b.WriteString(statusStyle(string(st)).Render(fmt.Sprintf("%-18s %-9s", name, st)))
		if n := m.snap.Attempts[name]; n > 1 {
			b.WriteString(detailStyle.Render(fmt.Sprintf(" attempt %d", n)))
		}
		if reason := m.snap.Reasons[name]; reason != "" {
			b.WriteString(detailStyle.Render("  " + reason))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch {
	case m.finished && m.snap.Message != "":
		b.WriteString(footerStyle.Render(m.snap.Message))
	case m.finished:
		b.WriteString(footerStyle.Render("done"))
	default:
		b.WriteString(footerStyle.Render("q to detach; the job keeps running"))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) icon(st task.Status) string {
	switch st {
	case task.StatusRunning:
		return m.spinner.View()
	case task.StatusCompleted:
		return styleCompleted.Render("✓")
	case task.StatusFailed:
		return styleFailed.Render("✗")
	case task.StatusSkipped:
		return styleSkipped.Render("-")
	default:
		return stylePending.Render("·")
	}
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case string(task.StatusCompleted):
		return styleCompleted
	case string(task.StatusFailed):
		return styleFailed
	case string(task.StatusRunning):
		return styleRunning
	case string(task.StatusSkipped), string(task.JobPartial):
		return styleSkipped
	default:
		return stylePending
	}
}

// Watch runs the watch view until the job ends or the user detaches, and
// returns the final snapshot.
func Watch(ctx context.Context, snap progress.Snapshot, sub progress.Subscription, names []string, opts ...tea.ProgramOption) (progress.Snapshot, error) {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	final, err := tea.NewProgram(New(snap, sub, names), opts...).Run()
	if err != nil {
		return snap, fmt.Errorf("watch: %w", err)
	}
	return final.(Model).Snapshot(), nil
}
