// Package tui provides a minimal reference implementation of
// viewport.Sink: a scrolling activity feed rendered with bubbletea and
// lipgloss, proving out the Viewport bridge contract without
// attempting the teacher's full kanban/dashboard HUD (out of scope
// per spec §1 — "the visual viewport/HUD renderer" is an external
// collaborator, not in-core work).
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/taskswarm/orchestrator/internal/viewport"
)

// MaxLines bounds the scrollback kept in the feed.
const MaxLines = 500

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// feedMsg wraps one already-formatted viewport.Event line for delivery
// into the bubbletea update loop.
type feedMsg string

// Model is the bubbletea model backing the feed. It implements
// tea.Model directly; Sink drives it via tea.Program.
type Model struct {
	lines  []string
	width  int
	height int
}

// New constructs an empty feed model.
func New() Model {
	return Model{}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case feedMsg:
		m.lines = append(m.lines, string(msg))
		if len(m.lines) > MaxLines {
			m.lines = m.lines[len(m.lines)-MaxLines:]
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("orchestrator activity"))
	b.WriteString("\n")
	start := 0
	visible := m.height - 2
	if visible > 0 && len(m.lines) > visible {
		start = len(m.lines) - visible
	}
	for _, line := range m.lines[start:] {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// Sink is the viewport.Sink implementation: it owns a tea.Program and
// feeds every drained event into it as a formatted feedMsg.
type Sink struct {
	program *tea.Program
}

// NewSink constructs a Sink around a new bubbletea program; the
// program does not start until Run is called. Callers that just want
// the feed driven headlessly (e.g. tests) can use Model directly
// instead.
func NewSink() *Sink {
	m := New()
	p := tea.NewProgram(m)
	return &Sink{program: p}
}

// Run starts the bubbletea program's render loop; it blocks until the
// program quits.
func (s *Sink) Run() error {
	_, err := s.program.Run()
	return err
}

// Drain implements viewport.Sink: format every queued event and send
// it into the bubbletea program as a feedMsg.
func (s *Sink) Drain(events <-chan viewport.Event) {
	for e := range events {
		s.program.Send(feedMsg(format(e)))
	}
}

// format renders one viewport.Event as a single display line.
func format(e viewport.Event) string {
	switch {
	case e.WorkerSpawned != nil:
		return okStyle.Render(fmt.Sprintf("+ worker %s spawned", e.WorkerSpawned.WorkerID))
	case e.WorkerStopped != nil:
		return dimStyle.Render(fmt.Sprintf("- worker %s stopped", e.WorkerStopped.WorkerID))
	case e.RuntimeOutput != nil:
		r := e.RuntimeOutput
		return dimStyle.Render(fmt.Sprintf("[%s/%s] (%s) %s", r.WorkerID, r.TaskID, r.Activity, r.Line))
	case e.RuntimeExited != nil:
		return failStyle.Render(fmt.Sprintf("worker %s runtime exited (%d)", e.RuntimeExited.WorkerID, e.RuntimeExited.ExitCode))
	case e.GraphSubmitted != nil:
		return headerStyle.Render(fmt.Sprintf("graph %s submitted", e.GraphSubmitted.GraphID))
	case e.NodeStatusChanged != nil:
		n := e.NodeStatusChanged
		return dimStyle.Render(fmt.Sprintf("graph %s node %s -> %s", n.GraphID, n.NodeID, n.Status))
	case e.GraphCompleted != nil:
		ok := 0
		for _, success := range e.GraphCompleted.Results {
			if success {
				ok++
			}
		}
		return okStyle.Render(fmt.Sprintf("graph %s completed (%d/%d succeeded)", e.GraphCompleted.GraphID, ok, len(e.GraphCompleted.Results)))
	default:
		return dimStyle.Render("(unrecognized event)")
	}
}
