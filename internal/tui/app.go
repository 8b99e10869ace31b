// Package tui is the live progress dashboard for long-running
// orchestration commands ("standby clone --tui", "standby switchover
// --tui"): a Bubble Tea program that polls a log Sink and a phase label
// while the operation runs in the background, in the same shape as the
// teacher's migration dashboard (Model/Init/Update/View over a ticking
// subscription), repurposed from migration throughput to cluster
// orchestration phase.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type tickMsg time.Time

// Phase reports the current named step of the running operation plus
// whatever terminal outcome it reached. Callers update *Phase from a
// goroutine driving the real operation; the Model only ever reads it.
type Phase struct {
	Name    string
	Done    bool
	Err     error
	Started time.Time
}

// Model is the Bubble Tea model for the orchestration dashboard.
type Model struct {
	title string
	sink  *Sink
	phase *Phase

	width  int
	height int
	ready  bool
}

// NewModel creates a dashboard for title ("standby clone", "standby
// switchover"), polling sink for log lines and phase for step changes.
func NewModel(title string, sink *Sink, phase *Phase) Model {
	return Model{title: title, sink: sink, phase: phase}
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
	case tickMsg:
		if m.phase.Done {
			return m, tea.Quit
		}
		return m, tick()
	}
	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}
	w := m.width

	title := headerStyle.Width(w).Render(" " + m.title)

	elapsed := time.Since(m.phase.Started).Truncate(time.Second)
	status := fmt.Sprintf("%s  %s  elapsed %s",
		labelStyle.Render("phase:"), phaseStyle.Render(m.phase.Name), valueStyle.Render(elapsed.String()))
	if m.phase.Err != nil {
		status += "  " + logERRStyle.Render("error: "+m.phase.Err.Error())
	}
	headerBox := boxStyle.Width(w - 2).Render(status)

	lines := m.sink.Lines()
	maxLines := m.height - 8
	if maxLines < 3 {
		maxLines = 3
	}
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	logBox := boxStyle.Width(w - 2).Render(strings.Join(lines, ""))

	help := helpStyle.Render("  q: quit")

	return strings.Join([]string{title, headerBox, logBox, help}, "\n")
}

// Run starts the dashboard in fullscreen mode, returning once phase.Done
// becomes true (the caller's background goroutine sets it) or the user
// quits.
func Run(title string, sink *Sink, phase *Phase) error {
	model := NewModel(title, sink, phase)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	if err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
