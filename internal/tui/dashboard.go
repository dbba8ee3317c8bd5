// Package tui provides the terminal dashboard for watching running agents.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/squire/internal/subagent"
)

// EventMsg wraps a lifecycle event for the dashboard.
type EventMsg struct {
	Event subagent.Event
}

// tickMsg drives the periodic refresh of the active agent table.
type tickMsg time.Time

// LogEntry represents one line in the event log panel.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// maxLogLines bounds the event log panel.
const maxLogLines = 20

// Dashboard is the bubbletea model showing active agents and lifecycle
// events.
type Dashboard struct {
	manager *subagent.Manager

	spinner     spinner.Model
	refreshRate time.Duration

	agents []subagent.Subagent
	logs   []LogEntry

	width    int
	height   int
	quitting bool

	headerStyle   lipgloss.Style
	runningStyle  lipgloss.Style
	doneStyle     lipgloss.Style
	failedStyle   lipgloss.Style
	labelStyle    lipgloss.Style
	logErrorStyle lipgloss.Style
}

// NewDashboard creates a dashboard bound to the given manager.
func NewDashboard(m *subagent.Manager, refreshRate time.Duration) *Dashboard {
	if refreshRate <= 0 {
		refreshRate = 100 * time.Millisecond
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &Dashboard{
		manager:     m,
		spinner:     sp,
		refreshRate: refreshRate,

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")),

		runningStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")), // Green

		doneStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("28")), // Dark green

		failedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")), // Red

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		logErrorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),
	}
}

// Init implements tea.Model.
func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(d.spinner.Tick, d.tick(), d.waitForEvent())
}

// tick schedules the next refresh.
func (d *Dashboard) tick() tea.Cmd {
	return tea.Tick(d.refreshRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForEvent blocks on the manager's event channel.
func (d *Dashboard) waitForEvent() tea.Cmd {
	ch := d.manager.Events().Events()
	return func() tea.Msg {
		event, ok := <-ch
		if !ok {
			// Event stream closed: the run is over.
			return tea.QuitMsg{}
		}
		return EventMsg{Event: event}
	}
}

// Update implements tea.Model.
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			d.quitting = true
			return d, tea.Quit
		case "c":
			d.manager.CancelAll()
		}

	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height

	case tickMsg:
		d.agents = d.manager.ActiveAgents()
		return d, d.tick()

	case EventMsg:
		d.appendEvent(msg.Event)
		return d, d.waitForEvent()

	case spinner.TickMsg:
		var cmd tea.Cmd
		d.spinner, cmd = d.spinner.Update(msg)
		return d, cmd
	}

	return d, nil
}

// appendEvent converts a lifecycle event to a log entry.
func (d *Dashboard) appendEvent(e subagent.Event) {
	level := "INFO"
	var msg string
	switch e.Type {
	case subagent.EventSpawn:
		msg = fmt.Sprintf("%s %s spawned: %s", shortID(e.Agent.ID), e.Agent.Kind, e.Agent.Task)
	case subagent.EventComplete:
		msg = fmt.Sprintf("%s %s completed", shortID(e.Agent.ID), e.Agent.Kind)
	case subagent.EventFail:
		level = "ERROR"
		msg = fmt.Sprintf("%s %s failed: %s", shortID(e.Agent.ID), e.Agent.Kind, e.Agent.Error)
	case subagent.EventTimeout:
		level = "ERROR"
		msg = fmt.Sprintf("%s %s timed out", shortID(e.Agent.ID), e.Agent.Kind)
	case subagent.EventCancel:
		msg = fmt.Sprintf("%s %s cancelled", shortID(e.Agent.ID), e.Agent.Kind)
	default:
		msg = fmt.Sprintf("%s %s: %s", shortID(e.Agent.ID), e.Agent.Kind, e.Type)
	}

	d.logs = append(d.logs, LogEntry{Timestamp: e.Timestamp, Level: level, Message: msg})
	if len(d.logs) > maxLogLines {
		d.logs = d.logs[len(d.logs)-maxLogLines:]
	}
}

// View implements tea.Model.
func (d *Dashboard) View() string {
	if d.quitting {
		return "Goodbye!\n"
	}

	var b strings.Builder
	b.WriteString(d.headerStyle.Render("squire agents"))
	b.WriteString("\n\n")
	b.WriteString(d.viewAgents())
	b.WriteString("\n")
	b.WriteString(d.viewLogs())
	b.WriteString("\n")
	b.WriteString(d.labelStyle.Render("c to cancel all | q to quit"))
	b.WriteString("\n")
	return b.String()
}

// viewAgents renders the active agent table.
func (d *Dashboard) viewAgents() string {
	if len(d.agents) == 0 {
		return d.labelStyle.Render("No active agents") + "\n"
	}

	var b strings.Builder
	for _, agent := range d.agents {
		b.WriteString(fmt.Sprintf("  %s %s %-8s %s %s\n",
			d.spinner.View(),
			shortID(agent.ID),
			agent.Kind,
			d.runningStyle.Render(string(agent.Status)),
			truncate(agent.Task, 60)))
	}
	return b.String()
}

// viewLogs renders the event log panel.
func (d *Dashboard) viewLogs() string {
	if len(d.logs) == 0 {
		return d.labelStyle.Render("No events yet") + "\n"
	}

	var b strings.Builder
	for _, entry := range d.logs {
		line := fmt.Sprintf("  %s %s", entry.Timestamp.Format("15:04:05"), entry.Message)
		if entry.Level == "ERROR" {
			line = d.logErrorStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// Logs returns a copy of the current event log.
func (d *Dashboard) Logs() []LogEntry {
	return append([]LogEntry{}, d.logs...)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// Run starts the dashboard and blocks until it exits.
func Run(m *subagent.Manager, refreshRate time.Duration) error {
	p := tea.NewProgram(NewDashboard(m, refreshRate), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
