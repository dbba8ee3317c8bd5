package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/squire/internal/subagent"
	"github.com/ShayCichocki/squire/internal/tools"
)

func newTestDashboard() *Dashboard {
	m := subagent.NewManager(subagent.Config{Tools: tools.NewRegistry()})
	return NewDashboard(m, 50*time.Millisecond)
}

func TestAppendEventLevels(t *testing.T) {
	d := newTestDashboard()

	agent := subagent.Subagent{ID: "0123456789", Kind: subagent.KindExplore}

	tests := []struct {
		eventType subagent.EventType
		wantLevel string
		wantText  string
	}{
		{subagent.EventSpawn, "INFO", "spawned"},
		{subagent.EventComplete, "INFO", "completed"},
		{subagent.EventFail, "ERROR", "failed"},
		{subagent.EventTimeout, "ERROR", "timed out"},
		{subagent.EventCancel, "INFO", "cancelled"},
	}

	for _, tt := range tests {
		d.appendEvent(subagent.Event{Type: tt.eventType, Agent: agent, Timestamp: time.Now()})
		logs := d.Logs()
		last := logs[len(logs)-1]
		if last.Level != tt.wantLevel {
			t.Errorf("%s: level = %q, want %q", tt.eventType, last.Level, tt.wantLevel)
		}
		if !strings.Contains(last.Message, tt.wantText) {
			t.Errorf("%s: message = %q, want substring %q", tt.eventType, last.Message, tt.wantText)
		}
		if !strings.Contains(last.Message, "01234567") {
			t.Errorf("%s: message = %q, want truncated id", tt.eventType, last.Message)
		}
	}
}

func TestLogBounded(t *testing.T) {
	d := newTestDashboard()
	agent := subagent.Subagent{ID: "a", Kind: subagent.KindPlan}

	for i := 0; i < maxLogLines*2; i++ {
		d.appendEvent(subagent.Event{Type: subagent.EventSpawn, Agent: agent, Timestamp: time.Now()})
	}
	if got := len(d.Logs()); got != maxLogLines {
		t.Errorf("log length = %d, want %d", got, maxLogLines)
	}
}

func TestUpdateQuit(t *testing.T) {
	d := newTestDashboard()

	model, cmd := d.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if !strings.Contains(model.View(), "Goodbye") {
		t.Errorf("view after quit = %q", model.View())
	}
}

func TestViewEmptyState(t *testing.T) {
	d := newTestDashboard()
	view := d.View()
	if !strings.Contains(view, "No active agents") {
		t.Errorf("view missing empty agents message: %q", view)
	}
	if !strings.Contains(view, "No events yet") {
		t.Errorf("view missing empty log message: %q", view)
	}
}
