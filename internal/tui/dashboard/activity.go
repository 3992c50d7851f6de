package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/incidenthub/incidenthub/internal/tui"
	"github.com/incidenthub/incidenthub/pkg/protocol"
)

const maxActivityLines = 1000

type activityModel struct {
	viewport   viewport.Model
	lines      []string
	autoScroll bool
}

func newActivity() activityModel {
	vp := viewport.New(80, 10)
	return activityModel{viewport: vp, autoScroll: true}
}

func (m *activityModel) SetSize(width, height int) {
	m.viewport.Width = width
	m.viewport.Height = height
}

func (m *activityModel) addEvent(env protocol.Envelope) {
	line := formatEnvelope(env)
	if line == "" {
		return
	}
	m.lines = append(m.lines, line)
	if len(m.lines) > maxActivityLines {
		m.lines = m.lines[len(m.lines)-maxActivityLines:]
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	if m.autoScroll {
		m.viewport.GotoBottom()
	}
}

func formatEnvelope(env protocol.Envelope) string {
	ts := time.Now().Format("15:04:05")
	switch env.Event {
	case protocol.EventPresenceJoined:
		return fmt.Sprintf("  %s %s", ts, tui.Success.Render(env.Event))
	case protocol.EventPresenceLeft:
		return fmt.Sprintf("  %s %s", ts, tui.Dimmed.Render(env.Event))
	case protocol.EventIncidentUpdated, protocol.EventIncidentNoteAdded, protocol.EventIncidentAssigned,
		protocol.EventIncidentActionItemAdded, protocol.EventIncidentActionItemToggled:
		return fmt.Sprintf("  %s %s", ts, tui.Subtitle.Render(env.Event))
	case protocol.EventFocusUpdated, protocol.EventFocusCleared:
		return fmt.Sprintf("  %s %s", ts, tui.Dimmed.Render(env.Event))
	case protocol.EventError:
		return fmt.Sprintf("  %s %s", ts, tui.ErrorStyle.Render(env.Event))
	default:
		return ""
	}
}

func (m activityModel) Update(msg tea.Msg) (activityModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "G":
			m.autoScroll = true
			m.viewport.GotoBottom()
			return m, nil
		case "g":
			m.autoScroll = false
			m.viewport.GotoTop()
			return m, nil
		case "j", "down", "k", "up":
			m.autoScroll = false
		}
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m activityModel) View() string {
	return m.viewport.View()
}
