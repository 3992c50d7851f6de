// Package dashboard implements incidentctl's live monitor: an incident
// list, the presence roster of whoever is viewing the selected incident,
// and a tail of the events streaming over its session WebSocket.
package dashboard

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/incidenthub/incidenthub/internal/store"
	"github.com/incidenthub/incidenthub/internal/tui"
	"github.com/incidenthub/incidenthub/pkg/protocol"
)

// Panel identifies which dashboard panel has input focus.
type Panel int

const (
	PanelIncidents Panel = iota
	PanelActivity
)

// Model is the root dashboard TUI model.
type Model struct {
	incidents incidentsModel
	presence  presenceModel
	activity  activityModel
	help      helpModel

	joinedID string
	joinCh   chan<- string

	connected    bool
	reconnecting bool

	activePanel Panel
	width       int
	height      int
	quitting    bool
}

// NewModel creates a dashboard model. joinCh receives the incident id the
// user selects with Enter; the caller reads from it and drives the
// WebSocket join on the model's behalf.
func NewModel(incidents []store.Incident, joinCh chan<- string) Model {
	return Model{
		incidents: newIncidents(incidents),
		presence:  newPresence(),
		activity:  newActivity(),
		help:      newHelp(),
		joinCh:    joinCh,
	}
}

// IncidentsUpdateMsg carries a refreshed incident list.
type IncidentsUpdateMsg struct {
	Incidents []store.Incident
}

// ConnStatusMsg reports the WebSocket connection state.
type ConnStatusMsg struct {
	Connected    bool
	Reconnecting bool
}

// EventMsg wraps one envelope received over the WebSocket.
type EventMsg struct {
	Envelope protocol.Envelope
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.activity.SetSize(msg.Width-4, m.activityHeight())
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, key.NewBinding(key.WithKeys("ctrl+c", "q"))):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, key.NewBinding(key.WithKeys("tab"))):
			if m.activePanel == PanelIncidents {
				m.activePanel = PanelActivity
			} else {
				m.activePanel = PanelIncidents
			}
			return m, nil
		case key.Matches(msg, key.NewBinding(key.WithKeys("?"))):
			m.help.toggle()
			return m, nil
		case key.Matches(msg, key.NewBinding(key.WithKeys("enter"))):
			if in, ok := m.incidents.selected(); ok {
				m.joinedID = in.ID
				m.presence.reset()
				if m.joinCh != nil {
					select {
					case m.joinCh <- in.ID:
					default:
					}
				}
			}
			return m, nil
		}

	case IncidentsUpdateMsg:
		m.incidents.update(msg.Incidents)
		return m, nil

	case ConnStatusMsg:
		m.connected = msg.Connected
		m.reconnecting = msg.Reconnecting
		return m, nil

	case EventMsg:
		m.applyEvent(msg.Envelope)
		return m, nil
	}

	var cmd tea.Cmd
	switch m.activePanel {
	case PanelIncidents:
		m.incidents, cmd = m.incidents.Update(msg)
	case PanelActivity:
		m.activity, cmd = m.activity.Update(msg)
	}
	return m, cmd
}

func (m *Model) applyEvent(env protocol.Envelope) {
	m.activity.addEvent(env)

	switch env.Event {
	case protocol.EventPresenceList:
		var data protocol.PresenceListData
		if decode(env, &data) {
			m.presence.setList(data)
		}
	case protocol.EventPresenceJoined:
		var data protocol.PresenceJoinedData
		if decode(env, &data) {
			m.presence.addJoined(data)
		}
	case protocol.EventPresenceLeft:
		var data protocol.PresenceLeftData
		if decode(env, &data) {
			m.presence.removeLeft(data)
		}
	}
}

func (m Model) View() string {
	if m.help.visible {
		return m.help.View()
	}

	headerView := m.headerView()

	incStyle := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(tui.ColorMuted).Width(m.width - 2)
	presStyle := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(tui.ColorMuted).Width(m.width - 2)
	actStyle := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(tui.ColorMuted).Width(m.width - 2)

	if m.activePanel == PanelIncidents {
		incStyle = incStyle.BorderForeground(tui.ColorPrimary)
	} else {
		actStyle = actStyle.BorderForeground(tui.ColorPrimary)
	}

	incView := incStyle.Render(tui.Subtitle.Render(" Incidents") + "\n" + m.incidents.View())
	presView := presStyle.Render(tui.Subtitle.Render(" Presence") + "\n" + m.presence.View())
	actView := actStyle.Render(tui.Subtitle.Render(" Activity") + "\n" + m.activity.View())

	return lipgloss.JoinVertical(lipgloss.Left, headerView, incView, presView, actView, m.help.bar())
}

func (m Model) headerView() string {
	left := tui.Title.Render("incidentctl monitor")
	dot := tui.StatusDot(m.connected, m.reconnecting)
	status := tui.StatusText(m.connected, m.reconnecting)

	joined := "none"
	if m.joinedID != "" {
		joined = m.joinedID
	}
	right := fmt.Sprintf("%s %s   incident: %s", dot, status, joined)

	headerStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(tui.ColorPrimary).
		Width(m.width - 2).
		Padding(0, 1)

	row := lipgloss.JoinHorizontal(lipgloss.Top,
		left,
		lipgloss.NewStyle().Width(max(1, m.width-lipgloss.Width(left)-lipgloss.Width(right)-6)).Render(""),
		right,
	)
	return headerStyle.Render(row)
}

// Quitting returns true if the user quit.
func (m Model) Quitting() bool { return m.quitting }

func (m Model) activityHeight() int {
	used := 8 + m.incidents.height() + m.presence.height()
	h := m.height - used
	if h < 5 {
		h = 5
	}
	return h
}

func decode(env protocol.Envelope, out any) bool {
	return json.Unmarshal(env.Data, out) == nil
}
