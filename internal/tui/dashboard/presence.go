package dashboard

import (
	"fmt"

	"github.com/incidenthub/incidenthub/internal/tui"
	"github.com/incidenthub/incidenthub/pkg/protocol"
)

type presenceRow struct {
	principalID string
	displayName string
	sessionID   string
}

type presenceModel struct {
	rows []presenceRow
}

func newPresence() presenceModel {
	return presenceModel{}
}

func (m *presenceModel) reset() {
	m.rows = nil
}

func (m *presenceModel) setList(data protocol.PresenceListData) {
	m.rows = m.rows[:0]
	for _, p := range data.Principals {
		m.rows = append(m.rows, presenceRow{principalID: p.PrincipalID, displayName: p.DisplayName, sessionID: p.SessionID})
	}
}

func (m *presenceModel) addJoined(data protocol.PresenceJoinedData) {
	for _, r := range m.rows {
		if r.sessionID == data.SessionID {
			return
		}
	}
	m.rows = append(m.rows, presenceRow{principalID: data.PrincipalID, displayName: data.DisplayName, sessionID: data.SessionID})
}

func (m *presenceModel) removeLeft(data protocol.PresenceLeftData) {
	out := m.rows[:0]
	for _, r := range m.rows {
		if r.sessionID != data.SessionID {
			out = append(out, r)
		}
	}
	m.rows = out
}

func (m presenceModel) View() string {
	if len(m.rows) == 0 {
		return tui.Dimmed.Render("  No one is viewing this incident")
	}
	s := ""
	for _, r := range m.rows {
		s += fmt.Sprintf("  %s %s\n", tui.ActiveDot, r.displayName)
	}
	return s
}

func (m presenceModel) height() int {
	return min(len(m.rows)+1, 8)
}
