package dashboard

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/incidenthub/incidenthub/internal/store"
	"github.com/incidenthub/incidenthub/internal/tui"
)

type incidentsModel struct {
	items  []store.Incident
	cursor int
}

func newIncidents(items []store.Incident) incidentsModel {
	return incidentsModel{items: items}
}

func (m *incidentsModel) update(items []store.Incident) {
	m.items = items
	if m.cursor >= len(m.items) {
		m.cursor = max(0, len(m.items)-1)
	}
}

func (m incidentsModel) selected() (store.Incident, bool) {
	if m.cursor < 0 || m.cursor >= len(m.items) {
		return store.Incident{}, false
	}
	return m.items[m.cursor], true
}

func (m incidentsModel) Update(msg tea.Msg) (incidentsModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "j", "down":
			if m.cursor < len(m.items)-1 {
				m.cursor++
			}
		case "k", "up":
			if m.cursor > 0 {
				m.cursor--
			}
		case "G":
			m.cursor = max(0, len(m.items)-1)
		case "g":
			m.cursor = 0
		}
	}
	return m, nil
}

func (m incidentsModel) View() string {
	if len(m.items) == 0 {
		return tui.Dimmed.Render("  No incidents")
	}

	headerStyle := lipgloss.NewStyle().Foreground(tui.ColorSubtle).Bold(true)
	header := fmt.Sprintf("  %-10s %-30s %-10s %-14s",
		headerStyle.Render("ID"),
		headerStyle.Render("TITLE"),
		headerStyle.Render("SEVERITY"),
		headerStyle.Render("STATUS"),
	)

	rows := header + "\n"
	for i, in := range m.items {
		cursor := "  "
		style := lipgloss.NewStyle()
		if i == m.cursor {
			cursor = tui.Selected.Render("> ")
			style = style.Bold(true)
		}

		shortID := in.ID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}
		title := in.Title
		if len(title) > 28 {
			title = title[:28]
		}

		row := fmt.Sprintf("%-10s %-30s %-10s %-14s",
			style.Render(shortID),
			style.Render(title),
			tui.SeverityStyle(in.Severity).Render(in.Severity),
			tui.StatusStyle(in.Status).Render(in.Status),
		)
		rows += cursor + row + "\n"
	}
	return rows
}

func (m incidentsModel) height() int {
	return min(len(m.items)+2, 12)
}
