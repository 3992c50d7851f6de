package dashboard

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/incidenthub/incidenthub/internal/store"
)

func TestIncidentsModelNavigation(t *testing.T) {
	m := newIncidents([]store.Incident{
		{ID: "1", Title: "a"},
		{ID: "2", Title: "b"},
		{ID: "3", Title: "c"},
	})

	if sel, ok := m.selected(); !ok || sel.ID != "1" {
		t.Fatalf("initial selection = %+v, %v", sel, ok)
	}

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	if sel, _ := m.selected(); sel.ID != "2" {
		t.Fatalf("after j, selected = %s, want 2", sel.ID)
	}

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("G")})
	if sel, _ := m.selected(); sel.ID != "3" {
		t.Fatalf("after G, selected = %s, want 3", sel.ID)
	}

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("g")})
	if sel, _ := m.selected(); sel.ID != "1" {
		t.Fatalf("after g, selected = %s, want 1", sel.ID)
	}
}

func TestIncidentsModelUpdateClampsCursor(t *testing.T) {
	m := newIncidents([]store.Incident{{ID: "1"}, {ID: "2"}, {ID: "3"}})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("G")})

	m.update([]store.Incident{{ID: "1"}})

	sel, ok := m.selected()
	if !ok || sel.ID != "1" {
		t.Fatalf("selected after shrink = %+v, %v", sel, ok)
	}
}

func TestIncidentsModelSelectedEmpty(t *testing.T) {
	m := newIncidents(nil)
	if _, ok := m.selected(); ok {
		t.Fatal("expected no selection on empty list")
	}
}
