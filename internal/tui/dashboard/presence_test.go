package dashboard

import (
	"testing"

	"github.com/incidenthub/incidenthub/pkg/protocol"
)

func TestPresenceModelSetListAddJoinedRemoveLeft(t *testing.T) {
	m := newPresence()

	m.setList(protocol.PresenceListData{
		IncidentID: "inc-1",
		Principals: []protocol.PresenceEntryData{
			{PrincipalID: "u1", DisplayName: "Alice", SessionID: "s1"},
		},
	})
	if len(m.rows) != 1 {
		t.Fatalf("rows after setList = %d, want 1", len(m.rows))
	}

	m.addJoined(protocol.PresenceJoinedData{IncidentID: "inc-1", PrincipalID: "u2", DisplayName: "Bob", SessionID: "s2"})
	if len(m.rows) != 2 {
		t.Fatalf("rows after addJoined = %d, want 2", len(m.rows))
	}

	// Duplicate join for the same session is a no-op.
	m.addJoined(protocol.PresenceJoinedData{IncidentID: "inc-1", PrincipalID: "u2", DisplayName: "Bob", SessionID: "s2"})
	if len(m.rows) != 2 {
		t.Fatalf("rows after duplicate addJoined = %d, want 2", len(m.rows))
	}

	m.removeLeft(protocol.PresenceLeftData{IncidentID: "inc-1", PrincipalID: "u1", SessionID: "s1"})
	if len(m.rows) != 1 || m.rows[0].sessionID != "s2" {
		t.Fatalf("rows after removeLeft = %+v", m.rows)
	}

	m.reset()
	if len(m.rows) != 0 {
		t.Fatalf("rows after reset = %d, want 0", len(m.rows))
	}
}
