package dispatcher

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/incidenthub/incidenthub/internal/focus"
	"github.com/incidenthub/incidenthub/internal/hub"
	"github.com/incidenthub/incidenthub/internal/presence"
	"github.com/incidenthub/incidenthub/internal/store"
	"github.com/incidenthub/incidenthub/pkg/protocol"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *hub.Hub, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := hub.New(logger, hub.Options{})
	pr := presence.NewRegistry()
	fr := focus.NewRegistry(100 * time.Millisecond)
	d := New(s, pr, fr, h, logger)
	h.SetHandler(d)
	return d, h, s
}

// seedIncident inserts an incident and returns the store-assigned incident,
// since CreateIncident mints the id rather than accepting the caller's.
func seedIncident(t *testing.T, s store.Store) *store.Incident {
	t.Helper()
	in, _, err := s.CreateIncident(context.Background(), &store.Incident{
		Title:       "db down",
		Description: "primary replica unreachable",
		Severity:    store.SeverityHigh,
		CreatedBy:   "u1",
		Commander:   "u1",
	})
	if err != nil {
		t.Fatalf("seed incident: %v", err)
	}
	return in
}

func drainEnvelope(t *testing.T, s *hub.Session) protocol.Envelope {
	t.Helper()
	body, ok := s.TryRecv()
	if !ok {
		t.Fatal("expected a queued message")
	}
	var env protocol.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func joinEnvelope(incidentID string) protocol.Envelope {
	raw, _ := json.Marshal(incidentID)
	return protocol.Envelope{Event: protocol.EventIncidentJoin, Data: raw}
}

func TestJoinSubscribesAndListsPresence(t *testing.T) {
	d, h, s := newTestDispatcher(t)
	incident := seedIncident(t, s)

	responder := hub.NewSession(h, "sess-a", "u1", "Ann", store.RoleResponder)
	d.OnMessage(responder, joinEnvelope(incident.ID))

	// responder should receive presence:list and focus:list unicasts
	env := drainEnvelope(t, responder)
	if env.Event != protocol.EventPresenceList {
		t.Fatalf("expected presence:list, got %s", env.Event)
	}
	env = drainEnvelope(t, responder)
	if env.Event != protocol.EventFocusList {
		t.Fatalf("expected focus:list, got %s", env.Event)
	}

	second := hub.NewSession(h, "sess-b", "u2", "Bob", store.RoleViewer)
	d.OnMessage(second, joinEnvelope(incident.ID))

	// the first responder should now see a presence:joined broadcast for bob
	env = drainEnvelope(t, responder)
	if env.Event != protocol.EventPresenceJoined {
		t.Fatalf("expected presence:joined, got %s", env.Event)
	}
}

func TestUpdateStatusBroadcastsAndRejectsInvalidTransition(t *testing.T) {
	d, h, s := newTestDispatcher(t)
	incident := seedIncident(t, s)

	responder := hub.NewSession(h, "sess-a", "u1", "Ann", store.RoleResponder)
	d.OnMessage(responder, joinEnvelope(incident.ID))
	drainEnvelope(t, responder) // presence:list
	drainEnvelope(t, responder) // focus:list

	raw, _ := json.Marshal(protocol.UpdateStatusData{IncidentID: incident.ID, Status: store.StatusIdentified})
	d.OnMessage(responder, protocol.Envelope{Event: protocol.EventIncidentUpdateStatus, Data: raw})

	env := drainEnvelope(t, responder)
	if env.Event != protocol.EventIncidentUpdated {
		t.Fatalf("expected incident:updated, got %s", env.Event)
	}

	raw, _ = json.Marshal(protocol.UpdateStatusData{IncidentID: incident.ID, Status: store.StatusResolved})
	d.OnMessage(responder, protocol.Envelope{Event: protocol.EventIncidentUpdateStatus, Data: raw})
	drainEnvelope(t, responder) // incident:updated for the resolved transition

	// resolved -> monitoring is illegal; only re-opening to investigating is allowed
	raw, _ = json.Marshal(protocol.UpdateStatusData{IncidentID: incident.ID, Status: store.StatusMonitoring})
	d.OnMessage(responder, protocol.Envelope{Event: protocol.EventIncidentUpdateStatus, Data: raw})

	env = drainEnvelope(t, responder)
	if env.Event != protocol.EventError {
		t.Fatalf("expected error for illegal transition, got %s", env.Event)
	}
}

func TestViewerCannotUpdateStatus(t *testing.T) {
	d, h, s := newTestDispatcher(t)
	incident := seedIncident(t, s)

	viewer := hub.NewSession(h, "sess-a", "u2", "Bob", store.RoleViewer)
	d.OnMessage(viewer, joinEnvelope(incident.ID))
	drainEnvelope(t, viewer)
	drainEnvelope(t, viewer)

	raw, _ := json.Marshal(protocol.UpdateStatusData{IncidentID: incident.ID, Status: store.StatusIdentified})
	d.OnMessage(viewer, protocol.Envelope{Event: protocol.EventIncidentUpdateStatus, Data: raw})

	env := drainEnvelope(t, viewer)
	if env.Event != protocol.EventError {
		t.Fatalf("expected error for viewer write attempt, got %s", env.Event)
	}
}

func addNoteEnvelope(incidentID, text string) protocol.Envelope {
	raw, _ := json.Marshal(protocol.AddNoteData{IncidentID: incidentID, Text: text})
	return protocol.Envelope{Event: protocol.EventIncidentAddNote, Data: raw}
}

func TestAddNoteTrimsAndEnforcesLengthBound(t *testing.T) {
	d, h, s := newTestDispatcher(t)
	incident := seedIncident(t, s)

	responder := hub.NewSession(h, "sess-a", "u1", "Ann", store.RoleResponder)
	d.OnMessage(responder, joinEnvelope(incident.ID))
	drainEnvelope(t, responder) // presence:list
	drainEnvelope(t, responder) // focus:list

	// Whitespace-only note must fail.
	d.OnMessage(responder, addNoteEnvelope(incident.ID, "   "))
	env := drainEnvelope(t, responder)
	if env.Event != protocol.EventError {
		t.Fatalf("expected error for whitespace-only note, got %s", env.Event)
	}

	// Exactly 2001 chars (after trim) must fail.
	tooLong := " " + strings.Repeat("a", 2001) + " "
	d.OnMessage(responder, addNoteEnvelope(incident.ID, tooLong))
	env = drainEnvelope(t, responder)
	if env.Event != protocol.EventError {
		t.Fatalf("expected error for 2001-char note, got %s", env.Event)
	}

	// Exactly 2000 chars (after trim) must succeed, and the broadcast must
	// carry the trimmed text.
	exact := "  " + strings.Repeat("b", 2000) + "  "
	d.OnMessage(responder, addNoteEnvelope(incident.ID, exact))
	env = drainEnvelope(t, responder)
	if env.Event != protocol.EventIncidentNoteAdded {
		t.Fatalf("expected incident:noteAdded, got %s (%s)", env.Event, env.Data)
	}

	var payload protocol.IncidentUpdatedData
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	var note store.NoteContent
	if err := json.Unmarshal(payload.Update.Content, &note); err != nil {
		t.Fatalf("unmarshal note content: %v", err)
	}
	if note.Text != strings.Repeat("b", 2000) {
		t.Fatalf("expected trimmed 2000-char note, got len %d", len(note.Text))
	}
}

func TestAddNoteUnknownIncidentReturnsNotFound(t *testing.T) {
	d, h, _ := newTestDispatcher(t)

	responder := hub.NewSession(h, "sess-a", "u1", "Ann", store.RoleResponder)
	d.OnMessage(responder, addNoteEnvelope("does-not-exist", "hello"))

	env := drainEnvelope(t, responder)
	if env.Event != protocol.EventError {
		t.Fatalf("expected error for unknown incident, got %s", env.Event)
	}
	var errData protocol.ErrorData
	if err := json.Unmarshal(env.Data, &errData); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if errData.Code != "NotFound" {
		t.Fatalf("expected NotFound code, got %s", errData.Code)
	}
}

func TestToggleActionItemUnknownUpdateReturnsNotFound(t *testing.T) {
	d, h, _ := newTestDispatcher(t)

	responder := hub.NewSession(h, "sess-a", "u1", "Ann", store.RoleResponder)
	raw, _ := json.Marshal(protocol.ToggleActionItemData{UpdateID: "does-not-exist", Completed: true})
	d.OnMessage(responder, protocol.Envelope{Event: protocol.EventIncidentToggleAction, Data: raw})

	env := drainEnvelope(t, responder)
	if env.Event != protocol.EventError {
		t.Fatalf("expected error for unknown update, got %s", env.Event)
	}
	var errData protocol.ErrorData
	if err := json.Unmarshal(env.Data, &errData); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if errData.Code != "NotFound" {
		t.Fatalf("expected NotFound code, got %s", errData.Code)
	}
}

func TestDisconnectBroadcastsPresenceLeft(t *testing.T) {
	d, h, s := newTestDispatcher(t)
	incident := seedIncident(t, s)

	a := hub.NewSession(h, "sess-a", "u1", "Ann", store.RoleResponder)
	b := hub.NewSession(h, "sess-b", "u2", "Bob", store.RoleViewer)
	d.OnMessage(a, joinEnvelope(incident.ID))
	drainEnvelope(t, a)
	drainEnvelope(t, a)
	d.OnMessage(b, joinEnvelope(incident.ID))
	drainEnvelope(t, b)
	drainEnvelope(t, b)
	drainEnvelope(t, a) // presence:joined for b

	d.OnDisconnect(b)

	env := drainEnvelope(t, a)
	if env.Event != protocol.EventPresenceLeft {
		t.Fatalf("expected presence:left, got %s", env.Event)
	}
}
