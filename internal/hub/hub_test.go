package hub

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/incidenthub/incidenthub/pkg/protocol"
)

func drain(t *testing.T, s *Session) protocol.Envelope {
	t.Helper()
	select {
	case body := <-s.send:
		var env protocol.Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		return env
	default:
		t.Fatal("expected a queued message")
		return protocol.Envelope{}
	}
}

func TestSubscribeBroadcastUnsubscribe(t *testing.T) {
	h := New(slog.Default(), Options{})
	a := NewSession(h, "a", "u1", "Ann", "responder")
	b := NewSession(h, "b", "u2", "Bob", "responder")

	room := RoomForIncident("inc1")
	h.Subscribe(a, room)
	h.Subscribe(b, room)

	h.Broadcast(room, protocol.EventIncidentUpdated, map[string]string{"x": "y"}, "")

	envA := drain(t, a)
	envB := drain(t, b)
	if envA.Event != protocol.EventIncidentUpdated || envB.Event != protocol.EventIncidentUpdated {
		t.Fatalf("expected both sessions to receive the broadcast")
	}

	h.Unsubscribe(a, room)
	h.Broadcast(room, protocol.EventIncidentUpdated, map[string]string{"x": "z"}, "")

	select {
	case <-a.send:
		t.Fatal("unsubscribed session should not receive broadcast")
	default:
	}
	drain(t, b)
}

func TestBroadcastExcludesSender(t *testing.T) {
	h := New(slog.Default(), Options{})
	a := NewSession(h, "a", "u1", "Ann", "responder")
	b := NewSession(h, "b", "u2", "Bob", "responder")

	room := RoomForIncident("inc1")
	h.Subscribe(a, room)
	h.Subscribe(b, room)

	h.Broadcast(room, protocol.EventPresenceJoined, map[string]string{}, a.ID)

	select {
	case <-a.send:
		t.Fatal("excluded sender should not receive its own broadcast")
	default:
	}
	drain(t, b)
}

func TestRemoveSessionClearsRooms(t *testing.T) {
	h := New(slog.Default(), Options{})
	a := NewSession(h, "a", "u1", "Ann", "responder")

	room := RoomForIncident("inc1")
	h.Subscribe(a, room)
	h.removeSession(a)

	h.mu.RLock()
	_, ok := h.rooms[room]
	h.mu.RUnlock()
	if ok {
		t.Fatal("expected room to be cleaned up once empty")
	}
}
