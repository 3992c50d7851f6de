package presence

import (
	"testing"
	"time"
)

func TestJoinReplacesOldSession(t *testing.T) {
	r := NewRegistry()
	now := time.Unix(1000, 0)

	r.Join("u1", "Ann", "inc1", "sess-a", now)
	r.Join("u1", "Ann", "inc1", "sess-b", now)

	list := r.List("inc1")
	if len(list) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(list))
	}
	if list[0].SessionID != "sess-b" {
		t.Fatalf("expected sess-b to win, got %s", list[0].SessionID)
	}

	// old session should have been dropped from the reverse map
	left := r.RemoveBySession("sess-a")
	if len(left) != 0 {
		t.Fatalf("sess-a should own nothing after replacement, got %v", left)
	}
}

func TestLeaveRemovesEntry(t *testing.T) {
	r := NewRegistry()
	now := time.Unix(1000, 0)
	r.Join("u1", "Ann", "inc1", "sess-a", now)
	r.Leave("u1", "inc1")

	if len(r.List("inc1")) != 0 {
		t.Fatal("expected no entries after Leave")
	}
	if left := r.RemoveBySession("sess-a"); len(left) != 0 {
		t.Fatalf("expected sess-a to own nothing after Leave, got %v", left)
	}
}

func TestRemoveBySessionAcrossIncidents(t *testing.T) {
	r := NewRegistry()
	now := time.Unix(1000, 0)
	r.Join("u1", "Ann", "inc1", "sess-a", now)
	r.Join("u1", "Ann", "inc2", "sess-a", now)

	incidentIDs := r.RemoveBySession("sess-a")
	if len(incidentIDs) != 2 {
		t.Fatalf("expected 2 incidents, got %d", len(incidentIDs))
	}
	if len(r.List("inc1")) != 0 || len(r.List("inc2")) != 0 {
		t.Fatal("expected both incidents cleared")
	}
}

func TestHeartbeatUpdatesLastActive(t *testing.T) {
	r := NewRegistry()
	start := time.Unix(1000, 0)
	r.Join("u1", "Ann", "inc1", "sess-a", start)

	later := start.Add(time.Minute)
	r.Heartbeat("sess-a", later)

	list := r.List("inc1")
	if !list[0].LastActiveAt.Equal(later) {
		t.Fatalf("expected LastActiveAt updated to %v, got %v", later, list[0].LastActiveAt)
	}
}

func TestSweepEvictsStaleEntries(t *testing.T) {
	r := NewRegistry()
	start := time.Unix(1000, 0)
	r.Join("u1", "Ann", "inc1", "sess-a", start)
	r.Join("u2", "Bob", "inc1", "sess-b", start.Add(time.Hour))

	evicted := r.Sweep(start.Add(time.Minute))
	if len(evicted["inc1"]) != 1 || evicted["inc1"][0].PrincipalID != "u1" {
		t.Fatalf("expected u1 evicted, got %v", evicted)
	}

	list := r.List("inc1")
	if len(list) != 1 || list[0].PrincipalID != "u2" {
		t.Fatalf("expected only u2 remaining, got %v", list)
	}
}
