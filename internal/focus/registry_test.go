package focus

import (
	"testing"
	"time"
)

func TestUpdateThrottlesPerSession(t *testing.T) {
	r := NewRegistry(100 * time.Millisecond)
	start := time.Unix(1000, 0)

	_, ok, _, _ := r.Update("u1", "Ann", "inc1", "sess-a", "timeline", "", start)
	if !ok {
		t.Fatal("expected first update to apply")
	}

	_, ok, _, _ = r.Update("u1", "Ann", "inc1", "sess-a", "notes", "", start.Add(10*time.Millisecond))
	if ok {
		t.Fatal("expected second rapid update to be throttled")
	}

	entry, ok, _, _ := r.Update("u1", "Ann", "inc1", "sess-a", "notes", "", start.Add(200*time.Millisecond))
	if !ok {
		t.Fatal("expected update after cooldown to apply")
	}
	if entry.Section != "notes" {
		t.Fatalf("expected section notes, got %s", entry.Section)
	}
}

func TestUpdateResetsThrottleOnNewSession(t *testing.T) {
	r := NewRegistry(100 * time.Millisecond)
	start := time.Unix(1000, 0)

	r.Update("u1", "Ann", "inc1", "sess-a", "timeline", "", start)

	// reconnect under a new session id shortly after — should not be throttled
	_, ok, _, _ := r.Update("u1", "Ann", "inc1", "sess-b", "notes", "", start.Add(5*time.Millisecond))
	if !ok {
		t.Fatal("expected new session to bypass old session's throttle")
	}
}

func TestUpdateReportsPreviousIncident(t *testing.T) {
	r := NewRegistry(time.Millisecond)
	start := time.Unix(1000, 0)

	r.Update("u1", "Ann", "inc1", "sess-a", "timeline", "", start)
	_, ok, prevIncident, hadPrev := r.Update("u1", "Ann", "inc2", "sess-a", "timeline", "", start.Add(time.Millisecond))
	if !ok {
		t.Fatal("expected update to apply")
	}
	if !hadPrev || prevIncident != "inc1" {
		t.Fatalf("expected previous incident inc1, got %s %v", prevIncident, hadPrev)
	}
}

func TestClearRemovesEntry(t *testing.T) {
	r := NewRegistry(time.Millisecond)
	now := time.Unix(1000, 0)
	r.Update("u1", "Ann", "inc1", "sess-a", "timeline", "", now)

	incidentID, ok := r.Clear("u1")
	if !ok || incidentID != "inc1" {
		t.Fatalf("expected clear to report inc1, got %s %v", incidentID, ok)
	}
	if len(r.ListForIncident("inc1")) != 0 {
		t.Fatal("expected no entries after clear")
	}
}

func TestClearForIncidentOnlyMatchesCurrentIncident(t *testing.T) {
	r := NewRegistry(time.Millisecond)
	now := time.Unix(1000, 0)
	r.Update("u1", "Ann", "inc1", "sess-a", "timeline", "", now)

	if r.ClearForIncident("u1", "inc2") {
		t.Fatal("expected no-op when the principal is focused elsewhere")
	}
	if !r.ClearForIncident("u1", "inc1") {
		t.Fatal("expected clear to succeed for the matching incident")
	}
}

func TestColorIsDeterministic(t *testing.T) {
	if Color("u1") != Color("u1") {
		t.Fatal("expected Color to be deterministic for the same id")
	}
}
