// Package focus implements the Focus Registry component: a live,
// in-memory-only record of which section of which incident each principal
// is currently looking at. Unlike presence, a principal has at most one
// focus entry globally — looking at a new incident clears the old one.
package focus

import (
	"hash/fnv"
	"sync"
	"time"
)

// palette is the fixed set of colors assigned to principals, chosen by a
// stable hash of the principal id so the same user always gets the same
// color across reconnects.
var palette = [8]string{
	"#e06c75", "#98c379", "#e5c07b", "#61afef",
	"#c678dd", "#56b6c2", "#d19a66", "#abb2bf",
}

// Color returns a deterministic palette entry for principalID.
func Color(principalID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(principalID))
	return palette[h.Sum32()%uint32(len(palette))]
}

// Entry is one principal's current focus.
type Entry struct {
	PrincipalID string
	DisplayName string
	IncidentID  string
	Section     string
	FieldID     string
	Color       string
	UpdatedAt   time.Time
}

// throttleKey scopes throttling to a session so a reconnect (new session)
// does not inherit the previous session's cooldown.
type throttleKey struct {
	principalID string
	sessionID   string
}

// Registry holds the single current focus entry per principal and the
// per-(principal,session) throttle timestamps used to rate-limit updates.
type Registry struct {
	mu        sync.Mutex
	entries   map[string]*Entry // principalID -> entry
	lastWrite map[throttleKey]time.Time
	throttle  time.Duration
}

// NewRegistry constructs a Registry that throttles updates from the same
// (principal, session) to at most one per throttle duration.
func NewRegistry(throttle time.Duration) *Registry {
	return &Registry{
		entries:   make(map[string]*Entry),
		lastWrite: make(map[throttleKey]time.Time),
		throttle:  throttle,
	}
}

// Update records a new focus position for principalID, subject to
// throttling. Returns the entry, true, and (if the principal had a prior
// entry pointed at a different incident) that incident's id so the caller
// can emit a focus:cleared there. Returns the zero Entry and false if the
// update was dropped for being too frequent.
func (r *Registry) Update(principalID, displayName, incidentID, sessionID, section, fieldID string, now time.Time) (entry Entry, applied bool, prevIncidentID string, hadPrev bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := throttleKey{principalID, sessionID}
	if last, ok := r.lastWrite[key]; ok && now.Sub(last) < r.throttle {
		return Entry{}, false, "", false
	}
	r.lastWrite[key] = now

	if old, exists := r.entries[principalID]; exists && old.IncidentID != incidentID {
		prevIncidentID, hadPrev = old.IncidentID, true
	}

	e := &Entry{
		PrincipalID: principalID,
		DisplayName: displayName,
		IncidentID:  incidentID,
		Section:     section,
		FieldID:     fieldID,
		Color:       Color(principalID),
		UpdatedAt:   now,
	}
	r.entries[principalID] = e
	return *e, true, prevIncidentID, hadPrev
}

// Clear removes principalID's focus entry entirely, bypassing throttling
// (an explicit clear is never rate-limited).
func (r *Registry) Clear(principalID string) (incidentID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[principalID]
	if !exists {
		return "", false
	}
	delete(r.entries, principalID)
	return entry.IncidentID, true
}

// RemoveByPrincipal removes principalID's entry on disconnect, returning
// the incident it was focused on if any. It also prunes every throttle
// key recorded for principalID so lastWrite does not grow unbounded
// across reconnects.
func (r *Registry) RemoveByPrincipal(principalID string) (incidentID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[principalID]
	if exists {
		delete(r.entries, principalID)
		incidentID, ok = entry.IncidentID, true
	}

	for key := range r.lastWrite {
		if key.principalID == principalID {
			delete(r.lastWrite, key)
		}
	}
	return incidentID, ok
}

// ClearForIncident removes principalID's entry only if it currently points
// at incidentID, leaving a focus on a different incident untouched. Used
// by the explicit incident:leave/focus:clear path, where leaving one
// incident must not clobber focus the principal holds elsewhere.
func (r *Registry) ClearForIncident(principalID, incidentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[principalID]
	if !exists || entry.IncidentID != incidentID {
		return false
	}
	delete(r.entries, principalID)
	return true
}

// ListForIncident returns a snapshot of every current focus entry pointed
// at incidentID.
func (r *Registry) ListForIncident(incidentID string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0)
	for _, entry := range r.entries {
		if entry.IncidentID == incidentID {
			out = append(out, *entry)
		}
	}
	return out
}
