// Package presence implements the Presence Registry component: the
// per-incident set of currently subscribed principals, keyed so a stale
// entry left by an abrupt disconnect can always be found and swept.
package presence

import (
	"sync"
	"time"
)

// Entry is one principal's presence in one incident.
type Entry struct {
	PrincipalID  string
	DisplayName  string
	IncidentID   string
	SessionID    string
	LastActiveAt time.Time
}

// Registry holds the forward mapping (incidentID -> set of entries keyed by
// principalID) and the reverse mapping (sessionID -> set of incidentIDs)
// needed for O(1) disconnect cleanup, guarded by a single registry-level
// lock (the registry is in-memory and every operation is O(1) or O(k) in
// the affected incident's membership, so a single mutex does not become a
// bottleneck the way a per-room lock would for broadcast fan-out).
type Registry struct {
	mu         sync.Mutex
	byIncident map[string]map[string]*Entry // incidentID -> principalID -> entry
	bySession  map[string]map[string]bool   // sessionID -> set of incidentIDs
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byIncident: make(map[string]map[string]*Entry),
		bySession:  make(map[string]map[string]bool),
	}
}

// Join upserts a presence entry. If the principal already has an entry for
// this incident under a different session, the old entry is replaced
// (later session wins) and removed from that session's reverse mapping.
func (r *Registry) Join(principalID, displayName, incidentID, sessionID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	principals, ok := r.byIncident[incidentID]
	if !ok {
		principals = make(map[string]*Entry)
		r.byIncident[incidentID] = principals
	}

	if old, exists := principals[principalID]; exists && old.SessionID != sessionID {
		r.removeFromSessionLocked(old.SessionID, incidentID)
	}

	principals[principalID] = &Entry{
		PrincipalID:  principalID,
		DisplayName:  displayName,
		IncidentID:   incidentID,
		SessionID:    sessionID,
		LastActiveAt: now,
	}

	set, ok := r.bySession[sessionID]
	if !ok {
		set = make(map[string]bool)
		r.bySession[sessionID] = set
	}
	set[incidentID] = true
}

// Leave removes a principal's presence entry from an incident, if present.
func (r *Registry) Leave(principalID, incidentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	principals, ok := r.byIncident[incidentID]
	if !ok {
		return
	}
	entry, ok := principals[principalID]
	if !ok {
		return
	}
	delete(principals, principalID)
	if len(principals) == 0 {
		delete(r.byIncident, incidentID)
	}
	r.removeFromSessionLocked(entry.SessionID, incidentID)
}

// RemoveBySession drops every entry owned by sessionID and returns the list
// of incidentIDs it was a member of, for the caller to drive "left"
// broadcasts on disconnect.
func (r *Registry) RemoveBySession(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.bySession[sessionID]
	if !ok {
		return nil
	}
	incidentIDs := make([]string, 0, len(set))
	for incidentID := range set {
		incidentIDs = append(incidentIDs, incidentID)
		if principals, ok := r.byIncident[incidentID]; ok {
			for principalID, entry := range principals {
				if entry.SessionID == sessionID {
					delete(principals, principalID)
				}
			}
			if len(principals) == 0 {
				delete(r.byIncident, incidentID)
			}
		}
	}
	delete(r.bySession, sessionID)
	return incidentIDs
}

// removeFromSessionLocked removes incidentID from sessionID's reverse set.
// Caller must hold r.mu.
func (r *Registry) removeFromSessionLocked(sessionID, incidentID string) {
	set, ok := r.bySession[sessionID]
	if !ok {
		return
	}
	delete(set, incidentID)
	if len(set) == 0 {
		delete(r.bySession, sessionID)
	}
}

// Heartbeat refreshes lastActiveAt for every entry owned by sessionID.
func (r *Registry) Heartbeat(sessionID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for incidentID := range r.bySession[sessionID] {
		if principals, ok := r.byIncident[incidentID]; ok {
			for _, entry := range principals {
				if entry.SessionID == sessionID {
					entry.LastActiveAt = now
				}
			}
		}
	}
}

// List returns a snapshot of every entry currently present in incidentID.
func (r *Registry) List(incidentID string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	principals := r.byIncident[incidentID]
	out := make([]Entry, 0, len(principals))
	for _, entry := range principals {
		out = append(out, *entry)
	}
	return out
}

// Sweep evicts every entry whose lastActiveAt is older than cutoff and
// returns, per evicted incident, the list of entries that were removed —
// the caller uses this to emit presence:left broadcasts. Called by the
// reaper on a fixed tick; never by anything else.
func (r *Registry) Sweep(cutoff time.Time) map[string][]Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := make(map[string][]Entry)
	for incidentID, principals := range r.byIncident {
		for principalID, entry := range principals {
			if entry.LastActiveAt.Before(cutoff) {
				evicted[incidentID] = append(evicted[incidentID], *entry)
				delete(principals, principalID)
				r.removeFromSessionLocked(entry.SessionID, incidentID)
			}
		}
		if len(principals) == 0 {
			delete(r.byIncident, incidentID)
		}
	}
	return evicted
}
