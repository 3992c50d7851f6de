// Package statemachine implements the Status State Machine component: a
// pure function validating incident status transitions. It holds no state
// and performs no I/O.
package statemachine

import "github.com/incidenthub/incidenthub/internal/store"

// allowed maps each status to the set of statuses it may transition to.
var allowed = map[string]map[string]bool{
	store.StatusInvestigating: {
		store.StatusIdentified: true,
		store.StatusMonitoring: true,
		store.StatusResolved:   true,
	},
	store.StatusIdentified: {
		store.StatusInvestigating: true,
		store.StatusMonitoring:    true,
		store.StatusResolved:      true,
	},
	store.StatusMonitoring: {
		store.StatusInvestigating: true,
		store.StatusIdentified:    true,
		store.StatusResolved:      true,
	},
	store.StatusResolved: {
		store.StatusInvestigating: true, // re-open only
	},
}

// CanTransition reports whether from -> to is a legal transition. Same-state
// transitions are always rejected, including for unrecognized statuses.
func CanTransition(from, to string) bool {
	if from == to {
		return false
	}
	next, ok := allowed[from]
	if !ok {
		return false
	}
	return next[to]
}

// IsValidStatus reports whether s is one of the four recognized statuses.
func IsValidStatus(s string) bool {
	switch s {
	case store.StatusInvestigating, store.StatusIdentified, store.StatusMonitoring, store.StatusResolved:
		return true
	default:
		return false
	}
}
