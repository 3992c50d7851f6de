// Package policy implements the Authorization Policy component: a pure
// function mapping (role, action) to allow/deny. It holds no state and
// performs no I/O.
package policy

import "github.com/incidenthub/incidenthub/internal/store"

// Action identifies a command the caller is attempting to perform.
type Action string

const (
	ActionIncidentCreate     Action = "incident.create"
	ActionIncidentUpdate     Action = "incident.update"
	ActionIncidentAssign     Action = "incident.assign"
	ActionIncidentNote       Action = "incident.note"
	ActionIncidentActionItem Action = "incident.action_item"
	ActionUserManage         Action = "user.manage"
	ActionRead               Action = "read"
)

// writeRoles is the set of roles allowed to perform write actions.
var writeRoles = map[string]bool{
	store.RoleAdmin:     true,
	store.RoleResponder: true,
}

// Allow reports whether role may perform action. Any authenticated role may
// read; only admin/responder may write, and user.manage is admin-only.
// Viewers are rejected fast, before any state is touched.
func Allow(role string, action Action) bool {
	switch action {
	case ActionRead:
		return role == store.RoleAdmin || role == store.RoleResponder || role == store.RoleViewer
	case ActionUserManage:
		return role == store.RoleAdmin
	default:
		return writeRoles[role]
	}
}
