// Package store defines the persistence interface shared by the Incident
// Store and the Audit Log, and provides PostgreSQL and SQLite
// implementations of it.
//
// Both the Incident Store and the Audit Log are exposed through a single
// Store interface because every mutating method is specified to persist an
// incident change and its audit record as one atomic operation — splitting
// them into two interfaces would invite callers to do the two writes
// separately.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Kind values for Update.Kind.
const (
	KindStatusChange Kind = "status_change"
	KindAssignment   Kind = "assignment"
	KindNote         Kind = "note"
	KindActionItem   Kind = "action_item"
)

// Kind discriminates the polymorphic content of an Update record.
type Kind string

// Severity and Status enumerations.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"

	StatusInvestigating = "investigating"
	StatusIdentified    = "identified"
	StatusMonitoring    = "monitoring"
	StatusResolved      = "resolved"
)

// Role enumeration for User.Role.
const (
	RoleAdmin     = "admin"
	RoleResponder = "responder"
	RoleViewer    = "viewer"
)

// User is a registered principal.
type User struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"displayName"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Incident is the mutable projection of an incident's current fields.
type Incident struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Severity    string     `json:"severity"`
	Status      string     `json:"status"`
	CreatedBy   string     `json:"createdBy"`
	Commander   string     `json:"commander"`
	Assignees   []string   `json:"assignees"`
	CreatedAt   time.Time  `json:"createdAt"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
}

// Update is an append-only, kind-discriminated audit record.
type Update struct {
	ID         string          `json:"id"`
	IncidentID string          `json:"incidentId"`
	AuthorID   string          `json:"authorId"`
	Kind       Kind            `json:"kind"`
	Content    json.RawMessage `json:"content"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// StatusChangeContent is the content variant for KindStatusChange.
// PreviousStatus is nil only for an incident's seed record.
type StatusChangeContent struct {
	PreviousStatus *string `json:"previousStatus"`
	NewStatus      string  `json:"newStatus"`
}

// AssignmentAction enumerates AssignmentContent.Action.
const (
	AssignmentAssigned   = "assigned"
	AssignmentUnassigned = "unassigned"
)

// AssignmentContent is the content variant for KindAssignment.
type AssignmentContent struct {
	Action       string `json:"action"`
	TargetUserID string `json:"targetUserId"`
}

// NoteContent is the content variant for KindNote.
type NoteContent struct {
	Text string `json:"text"`
}

// ActionItemContent is the content variant for KindActionItem.
type ActionItemContent struct {
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// IncidentFilter narrows ListIncidents by optional fields; zero value matches
// everything.
type IncidentFilter struct {
	Status   string
	Severity string
}

// Store is the persistence interface for principals, incidents and their
// audit trail. Every method that mutates an incident also writes the
// corresponding Update atomically: callers never observe a partial write,
// and a caller that receives a non-nil Incident/Update pair back may publish
// it immediately (spec's broadcast-after-persist guarantee).
type Store interface {
	// Principals
	CreateUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context, role string) ([]User, error)
	UpdateUserRole(ctx context.Context, id, role string) (*User, error)

	// CreateIncident seeds the incident and its first audit record
	// (previousStatus = null, newStatus = investigating) atomically.
	CreateIncident(ctx context.Context, in *Incident) (*Incident, *Update, error)

	GetIncident(ctx context.Context, id string) (*Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error)
	ListUpdates(ctx context.Context, incidentID string) ([]Update, error)
	GetUpdate(ctx context.Context, id string) (*Update, error)

	// UpdateStatus applies a validated transition. Callers (the state
	// machine / dispatcher) have already checked the transition is legal;
	// the store does not re-check it. It sets resolvedAt the first time
	// status becomes "resolved".
	UpdateStatus(ctx context.Context, incidentID, authorID, newStatus string) (*Incident, *Update, error)

	AddNote(ctx context.Context, incidentID, authorID, text string) (*Incident, *Update, error)

	AssignUser(ctx context.Context, incidentID, authorID, targetUserID string) (*Incident, *Update, error)
	UnassignUser(ctx context.Context, incidentID, authorID, targetUserID string) (*Incident, *Update, error)

	AddActionItem(ctx context.Context, incidentID, authorID, text string) (*Incident, *Update, error)
	ToggleActionItem(ctx context.Context, updateID, authorID string, completed bool) (*Incident, *Update, error)

	Ping(ctx context.Context) error
	Close() error
}
