// Package protocol defines the wire messages exchanged between a client and
// the hub over the session WebSocket.
//
// All messages are JSON-encoded and share a common envelope with an "event"
// field that determines the payload structure.
package protocol

import "encoding/json"

// Envelope is the top-level wire format for every inbound command and
// outbound event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// --- Inbound command events ---

const (
	EventIncidentJoin           = "incident:join"
	EventIncidentLeave          = "incident:leave"
	EventPresenceHeartbeat      = "presence:heartbeat"
	EventFocusUpdate            = "focus:update"
	EventFocusClear             = "focus:clear"
	EventIncidentUpdateStatus   = "incident:updateStatus"
	EventIncidentAddNote        = "incident:addNote"
	EventIncidentAssign         = "incident:assign"
	EventIncidentAddActionItem  = "incident:addActionItem"
	EventIncidentToggleAction   = "incident:toggleActionItem"
)

// --- Outbound event names ---

const (
	EventPresenceList           = "presence:list"
	EventPresenceJoined         = "presence:joined"
	EventPresenceLeft           = "presence:left"
	EventFocusList              = "focus:list"
	EventFocusUpdated           = "focus:updated"
	EventFocusCleared           = "focus:cleared"
	EventIncidentUpdated        = "incident:updated"
	EventIncidentNoteAdded      = "incident:noteAdded"
	EventIncidentAssigned       = "incident:assigned"
	EventIncidentActionItemAdded    = "incident:actionItemAdded"
	EventIncidentActionItemToggled  = "incident:actionItemToggled"
	EventError                  = "error"
)

// --- Inbound payloads ---

// The payload of incident:join is a bare JSON string (the incident id), not
// an object, so it has no struct here: the dispatcher unmarshals the
// envelope's Data field directly into a string.

// UpdateStatusData is the payload of incident:updateStatus.
type UpdateStatusData struct {
	IncidentID string `json:"incidentId"`
	Status     string `json:"status"`
}

// AddNoteData is the payload of incident:addNote.
type AddNoteData struct {
	IncidentID string `json:"incidentId"`
	Text       string `json:"text"`
}

// AssignData is the payload of incident:assign.
type AssignData struct {
	IncidentID   string `json:"incidentId"`
	TargetUserID string `json:"targetUserId"`
}

// AddActionItemData is the payload of incident:addActionItem.
type AddActionItemData struct {
	IncidentID string `json:"incidentId"`
	Text       string `json:"text"`
}

// ToggleActionItemData is the payload of incident:toggleActionItem.
type ToggleActionItemData struct {
	UpdateID  string `json:"updateId"`
	Completed bool   `json:"completed"`
}

// FocusUpdateData is the payload of focus:update.
type FocusUpdateData struct {
	IncidentID string  `json:"incidentId"`
	Section    string  `json:"section"`
	FieldID    *string `json:"fieldId,omitempty"`
}

// FocusClearData is the payload of focus:clear.
type FocusClearData struct {
	IncidentID string `json:"incidentId"`
}

// --- Outbound payloads ---

// ErrorData is the payload of the error event.
type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// PresenceEntryData describes one presence roster row on the wire.
type PresenceEntryData struct {
	PrincipalID string `json:"principalId"`
	DisplayName string `json:"displayName"`
	SessionID   string `json:"sessionId"`
	LastActiveAt string `json:"lastActiveAt"`
}

// PresenceListData is the payload of presence:list (unicast).
type PresenceListData struct {
	IncidentID string              `json:"incidentId"`
	Principals []PresenceEntryData `json:"principals"`
}

// PresenceJoinedData / PresenceLeftData are the payloads of the broadcast
// presence:joined / presence:left events. spec.md §9's open question on the
// missing incidentId is resolved here: both carry it explicitly.
type PresenceJoinedData struct {
	IncidentID  string `json:"incidentId"`
	PrincipalID string `json:"principalId"`
	DisplayName string `json:"displayName"`
	SessionID   string `json:"sessionId"`
}

type PresenceLeftData struct {
	IncidentID  string `json:"incidentId"`
	PrincipalID string `json:"principalId"`
	SessionID   string `json:"sessionId"`
}

// FocusEntryData describes one focus entry on the wire.
type FocusEntryData struct {
	PrincipalID string  `json:"principalId"`
	Section     string  `json:"section"`
	FieldID     *string `json:"fieldId,omitempty"`
	Color       string  `json:"color"`
}

// FocusListData is the payload of focus:list (unicast).
type FocusListData struct {
	IncidentID string           `json:"incidentId"`
	Entries    []FocusEntryData `json:"entries"`
}

// FocusUpdatedData / FocusClearedData are the broadcast focus payloads.
type FocusUpdatedData struct {
	IncidentID string `json:"incidentId"`
	FocusEntryData
}

type FocusClearedData struct {
	IncidentID  string `json:"incidentId"`
	PrincipalID string `json:"principalId"`
}

// UpdateData is the wire shape of an audit record: id, kind, content,
// authorId, createdAt, with content kind-discriminated by json.RawMessage
// (spec.md §9's "tagged variant, not a bag of optional fields").
type UpdateData struct {
	ID         string          `json:"id"`
	IncidentID string          `json:"incidentId"`
	AuthorID   string          `json:"authorId"`
	Kind       string          `json:"kind"`
	Content    json.RawMessage `json:"content"`
	CreatedAt  string          `json:"createdAt"`
}

// IncidentProjectionData is the full updated incident projection carried on
// every state-affecting broadcast.
type IncidentProjectionData struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    string   `json:"severity"`
	Status      string   `json:"status"`
	CreatedBy   string   `json:"createdBy"`
	Commander   string   `json:"commander"`
	Assignees   []string `json:"assignees"`
	CreatedAt   string   `json:"createdAt"`
	ResolvedAt  *string  `json:"resolvedAt,omitempty"`
}

// IncidentUpdatedData is the payload of incident:updated and is reused (with
// the update embedded) for noteAdded/assigned/actionItemAdded/actionItemToggled,
// which all include the full projection plus the new/changed audit record.
type IncidentUpdatedData struct {
	Incident IncidentProjectionData `json:"incident"`
	Update   UpdateData             `json:"update"`
}
