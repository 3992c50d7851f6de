// Package dispatcher implements the Command Dispatcher component: it runs
// every inbound WebSocket command through a fixed pipeline — decode,
// authorize, validate, mutate, broadcast — so no command path can skip a
// step. Decoding rejects a malformed payload or a missing required field
// with a Validation error before the role check runs, so such a command
// gets Validation rather than Forbidden even from a role that may not run it.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/incidenthub/incidenthub/internal/apperr"
	"github.com/incidenthub/incidenthub/internal/focus"
	"github.com/incidenthub/incidenthub/internal/hub"
	"github.com/incidenthub/incidenthub/internal/policy"
	"github.com/incidenthub/incidenthub/internal/presence"
	"github.com/incidenthub/incidenthub/internal/statemachine"
	"github.com/incidenthub/incidenthub/internal/store"
	"github.com/incidenthub/incidenthub/pkg/protocol"
)

// maxNoteLength is the §4.4 upper bound on note text after trimming.
const maxNoteLength = 2000

// Dispatcher wires the hub's session lifecycle to the domain components. It
// implements hub.Handler.
type Dispatcher struct {
	store    store.Store
	presence *presence.Registry
	focus    *focus.Registry
	hub      *hub.Hub
	logger   *slog.Logger
}

// New constructs a Dispatcher. Call hub.SetHandler(d) once it is built so
// the hub can route connections to it.
func New(s store.Store, pr *presence.Registry, fr *focus.Registry, h *hub.Hub, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{store: s, presence: pr, focus: fr, hub: h, logger: logger.With("component", "dispatcher")}
}

// OnConnect is a no-op: a session has no room membership until it sends
// incident:join, so there is nothing to do at the socket level.
func (d *Dispatcher) OnConnect(s *hub.Session) {
	d.logger.Debug("session connected", "session_id", s.ID, "principal_id", s.PrincipalID)
}

// OnDisconnect tears down everything a session held: presence in every
// incident it had joined, and its global focus entry if any.
func (d *Dispatcher) OnDisconnect(s *hub.Session) {
	incidentIDs := d.presence.RemoveBySession(s.ID)
	for _, incidentID := range incidentIDs {
		d.hub.Broadcast(hub.RoomForIncident(incidentID), protocol.EventPresenceLeft, protocol.PresenceLeftData{
			IncidentID:  incidentID,
			PrincipalID: s.PrincipalID,
			SessionID:   s.ID,
		}, "")
	}
	if incidentID, ok := d.focus.RemoveByPrincipal(s.PrincipalID); ok {
		d.hub.Broadcast(hub.RoomForIncident(incidentID), protocol.EventFocusCleared, protocol.FocusClearedData{
			IncidentID:  incidentID,
			PrincipalID: s.PrincipalID,
		}, "")
	}
	d.logger.Debug("session disconnected", "session_id", s.ID, "principal_id", s.PrincipalID)
}

// OnMessage runs the fixed command pipeline. A panic anywhere in a single
// command's handling is recovered and converted to an error event so one
// bad command never takes the connection down.
func (d *Dispatcher) OnMessage(s *hub.Session, env protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command handler panicked", "event", env.Event, "panic", r)
			s.SendError(apperr.WSCode(apperr.Internal), "internal error")
		}
	}()

	ctx := context.Background()

	switch env.Event {
	case protocol.EventIncidentJoin:
		d.handleJoin(ctx, s, env)
	case protocol.EventIncidentLeave:
		d.handleLeave(s, env)
	case protocol.EventPresenceHeartbeat:
		d.presence.Heartbeat(s.ID, time.Now())
	case protocol.EventFocusUpdate:
		d.handleFocusUpdate(s, env)
	case protocol.EventFocusClear:
		d.handleFocusClear(s, env)
	case protocol.EventIncidentUpdateStatus:
		d.handleUpdateStatus(ctx, s, env)
	case protocol.EventIncidentAddNote:
		d.handleAddNote(ctx, s, env)
	case protocol.EventIncidentAssign:
		d.handleAssign(ctx, s, env)
	case protocol.EventIncidentAddActionItem:
		d.handleAddActionItem(ctx, s, env)
	case protocol.EventIncidentToggleAction:
		d.handleToggleActionItem(ctx, s, env)
	default:
		s.SendError(apperr.WSCode(apperr.Validation), "unknown event")
	}
}

func (d *Dispatcher) fail(s *hub.Session, err error) {
	kind, msg := apperr.As(err)
	s.SendError(apperr.WSCode(kind), msg)
}

func (d *Dispatcher) handleJoin(ctx context.Context, s *hub.Session, env protocol.Envelope) {
	var incidentID string
	if err := json.Unmarshal(env.Data, &incidentID); err != nil || incidentID == "" {
		s.SendError(apperr.WSCode(apperr.Validation), "incident:join requires an incident id")
		return
	}

	if !policy.Allow(s.Role, policy.ActionRead) {
		s.SendError(apperr.WSCode(apperr.Forbidden), "not permitted to view this incident")
		return
	}
	in, err := d.store.GetIncident(ctx, incidentID)
	if err != nil {
		d.fail(s, err)
		return
	}
	if in == nil {
		s.SendError(apperr.WSCode(apperr.NotFound), "incident not found")
		return
	}

	room := hub.RoomForIncident(incidentID)
	d.hub.Subscribe(s, room)
	d.presence.Join(s.PrincipalID, s.DisplayName, incidentID, s.ID, time.Now())

	d.hub.Broadcast(room, protocol.EventPresenceJoined, protocol.PresenceJoinedData{
		IncidentID:  incidentID,
		PrincipalID: s.PrincipalID,
		DisplayName: s.DisplayName,
		SessionID:   s.ID,
	}, s.ID)

	entries := d.presence.List(incidentID)
	principals := make([]protocol.PresenceEntryData, len(entries))
	for i, e := range entries {
		principals[i] = protocol.PresenceEntryData{
			PrincipalID:  e.PrincipalID,
			DisplayName:  e.DisplayName,
			SessionID:    e.SessionID,
			LastActiveAt: e.LastActiveAt.Format(time.RFC3339),
		}
	}
	s.Send(protocol.EventPresenceList, protocol.PresenceListData{IncidentID: incidentID, Principals: principals})

	focusEntries := d.focus.ListForIncident(incidentID)
	wireEntries := make([]protocol.FocusEntryData, len(focusEntries))
	for i, e := range focusEntries {
		wireEntries[i] = toFocusEntryData(e)
	}
	s.Send(protocol.EventFocusList, protocol.FocusListData{IncidentID: incidentID, Entries: wireEntries})
}

func (d *Dispatcher) handleLeave(s *hub.Session, env protocol.Envelope) {
	var incidentID string
	if err := json.Unmarshal(env.Data, &incidentID); err != nil || incidentID == "" {
		s.SendError(apperr.WSCode(apperr.Validation), "incident:leave requires an incident id")
		return
	}

	d.presence.Leave(s.PrincipalID, incidentID)
	room := hub.RoomForIncident(incidentID)
	d.hub.Unsubscribe(s, room)
	d.hub.Broadcast(room, protocol.EventPresenceLeft, protocol.PresenceLeftData{
		IncidentID:  incidentID,
		PrincipalID: s.PrincipalID,
		SessionID:   s.ID,
	}, "")

	if d.focus.ClearForIncident(s.PrincipalID, incidentID) {
		d.hub.Broadcast(room, protocol.EventFocusCleared, protocol.FocusClearedData{
			IncidentID:  incidentID,
			PrincipalID: s.PrincipalID,
		}, "")
	}
}

func (d *Dispatcher) handleFocusUpdate(s *hub.Session, env protocol.Envelope) {
	var data protocol.FocusUpdateData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.IncidentID == "" || data.Section == "" {
		s.SendError(apperr.WSCode(apperr.Validation), "invalid focus:update payload")
		return
	}

	fieldID := ""
	if data.FieldID != nil {
		fieldID = *data.FieldID
	}

	entry, applied, prevIncidentID, hadPrev := d.focus.Update(s.PrincipalID, s.DisplayName, data.IncidentID, s.ID, data.Section, fieldID, time.Now())
	if !applied {
		return // silently dropped: over the throttle rate
	}

	if hadPrev && prevIncidentID != data.IncidentID {
		d.hub.Broadcast(hub.RoomForIncident(prevIncidentID), protocol.EventFocusCleared, protocol.FocusClearedData{
			IncidentID:  prevIncidentID,
			PrincipalID: s.PrincipalID,
		}, "")
	}

	d.hub.Broadcast(hub.RoomForIncident(data.IncidentID), protocol.EventFocusUpdated, protocol.FocusUpdatedData{
		IncidentID:     data.IncidentID,
		FocusEntryData: toFocusEntryData(entry),
	}, s.ID)
}

func (d *Dispatcher) handleFocusClear(s *hub.Session, env protocol.Envelope) {
	var data protocol.FocusClearData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.IncidentID == "" {
		s.SendError(apperr.WSCode(apperr.Validation), "invalid focus:clear payload")
		return
	}
	if !d.focus.ClearForIncident(s.PrincipalID, data.IncidentID) {
		return
	}
	d.hub.Broadcast(hub.RoomForIncident(data.IncidentID), protocol.EventFocusCleared, protocol.FocusClearedData{
		IncidentID:  data.IncidentID,
		PrincipalID: s.PrincipalID,
	}, "")
}

func (d *Dispatcher) handleUpdateStatus(ctx context.Context, s *hub.Session, env protocol.Envelope) {
	var data protocol.UpdateStatusData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.IncidentID == "" {
		s.SendError(apperr.WSCode(apperr.Validation), "invalid incident:updateStatus payload")
		return
	}
	if !policy.Allow(s.Role, policy.ActionIncidentUpdate) {
		s.SendError(apperr.WSCode(apperr.Forbidden), "not permitted to change incident status")
		return
	}
	if !statemachine.IsValidStatus(data.Status) {
		s.SendError(apperr.WSCode(apperr.Validation), "unrecognized status")
		return
	}

	current, err := d.store.GetIncident(ctx, data.IncidentID)
	if err != nil {
		d.fail(s, err)
		return
	}
	if current == nil {
		s.SendError(apperr.WSCode(apperr.NotFound), "incident not found")
		return
	}
	if !statemachine.CanTransition(current.Status, data.Status) {
		s.SendError(apperr.WSCode(apperr.Conflict), "illegal status transition")
		return
	}

	incident, update, err := d.store.UpdateStatus(ctx, data.IncidentID, s.PrincipalID, data.Status)
	if err != nil {
		d.fail(s, err)
		return
	}
	d.broadcastIncidentUpdate(protocol.EventIncidentUpdated, incident, update)
}

func (d *Dispatcher) handleAddNote(ctx context.Context, s *hub.Session, env protocol.Envelope) {
	var data protocol.AddNoteData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.IncidentID == "" {
		s.SendError(apperr.WSCode(apperr.Validation), "invalid incident:addNote payload")
		return
	}
	if !policy.Allow(s.Role, policy.ActionIncidentNote) {
		s.SendError(apperr.WSCode(apperr.Forbidden), "not permitted to add notes")
		return
	}
	text := strings.TrimSpace(data.Text)
	if len(text) == 0 || len(text) > maxNoteLength {
		s.SendError(apperr.WSCode(apperr.Validation), "note text must be 1-2000 characters")
		return
	}
	incident, update, err := d.store.AddNote(ctx, data.IncidentID, s.PrincipalID, text)
	if err != nil {
		d.fail(s, err)
		return
	}
	if incident == nil {
		s.SendError(apperr.WSCode(apperr.NotFound), "incident not found")
		return
	}
	d.broadcastIncidentUpdate(protocol.EventIncidentNoteAdded, incident, update)
}

func (d *Dispatcher) handleAssign(ctx context.Context, s *hub.Session, env protocol.Envelope) {
	var data protocol.AssignData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.IncidentID == "" || data.TargetUserID == "" {
		s.SendError(apperr.WSCode(apperr.Validation), "invalid incident:assign payload")
		return
	}
	if !policy.Allow(s.Role, policy.ActionIncidentAssign) {
		s.SendError(apperr.WSCode(apperr.Forbidden), "not permitted to assign incidents")
		return
	}
	incident, update, err := d.store.AssignUser(ctx, data.IncidentID, s.PrincipalID, data.TargetUserID)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyAssigned) {
			s.SendError(apperr.WSCode(apperr.Conflict), "user is already assigned")
			return
		}
		d.fail(s, err)
		return
	}
	if incident == nil {
		s.SendError(apperr.WSCode(apperr.NotFound), "incident not found")
		return
	}
	d.broadcastIncidentUpdate(protocol.EventIncidentAssigned, incident, update)
}

func (d *Dispatcher) handleAddActionItem(ctx context.Context, s *hub.Session, env protocol.Envelope) {
	var data protocol.AddActionItemData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.IncidentID == "" || data.Text == "" {
		s.SendError(apperr.WSCode(apperr.Validation), "invalid incident:addActionItem payload")
		return
	}
	if !policy.Allow(s.Role, policy.ActionIncidentActionItem) {
		s.SendError(apperr.WSCode(apperr.Forbidden), "not permitted to add action items")
		return
	}
	incident, update, err := d.store.AddActionItem(ctx, data.IncidentID, s.PrincipalID, data.Text)
	if err != nil {
		d.fail(s, err)
		return
	}
	if incident == nil {
		s.SendError(apperr.WSCode(apperr.NotFound), "incident not found")
		return
	}
	d.broadcastIncidentUpdate(protocol.EventIncidentActionItemAdded, incident, update)
}

func (d *Dispatcher) handleToggleActionItem(ctx context.Context, s *hub.Session, env protocol.Envelope) {
	var data protocol.ToggleActionItemData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.UpdateID == "" {
		s.SendError(apperr.WSCode(apperr.Validation), "invalid incident:toggleActionItem payload")
		return
	}
	if !policy.Allow(s.Role, policy.ActionIncidentActionItem) {
		s.SendError(apperr.WSCode(apperr.Forbidden), "not permitted to change action items")
		return
	}
	incident, update, err := d.store.ToggleActionItem(ctx, data.UpdateID, s.PrincipalID, data.Completed)
	if err != nil {
		d.fail(s, err)
		return
	}
	if incident == nil {
		s.SendError(apperr.WSCode(apperr.NotFound), "update not found")
		return
	}
	d.broadcastIncidentUpdate(protocol.EventIncidentActionItemToggled, incident, update)
}

func (d *Dispatcher) broadcastIncidentUpdate(event string, incident *store.Incident, update *store.Update) {
	room := hub.RoomForIncident(incident.ID)
	d.hub.Broadcast(room, event, protocol.IncidentUpdatedData{
		Incident: toIncidentProjectionData(incident),
		Update:   toUpdateData(update),
	}, "")
}

func toIncidentProjectionData(in *store.Incident) protocol.IncidentProjectionData {
	var resolvedAt *string
	if in.ResolvedAt != nil {
		v := in.ResolvedAt.Format(time.RFC3339)
		resolvedAt = &v
	}
	return protocol.IncidentProjectionData{
		ID:          in.ID,
		Title:       in.Title,
		Description: in.Description,
		Severity:    in.Severity,
		Status:      in.Status,
		CreatedBy:   in.CreatedBy,
		Commander:   in.Commander,
		Assignees:   in.Assignees,
		CreatedAt:   in.CreatedAt.Format(time.RFC3339),
		ResolvedAt:  resolvedAt,
	}
}

func toUpdateData(u *store.Update) protocol.UpdateData {
	return protocol.UpdateData{
		ID:         u.ID,
		IncidentID: u.IncidentID,
		AuthorID:   u.AuthorID,
		Kind:       string(u.Kind),
		Content:    u.Content,
		CreatedAt:  u.CreatedAt.Format(time.RFC3339),
	}
}

func toFocusEntryData(e focus.Entry) protocol.FocusEntryData {
	var fieldID *string
	if e.FieldID != "" {
		v := e.FieldID
		fieldID = &v
	}
	return protocol.FocusEntryData{
		PrincipalID: e.PrincipalID,
		Section:     e.Section,
		FieldID:     fieldID,
		Color:       e.Color,
	}
}
