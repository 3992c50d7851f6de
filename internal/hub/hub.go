// Package hub implements the Room Hub and WebSocket session endpoint: it
// upgrades authenticated connections, tracks room membership (a room is
// "incident:{incidentId}"), and fans out broadcasts to every subscriber of
// a room with a snapshot-then-deliver pattern so a slow or blocked
// subscriber can never hold the room lock during delivery.
package hub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/incidenthub/incidenthub/internal/apperr"
	"github.com/incidenthub/incidenthub/internal/identity"
	"github.com/incidenthub/incidenthub/internal/ratelimit"
	"github.com/incidenthub/incidenthub/pkg/protocol"
)

const (
	maxMessageBytes = 32 * 1024
	sendQueueDepth  = 32
)

// RoomForIncident returns the canonical room name for an incident id.
func RoomForIncident(incidentID string) string {
	return "incident:" + incidentID
}

// Handler is implemented by the command dispatcher. OnMessage lets the
// dispatcher drive the join/leave protocol (subscribing the session,
// updating presence, broadcasting presence:joined/left) and OnDisconnect
// lets it tear that state down, without the hub needing to know about
// incidents, presence, or focus.
type Handler interface {
	OnConnect(s *Session)
	OnMessage(s *Session, env protocol.Envelope)
	OnDisconnect(s *Session)
}

// Session is one live WebSocket connection, identified by the
// authenticated principal that opened it.
type Session struct {
	ID          string
	PrincipalID string
	DisplayName string
	Role        string

	hub  *Hub
	conn *websocket.Conn

	writeMu sync.Mutex
	send    chan []byte

	roomsMu sync.Mutex
	rooms   map[string]bool
}

// NewSession constructs a Session bound to h but with no underlying
// connection. Intended for tests that exercise Subscribe/Broadcast/SendTo
// against a real Hub without going through an actual WebSocket upgrade.
func NewSession(h *Hub, id, principalID, displayName, role string) *Session {
	return &Session{
		ID:          id,
		PrincipalID: principalID,
		DisplayName: displayName,
		Role:        role,
		hub:         h,
		send:        make(chan []byte, sendQueueDepth),
		rooms:       make(map[string]bool),
	}
}

// Send enqueues an outbound envelope for delivery. If the session's queue
// is full the session is disconnected rather than allowed to back up
// memory indefinitely.
func (s *Session) Send(event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	env := protocol.Envelope{Event: event, Data: raw}
	body, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case s.send <- body:
	default:
		s.hub.disconnect(s, websocket.CloseMessage)
	}
}

// TryRecv pops one queued outbound message without blocking. Used by tests
// in other packages that construct sessions via NewSession and need to
// inspect what the dispatcher queued for delivery.
func (s *Session) TryRecv() ([]byte, bool) {
	select {
	case body := <-s.send:
		return body, true
	default:
		return nil, false
	}
}

// SendError is a convenience wrapper for emitting an error event.
func (s *Session) SendError(code, message string) {
	s.Send(protocol.EventError, protocol.ErrorData{Code: code, Message: message})
}

// Hub owns every live session and every room's membership.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader
	handler  Handler
	limiter  *ratelimit.Keyed

	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]map[string]*Session // room -> sessionID -> session
}

// Options configures a Hub.
type Options struct {
	AllowedOrigins    []string
	CommandsPerSecond float64
	CommandBurst      float64
}

// New constructs a Hub. The handler must be set before any connection is
// accepted; callers typically construct the dispatcher with a reference to
// the Hub and then assign it back via SetHandler to break the cycle.
func New(logger *slog.Logger, opts Options) *Hub {
	rate := opts.CommandsPerSecond
	if rate <= 0 {
		rate = 30
	}
	burst := opts.CommandBurst
	if burst <= 0 {
		burst = 50
	}
	return &Hub{
		logger:   logger.With("component", "hub"),
		upgrader: makeUpgrader(opts.AllowedOrigins),
		limiter:  ratelimit.NewKeyed(rate, burst),
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
	}
}

// SetHandler installs the command dispatcher. Must be called before Serve.
func (h *Hub) SetHandler(handler Handler) {
	h.handler = handler
}

func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return originSet[origin]
		},
	}
}

// Serve upgrades the request to a WebSocket and runs the session's
// lifecycle until the connection closes. principal must already be
// verified by the caller.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, principal identity.Principal) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := &Session{
		ID:          uuid.New().String(),
		PrincipalID: principal.UserID,
		DisplayName: principal.DisplayName,
		Role:        principal.Role,
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, sendQueueDepth),
		rooms:       make(map[string]bool),
	}

	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()

	conn.SetReadLimit(maxMessageBytes)
	cancelKeepalive := startWSKeepalive(conn, &s.writeMu)

	go s.writeLoop()

	if h.handler != nil {
		h.handler.OnConnect(s)
	}

	h.readLoop(s)

	cancelKeepalive()
	h.removeSession(s)
	if h.handler != nil {
		h.handler.OnDisconnect(s)
	}
	close(s.send)
	_ = conn.Close()
}

func (h *Hub) readLoop(s *Session) {
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		if !h.limiter.Allow(s.ID) {
			s.SendError(apperr.WSCode(apperr.RateLimited), "too many commands")
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			s.SendError(apperr.WSCode(apperr.Validation), "invalid message envelope")
			continue
		}

		if h.handler != nil {
			h.handler.OnMessage(s, env)
		}
	}
}

func (s *Session) writeLoop() {
	for body := range s.send {
		s.writeMu.Lock()
		err := s.conn.WriteMessage(websocket.TextMessage, body)
		s.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// Subscribe adds s to room's membership.
func (h *Hub) Subscribe(s *Session, room string) {
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Session)
		h.rooms[room] = members
	}
	members[s.ID] = s
	h.mu.Unlock()

	s.roomsMu.Lock()
	s.rooms[room] = true
	s.roomsMu.Unlock()
}

// Unsubscribe removes s from room's membership.
func (h *Hub) Unsubscribe(s *Session, room string) {
	h.mu.Lock()
	if members, ok := h.rooms[room]; ok {
		delete(members, s.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()

	s.roomsMu.Lock()
	delete(s.rooms, room)
	s.roomsMu.Unlock()
}

// Broadcast delivers event/data to every subscriber of room except
// excludeSessionID (pass "" to exclude nobody). The member list is
// snapshotted under the lock, then delivered without holding it, so a
// backed-up session can never stall the whole room.
func (h *Hub) Broadcast(room, event string, data any, excludeSessionID string) {
	h.mu.RLock()
	members := h.rooms[room]
	recipients := make([]*Session, 0, len(members))
	for id, s := range members {
		if id == excludeSessionID {
			continue
		}
		recipients = append(recipients, s)
	}
	h.mu.RUnlock()

	for _, s := range recipients {
		s.Send(event, data)
	}
}

// SendTo delivers event/data to a single session by id, if still connected.
func (h *Hub) SendTo(sessionID, event string, data any) {
	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if ok {
		s.Send(event, data)
	}
}

// Rooms returns the set of rooms s currently belongs to.
func (s *Session) Rooms() []string {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		out = append(out, room)
	}
	return out
}

func (h *Hub) removeSession(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s.ID)
	for room, members := range h.rooms {
		delete(members, s.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()
	h.limiter.Forget(s.ID)
}

// disconnect forcibly closes a session, e.g. after a send-queue overflow.
func (h *Hub) disconnect(s *Session, _ int) {
	_ = s.conn.Close()
}
