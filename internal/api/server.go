// Package api provides the REST surface and the WebSocket upgrade route for
// incidenthub: authentication, incident CRUD, user management, and the
// /ws handshake that hands a verified principal off to the Room Hub.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/incidenthub/incidenthub/internal/apperr"
	"github.com/incidenthub/incidenthub/internal/hub"
	"github.com/incidenthub/incidenthub/internal/identity"
	"github.com/incidenthub/incidenthub/internal/policy"
	"github.com/incidenthub/incidenthub/internal/ratelimit"
	"github.com/incidenthub/incidenthub/internal/statemachine"
	"github.com/incidenthub/incidenthub/internal/store"
)

// maxNoteLength is the §4.4 upper bound on note text after trimming,
// matching internal/dispatcher's WS-side enforcement.
const maxNoteLength = 2000

// Options configures a Server beyond its required dependencies.
type Options struct {
	AllowedOrigins    []string
	MaxBodyBytes      int64
	LoginPerSecond    float64
	LoginBurst        int
}

// Server is the REST API server.
type Server struct {
	store         store.Store
	authProvider  identity.Provider
	loginProvider identity.LoginProvider
	hub           *hub.Hub
	logger        *slog.Logger
	mux           *chi.Mux
	startTime     time.Time
	maxBodyBytes  int64
	loginRL       *ratelimit.Keyed
}

// NewServer wires the chi router: a handler must still be set on h via
// hub.Hub.SetHandler before the first /ws request lands.
func NewServer(s store.Store, ap identity.Provider, lp identity.LoginProvider, h *hub.Hub, opts Options, logger *slog.Logger) *Server {
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1024 * 1024
	}
	loginPerSecond := opts.LoginPerSecond
	if loginPerSecond <= 0 {
		loginPerSecond = 1
	}
	loginBurst := float64(opts.LoginBurst)
	if loginBurst <= 0 {
		loginBurst = 5
	}

	srv := &Server{
		store:         s,
		authProvider:  ap,
		loginProvider: lp,
		hub:           h,
		logger:        logger.With("component", "api"),
		startTime:     time.Now(),
		maxBodyBytes:  maxBody,
		loginRL:       ratelimit.NewKeyed(loginPerSecond, loginBurst),
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(opts.AllowedOrigins))

	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)

	if lp != nil {
		mux.With(loginIPRateLimitMiddleware(srv.loginRL)).Post("/auth/register", srv.handleRegister)
		mux.With(loginIPRateLimitMiddleware(srv.loginRL)).Post("/auth/login", srv.handleLogin)
	}

	mux.Get("/ws", srv.handleWS)

	mux.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)

		r.Get("/auth/me", srv.handleMe)

		r.Get("/incidents", srv.handleListIncidents)
		r.Post("/incidents", srv.handleCreateIncident)
		r.Get("/incidents/{incidentID}", srv.handleGetIncident)
		r.Patch("/incidents/{incidentID}/status", srv.handleUpdateStatus)
		r.Post("/incidents/{incidentID}/assignees", srv.handleAssign)
		r.Post("/incidents/{incidentID}/notes", srv.handleAddNote)

		r.Get("/users", srv.handleListUsers)
		r.Get("/users/{userID}", srv.handleGetUser)
		r.Patch("/users/{userID}/role", srv.handleUpdateUserRole)
	})

	srv.mux = mux
	return srv
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// --- health ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- auth ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
		Password    string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" || req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "email, displayName and password are required")
		return
	}

	u, err := s.loginProvider.Register(r.Context(), req.Email, req.DisplayName, req.Password)
	if err != nil {
		kind, msg := apperr.As(err)
		writeError(w, apperr.HTTPStatus(kind), msg)
		return
	}

	token, _, err := s.loginProvider.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "registered but failed to issue a token")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": u, "token": token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, u, err := s.loginProvider.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": u})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p := getPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "missing principal")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- incidents ---

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	filter := store.IncidentFilter{
		Status:   r.URL.Query().Get("status"),
		Severity: r.URL.Query().Get("severity"),
	}
	list, err := s.store.ListIncidents(r.Context(), filter)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateIncident(w http.ResponseWriter, r *http.Request) {
	p := getPrincipal(r.Context())
	if !policy.Allow(p.Role, policy.ActionIncidentCreate) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Severity    string `json:"severity"`
		Commander   string `json:"commander"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	commander := req.Commander
	if commander == "" {
		commander = p.UserID
	}

	in, _, err := s.store.CreateIncident(r.Context(), &store.Incident{
		Title:       req.Title,
		Description: req.Description,
		Severity:    req.Severity,
		CreatedBy:   p.UserID,
		Commander:   commander,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, in)
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "incidentID")
	in, err := s.store.GetIncident(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if in == nil {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	p := getPrincipal(r.Context())
	if !policy.Allow(p.Role, policy.ActionIncidentUpdate) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	id := chi.URLParam(r, "incidentID")
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	current, err := s.store.GetIncident(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if current == nil {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	if !statemachine.CanTransition(current.Status, req.Status) {
		writeError(w, http.StatusBadRequest, "illegal status transition")
		return
	}

	in, update, err := s.store.UpdateStatus(r.Context(), id, p.UserID, req.Status)
	if err != nil {
		writeAppError(w, err)
		return
	}

	s.hub.Broadcast(hub.RoomForIncident(id), "incident:updated", toIncidentUpdatedPayload(in, update), "")
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	p := getPrincipal(r.Context())
	if !policy.Allow(p.Role, policy.ActionIncidentAssign) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	id := chi.URLParam(r, "incidentID")
	var req struct {
		TargetUserID string `json:"targetUserId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TargetUserID == "" {
		writeError(w, http.StatusBadRequest, "targetUserId is required")
		return
	}

	in, update, err := s.store.AssignUser(r.Context(), id, p.UserID, req.TargetUserID)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyAssigned) {
			writeError(w, apperr.HTTPStatus(apperr.Conflict), "user is already assigned")
			return
		}
		writeAppError(w, err)
		return
	}
	if in == nil {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}

	s.hub.Broadcast(hub.RoomForIncident(id), "incident:assigned", toIncidentUpdatedPayload(in, update), "")
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) handleAddNote(w http.ResponseWriter, r *http.Request) {
	p := getPrincipal(r.Context())
	if !policy.Allow(p.Role, policy.ActionIncidentNote) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	id := chi.URLParam(r, "incidentID")
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if len(text) == 0 || len(text) > maxNoteLength {
		writeError(w, http.StatusBadRequest, "note text must be 1-2000 characters")
		return
	}

	in, update, err := s.store.AddNote(r.Context(), id, p.UserID, text)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if in == nil {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}

	s.hub.Broadcast(hub.RoomForIncident(id), "incident:noteAdded", toIncidentUpdatedPayload(in, update), "")
	writeJSON(w, http.StatusOK, in)
}

// --- users ---

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListUsers(r.Context(), r.URL.Query().Get("role"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userID")
	u, err := s.store.GetUserByID(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleUpdateUserRole(w http.ResponseWriter, r *http.Request) {
	p := getPrincipal(r.Context())
	if !policy.Allow(p.Role, policy.ActionUserManage) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	id := chi.URLParam(r, "userID")
	var req struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := s.store.UpdateUserRole(r.Context(), id, req.Role)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// --- websocket upgrade ---

// handleWS extracts a bearer token from the Authorization header or, since
// browser WebSocket clients cannot set custom headers, a ?token= query
// param, verifies it, and hands the connection to the Room Hub.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = authHeader[len("Bearer "):]
		}
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}

	principal, err := s.authProvider.Verify(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	s.hub.Serve(w, r, *principal)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeAppError(w http.ResponseWriter, err error) {
	kind, msg := apperr.As(err)
	writeError(w, apperr.HTTPStatus(kind), msg)
}

func toIncidentUpdatedPayload(in *store.Incident, update *store.Update) map[string]any {
	return map[string]any{"incident": in, "update": update}
}
