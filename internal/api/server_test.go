package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/incidenthub/incidenthub/internal/config"
	"github.com/incidenthub/incidenthub/internal/hub"
	"github.com/incidenthub/incidenthub/internal/identity"
	"github.com/incidenthub/incidenthub/internal/store"
)

func newTestServer(t *testing.T) (*Server, store.Store, *identity.BuiltinProvider) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	provider := identity.NewBuiltinProvider(s, config.AuthConfig{
		JWTSecret:  "test-secret-at-least-32-characters-long",
		BcryptCost: 4,
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := hub.New(logger, hub.Options{})
	srv := NewServer(s, provider, provider, h, Options{}, logger)
	return srv, s, provider
}

func registerAndLogin(t *testing.T, srv *Server, email, role string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{
		"email": email, "displayName": "Test User", "password": "hunter22",
	})
	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var registered struct {
		User  store.User `json:"user"`
		Token string     `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &registered); err != nil {
		t.Fatalf("unmarshal register response: %v", err)
	}
	if registered.Token == "" {
		t.Fatal("expected register to issue a token")
	}
	if role != "" && role != store.RoleViewer {
		if _, err := srv.store.UpdateUserRole(req.Context(), registered.User.ID, role); err != nil {
			t.Fatalf("promote user: %v", err)
		}
	}

	loginBody, _ := json.Marshal(map[string]string{"email": email, "password": "hunter22"})
	loginReq := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(loginBody))
	loginRec := httptest.NewRecorder()
	srv.ServeHTTP(loginRec, loginReq)
	if loginRec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", loginRec.Code, loginRec.Body.String())
	}

	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(loginRec.Body.Bytes(), &loginResp); err != nil {
		t.Fatalf("unmarshal login response: %v", err)
	}
	return loginResp.Token
}

func authedRequest(method, path string, body []byte, token string) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func TestRegisterLoginMe(t *testing.T) {
	srv, _, _ := newTestServer(t)
	token := registerAndLogin(t, srv, "ann@example.com", "")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(http.MethodGet, "/auth/me", nil, token))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var p identity.Principal
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("unmarshal principal: %v", err)
	}
	if p.Role != store.RoleViewer {
		t.Fatalf("expected newly registered user to default to viewer, got %s", p.Role)
	}
}

func TestCreateIncidentRequiresResponderOrAdmin(t *testing.T) {
	srv, _, _ := newTestServer(t)
	viewerToken := registerAndLogin(t, srv, "viewer@example.com", "")

	body, _ := json.Marshal(map[string]string{"title": "db down", "severity": store.SeverityHigh})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(http.MethodPost, "/incidents", body, viewerToken))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer create, got %d", rec.Code)
	}

	responderToken := registerAndLogin(t, srv, "responder@example.com", store.RoleResponder)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(http.MethodPost, "/incidents", body, responderToken))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for responder create, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateStatusRejectsIllegalTransition(t *testing.T) {
	srv, s, _ := newTestServer(t)
	responderToken := registerAndLogin(t, srv, "responder@example.com", store.RoleResponder)

	in, _, err := s.CreateIncident(httptest.NewRequest(http.MethodGet, "/", nil).Context(), &store.Incident{
		Title:     "db down",
		Severity:  store.SeverityHigh,
		CreatedBy: "u1",
		Commander: "u1",
	})
	if err != nil {
		t.Fatalf("seed incident: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"status": store.StatusMonitoring})
	rec := httptest.NewRecorder()
	path := "/incidents/" + in.ID + "/status"
	srv.ServeHTTP(rec, authedRequest(http.MethodPatch, path, body, responderToken))
	if rec.Code != http.StatusOK {
		t.Fatalf("investigating->monitoring should be legal, got %d: %s", rec.Code, rec.Body.String())
	}

	body2, _ := json.Marshal(map[string]string{"status": store.StatusResolved})
	rec2 := httptest.NewRecorder()
	srv.ServeHTTP(rec2, authedRequest(http.MethodPatch, path, body2, responderToken))
	if rec2.Code != http.StatusOK {
		t.Fatalf("monitoring->resolved should be legal, got %d: %s", rec2.Code, rec2.Body.String())
	}

	// resolved -> monitoring is illegal; only re-opening to investigating is allowed.
	illegalBody, _ := json.Marshal(map[string]string{"status": store.StatusMonitoring})
	rec3 := httptest.NewRecorder()
	srv.ServeHTTP(rec3, authedRequest(http.MethodPatch, path, illegalBody, responderToken))
	if rec3.Code != http.StatusBadRequest {
		t.Fatalf("resolved->monitoring should be rejected, got %d", rec3.Code)
	}
}

func TestAddNoteTrimsAndEnforcesLengthBound(t *testing.T) {
	srv, s, _ := newTestServer(t)
	responderToken := registerAndLogin(t, srv, "responder@example.com", store.RoleResponder)

	in, _, err := s.CreateIncident(httptest.NewRequest(http.MethodGet, "/", nil).Context(), &store.Incident{
		Title: "db down", Severity: store.SeverityHigh, CreatedBy: "u1", Commander: "u1",
	})
	if err != nil {
		t.Fatalf("seed incident: %v", err)
	}
	path := "/incidents/" + in.ID + "/notes"

	whitespace, _ := json.Marshal(map[string]string{"text": "   "})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(http.MethodPost, path, whitespace, responderToken))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for whitespace-only note, got %d", rec.Code)
	}

	tooLong, _ := json.Marshal(map[string]string{"text": " " + strings.Repeat("a", 2001) + " "})
	rec2 := httptest.NewRecorder()
	srv.ServeHTTP(rec2, authedRequest(http.MethodPost, path, tooLong, responderToken))
	if rec2.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for 2001-char note, got %d", rec2.Code)
	}

	exact, _ := json.Marshal(map[string]string{"text": "  " + strings.Repeat("b", 2000) + "  "})
	rec3 := httptest.NewRecorder()
	srv.ServeHTTP(rec3, authedRequest(http.MethodPost, path, exact, responderToken))
	if rec3.Code != http.StatusOK {
		t.Fatalf("expected 200 for 2000-char note, got %d: %s", rec3.Code, rec3.Body.String())
	}
}

func TestAddNoteUnknownIncidentReturnsNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	responderToken := registerAndLogin(t, srv, "responder@example.com", store.RoleResponder)

	body, _ := json.Marshal(map[string]string{"text": "hello"})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(http.MethodPost, "/incidents/does-not-exist/notes", body, responderToken))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown incident, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAssignUnknownIncidentReturnsNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	responderToken := registerAndLogin(t, srv, "responder@example.com", store.RoleResponder)
	target := registerAndLogin(t, srv, "target2@example.com", "")
	_ = target

	body, _ := json.Marshal(map[string]string{"targetUserId": "whoever"})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(http.MethodPost, "/incidents/does-not-exist/assignees", body, responderToken))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown incident, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRegisterIssuesToken(t *testing.T) {
	srv, _, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]string{
		"email": "new@example.com", "displayName": "New User", "password": "hunter22",
	})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		User  store.User `json:"user"`
		Token string     `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected register to return a token")
	}
	if resp.User.Email != "new@example.com" {
		t.Fatalf("expected user in response, got %+v", resp.User)
	}
}

func TestUpdateUserRoleRequiresAdmin(t *testing.T) {
	srv, _, _ := newTestServer(t)
	responderToken := registerAndLogin(t, srv, "responder@example.com", store.RoleResponder)
	target := registerAndLogin(t, srv, "target@example.com", "")
	_ = target

	var targetUser store.User
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(http.MethodGet, "/users", nil, responderToken))
	var users []store.User
	_ = json.Unmarshal(rec.Body.Bytes(), &users)
	for _, u := range users {
		if u.Email == "target@example.com" {
			targetUser = u
		}
	}

	body, _ := json.Marshal(map[string]string{"role": store.RoleResponder})
	rec2 := httptest.NewRecorder()
	srv.ServeHTTP(rec2, authedRequest(http.MethodPatch, "/users/"+targetUser.ID+"/role", body, responderToken))
	if rec2.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin role change, got %d", rec2.Code)
	}

	adminToken := registerAndLogin(t, srv, "admin@example.com", store.RoleAdmin)
	rec3 := httptest.NewRecorder()
	srv.ServeHTTP(rec3, authedRequest(http.MethodPatch, "/users/"+targetUser.ID+"/role", body, adminToken))
	if rec3.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin role change, got %d: %s", rec3.Code, rec3.Body.String())
	}
}
