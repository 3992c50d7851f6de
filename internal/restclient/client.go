// Package restclient is incidentctl's client for incidenthub's REST API:
// login and the read-only incident listings the monitor dashboard polls
// between WebSocket events.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/incidenthub/incidenthub/internal/store"
)

// Client is a thin REST client bound to one incidenthub base URL.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a Client. Call Login to obtain a token, or set one directly
// with WithToken if the caller already has one.
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{}}
}

// WithToken returns a copy of c authenticated with token.
func (c *Client) WithToken(token string) *Client {
	return &Client{baseURL: c.baseURL, token: token, http: c.http}
}

// Token returns the bearer token currently set on c.
func (c *Client) Token() string { return c.token }

type loginResponse struct {
	Token string     `json:"token"`
	User  store.User `json:"user"`
}

// Login authenticates against /auth/login and returns the bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// ListIncidents fetches the incident list, optionally filtered by status.
func (c *Client) ListIncidents(ctx context.Context, status string) ([]store.Incident, error) {
	path := "/incidents"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var incidents []store.Incident
	if err := c.do(ctx, http.MethodGet, path, nil, &incidents); err != nil {
		return nil, err
	}
	return incidents, nil
}

// GetIncident fetches a single incident by id.
func (c *Client) GetIncident(ctx context.Context, id string) (*store.Incident, error) {
	var in store.Incident
	if err := c.do(ctx, http.MethodGet, "/incidents/"+url.PathEscape(id), nil, &in); err != nil {
		return nil, err
	}
	return &in, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, errBody.Error)
		}
		return fmt.Errorf("request failed: %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
