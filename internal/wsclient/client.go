// Package wsclient is a small client for incidentctl to dial the
// incidenthub session WebSocket: join an incident room and stream its
// presence/focus/status events to the monitor dashboard.
package wsclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/incidenthub/incidenthub/pkg/protocol"
)

// MessageHandler processes one envelope received from the hub.
type MessageHandler func(env protocol.Envelope)

// Client manages a single outbound WebSocket connection to incidenthub.
type Client struct {
	baseURL     string
	token       string
	insecureTLS bool
	handler     MessageHandler

	// OnStateChange, if set, is called with true right after a successful
	// dial and with false when the connection ends.
	OnStateChange func(connected bool)

	mu   sync.Mutex
	conn *websocket.Conn
}

// New creates a Client for the given REST base URL (e.g. "http://localhost:8080").
func New(baseURL, token string, insecureTLS bool, handler MessageHandler) *Client {
	return &Client{baseURL: baseURL, token: token, insecureTLS: insecureTLS, handler: handler}
}

// Connect dials /ws and begins delivering messages to the handler. It
// blocks until ctx is canceled or the connection is permanently lost; the
// caller is responsible for any reconnect loop.
func (c *Client) Connect(ctx context.Context) error {
	wsURL, err := toWebSocketURL(c.baseURL)
	if err != nil {
		return fmt.Errorf("build websocket url: %w", err)
	}
	wsURL += "?token=" + url.QueryEscape(c.token)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if c.insecureTLS {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("dial incidenthub: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	if c.OnStateChange != nil {
		c.OnStateChange(true)
	}

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
		if c.OnStateChange != nil {
			c.OnStateChange(false)
		}
	}()

	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		c.mu.Unlock()
		_ = conn.Close()
	})
	defer stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			return ctx.Err()
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message: %w", err)
		}

		var env protocol.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			continue
		}
		c.handler(env)
	}
}

// Send marshals data as the payload of event and writes it to the
// connection. Returns an error if not currently connected.
func (c *Client) Send(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	env := protocol.Envelope{Event: event, Data: raw}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, body)
}

// JoinIncident sends incident:join for incidentID — its payload is a bare
// JSON string, not an object.
func (c *Client) JoinIncident(incidentID string) error {
	return c.Send(protocol.EventIncidentJoin, incidentID)
}

// Close closes the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func toWebSocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}
