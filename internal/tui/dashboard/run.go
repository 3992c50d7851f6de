package dashboard

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/incidenthub/incidenthub/internal/restclient"
	"github.com/incidenthub/incidenthub/internal/wsclient"
	"github.com/incidenthub/incidenthub/pkg/protocol"
)

// Run connects to the incidenthub server and drives the monitor dashboard
// until the user quits or ctx is cancelled.
func Run(ctx context.Context, baseURL, token string, insecureTLS bool) error {
	rc := restclient.New(baseURL).WithToken(token)

	incidents, err := rc.ListIncidents(ctx, "")
	if err != nil {
		return fmt.Errorf("list incidents: %w", err)
	}

	joinCh := make(chan string, 1)
	m := NewModel(incidents, joinCh)

	p := tea.NewProgram(m, tea.WithAltScreen())

	wc := wsclient.New(baseURL, token, insecureTLS, func(env protocol.Envelope) {
		p.Send(EventMsg{Envelope: env})
	})
	wc.OnStateChange = func(connected bool) {
		p.Send(ConnStatusMsg{Connected: connected})
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go runConnection(connCtx, wc, p)
	go forwardJoins(connCtx, wc, joinCh)
	go refreshIncidents(connCtx, rc, p)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	_ = finalModel.(Model)
	return nil
}

// runConnection dials the WebSocket and reconnects with backoff until ctx is
// cancelled, reporting connection state to the dashboard as it goes.
func runConnection(ctx context.Context, wc *wsclient.Client, p *tea.Program) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		if backoff > time.Second {
			p.Send(ConnStatusMsg{Connected: false, Reconnecting: true})
		}
		err := wc.Connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			backoff = time.Second
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func forwardJoins(ctx context.Context, wc *wsclient.Client, joinCh <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-joinCh:
			_ = wc.JoinIncident(id)
		}
	}
}

func refreshIncidents(ctx context.Context, rc *restclient.Client, p *tea.Program) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			items, err := rc.ListIncidents(ctx, "")
			if err != nil {
				continue
			}
			p.Send(IncidentsUpdateMsg{Incidents: items})
		}
	}
}
