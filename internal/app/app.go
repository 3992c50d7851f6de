// Package app is the main orchestrator that ties every incidenthub
// component together: storage, identity, presence, focus, the Room Hub,
// the Command Dispatcher, and the REST server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/incidenthub/incidenthub/internal/api"
	"github.com/incidenthub/incidenthub/internal/config"
	"github.com/incidenthub/incidenthub/internal/dispatcher"
	"github.com/incidenthub/incidenthub/internal/focus"
	"github.com/incidenthub/incidenthub/internal/hub"
	"github.com/incidenthub/incidenthub/internal/identity"
	"github.com/incidenthub/incidenthub/internal/presence"
	"github.com/incidenthub/incidenthub/internal/store"
	"github.com/incidenthub/incidenthub/pkg/protocol"
)

// App is the assembled incidenthub process.
type App struct {
	cfg      *config.Config
	store    store.Store
	identity identity.Provider
	presence *presence.Registry
	focus    *focus.Registry
	hub      *hub.Hub
	api      *api.Server
	logger   *slog.Logger
}

// New assembles an App from configuration. Callers must call Run to start
// serving and the background reaper.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	s, err := store.New(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	idp, err := identity.NewProvider(cfg.Auth, s)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("init identity provider: %w", err)
	}
	if err := idp.Bootstrap(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("bootstrap identity provider: %w", err)
	}

	var loginProvider identity.LoginProvider
	if lp, ok := idp.(identity.LoginProvider); ok {
		loginProvider = lp
	}

	presenceReg := presence.NewRegistry()
	focusReg := focus.NewRegistry(cfg.Focus.ThrottleInterval.Duration)

	h := hub.New(logger, hub.Options{
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		CommandsPerSecond: cfg.RateLimit.CommandsPerSecond,
		CommandBurst:      float64(cfg.RateLimit.CommandBurst),
	})

	d := dispatcher.New(s, presenceReg, focusReg, h, logger)
	h.SetHandler(d)

	apiSrv := api.NewServer(s, idp, loginProvider, h, api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		LoginPerSecond: cfg.RateLimit.LoginPerSecond,
		LoginBurst:     cfg.RateLimit.LoginBurst,
	}, logger)

	if idp.Name() == "builtin" && len(cfg.Auth.JWTSecret) < 32 {
		logger.Warn("JWT secret is shorter than 32 characters — use a stronger secret in production")
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("server.allowed_origins contains wildcard '*' — restrict to specific origins in production")
			break
		}
	}

	return &App{
		cfg:      cfg,
		store:    s,
		identity: idp,
		presence: presenceReg,
		focus:    focusReg,
		hub:      h,
		api:      apiSrv,
		logger:   logger.With("component", "app"),
	}, nil
}

// Run starts the HTTP server and the presence reaper, and blocks until ctx
// is canceled or the server fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    a.cfg.Server.Addr,
		Handler: a.api,
	}

	go presence.RunReaper(ctx, a.presence, a.cfg.Presence.ReaperInterval.Duration, a.cfg.Presence.InactivityTTL.Duration, a.broadcastEvictions)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("incidenthub listening", "addr", a.cfg.Server.Addr)
		if a.cfg.Server.TLSCert != "" && a.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(a.cfg.Server.TLSCert, a.cfg.Server.TLSKey)
		} else {
			a.logger.Warn("TLS not configured, running without encryption (development only)")
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down incidenthub gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			a.logger.Info("http server stopped gracefully")
		}

		_ = a.store.Close()
		a.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		_ = a.store.Close()
		return err
	}
}

// broadcastEvictions is the presence reaper's eviction callback: it
// publishes presence:left to every incident room that lost a stale
// principal, with the same payload the dispatcher sends on an explicit
// disconnect. Unlike a disconnect, an eviction leaves the principal's focus
// entry in place and sends no focus:cleared.
func (a *App) broadcastEvictions(incidentID string, evicted []presence.Entry) {
	room := hub.RoomForIncident(incidentID)
	for _, e := range evicted {
		a.hub.Broadcast(room, protocol.EventPresenceLeft, protocol.PresenceLeftData{
			IncidentID:  incidentID,
			PrincipalID: e.PrincipalID,
			SessionID:   e.SessionID,
		}, "")
	}
}
