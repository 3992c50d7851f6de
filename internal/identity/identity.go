// Package identity implements the Identity & Session component: it verifies
// bearer credentials on each HTTP request and on each session handshake and
// yields an authenticated Principal with a role. No session state is kept
// server-side — the principal is resolved fresh on every request.
package identity

import (
	"context"

	"github.com/incidenthub/incidenthub/internal/store"
)

// Principal is the resolved identity of an authenticated caller.
type Principal struct {
	UserID      string
	DisplayName string
	Role        string
}

// Provider verifies a bearer token and resolves it to a Principal.
type Provider interface {
	Verify(ctx context.Context, token string) (*Principal, error)
	Bootstrap(ctx context.Context) error
	Name() string
}

// LoginProvider is implemented by providers that support email/password
// registration and login (the builtin provider; an OIDC provider manages
// credentials externally and does not implement this).
type LoginProvider interface {
	Login(ctx context.Context, email, password string) (string, *store.User, error)
	Register(ctx context.Context, email, displayName, password string) (*store.User, error)
}
