package identity

import (
	"context"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/incidenthub/incidenthub/internal/store"
)

// OIDCProvider validates JWTs issued by an external identity provider using
// JWKS, for organizations that federate identity instead of using builtin
// password accounts. It never implements LoginProvider: credentials are
// managed entirely by the external IdP.
type OIDCProvider struct {
	issuer string
	jwks   keyfunc.Keyfunc
}

// NewOIDCProvider fetches the issuer's JWKS and builds a provider able to
// verify tokens it signs.
func NewOIDCProvider(issuer string) (*OIDCProvider, error) {
	if issuer == "" {
		return nil, fmt.Errorf("oidc issuer URL is required")
	}
	jwksURL := issuer + "/.well-known/jwks.json"
	jwks, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}
	return &OIDCProvider{issuer: issuer, jwks: jwks}, nil
}

func (o *OIDCProvider) Name() string { return "oidc" }

// Bootstrap is a no-op: an OIDC principal is resolved from its token's
// claims on every request, and no user record is created for it.
func (o *OIDCProvider) Bootstrap(ctx context.Context) error { return nil }

// Verify parses and validates an external JWT, deriving a role from an
// "incident_role" claim. Any claim value other than "admin" or "responder"
// maps to viewer — a write-capable role is never granted from an
// unrecognized or absent claim.
func (o *OIDCProvider) Verify(ctx context.Context, tokenStr string) (*Principal, error) {
	token, err := jwt.Parse(tokenStr, o.jwks.KeyfuncCtx(ctx),
		jwt.WithIssuer(o.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrUnauthorized
	}

	role := store.RoleViewer
	switch claimStr(claims, "incident_role") {
	case store.RoleAdmin:
		role = store.RoleAdmin
	case store.RoleResponder:
		role = store.RoleResponder
	}

	name := sub
	if n := claimStr(claims, "name"); n != "" {
		name = n
	} else if e := claimStr(claims, "email"); e != "" {
		name = e
	}

	return &Principal{
		UserID:      sub,
		DisplayName: name,
		Role:        role,
	}, nil
}

func claimStr(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}
