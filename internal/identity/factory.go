package identity

import (
	"fmt"

	"github.com/incidenthub/incidenthub/internal/config"
	"github.com/incidenthub/incidenthub/internal/store"
)

// NewProvider builds the configured identity Provider.
func NewProvider(cfg config.AuthConfig, s store.Store) (Provider, error) {
	switch cfg.Provider {
	case "", "builtin":
		return NewBuiltinProvider(s, cfg), nil
	case "oidc":
		return NewOIDCProvider(cfg.OIDCIssuer)
	default:
		return nil, fmt.Errorf("unsupported auth provider: %q", cfg.Provider)
	}
}
