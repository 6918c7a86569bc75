package driven

import (
	"context"

	"github.com/sonara-labs/sonara-link/internal/core/domain"
)

// TokenExchanger performs the HTTP exchanges against a service's token
// endpoint, normalizing success and error shapes.
//
// Provider rejections surface as *domain.TokenExchangeError; network-level
// failures as *domain.TransientError. Neither operation retries internally:
// an authorization code is single-use, so blind retry is only ever safe for
// Refresh and is left to the caller's policy.
type TokenExchanger interface {
	// ExchangeCode swaps an authorization code for tokens. verifier is the
	// PKCE code verifier, empty when the service does not use PKCE.
	ExchangeCode(ctx context.Context, cfg domain.ServiceConfig, code, redirectURI, verifier string) (*domain.TokenGrant, error)

	// Refresh obtains a new access token. The returned grant may omit a
	// refresh token when the provider does not rotate it; the caller then
	// retains the prior one.
	Refresh(ctx context.Context, cfg domain.ServiceConfig, refreshToken string) (*domain.TokenGrant, error)

	// Revoke invalidates a token at the provider's revocation endpoint.
	// A no-op returning nil when the service has no revoke endpoint.
	Revoke(ctx context.Context, cfg domain.ServiceConfig, token string) error
}
