package driving

import (
	"context"

	"github.com/sonara-labs/sonara-link/internal/core/domain"
)

// AuthRequest is the result of starting an authorization: the URL handed to
// the system browser and the opaque state parameter embedded in it.
type AuthRequest struct {
	// AuthorizeURL is the fully constructed provider authorization URL.
	AuthorizeURL string
	// State is the encoded pending-auth state carried through the flow.
	State string
}

// SessionService is the OAuth session manager: it owns the token lifecycle
// for every (service, integration) pair. Operations on the same pair are
// serialized; different pairs are independent.
type SessionService interface {
	// Authenticate starts an authorization flow for the integration. It
	// builds the authorize URL, records the pending state, and hands the
	// URL to the browser without waiting for the user.
	Authenticate(ctx context.Context, service, integrationID string) (*AuthRequest, error)

	// HandleCallback consumes an authorization callback. The state must
	// decode to a live, unconsumed pending authorization or the callback
	// is rejected with *domain.CallbackError. A replay of an already
	// consumed state returns domain.ErrStateConsumed.
	HandleCallback(ctx context.Context, code, state string) error

	// GetValidAccessToken returns an access token that is more than the
	// refresh buffer away from expiry, refreshing first when needed.
	// Returns domain.ErrReauthRequired when the grant is dead, a transient
	// error when the refresh could not be attempted or completed.
	GetValidAccessToken(ctx context.Context, service, integrationID string) (string, error)

	// Disconnect revokes (best-effort), deletes the token record, and
	// notifies the backend. Safe to call repeatedly and from any state.
	Disconnect(ctx context.Context, service, integrationID string) error

	// State reports the lifecycle state for a (service, integration) pair.
	State(ctx context.Context, service, integrationID string) domain.SessionState
}

// CallbackRouter turns an inbound redirect URL into a session manager
// callback. Both the live listener and the cold-start check go through
// Route so parsing and validation behave identically.
type CallbackRouter interface {
	// Route parses and dispatches one redirect URL. Malformed input yields
	// an error, never a panic. Routing the same URL twice is a harmless
	// no-op.
	Route(ctx context.Context, rawURL string) error
}
