package domain

import "time"

// DefaultPendingTTL is how long a pending authorization may sit in the
// browser before its state parameter is rejected.
const DefaultPendingTTL = 10 * time.Minute

// PendingAuthState is the ephemeral record of one in-flight authorization
// attempt. It is encoded into the OAuth state parameter so it survives the
// external browser round-trip; the application keeps no server-side session.
//
// A pending state is single-use: consumed by the first matching callback and
// rejected on replay.
type PendingAuthState struct {
	// IntegrationID identifies the integration being connected.
	IntegrationID string `json:"integration_id"`
	// Service is the canonical service identifier.
	Service string `json:"service"`
	// Nonce is the CSRF nonce. It must match between initiation and
	// callback or the callback is rejected.
	Nonce string `json:"nonce"`
	// CreatedAt is when the authorization attempt started.
	CreatedAt time.Time `json:"created_at"`
}

// Expired returns true if the pending state is older than ttl.
func (p PendingAuthState) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(p.CreatedAt) > ttl
}
