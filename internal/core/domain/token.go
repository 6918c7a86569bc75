package domain

import "time"

// TokenRecord holds the stored OAuth credentials for one
// (service, integration) pair. Records are owned by the session manager and
// persisted through the credential store.
type TokenRecord struct {
	// Service is the canonical service identifier.
	Service string `json:"service"`
	// IntegrationID is the backend-owned integration identifier. Opaque to
	// the engine; stored and round-tripped, never interpreted.
	IntegrationID string `json:"integration_id"`
	// AccessToken is the bearer token for API access.
	AccessToken string `json:"access_token"`
	// RefreshToken is used to obtain new access tokens. Optional.
	RefreshToken string `json:"refresh_token,omitempty"`
	// TokenType is typically "Bearer".
	TokenType string `json:"token_type"`
	// ExpiresAt is when the access token expires.
	ExpiresAt time.Time `json:"expires_at"`
	// Scope is the granted scope string as reported by the provider.
	Scope string `json:"scope,omitempty"`
	// Metadata captures service-specific response fields (workspace id,
	// team id, bot id). Opaque to the engine.
	Metadata map[string]any `json:"metadata,omitempty"`
	// StoredAt is when the record was last written.
	StoredAt time.Time `json:"stored_at"`
}

// Key returns the credential store key for this record.
func (r TokenRecord) Key() string {
	return CredentialKey(r.Service, r.IntegrationID)
}

// IsExpired returns true if the access token has expired at the given time.
func (r TokenRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// ExpiresWithin returns true if the token expires within the buffer window.
func (r TokenRecord) ExpiresWithin(now time.Time, buffer time.Duration) bool {
	return !now.Add(buffer).Before(r.ExpiresAt)
}

// HasRefreshToken returns true if a refresh token is available.
func (r TokenRecord) HasRefreshToken() bool {
	return r.RefreshToken != ""
}

// CredentialKey builds the credential store key for a
// (service, integration) pair.
func CredentialKey(service, integrationID string) string {
	return service + ":" + integrationID
}

// TokenGrant is the normalized result of a token endpoint exchange. The
// exchange client converts expires_in into the absolute Expiry at the moment
// the response is received.
type TokenGrant struct {
	// AccessToken is the bearer token for API access.
	AccessToken string
	// RefreshToken is the new refresh token. Empty when the provider chose
	// not to rotate it; the caller then retains the previous one.
	RefreshToken string
	// TokenType is typically "Bearer".
	TokenType string
	// Scope is the granted scope string.
	Scope string
	// Expiry is when the access token expires.
	Expiry time.Time
	// Extra holds unrecognized response fields (workspace id, team id, ...).
	Extra map[string]any
}
