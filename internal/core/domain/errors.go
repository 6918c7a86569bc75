package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the OAuth engine. Typed errors below carry the
// provider detail; these sentinels classify every failure path so callers
// can branch with errors.Is.
var (
	// ErrUnknownService indicates the requested service has no registry
	// entry. Fatal to the requested operation, not to the process.
	ErrUnknownService = errors.New("unknown service")

	// ErrServiceNotConfigured indicates the service is registered but has
	// no client credentials configured.
	ErrServiceNotConfigured = errors.New("service not configured")

	// ErrNotAuthenticated indicates no token record exists for the
	// integration.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrReauthRequired indicates the stored grant is no longer usable
	// (refresh token revoked or expired) and the user must connect again.
	// Distinct from transient failures, which are retryable.
	ErrReauthRequired = errors.New("re-authentication required")

	// ErrStorage indicates the secure credential store is unavailable.
	// Read paths treat this as not authenticated; write paths surface it.
	ErrStorage = errors.New("credential storage unavailable")

	// ErrStateConsumed indicates a callback replayed a state parameter that
	// was already used. Harmless; routing treats it as a no-op.
	ErrStateConsumed = errors.New("authorization state already used")
)

// CallbackError reports a rejected or malformed OAuth callback: state
// mismatch, missing code, or an unparseable URL. It never causes a crash and
// always maps to a "authorization failed, please retry" outcome.
type CallbackError struct {
	// Service is the service the callback claimed to target, when known.
	Service string
	// Reason is a short human-readable explanation.
	Reason string
	// Err is the underlying cause, if any.
	Err error
}

func (e *CallbackError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s authorization failed: %s", e.Service, e.Reason)
	}
	return fmt.Sprintf("authorization failed: %s", e.Reason)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// TokenExchangeError reports a provider-rejected token exchange. The
// provider's structured error is preserved when its JSON body parsed;
// otherwise Body carries the raw response text.
type TokenExchangeError struct {
	// Status is the HTTP status returned by the token endpoint.
	Status int
	// Code is the provider error code (e.g. invalid_grant), if parsed.
	Code string
	// Description is the provider error description, if parsed.
	Description string
	// Body is the raw response body when no structured error was found.
	Body string
}

func (e *TokenExchangeError) Error() string {
	if e.Code != "" {
		if e.Description != "" {
			return fmt.Sprintf("token exchange rejected: %s (%s)", e.Code, e.Description)
		}
		return fmt.Sprintf("token exchange rejected: %s", e.Code)
	}
	return fmt.Sprintf("token exchange failed with status %d: %s", e.Status, e.Body)
}

// RequiresReauth returns true when the provider response means the grant
// itself is dead and only a fresh user authorization can recover.
func (e *TokenExchangeError) RequiresReauth() bool {
	return e.Code == "invalid_grant" || e.Status == 401
}

// TransientError wraps a network-level failure (timeout, DNS, TLS) so retry
// policy can distinguish it from an explicit provider rejection.
type TransientError struct {
	// Op is the operation that failed (e.g. "refresh").
	Op string
	// Err is the underlying network error.
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient returns true if err is a network-level failure that may be
// retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
