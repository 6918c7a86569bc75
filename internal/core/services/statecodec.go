package services

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/sonara-labs/sonara-link/internal/core/domain"
)

// maxStateLength bounds the state parameter accepted from a callback URL so
// a hostile redirect cannot feed arbitrarily large input into the decoder.
const maxStateLength = 2048

// stateEnvelope is the wire form of a pending authorization inside the OAuth
// state parameter. The envelope must round-trip unmodified through the
// provider.
type stateEnvelope struct {
	Version       int    `json:"v"`
	IntegrationID string `json:"integration_id"`
	Service       string `json:"service"`
	Nonce         string `json:"nonce"`
	CreatedAt     int64  `json:"created_at"`
}

const stateEnvelopeVersion = 1

// EncodeState packs a pending authorization into an opaque, URL-safe state
// parameter.
func EncodeState(pending domain.PendingAuthState) (string, error) {
	env := stateEnvelope{
		Version:       stateEnvelopeVersion,
		IntegrationID: pending.IntegrationID,
		Service:       pending.Service,
		Nonce:         pending.Nonce,
		CreatedAt:     pending.CreatedAt.Unix(),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeState unpacks a state parameter received from a callback. The input
// is untrusted: decoding failure is an error, never a panic.
func DecodeState(state string) (*domain.PendingAuthState, error) {
	if state == "" {
		return nil, fmt.Errorf("empty state parameter")
	}
	if len(state) > maxStateLength {
		return nil, fmt.Errorf("state parameter too long (%d bytes)", len(state))
	}
	raw, err := base64.RawURLEncoding.DecodeString(state)
	if err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	var env stateEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if env.Version != stateEnvelopeVersion {
		return nil, fmt.Errorf("unsupported state version %d", env.Version)
	}
	if env.Nonce == "" || env.Service == "" || env.IntegrationID == "" {
		return nil, fmt.Errorf("state missing required fields")
	}
	return &domain.PendingAuthState{
		IntegrationID: env.IntegrationID,
		Service:       env.Service,
		Nonce:         env.Nonce,
		CreatedAt:     timeFromUnix(env.CreatedAt),
	}, nil
}
