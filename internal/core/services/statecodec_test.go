package services

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonara-labs/sonara-link/internal/core/domain"
)

func TestStateRoundTrip(t *testing.T) {
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	pending := domain.PendingAuthState{
		IntegrationID: "itg-123",
		Service:       "google-calendar",
		Nonce:         "abc123nonce",
		CreatedAt:     created,
	}

	state, err := EncodeState(pending)
	require.NoError(t, err)

	decoded, err := DecodeState(state)
	require.NoError(t, err)
	assert.Equal(t, pending.IntegrationID, decoded.IntegrationID)
	assert.Equal(t, pending.Service, decoded.Service)
	assert.Equal(t, pending.Nonce, decoded.Nonce)
	assert.True(t, decoded.CreatedAt.Equal(created))
}

func TestStateRoundTrip_URLUnsafeIntegrationID(t *testing.T) {
	// Integration ids are opaque backend strings; the envelope must survive
	// whatever they contain.
	pending := domain.PendingAuthState{
		IntegrationID: "itg/with?odd&chars=+%",
		Service:       "slack",
		Nonce:         "n",
		CreatedAt:     time.Now(),
	}

	state, err := EncodeState(pending)
	require.NoError(t, err)
	assert.NotContains(t, state, "?")
	assert.NotContains(t, state, "&")
	assert.NotContains(t, state, "=")

	decoded, err := DecodeState(state)
	require.NoError(t, err)
	assert.Equal(t, pending.IntegrationID, decoded.IntegrationID)
}

func TestDecodeState_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		state string
	}{
		{"empty", ""},
		{"not base64", "!!!not-base64!!!"},
		{"not json", base64.RawURLEncoding.EncodeToString([]byte("plain text"))},
		{"wrong version", base64.RawURLEncoding.EncodeToString(
			[]byte(`{"v":99,"integration_id":"i","service":"s","nonce":"n","created_at":0}`))},
		{"missing nonce", base64.RawURLEncoding.EncodeToString(
			[]byte(`{"v":1,"integration_id":"i","service":"s","created_at":0}`))},
		{"missing service", base64.RawURLEncoding.EncodeToString(
			[]byte(`{"v":1,"integration_id":"i","nonce":"n","created_at":0}`))},
		{"missing integration", base64.RawURLEncoding.EncodeToString(
			[]byte(`{"v":1,"service":"s","nonce":"n","created_at":0}`))},
		{"oversized", strings.Repeat("A", maxStateLength+1)},
		{"binary garbage", string([]byte{0x00, 0xff, 0xfe, 0x01})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := DecodeState(tt.state)
			assert.Error(t, err)
			assert.Nil(t, decoded)
		})
	}
}

func TestDecodeState_TamperedPayload(t *testing.T) {
	state, err := EncodeState(domain.PendingAuthState{
		IntegrationID: "itg-1",
		Service:       "github",
		Nonce:         "nonce",
		CreatedAt:     time.Now(),
	})
	require.NoError(t, err)

	// Flip a character; the result must be rejected or decode to different
	// content, never panic.
	tampered := []byte(state)
	if tampered[4] == 'A' {
		tampered[4] = 'B'
	} else {
		tampered[4] = 'A'
	}
	decoded, err := DecodeState(string(tampered))
	if err == nil {
		assert.NotNil(t, decoded)
	}
}
