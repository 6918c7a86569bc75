package driven

import (
	"context"

	"github.com/sonara-labs/sonara-link/internal/core/domain"
)

// CredentialStore persists token records keyed by
// domain.CredentialKey(service, integrationID).
//
// Writes are atomic from the caller's perspective: a reader never observes a
// partially written record. Implementations should be private to the
// application; where platform isolation is weaker (plain file storage), the
// adapter documents the fallback and callers must not assume equal
// confidentiality across platforms.
type CredentialStore interface {
	// Put stores a token record, replacing any existing record for the key.
	Put(ctx context.Context, record domain.TokenRecord) error

	// Get retrieves the record for a key. Returns (nil, nil) when absent.
	// A stored record that no longer parses is treated as absent.
	Get(ctx context.Context, key string) (*domain.TokenRecord, error)

	// Delete removes the record for a key. Deleting an absent key is a
	// no-op.
	Delete(ctx context.Context, key string) error
}
