// Package memory provides an in-memory credential store for tests and
// ephemeral runs. Nothing survives the process; production runs use the
// sqlite store.
package memory

import (
	"context"
	"sync"

	"github.com/sonara-labs/sonara-link/internal/core/domain"
	"github.com/sonara-labs/sonara-link/internal/core/ports/driven"
)

// Ensure CredentialStore implements the interface.
var _ driven.CredentialStore = (*CredentialStore)(nil)

// CredentialStore is an in-memory implementation of driven.CredentialStore.
type CredentialStore struct {
	mu      sync.RWMutex
	records map[string]domain.TokenRecord
}

// NewCredentialStore creates a new in-memory credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		records: make(map[string]domain.TokenRecord),
	}
}

// Put stores a token record, replacing any existing record for its key.
func (s *CredentialStore) Put(_ context.Context, record domain.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Key()] = record
	return nil
}

// Get retrieves the record for a key. Returns (nil, nil) when absent.
func (s *CredentialStore) Get(_ context.Context, key string) (*domain.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	copied := record
	return &copied, nil
}

// Delete removes the record for a key. Deleting an absent key is a no-op.
func (s *CredentialStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// Len returns the number of stored records. Test helper.
func (s *CredentialStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
