package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/sonara-labs/sonara-link/internal/core/domain"
	"github.com/sonara-labs/sonara-link/internal/core/ports/driven"
	"github.com/sonara-labs/sonara-link/internal/logger"
)

// Ensure Store implements the interface.
var _ driven.CredentialStore = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
    key        TEXT PRIMARY KEY,
    sealed     BLOB NOT NULL,
    updated_at TEXT NOT NULL
);`

// Store is the SQLite-backed credential store. Records are sealed before
// insert; each Put is a single statement, so readers never observe a partial
// record.
type Store struct {
	db     *sql.DB
	sealer *sealer
	path   string
}

// NewStore opens (or creates) the credential database under dataDir. If
// dataDir is empty, defaults to ~/.sonara/link.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".sonara", "link")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	key, err := loadOrCreateKey(filepath.Join(dataDir, "credentials.key"))
	if err != nil {
		return nil, fmt.Errorf("loading sealing key: %w", err)
	}
	sealer, err := newSealer(key)
	if err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, "credentials.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, sealer: sealer, path: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Put seals and stores a token record, replacing any existing record.
func (s *Store) Put(ctx context.Context, record domain.TokenRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: encode record: %v", domain.ErrStorage, err)
	}
	sealed, err := s.sealer.seal(raw)
	if err != nil {
		return fmt.Errorf("%w: seal record: %v", domain.ErrStorage, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO credentials (key, sealed, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET sealed = excluded.sealed, updated_at = excluded.updated_at`,
		record.Key(), sealed, record.StoredAt.UTC().Format("2006-01-02T15:04:05Z07:00"))
	if err != nil {
		return fmt.Errorf("%w: write record: %v", domain.ErrStorage, err)
	}
	return nil
}

// Get retrieves and unseals the record for a key. Absent keys return
// (nil, nil). A record that fails to unseal or parse, or whose expiry is not
// a valid instant, is treated as absent and purged rather than silently
// kept.
func (s *Store) Get(ctx context.Context, key string) (*domain.TokenRecord, error) {
	var sealed []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT sealed FROM credentials WHERE key = ?`, key).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read record: %v", domain.ErrStorage, err)
	}

	raw, err := s.sealer.open(sealed)
	if err != nil {
		logger.Warn("credential record %s failed to unseal, discarding", key)
		s.purge(ctx, key)
		return nil, nil
	}
	var record domain.TokenRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		logger.Warn("credential record %s failed to parse, discarding", key)
		s.purge(ctx, key)
		return nil, nil
	}
	if record.ExpiresAt.IsZero() {
		logger.Warn("credential record %s has no valid expiry, discarding", key)
		s.purge(ctx, key)
		return nil, nil
	}
	return &record, nil
}

// Delete removes the record for a key. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE key = ?`, key); err != nil {
		return fmt.Errorf("%w: delete record: %v", domain.ErrStorage, err)
	}
	return nil
}

func (s *Store) purge(ctx context.Context, key string) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE key = ?`, key); err != nil {
		logger.Warn("purge credential record %s: %v", key, err)
	}
}
