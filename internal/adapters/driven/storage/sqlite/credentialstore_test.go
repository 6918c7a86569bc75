package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonara-labs/sonara-link/internal/core/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRecord() domain.TokenRecord {
	return domain.TokenRecord{
		Service:       "notion",
		IntegrationID: "int-7",
		AccessToken:   "secret-token",
		RefreshToken:  "secret-refresh",
		TokenType:     "Bearer",
		ExpiresAt:     time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		Scope:         "read write",
		Metadata:      map[string]any{"workspace_id": "ws-1"},
		StoredAt:      time.Now().UTC().Truncate(time.Second),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	record := testRecord()

	require.NoError(t, store.Put(ctx, record))

	got, err := store.Get(ctx, record.Key())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, record.AccessToken, got.AccessToken)
	assert.Equal(t, record.RefreshToken, got.RefreshToken)
	assert.True(t, record.ExpiresAt.Equal(got.ExpiresAt))
	assert.Equal(t, "ws-1", got.Metadata["workspace_id"])
}

func TestStoreAbsentKey(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Get(context.Background(), "slack:missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStorePutReplaces(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	record := testRecord()
	require.NoError(t, store.Put(ctx, record))

	record.AccessToken = "rotated"
	require.NoError(t, store.Put(ctx, record))

	got, err := store.Get(ctx, record.Key())
	require.NoError(t, err)
	assert.Equal(t, "rotated", got.AccessToken)
}

func TestStoreDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	record := testRecord()
	require.NoError(t, store.Put(ctx, record))

	require.NoError(t, store.Delete(ctx, record.Key()))
	require.NoError(t, store.Delete(ctx, record.Key()))

	got, err := store.Get(ctx, record.Key())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreDiscardsRecordWithoutExpiry(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	record := testRecord()
	record.ExpiresAt = time.Time{}
	require.NoError(t, store.Put(ctx, record))

	got, err := store.Get(ctx, record.Key())
	require.NoError(t, err)
	assert.Nil(t, got, "a record with an unparseable expiry is treated as absent")

	// And it stays gone.
	got, err = store.Get(ctx, record.Key())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreSealsAtRest(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	record := testRecord()
	require.NoError(t, store.Put(ctx, record))

	var sealed []byte
	err := store.db.QueryRowContext(ctx,
		`SELECT sealed FROM credentials WHERE key = ?`, record.Key()).Scan(&sealed)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "secret-token",
		"raw token must not appear in the database file")
}

func TestSealerRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	s, err := newSealer(key)
	require.NoError(t, err)

	t.Run("seal then open recovers plaintext", func(t *testing.T) {
		sealed, err := s.seal([]byte("hello"))
		require.NoError(t, err)

		opened, err := s.open(sealed)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), opened)
	})

	t.Run("tampered blob fails to open", func(t *testing.T) {
		sealed, err := s.seal([]byte("hello"))
		require.NoError(t, err)
		sealed[len(sealed)-1] ^= 0xFF

		_, err = s.open(sealed)
		assert.Error(t, err)
	})

	t.Run("short blob fails to open", func(t *testing.T) {
		_, err := s.open([]byte("short"))
		assert.Error(t, err)
	})

	t.Run("wrong key size rejected", func(t *testing.T) {
		_, err := newSealer([]byte("too-short"))
		assert.Error(t, err)
	})
}
