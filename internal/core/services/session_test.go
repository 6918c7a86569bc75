package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonara-labs/sonara-link/internal/core/domain"
)

// --- test doubles ---

type fakeStore struct {
	mu      sync.Mutex
	records map[string]domain.TokenRecord
	getErr  error
	putErr  error
	delErr  error
	puts    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]domain.TokenRecord)}
}

func (s *fakeStore) Put(_ context.Context, record domain.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.puts++
	s.records[record.Key()] = record
	return nil
}

func (s *fakeStore) Get(_ context.Context, key string) (*domain.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	record, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	copied := record
	return &copied, nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delErr != nil {
		return s.delErr
	}
	delete(s.records, key)
	return nil
}

func (s *fakeStore) record(t *testing.T, key string) domain.TokenRecord {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key]
	require.True(t, ok, "no record stored for %s", key)
	return record
}

func (s *fakeStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[key]
	return ok
}

type fakeExchanger struct {
	mu sync.Mutex

	exchangeGrant *domain.TokenGrant
	exchangeErr   error
	exchanges     int
	lastCode      string
	lastVerifier  string
	lastRedirect  string

	refreshGrant *domain.TokenGrant
	refreshErr   error
	refreshes    int
	refreshDelay time.Duration

	revokeErr error
	revokes   int
}

func (e *fakeExchanger) ExchangeCode(_ context.Context, _ domain.ServiceConfig, code, redirectURI, verifier string) (*domain.TokenGrant, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exchanges++
	e.lastCode, e.lastRedirect, e.lastVerifier = code, redirectURI, verifier
	if e.exchangeErr != nil {
		return nil, e.exchangeErr
	}
	return e.exchangeGrant, nil
}

func (e *fakeExchanger) Refresh(_ context.Context, _ domain.ServiceConfig, _ string) (*domain.TokenGrant, error) {
	e.mu.Lock()
	e.refreshes++
	delay := e.refreshDelay
	grant, err := e.refreshGrant, e.refreshErr
	e.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return grant, nil
}

func (e *fakeExchanger) Revoke(_ context.Context, _ domain.ServiceConfig, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.revokes++
	return e.revokeErr
}

func (e *fakeExchanger) refreshCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refreshes
}

type fakeNotifier struct {
	mu          sync.Mutex
	completes   []string
	disconnects []string
	lastParams  map[string]any
}

func (n *fakeNotifier) NotifyComplete(_ context.Context, integrationID, service string, params map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completes = append(n.completes, domain.CredentialKey(service, integrationID))
	n.lastParams = params
	return nil
}

func (n *fakeNotifier) NotifyDisconnect(_ context.Context, integrationID, service string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disconnects = append(n.disconnects, domain.CredentialKey(service, integrationID))
	return nil
}

type fakeBrowser struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (b *fakeBrowser) Open(u string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.urls = append(b.urls, u)
	return b.err
}

// --- fixture ---

type sessionFixture struct {
	manager   *SessionManager
	registry  *ServiceRegistry
	store     *fakeStore
	exchanger *fakeExchanger
	notifier  *fakeNotifier
	browser   *fakeBrowser
	now       time.Time
	clock     func() time.Time
	mu        sync.Mutex
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		registry:  NewServiceRegistry(domain.PlatformDesktop),
		store:     newFakeStore(),
		exchanger: &fakeExchanger{},
		notifier:  &fakeNotifier{},
		browser:   &fakeBrowser{},
		now:       time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.registry.ApplyOverrides(map[string]ServiceOverride{
		"spotify":         {ClientID: "cid", ClientSecret: "secret"},
		"github":          {ClientID: "cid", ClientSecret: "secret"},
		"google-calendar": {ClientID: "cid", ClientSecret: "secret"},
		"microsoft-teams": {ClientID: "cid"},
	}))
	f.clock = func() time.Time {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.now
	}
	f.manager = NewSessionManager(
		f.registry, f.store, f.exchanger, f.notifier, f.browser,
		SessionOptions{Platform: domain.PlatformDesktop, Clock: f.clock},
	)
	t.Cleanup(f.manager.Close)
	return f
}

func (f *sessionFixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *sessionFixture) grant(access string, ttl time.Duration) *domain.TokenGrant {
	return &domain.TokenGrant{
		AccessToken:  access,
		RefreshToken: "rt-" + access,
		TokenType:    "Bearer",
		Scope:        "scope-a scope-b",
		Expiry:       f.clock().Add(ttl),
	}
}

// connect runs a full authenticate+callback round and returns the stored key.
func (f *sessionFixture) connect(t *testing.T, service, integrationID string) string {
	t.Helper()
	f.exchanger.exchangeGrant = f.grant("at-1", time.Hour)
	req, err := f.manager.Authenticate(context.Background(), service, integrationID)
	require.NoError(t, err)
	require.NoError(t, f.manager.HandleCallback(context.Background(), "code-1", req.State))
	return domain.CredentialKey(service, integrationID)
}

// --- Authenticate ---

func TestAuthenticate_BuildsAuthorizeURL(t *testing.T) {
	f := newSessionFixture(t)

	req, err := f.manager.Authenticate(context.Background(), "spotify", "itg-1")
	require.NoError(t, err)

	parsed, err := url.Parse(req.AuthorizeURL)
	require.NoError(t, err)
	assert.Equal(t, "accounts.spotify.com", parsed.Host)

	query := parsed.Query()
	assert.Equal(t, "cid", query.Get("client_id"))
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "sonara://oauth/callback/spotify", query.Get("redirect_uri"))
	assert.NotEmpty(t, query.Get("scope"))
	assert.Equal(t, req.State, query.Get("state"))

	// Spotify uses PKCE: challenge present, method always S256.
	assert.NotEmpty(t, query.Get("code_challenge"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
}

func TestAuthenticate_StateDecodesToPending(t *testing.T) {
	f := newSessionFixture(t)

	req, err := f.manager.Authenticate(context.Background(), "github", "itg-9")
	require.NoError(t, err)

	decoded, err := DecodeState(req.State)
	require.NoError(t, err)
	assert.Equal(t, "github", decoded.Service)
	assert.Equal(t, "itg-9", decoded.IntegrationID)
	assert.NotEmpty(t, decoded.Nonce)
}

func TestAuthenticate_ExtraAuthParams(t *testing.T) {
	f := newSessionFixture(t)

	req, err := f.manager.Authenticate(context.Background(), "google-calendar", "itg-1")
	require.NoError(t, err)

	query, err := url.Parse(req.AuthorizeURL)
	require.NoError(t, err)
	assert.Equal(t, "offline", query.Query().Get("access_type"))
	assert.Equal(t, "consent", query.Query().Get("prompt"))
}

func TestAuthenticate_OpensBrowser(t *testing.T) {
	f := newSessionFixture(t)

	req, err := f.manager.Authenticate(context.Background(), "spotify", "itg-1")
	require.NoError(t, err)

	f.browser.mu.Lock()
	defer f.browser.mu.Unlock()
	require.Len(t, f.browser.urls, 1)
	assert.Equal(t, req.AuthorizeURL, f.browser.urls[0])
}

func TestAuthenticate_BrowserFailureIsNotFatal(t *testing.T) {
	f := newSessionFixture(t)
	f.browser.err = errors.New("no display")

	_, err := f.manager.Authenticate(context.Background(), "spotify", "itg-1")
	assert.NoError(t, err)
}

func TestAuthenticate_UnconfiguredService(t *testing.T) {
	f := newSessionFixture(t)

	_, err := f.manager.Authenticate(context.Background(), "zoom", "itg-1")
	assert.ErrorIs(t, err, domain.ErrServiceNotConfigured)
}

func TestAuthenticate_UnknownService(t *testing.T) {
	f := newSessionFixture(t)

	_, err := f.manager.Authenticate(context.Background(), "nonexistent", "itg-1")
	assert.ErrorIs(t, err, domain.ErrUnknownService)
}

func TestAuthenticate_RequiresIntegrationID(t *testing.T) {
	f := newSessionFixture(t)

	_, err := f.manager.Authenticate(context.Background(), "spotify", "")
	assert.Error(t, err)
}

func TestAuthenticate_SetsAuthorizingState(t *testing.T) {
	f := newSessionFixture(t)

	_, err := f.manager.Authenticate(context.Background(), "spotify", "itg-1")
	require.NoError(t, err)

	assert.Equal(t, domain.StateAuthorizing, f.manager.State(context.Background(), "spotify", "itg-1"))
}

func TestAuthenticate_AbandonedFlowFallsBackAfterTTL(t *testing.T) {
	f := newSessionFixture(t)

	_, err := f.manager.Authenticate(context.Background(), "spotify", "itg-1")
	require.NoError(t, err)

	f.advance(domain.DefaultPendingTTL + time.Minute)
	// The prune runs on the next authorization activity.
	_, err = f.manager.Authenticate(context.Background(), "github", "itg-2")
	require.NoError(t, err)

	assert.Equal(t, domain.StateUnauthenticated, f.manager.State(context.Background(), "spotify", "itg-1"))
}

// --- HandleCallback ---

func TestHandleCallback_ExchangesAndStores(t *testing.T) {
	f := newSessionFixture(t)
	f.exchanger.exchangeGrant = f.grant("at-xyz", time.Hour)

	req, err := f.manager.Authenticate(context.Background(), "spotify", "itg-1")
	require.NoError(t, err)

	require.NoError(t, f.manager.HandleCallback(context.Background(), "code-42", req.State))

	assert.Equal(t, "code-42", f.exchanger.lastCode)
	assert.Equal(t, "sonara://oauth/callback/spotify", f.exchanger.lastRedirect)
	assert.NotEmpty(t, f.exchanger.lastVerifier, "PKCE verifier travels to the exchange")

	record := f.store.record(t, domain.CredentialKey("spotify", "itg-1"))
	assert.Equal(t, "at-xyz", record.AccessToken)
	assert.Equal(t, "rt-at-xyz", record.RefreshToken)
	assert.Equal(t, "spotify", record.Service)
	assert.Equal(t, "itg-1", record.IntegrationID)

	assert.Equal(t, domain.StateAuthenticated, f.manager.State(context.Background(), "spotify", "itg-1"))
}

func TestHandleCallback_NotifiesBackend(t *testing.T) {
	f := newSessionFixture(t)
	grant := f.grant("at-1", time.Hour)
	grant.Extra = map[string]any{"team_id": "T123"}
	f.exchanger.exchangeGrant = grant

	req, err := f.manager.Authenticate(context.Background(), "spotify", "itg-1")
	require.NoError(t, err)
	require.NoError(t, f.manager.HandleCallback(context.Background(), "code-1", req.State))
	f.manager.Close()

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	assert.Equal(t, []string{domain.CredentialKey("spotify", "itg-1")}, f.notifier.completes)
	assert.Equal(t, "T123", f.notifier.lastParams["team_id"])
}

func TestHandleCallback_RejectsForgedState(t *testing.T) {
	f := newSessionFixture(t)

	// A state we never issued: well-formed but with an unknown nonce.
	forged, err := EncodeState(domain.PendingAuthState{
		IntegrationID: "itg-1",
		Service:       "spotify",
		Nonce:         "forged-nonce",
		CreatedAt:     f.clock(),
	})
	require.NoError(t, err)

	err = f.manager.HandleCallback(context.Background(), "code-1", forged)
	var cbErr *domain.CallbackError
	require.ErrorAs(t, err, &cbErr)
	assert.Contains(t, cbErr.Reason, "unknown or expired")
	assert.Zero(t, f.exchanger.exchanges, "no exchange on forged state")
}

func TestHandleCallback_RejectsGarbageState(t *testing.T) {
	f := newSessionFixture(t)

	for _, state := range []string{"", "garbage", string([]byte{0x00, 0x01})} {
		err := f.manager.HandleCallback(context.Background(), "code-1", state)
		var cbErr *domain.CallbackError
		assert.ErrorAs(t, err, &cbErr, "state %q", state)
	}
}

func TestHandleCallback_RejectsMissingCode(t *testing.T) {
	f := newSessionFixture(t)
	req, err := f.manager.Authenticate(context.Background(), "spotify", "itg-1")
	require.NoError(t, err)

	err = f.manager.HandleCallback(context.Background(), "", req.State)
	var cbErr *domain.CallbackError
	require.ErrorAs(t, err, &cbErr)
	assert.Contains(t, cbErr.Reason, "missing authorization code")
}

func TestHandleCallback_ExpiredState(t *testing.T) {
	f := newSessionFixture(t)
	req, err := f.manager.Authenticate(context.Background(), "spotify", "itg-1")
	require.NoError(t, err)

	f.advance(domain.DefaultPendingTTL + time.Minute)

	err = f.manager.HandleCallback(context.Background(), "code-1", req.State)
	var cbErr *domain.CallbackError
	require.ErrorAs(t, err, &cbErr)
	assert.Contains(t, cbErr.Reason, "unknown or expired")
}

func TestHandleCallback_SecondDeliveryIsStateConsumed(t *testing.T) {
	f := newSessionFixture(t)
	f.exchanger.exchangeGrant = f.grant("at-1", time.Hour)
	req, err := f.manager.Authenticate(context.Background(), "spotify", "itg-1")
	require.NoError(t, err)

	require.NoError(t, f.manager.HandleCallback(context.Background(), "code-1", req.State))
	err = f.manager.HandleCallback(context.Background(), "code-1", req.State)

	assert.ErrorIs(t, err, domain.ErrStateConsumed)
	assert.Equal(t, 1, f.exchanger.exchanges, "the code is exchanged exactly once")
}

func TestHandleCallback_ExchangeFailureRevertsState(t *testing.T) {
	f := newSessionFixture(t)
	f.exchanger.exchangeErr = &domain.TokenExchangeError{Status: 400, Code: "invalid_grant"}
	req, err := f.manager.Authenticate(context.Background(), "spotify", "itg-1")
	require.NoError(t, err)

	err = f.manager.HandleCallback(context.Background(), "code-1", req.State)
	require.Error(t, err)
	assert.Equal(t, domain.StateUnauthenticated, f.manager.State(context.Background(), "spotify", "itg-1"))
	assert.False(t, f.store.has(domain.CredentialKey("spotify", "itg-1")))
}

func TestHandleCallback_StorageFailureSurfacesAsErrStorage(t *testing.T) {
	f := newSessionFixture(t)
	f.exchanger.exchangeGrant = f.grant("at-1", time.Hour)
	f.store.putErr = errors.New("disk full")
	req, err := f.manager.Authenticate(context.Background(), "spotify", "itg-1")
	require.NoError(t, err)

	err = f.manager.HandleCallback(context.Background(), "code-1", req.State)
	assert.ErrorIs(t, err, domain.ErrStorage)
}

// --- GetValidAccessToken ---

func TestGetValidAccessToken_FreshTokenReturnedAsIs(t *testing.T) {
	f := newSessionFixture(t)
	key := f.connect(t, "spotify", "itg-1")

	token, err := f.manager.GetValidAccessToken(context.Background(), "spotify", "itg-1")
	require.NoError(t, err)
	assert.Equal(t, "at-1", token)
	assert.Zero(t, f.exchanger.refreshCount())
	_ = key
}

func TestGetValidAccessToken_NotConnected(t *testing.T) {
	f := newSessionFixture(t)

	_, err := f.manager.GetValidAccessToken(context.Background(), "spotify", "itg-1")
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestGetValidAccessToken_StoreFailureFailsSafe(t *testing.T) {
	f := newSessionFixture(t)
	f.connect(t, "spotify", "itg-1")
	f.store.getErr = errors.New("io error")

	_, err := f.manager.GetValidAccessToken(context.Background(), "spotify", "itg-1")
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestGetValidAccessToken_RefreshesInsideBuffer(t *testing.T) {
	f := newSessionFixture(t)
	f.connect(t, "spotify", "itg-1")

	// 56 minutes into a 60-minute token: inside the 5-minute buffer.
	f.advance(56 * time.Minute)
	f.exchanger.refreshGrant = f.grant("at-2", time.Hour)

	token, err := f.manager.GetValidAccessToken(context.Background(), "spotify", "itg-1")
	require.NoError(t, err)
	assert.Equal(t, "at-2", token)
	assert.Equal(t, 1, f.exchanger.refreshCount())

	record := f.store.record(t, domain.CredentialKey("spotify", "itg-1"))
	assert.Equal(t, "at-2", record.AccessToken)
}

func TestGetValidAccessToken_RefreshKeepsOldRefreshTokenWhenNotRotated(t *testing.T) {
	f := newSessionFixture(t)
	f.connect(t, "spotify", "itg-1")

	f.advance(56 * time.Minute)
	grant := f.grant("at-2", time.Hour)
	grant.RefreshToken = "" // provider did not rotate
	f.exchanger.refreshGrant = grant

	_, err := f.manager.GetValidAccessToken(context.Background(), "spotify", "itg-1")
	require.NoError(t, err)

	record := f.store.record(t, domain.CredentialKey("spotify", "itg-1"))
	assert.Equal(t, "rt-at-1", record.RefreshToken, "previous refresh token carried forward")
}

func TestGetValidAccessToken_RevokedGrantDeletesRecord(t *testing.T) {
	f := newSessionFixture(t)
	key := f.connect(t, "spotify", "itg-1")

	f.advance(56 * time.Minute)
	f.exchanger.refreshErr = &domain.TokenExchangeError{Status: 400, Code: "invalid_grant"}

	_, err := f.manager.GetValidAccessToken(context.Background(), "spotify", "itg-1")
	assert.ErrorIs(t, err, domain.ErrReauthRequired)
	assert.False(t, f.store.has(key), "dead grant must not linger in storage")
}

func TestGetValidAccessToken_TransientFailureReturnsStillValidToken(t *testing.T) {
	f := newSessionFixture(t)
	f.connect(t, "spotify", "itg-1")

	// Inside the buffer but not yet expired: a failed refresh degrades to
	// the current token instead of an error.
	f.advance(56 * time.Minute)
	f.exchanger.refreshErr = &domain.TransientError{Op: "refresh", Err: errors.New("timeout")}

	token, err := f.manager.GetValidAccessToken(context.Background(), "spotify", "itg-1")
	require.NoError(t, err)
	assert.Equal(t, "at-1", token)
}

func TestGetValidAccessToken_TransientFailureAfterExpiryErrors(t *testing.T) {
	f := newSessionFixture(t)
	f.connect(t, "spotify", "itg-1")

	f.advance(2 * time.Hour)
	f.exchanger.refreshErr = &domain.TransientError{Op: "refresh", Err: errors.New("timeout")}

	_, err := f.manager.GetValidAccessToken(context.Background(), "spotify", "itg-1")
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	// The record survives: the grant may still be good once the network is.
	assert.True(t, f.store.has(domain.CredentialKey("spotify", "itg-1")))
}

func TestGetValidAccessToken_ExpiredWithoutRefreshToken(t *testing.T) {
	f := newSessionFixture(t)
	f.exchanger.exchangeGrant = &domain.TokenGrant{
		AccessToken: "at-short",
		TokenType:   "Bearer",
		Expiry:      f.clock().Add(time.Hour),
	}
	req, err := f.manager.Authenticate(context.Background(), "spotify", "itg-1")
	require.NoError(t, err)
	require.NoError(t, f.manager.HandleCallback(context.Background(), "code-1", req.State))

	f.advance(2 * time.Hour)

	_, err = f.manager.GetValidAccessToken(context.Background(), "spotify", "itg-1")
	assert.ErrorIs(t, err, domain.ErrReauthRequired)
	assert.False(t, f.store.has(domain.CredentialKey("spotify", "itg-1")))
}

func TestGetValidAccessToken_ExpiringWithoutRefreshTokenStillServed(t *testing.T) {
	f := newSessionFixture(t)
	f.exchanger.exchangeGrant = &domain.TokenGrant{
		AccessToken: "at-short",
		TokenType:   "Bearer",
		Expiry:      f.clock().Add(time.Hour),
	}
	req, err := f.manager.Authenticate(context.Background(), "spotify", "itg-1")
	require.NoError(t, err)
	require.NoError(t, f.manager.HandleCallback(context.Background(), "code-1", req.State))

	// Inside the buffer, still valid, nothing to refresh with.
	f.advance(57 * time.Minute)

	token, err := f.manager.GetValidAccessToken(context.Background(), "spotify", "itg-1")
	require.NoError(t, err)
	assert.Equal(t, "at-short", token)
}

func TestGetValidAccessToken_ConcurrentCallersSingleRefresh(t *testing.T) {
	f := newSessionFixture(t)
	f.connect(t, "spotify", "itg-1")

	f.advance(56 * time.Minute)
	f.exchanger.refreshGrant = f.grant("at-2", time.Hour)
	f.exchanger.refreshDelay = 50 * time.Millisecond

	const callers = 16
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = f.manager.GetValidAccessToken(context.Background(), "spotify", "itg-1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "at-2", tokens[i])
	}
	assert.Equal(t, 1, f.exchanger.refreshCount(), "refresh must be single-flight per key")
}

func TestGetValidAccessToken_IndependentKeysDoNotSerialize(t *testing.T) {
	f := newSessionFixture(t)
	f.connect(t, "spotify", "itg-1")
	f.exchanger.exchangeGrant = f.grant("at-1", time.Hour)
	req, err := f.manager.Authenticate(context.Background(), "github", "itg-2")
	require.NoError(t, err)
	require.NoError(t, f.manager.HandleCallback(context.Background(), "code-2", req.State))

	var wg sync.WaitGroup
	for _, pair := range [][2]string{{"spotify", "itg-1"}, {"github", "itg-2"}} {
		wg.Add(1)
		go func(service, integrationID string) {
			defer wg.Done()
			_, err := f.manager.GetValidAccessToken(context.Background(), service, integrationID)
			assert.NoError(t, err)
		}(pair[0], pair[1])
	}
	wg.Wait()
}

// --- Disconnect ---

func TestDisconnect_RevokesDeletesNotifies(t *testing.T) {
	f := newSessionFixture(t)
	key := f.connect(t, "spotify", "itg-1")

	require.NoError(t, f.manager.Disconnect(context.Background(), "spotify", "itg-1"))
	f.manager.Close()

	assert.False(t, f.store.has(key))
	assert.Equal(t, 1, f.exchanger.revokes)
	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	assert.Equal(t, []string{key}, f.notifier.disconnects)
	assert.Equal(t, domain.StateDisconnected, f.manager.State(context.Background(), "spotify", "itg-1"))
}

func TestDisconnect_Idempotent(t *testing.T) {
	f := newSessionFixture(t)
	f.connect(t, "spotify", "itg-1")

	require.NoError(t, f.manager.Disconnect(context.Background(), "spotify", "itg-1"))
	require.NoError(t, f.manager.Disconnect(context.Background(), "spotify", "itg-1"))

	assert.Equal(t, 1, f.exchanger.revokes, "nothing left to revoke the second time")
}

func TestDisconnect_NeverConnected(t *testing.T) {
	f := newSessionFixture(t)

	err := f.manager.Disconnect(context.Background(), "spotify", "itg-1")
	assert.NoError(t, err)
	assert.Equal(t, domain.StateDisconnected, f.manager.State(context.Background(), "spotify", "itg-1"))
}

func TestDisconnect_RevokeFailureStillDeletes(t *testing.T) {
	f := newSessionFixture(t)
	key := f.connect(t, "spotify", "itg-1")
	f.exchanger.revokeErr = errors.New("provider down")

	require.NoError(t, f.manager.Disconnect(context.Background(), "spotify", "itg-1"))
	assert.False(t, f.store.has(key))
}

func TestDisconnect_DeleteFailure(t *testing.T) {
	f := newSessionFixture(t)
	f.connect(t, "spotify", "itg-1")
	f.store.delErr = errors.New("io error")

	err := f.manager.Disconnect(context.Background(), "spotify", "itg-1")
	assert.ErrorIs(t, err, domain.ErrStorage)
}

// --- State ---

func TestState_DerivedFromRecord(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	assert.Equal(t, domain.StateUnauthenticated, f.manager.State(ctx, "spotify", "itg-1"))

	f.connect(t, "spotify", "itg-1")
	assert.Equal(t, domain.StateAuthenticated, f.manager.State(ctx, "spotify", "itg-1"))

	f.advance(56 * time.Minute)
	assert.Equal(t, domain.StateExpiring, f.manager.State(ctx, "spotify", "itg-1"))
}

func TestState_ReconnectAfterDisconnect(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.connect(t, "spotify", "itg-1")
	require.NoError(t, f.manager.Disconnect(ctx, "spotify", "itg-1"))

	// A fresh flow from the disconnected state works and lands back in
	// authenticated.
	f.exchanger.exchangeGrant = f.grant("at-9", time.Hour)
	req, err := f.manager.Authenticate(ctx, "spotify", "itg-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAuthorizing, f.manager.State(ctx, "spotify", "itg-1"))
	require.NoError(t, f.manager.HandleCallback(ctx, "code-9", req.State))
	assert.Equal(t, domain.StateAuthenticated, f.manager.State(ctx, "spotify", "itg-1"))
}

// A second authorization for the same pair while one is pending: both states
// are live until consumed or expired, so the user finishing either one wins.
func TestAuthenticate_TwoPendingFlowsForSamePair(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.exchanger.exchangeGrant = f.grant("at-1", time.Hour)

	first, err := f.manager.Authenticate(ctx, "spotify", "itg-1")
	require.NoError(t, err)
	second, err := f.manager.Authenticate(ctx, "spotify", "itg-1")
	require.NoError(t, err)
	require.NotEqual(t, first.State, second.State)

	require.NoError(t, f.manager.HandleCallback(ctx, "code-a", first.State))
	require.NoError(t, f.manager.HandleCallback(ctx, "code-b", second.State))
	assert.Equal(t, 2, f.exchanger.exchanges)
}

func TestRecordFromGrant_MetadataMergedAcrossRefresh(t *testing.T) {
	f := newSessionFixture(t)
	grant := f.grant("at-1", time.Hour)
	grant.Extra = map[string]any{"team_id": "T123", "bot_id": "B1"}
	f.exchanger.exchangeGrant = grant

	req, err := f.manager.Authenticate(context.Background(), "spotify", "itg-1")
	require.NoError(t, err)
	require.NoError(t, f.manager.HandleCallback(context.Background(), "code-1", req.State))

	f.advance(56 * time.Minute)
	refreshed := f.grant("at-2", time.Hour)
	refreshed.Extra = map[string]any{"bot_id": "B2"}
	f.exchanger.refreshGrant = refreshed

	_, err = f.manager.GetValidAccessToken(context.Background(), "spotify", "itg-1")
	require.NoError(t, err)

	record := f.store.record(t, domain.CredentialKey("spotify", "itg-1"))
	assert.Equal(t, "T123", record.Metadata["team_id"], "prior metadata carried forward")
	assert.Equal(t, "B2", record.Metadata["bot_id"], "fresh fields win")
}

func TestSessionManager_StressManyPairs(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test")
	}
	f := newSessionFixture(t)
	ctx := context.Background()
	f.exchanger.exchangeGrant = f.grant("at-1", time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			integrationID := fmt.Sprintf("itg-%d", i)
			req, err := f.manager.Authenticate(ctx, "spotify", integrationID)
			if !assert.NoError(t, err) {
				return
			}
			if !assert.NoError(t, f.manager.HandleCallback(ctx, "code", req.State)) {
				return
			}
			_, err = f.manager.GetValidAccessToken(ctx, "spotify", integrationID)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		key := domain.CredentialKey("spotify", fmt.Sprintf("itg-%d", i))
		assert.True(t, f.store.has(key), "record for %s", key)
	}
}
