package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sonara-labs/sonara-link/internal/core/domain"
	"github.com/sonara-labs/sonara-link/internal/core/ports/driven"
	"github.com/sonara-labs/sonara-link/internal/core/ports/driving"
	"github.com/sonara-labs/sonara-link/internal/logger"
)

// Ensure SessionManager implements the interface.
var _ driving.SessionService = (*SessionManager)(nil)

// DefaultRefreshBuffer is how far before expiry a token counts as expiring.
const DefaultRefreshBuffer = 5 * time.Minute

// notifyTimeout bounds the best-effort backend notification calls.
const notifyTimeout = 10 * time.Second

// SessionOptions tunes a SessionManager. Zero values pick the defaults.
type SessionOptions struct {
	// Platform selects which redirect URI variant authorization requests
	// use. Defaults to desktop.
	Platform domain.Platform
	// RefreshBuffer is the refresh-before-expiry window.
	RefreshBuffer time.Duration
	// PendingTTL is how long a pending authorization stays valid.
	PendingTTL time.Duration
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// pendingAuth is one live (or consumed) authorization attempt. The PKCE
// verifier lives only here, in memory: it has no value after the exchange
// and is never persisted.
type pendingAuth struct {
	state    domain.PendingAuthState
	verifier string
	consumed bool
}

// session tracks the in-flight phase of one (service, integration) pair and
// serializes its operations.
type session struct {
	// op serializes exchanges, refreshes, and disconnects for the key.
	op sync.Mutex
	// phase is the transient in-flight state (authorizing, refreshing,
	// disconnected). Empty means the state derives from the stored record.
	phase domain.SessionState
}

// SessionManager orchestrates authenticate, callback, refresh, and
// disconnect for every (service, integration) pair. Operations on the same
// pair are serialized through a per-key lock; a refresh in flight for a key
// is never duplicated by concurrent callers.
type SessionManager struct {
	registry  driving.ServiceRegistry
	store     driven.CredentialStore
	exchanger driven.TokenExchanger
	notifier  driven.CompletionNotifier
	browser   driven.BrowserOpener

	platform      domain.Platform
	refreshBuffer time.Duration
	pendingTTL    time.Duration
	now           func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	pending  map[string]*pendingAuth

	// notifications tracks in-flight backend notifications so Close can
	// drain them.
	notifications sync.WaitGroup
}

// NewSessionManager creates the session manager. notifier and browser may be
// nil; the corresponding side effects are then skipped.
func NewSessionManager(
	registry driving.ServiceRegistry,
	store driven.CredentialStore,
	exchanger driven.TokenExchanger,
	notifier driven.CompletionNotifier,
	browser driven.BrowserOpener,
	opts SessionOptions,
) *SessionManager {
	if opts.Platform == "" {
		opts.Platform = domain.PlatformDesktop
	}
	if opts.RefreshBuffer <= 0 {
		opts.RefreshBuffer = DefaultRefreshBuffer
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = domain.DefaultPendingTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &SessionManager{
		registry:      registry,
		store:         store,
		exchanger:     exchanger,
		notifier:      notifier,
		browser:       browser,
		platform:      opts.Platform,
		refreshBuffer: opts.RefreshBuffer,
		pendingTTL:    opts.PendingTTL,
		now:           opts.Clock,
		sessions:      make(map[string]*session),
		pending:       make(map[string]*pendingAuth),
	}
}

// Authenticate builds the authorization URL for an integration, records the
// pending state, and hands the URL to the browser. The browser hand-off is
// fire-and-forget; the user completes it at their own pace.
func (m *SessionManager) Authenticate(ctx context.Context, service, integrationID string) (*driving.AuthRequest, error) {
	if integrationID == "" {
		return nil, fmt.Errorf("integration id is required")
	}
	cfg, err := m.registry.Get(service)
	if err != nil {
		return nil, err
	}
	if !cfg.IsConfigured() {
		return nil, fmt.Errorf("%w: %s", domain.ErrServiceNotConfigured, service)
	}
	redirectURI, err := m.registry.ResolveRedirectURI(service, m.platform)
	if err != nil {
		return nil, err
	}

	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	pending := domain.PendingAuthState{
		IntegrationID: integrationID,
		Service:       service,
		Nonce:         nonce,
		CreatedAt:     m.now(),
	}
	state, err := EncodeState(pending)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("client_id", cfg.ClientID)
	params.Set("redirect_uri", redirectURI)
	params.Set("response_type", "code")
	if len(cfg.Scopes) > 0 {
		params.Set("scope", strings.Join(cfg.Scopes, " "))
	}
	params.Set("state", state)
	for key, value := range cfg.ExtraAuthParams {
		params.Set(key, value)
	}

	verifier := ""
	if cfg.UsesPKCE {
		verifier, err = generateCodeVerifier()
		if err != nil {
			return nil, fmt.Errorf("generate code verifier: %w", err)
		}
		params.Set("code_challenge", generateCodeChallenge(verifier))
		params.Set("code_challenge_method", "S256")
	}

	m.mu.Lock()
	m.pruneExpiredLocked()
	m.pending[nonce] = &pendingAuth{state: pending, verifier: verifier}
	m.sessionLocked(domain.CredentialKey(service, integrationID)).phase = domain.StateAuthorizing
	m.mu.Unlock()

	authorizeURL := cfg.AuthorizeEndpoint + "?" + params.Encode()
	if m.browser != nil {
		if err := m.browser.Open(authorizeURL); err != nil {
			logger.Warn("open browser for %s: %v", service, err)
		}
	}

	logger.Info("authorization started for %s (%s)", service, integrationID)
	return &driving.AuthRequest{AuthorizeURL: authorizeURL, State: state}, nil
}

// HandleCallback validates and consumes a callback delivered by the OS or
// the local listener, exchanges the code, and persists the token record.
//
//nolint:gocognit // The callback validation ladder reads best in one place.
func (m *SessionManager) HandleCallback(ctx context.Context, code, state string) error {
	decoded, err := DecodeState(state)
	if err != nil {
		return &domain.CallbackError{Reason: "invalid state parameter", Err: err}
	}
	if code == "" {
		return &domain.CallbackError{Service: decoded.Service, Reason: "missing authorization code"}
	}

	m.mu.Lock()
	m.pruneExpiredLocked()
	p, ok := m.pending[decoded.Nonce]
	switch {
	case !ok:
		m.mu.Unlock()
		return &domain.CallbackError{Service: decoded.Service, Reason: "unknown or expired authorization state"}
	case p.consumed:
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrStateConsumed, decoded.Service)
	case p.state.Service != decoded.Service || p.state.IntegrationID != decoded.IntegrationID:
		m.mu.Unlock()
		return &domain.CallbackError{Service: decoded.Service, Reason: "state does not match the pending authorization"}
	}
	// Single use: consume now, keep the tombstone so a replayed callback is
	// recognized instead of reported as tampering.
	p.consumed = true
	verifier := p.verifier
	key := domain.CredentialKey(decoded.Service, decoded.IntegrationID)
	s := m.sessionLocked(key)
	m.mu.Unlock()

	s.op.Lock()
	defer s.op.Unlock()

	cfg, err := m.registry.Get(decoded.Service)
	if err != nil {
		return err
	}
	redirectURI, err := m.registry.ResolveRedirectURI(decoded.Service, m.platform)
	if err != nil {
		return err
	}

	grant, err := m.exchanger.ExchangeCode(ctx, cfg, code, redirectURI, verifier)
	if err != nil {
		m.setPhase(s, domain.StateUnauthenticated)
		return fmt.Errorf("exchange authorization code for %s: %w", decoded.Service, err)
	}

	record := m.recordFromGrant(cfg, decoded.IntegrationID, grant, nil)
	if err := m.store.Put(ctx, record); err != nil {
		m.setPhase(s, domain.StateUnauthenticated)
		return fmt.Errorf("%w: persist %s token: %v", domain.ErrStorage, decoded.Service, err)
	}
	m.setPhase(s, "")

	logger.Info("authorization completed for %s (%s)", decoded.Service, decoded.IntegrationID)
	m.notifyComplete(decoded.IntegrationID, decoded.Service, record)
	return nil
}

// GetValidAccessToken is the read path for all API callers. It returns a
// token more than the refresh buffer away from expiry, performing at most
// one refresh exchange per key regardless of caller concurrency.
//
//nolint:gocognit,gocyclo // The refresh decision ladder is the state machine.
func (m *SessionManager) GetValidAccessToken(ctx context.Context, service, integrationID string) (string, error) {
	cfg, err := m.registry.Get(service)
	if err != nil {
		return "", err
	}
	key := domain.CredentialKey(service, integrationID)
	s := m.session(key)

	// Serializing here is what makes the refresh single-flight: concurrent
	// callers queue, and every caller after the first re-reads the freshly
	// stored record instead of triggering another exchange.
	s.op.Lock()
	defer s.op.Unlock()

	now := m.now()
	record, err := m.store.Get(ctx, key)
	if err != nil {
		// Fail safe: an unreadable store means "not authenticated", never a
		// guess based on stale memory.
		return "", fmt.Errorf("%w: %v", domain.ErrNotAuthenticated, err)
	}
	if record == nil {
		return "", fmt.Errorf("%w: %s (%s)", domain.ErrNotAuthenticated, service, integrationID)
	}

	if !record.ExpiresWithin(now, m.refreshBuffer) {
		return record.AccessToken, nil
	}

	if !record.HasRefreshToken() {
		if record.IsExpired(now) {
			if err := m.store.Delete(ctx, key); err != nil {
				logger.Warn("delete expired %s record: %v", service, err)
			}
			return "", fmt.Errorf("%w: %s token expired with no refresh token", domain.ErrReauthRequired, service)
		}
		// Still valid but inside the buffer and not refreshable; hand out
		// what we have.
		logger.Warn("%s token for %s expires soon and cannot be refreshed", service, integrationID)
		return record.AccessToken, nil
	}

	m.setPhase(s, domain.StateRefreshing)
	grant, err := m.exchanger.Refresh(ctx, cfg, record.RefreshToken)
	if err != nil {
		m.setPhase(s, "")
		var exchangeErr *domain.TokenExchangeError
		if errors.As(err, &exchangeErr) && exchangeErr.RequiresReauth() {
			if delErr := m.store.Delete(ctx, key); delErr != nil {
				logger.Warn("delete revoked %s record: %v", service, delErr)
			}
			return "", fmt.Errorf("%w: %s refresh rejected: %v", domain.ErrReauthRequired, service, err)
		}
		// Transient or provider-side failure: roll back to the pre-call
		// state, old record intact. If the old token still works, use it.
		if !record.IsExpired(now) {
			logger.Warn("refresh for %s failed, reusing current token: %v", service, err)
			return record.AccessToken, nil
		}
		return "", fmt.Errorf("refresh %s token: %w", service, err)
	}

	updated := m.recordFromGrant(cfg, integrationID, grant, record)
	if err := m.store.Put(ctx, updated); err != nil {
		m.setPhase(s, "")
		return "", fmt.Errorf("%w: persist refreshed %s token: %v", domain.ErrStorage, service, err)
	}
	m.setPhase(s, "")

	logger.Debug("refreshed %s token for %s", service, integrationID)
	return updated.AccessToken, nil
}

// Disconnect revokes the token (best-effort), deletes the stored record, and
// notifies the backend. Calling it again, or from a never-authenticated
// state, is a no-op that still ends in the disconnected state.
func (m *SessionManager) Disconnect(ctx context.Context, service, integrationID string) error {
	cfg, err := m.registry.Get(service)
	if err != nil {
		return err
	}
	key := domain.CredentialKey(service, integrationID)
	s := m.session(key)

	s.op.Lock()
	defer s.op.Unlock()

	record, err := m.store.Get(ctx, key)
	if err != nil {
		logger.Warn("read %s record during disconnect: %v", service, err)
	}
	if record != nil && cfg.RevokeEndpoint != "" {
		if err := m.exchanger.Revoke(ctx, cfg, record.AccessToken); err != nil {
			logger.Warn("revoke %s token: %v", service, err)
		}
	}
	if err := m.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("%w: delete %s record: %v", domain.ErrStorage, service, err)
	}
	m.setPhase(s, domain.StateDisconnected)

	logger.Info("disconnected %s (%s)", service, integrationID)
	m.notifyDisconnect(integrationID, service)
	return nil
}

// State reports the lifecycle state for a (service, integration) pair.
func (m *SessionManager) State(ctx context.Context, service, integrationID string) domain.SessionState {
	key := domain.CredentialKey(service, integrationID)

	m.mu.Lock()
	if s, ok := m.sessions[key]; ok && s.phase != "" {
		phase := s.phase
		m.mu.Unlock()
		return phase
	}
	m.mu.Unlock()

	record, err := m.store.Get(ctx, key)
	if err != nil || record == nil {
		return domain.StateUnauthenticated
	}
	if record.ExpiresWithin(m.now(), m.refreshBuffer) {
		return domain.StateExpiring
	}
	return domain.StateAuthenticated
}

// Close drains in-flight backend notifications.
func (m *SessionManager) Close() {
	m.notifications.Wait()
}

// session returns the per-key session, creating it on first use.
func (m *SessionManager) session(key string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionLocked(key)
}

func (m *SessionManager) sessionLocked(key string) *session {
	s, ok := m.sessions[key]
	if !ok {
		s = &session{}
		m.sessions[key] = s
	}
	return s
}

func (m *SessionManager) setPhase(s *session, phase domain.SessionState) {
	m.mu.Lock()
	s.phase = phase
	m.mu.Unlock()
}

// pruneExpiredLocked drops pending authorizations (and consumed tombstones)
// past their TTL. Caller holds m.mu.
func (m *SessionManager) pruneExpiredLocked() {
	now := m.now()
	for nonce, p := range m.pending {
		if !p.state.Expired(now, m.pendingTTL) {
			continue
		}
		delete(m.pending, nonce)
		// An abandoned authorization falls back out of the authorizing
		// phase once its pending state times out.
		key := domain.CredentialKey(p.state.Service, p.state.IntegrationID)
		if s, ok := m.sessions[key]; ok && s.phase == domain.StateAuthorizing {
			s.phase = ""
		}
	}
}

// recordFromGrant builds the token record to persist. prior carries forward
// the refresh token and metadata when the provider omits them on refresh.
func (m *SessionManager) recordFromGrant(
	cfg domain.ServiceConfig,
	integrationID string,
	grant *domain.TokenGrant,
	prior *domain.TokenRecord,
) domain.TokenRecord {
	now := m.now()
	record := domain.TokenRecord{
		Service:       cfg.Name,
		IntegrationID: integrationID,
		AccessToken:   grant.AccessToken,
		RefreshToken:  grant.RefreshToken,
		TokenType:     grant.TokenType,
		ExpiresAt:     grant.Expiry,
		Scope:         grant.Scope,
		StoredAt:      now,
	}
	if prior != nil {
		if record.RefreshToken == "" {
			record.RefreshToken = prior.RefreshToken
		}
		if record.Scope == "" {
			record.Scope = prior.Scope
		}
		if len(prior.Metadata) > 0 {
			record.Metadata = make(map[string]any, len(prior.Metadata)+len(grant.Extra))
			for k, v := range prior.Metadata {
				record.Metadata[k] = v
			}
		}
	}
	if len(grant.Extra) > 0 {
		if record.Metadata == nil {
			record.Metadata = make(map[string]any, len(grant.Extra))
		}
		for k, v := range grant.Extra {
			record.Metadata[k] = v
		}
	}
	return record
}

// notifyComplete reports a successful authorization on a side channel. Its
// failure is logged and never surfaces as an auth failure.
func (m *SessionManager) notifyComplete(integrationID, service string, record domain.TokenRecord) {
	if m.notifier == nil {
		return
	}
	params := map[string]any{"scope": record.Scope}
	for k, v := range record.Metadata {
		params[k] = v
	}
	m.notifications.Add(1)
	go func() {
		defer m.notifications.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := m.notifier.NotifyComplete(ctx, integrationID, service, params); err != nil {
			logger.Warn("notify completion for %s (%s): %v", service, integrationID, err)
		}
	}()
}

func (m *SessionManager) notifyDisconnect(integrationID, service string) {
	if m.notifier == nil {
		return
	}
	m.notifications.Add(1)
	go func() {
		defer m.notifications.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := m.notifier.NotifyDisconnect(ctx, integrationID, service); err != nil {
			logger.Warn("notify disconnect for %s (%s): %v", service, integrationID, err)
		}
	}()
}
