// Package exchange implements the token exchange client: the HTTP POSTs
// against provider token and revocation endpoints, with normalized success
// and error shapes.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sonara-labs/sonara-link/internal/core/domain"
	"github.com/sonara-labs/sonara-link/internal/core/ports/driven"
	"github.com/sonara-labs/sonara-link/internal/logger"
)

// Ensure Client implements the interface.
var _ driven.TokenExchanger = (*Client)(nil)

// DefaultExpiresIn is the conservative fallback applied when a provider
// omits expires_in or sends something non-numeric. One hour matches the
// shortest common provider default.
const DefaultExpiresIn = time.Hour

// requestTimeout bounds each token endpoint call when the caller's context
// carries no earlier deadline.
const requestTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response is retained for error
// reporting.
const maxErrorBody = 4 << 10

// Client performs authorization-code and refresh-token exchanges. It holds
// no per-service state; every call is parameterized by the service config.
type Client struct {
	httpClient *http.Client
	limiters   *hostLimiters
	now        func() time.Time
}

// NewClient creates an exchange client. httpClient may be nil, in which case
// a client with a 30-second timeout is used.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{
		httpClient: httpClient,
		limiters:   newHostLimiters(),
		now:        time.Now,
	}
}

// tokenResponse is the provider's JSON token payload. Unknown fields are
// collected separately into the grant's Extra map.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    any    `json:"expires_in"`
}

// ExchangeCode swaps an authorization code for tokens. Codes are single-use;
// this call is never retried internally.
func (c *Client) ExchangeCode(
	ctx context.Context,
	cfg domain.ServiceConfig,
	code, redirectURI, verifier string,
) (*domain.TokenGrant, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	if verifier != "" {
		form.Set("code_verifier", verifier)
	}
	return c.post(ctx, cfg, "exchange code", form)
}

// Refresh obtains a new access token from a refresh token. A response that
// omits refresh_token is normal; the caller keeps the old one.
func (c *Client) Refresh(ctx context.Context, cfg domain.ServiceConfig, refreshToken string) (*domain.TokenGrant, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.post(ctx, cfg, "refresh token", form)
}

// Revoke invalidates a token at the provider. Services without a revocation
// endpoint make this a no-op.
func (c *Client) Revoke(ctx context.Context, cfg domain.ServiceConfig, token string) error {
	if cfg.RevokeEndpoint == "" {
		return nil
	}
	form := url.Values{}
	form.Set("token", token)

	req, err := c.newFormRequest(ctx, cfg, cfg.RevokeEndpoint, form)
	if err != nil {
		return err
	}
	if err := c.limiters.wait(ctx, cfg.RevokeEndpoint); err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransientError{Op: "revoke token", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return newExchangeError(resp.StatusCode, body)
	}
	return nil
}

// post performs one token endpoint request and normalizes the response.
func (c *Client) post(ctx context.Context, cfg domain.ServiceConfig, op string, form url.Values) (*domain.TokenGrant, error) {
	req, err := c.newFormRequest(ctx, cfg, cfg.TokenEndpoint, form)
	if err != nil {
		return nil, err
	}
	if err := c.limiters.wait(ctx, cfg.TokenEndpoint); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domain.TransientError{Op: op, Err: err}
	}
	// The expiry is anchored to the moment the response arrived so network
	// latency never inflates the token's apparent lifetime.
	received := c.now()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newExchangeError(resp.StatusCode, body)
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, newExchangeError(resp.StatusCode, body)
	}
	if parsed.AccessToken == "" {
		return nil, newExchangeError(resp.StatusCode, body)
	}

	grant := &domain.TokenGrant{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		TokenType:    parsed.TokenType,
		Scope:        parsed.Scope,
		Expiry:       received.Add(expiresIn(cfg.Name, parsed.ExpiresIn)),
		Extra:        extraFields(body),
	}
	return grant, nil
}

// newFormRequest builds the form POST with client authentication per the
// service's token auth method.
func (c *Client) newFormRequest(ctx context.Context, cfg domain.ServiceConfig, endpoint string, form url.Values) (*http.Request, error) {
	switch cfg.TokenAuthMethod {
	case domain.TokenAuthBody:
		form.Set("client_id", cfg.ClientID)
		form.Set("client_secret", cfg.ClientSecret)
	case domain.TokenAuthNone:
		form.Set("client_id", cfg.ClientID)
	case domain.TokenAuthBasic:
		// Credentials go in the Authorization header below.
	default:
		return nil, fmt.Errorf("unknown token auth method %q for %s", cfg.TokenAuthMethod, cfg.Name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if cfg.TokenAuthMethod == domain.TokenAuthBasic {
		req.SetBasicAuth(cfg.ClientID, cfg.ClientSecret)
	}
	return req, nil
}

// expiresIn interprets the provider's expires_in field, which arrives as a
// number from most providers and as a string from a few. Anything missing or
// unparseable falls back to the conservative default instead of producing an
// invalid instant.
func expiresIn(service string, value any) time.Duration {
	switch v := value.(type) {
	case float64:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	case string:
		var seconds float64
		if _, err := fmt.Sscanf(v, "%f", &seconds); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	case nil:
		// Provider omitted it.
	}
	logger.Debug("%s token response had no usable expires_in, assuming %s", service, DefaultExpiresIn)
	return DefaultExpiresIn
}

// knownTokenFields are the standard response fields already captured on the
// grant; everything else is service metadata.
var knownTokenFields = map[string]struct{}{
	"access_token":  {},
	"refresh_token": {},
	"token_type":    {},
	"scope":         {},
	"expires_in":    {},
	"id_token":      {},
}

// extraFields collects non-standard response fields (workspace id, team id,
// bot id) without interpreting them.
func extraFields(body []byte) map[string]any {
	var all map[string]any
	if err := json.Unmarshal(body, &all); err != nil {
		return nil
	}
	extra := make(map[string]any)
	for k, v := range all {
		if _, known := knownTokenFields[k]; !known {
			extra[k] = v
		}
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}

// newExchangeError builds the typed provider error, preferring the
// structured OAuth error body when it parses.
func newExchangeError(status int, body []byte) *domain.TokenExchangeError {
	var parsed struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return &domain.TokenExchangeError{
			Status:      status,
			Code:        parsed.Error,
			Description: parsed.Description,
		}
	}
	text := string(body)
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return &domain.TokenExchangeError{Status: status, Body: text}
}
