// Package notify reports auth completion and disconnection to the Sonara
// backend integration API. Calls are best-effort: the session manager logs
// failures and never unwinds local state because one of these POSTs failed.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sonara-labs/sonara-link/internal/core/ports/driven"
)

// Ensure Client implements the interface.
var _ driven.CompletionNotifier = (*Client)(nil)

// Client is the HTTP completion notifier.
type Client struct {
	baseURL    string
	deviceKey  string
	httpClient *http.Client
}

// NewClient creates a notifier for the backend at baseURL. deviceKey is the
// bearer credential identifying this device to the backend; empty sends
// unauthenticated requests (useful against local backends).
func NewClient(baseURL, deviceKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		deviceKey:  deviceKey,
		httpClient: httpClient,
	}
}

// NotifyComplete reports a finished authorization.
func (c *Client) NotifyComplete(ctx context.Context, integrationID, service string, params map[string]any) error {
	payload := map[string]any{
		"service":     service,
		"auth_params": params,
	}
	return c.post(ctx, fmt.Sprintf("/v1/integrations/%s/oauth/complete", url.PathEscape(integrationID)), payload)
}

// NotifyDisconnect reports that an integration was disconnected.
func (c *Client) NotifyDisconnect(ctx context.Context, integrationID, service string) error {
	payload := map[string]any{
		"service": service,
	}
	return c.post(ctx, fmt.Sprintf("/v1/integrations/%s/oauth/disconnect", url.PathEscape(integrationID)), payload)
}

func (c *Client) post(ctx context.Context, path string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.deviceKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.deviceKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify backend: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}
