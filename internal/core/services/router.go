package services

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/sonara-labs/sonara-link/internal/core/domain"
	"github.com/sonara-labs/sonara-link/internal/core/ports/driving"
	"github.com/sonara-labs/sonara-link/internal/logger"
)

// Ensure CallbackRouter implements the interface.
var _ driving.CallbackRouter = (*CallbackRouter)(nil)

// CallbackScheme is the custom URL scheme the OS delivers redirects on.
const CallbackScheme = "sonara"

// CallbackRouter demultiplexes inbound redirect URLs to the session manager.
// It recognizes both redirect forms as equivalent in intent:
//
//	sonara://oauth/callback/<service>?code=...&state=...
//	https://<host>/oauth/<service>/callback?code=...&state=...
//
// Routing is idempotent: the pending state behind a callback is single-use,
// so delivering the same URL twice (cold-start check plus live listener) is
// a harmless no-op the second time.
type CallbackRouter struct {
	registry driving.ServiceRegistry
	sessions driving.SessionService
}

// NewCallbackRouter creates a router dispatching to the given session
// manager.
func NewCallbackRouter(registry driving.ServiceRegistry, sessions driving.SessionService) *CallbackRouter {
	return &CallbackRouter{
		registry: registry,
		sessions: sessions,
	}
}

// Route parses one redirect URL and dispatches it. Malformed input returns a
// *domain.CallbackError; it never panics, whatever the input.
func (r *CallbackRouter) Route(ctx context.Context, rawURL string) error {
	envelope, err := ParseCallbackURL(rawURL)
	if err != nil {
		return err
	}

	if envelope.HasError() {
		return &domain.CallbackError{
			Service: r.displayName(envelope.Service),
			Reason:  domain.ProviderErrorMessage(envelope.Error, envelope.ErrorDescription),
		}
	}

	if envelope.Code == "" || envelope.State == "" {
		return &domain.CallbackError{
			Service: r.displayName(envelope.Service),
			Reason:  "callback is missing code or state",
		}
	}

	// The state names the service; the path segment is advisory. Decode
	// without trusting either: mismatches and unknown services are routing
	// errors, not crashes.
	decoded, err := DecodeState(envelope.State)
	if err != nil {
		return &domain.CallbackError{
			Service: r.displayName(envelope.Service),
			Reason:  "invalid state parameter",
			Err:     err,
		}
	}
	if envelope.Service != "" && envelope.Service != decoded.Service {
		return &domain.CallbackError{
			Service: r.displayName(envelope.Service),
			Reason:  "callback path does not match its state",
		}
	}
	if _, err := r.registry.Get(decoded.Service); err != nil {
		return &domain.CallbackError{
			Service: decoded.Service,
			Reason:  "no such service is registered",
			Err:     err,
		}
	}

	err = r.sessions.HandleCallback(ctx, envelope.Code, envelope.State)
	if errors.Is(err, domain.ErrStateConsumed) {
		// Second delivery of a URL we already handled.
		logger.Debug("duplicate callback for %s ignored", decoded.Service)
		return nil
	}
	return err
}

// ParseCallbackURL classifies a URL as an OAuth callback and extracts its
// parameters. Parameters may arrive in the query or, for providers that
// redirect with a fragment, after "#".
func ParseCallbackURL(rawURL string) (*domain.CallbackEnvelope, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, &domain.CallbackError{Reason: "empty callback URL"}
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, &domain.CallbackError{Reason: "unparseable callback URL", Err: err}
	}

	service, ok := callbackService(parsed)
	if !ok {
		return nil, &domain.CallbackError{Reason: "not an OAuth callback URL"}
	}

	params := parsed.Query()
	if len(params) == 0 && parsed.Fragment != "" {
		if fragParams, err := url.ParseQuery(parsed.Fragment); err == nil {
			params = fragParams
		}
	}

	return &domain.CallbackEnvelope{
		Service:          service,
		Code:             params.Get("code"),
		State:            params.Get("state"),
		Error:            params.Get("error"),
		ErrorDescription: params.Get("error_description"),
	}, nil
}

// callbackService matches the two accepted callback shapes and returns the
// service path segment (possibly empty when the scheme form omits it).
func callbackService(u *url.URL) (string, bool) {
	segments := func(p string) []string {
		var out []string
		for _, s := range strings.Split(p, "/") {
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	}

	switch u.Scheme {
	case CallbackScheme:
		// sonara://oauth/callback[/<service>] — "oauth" is the host.
		if u.Host != "oauth" {
			return "", false
		}
		parts := segments(u.Path)
		if len(parts) == 0 || parts[0] != "callback" {
			return "", false
		}
		if len(parts) >= 2 {
			return parts[1], true
		}
		return "", true
	case "http", "https":
		// https://<host>/oauth/<service>/callback
		parts := segments(u.Path)
		if len(parts) >= 3 && parts[0] == "oauth" && parts[2] == "callback" {
			return parts[1], true
		}
		return "", false
	default:
		return "", false
	}
}

func (r *CallbackRouter) displayName(service string) string {
	if service == "" {
		return ""
	}
	if cfg, err := r.registry.Get(service); err == nil {
		return cfg.Name
	}
	return service
}
