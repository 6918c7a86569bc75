// Package deeplink receives OAuth redirect callbacks. On desktop the
// providers redirect to a loopback HTTP listener; the listener hands the
// full callback URL to the router, which owns validation and completion.
package deeplink

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sonara-labs/sonara-link/internal/core/domain"
	"github.com/sonara-labs/sonara-link/internal/core/ports/driving"
	"github.com/sonara-labs/sonara-link/internal/logger"
)

// Listener is a local HTTP server accepting provider redirects on
// /oauth/{service}/callback and forwarding them to the callback router.
type Listener struct {
	mu       sync.Mutex
	addr     string
	router   driving.CallbackRouter
	server   *http.Server
	listener net.Listener
	results  chan error
}

// NewListener creates a listener bound to addr (host:port; port 0 picks a
// free port).
func NewListener(addr string, router driving.CallbackRouter) *Listener {
	return &Listener{
		addr:    addr,
		router:  router,
		results: make(chan error, 16),
	}
}

// Start binds the listener and begins serving. It returns once the socket
// is bound; serving continues in the background until Stop.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/", l.handleCallback)

	l.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.addr, err)
	}
	l.listener = ln
	l.addr = ln.Addr().String()

	go func() {
		if err := l.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Warn("callback listener stopped: %v", err)
		}
	}()

	logger.Info("callback listener on http://%s", l.addr)
	return nil
}

// Stop shuts the listener down, draining in-flight requests.
func (l *Listener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return l.server.Shutdown(ctx)
}

// Addr returns the bound address, useful when the configured port was 0.
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

// Results delivers the outcome of each handled callback: nil on success,
// the routing error otherwise. Consumers that only want to serve can
// ignore it; the channel drops when full.
func (l *Listener) Results() <-chan error {
	return l.results
}

func (l *Listener) handleCallback(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/callback") {
		http.NotFound(w, r)
		return
	}

	// Re-anchor the URL so callbackService sees the https form the
	// provider actually redirected to.
	raw := "https://" + r.Host + r.URL.String()
	err := l.router.Route(r.Context(), raw)

	select {
	case l.results <- err:
	default:
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err != nil {
		logger.Warn("callback rejected: %v", err)
		fmt.Fprint(w, resultHTML("Connection failed", userMessage(err)))
		return
	}
	fmt.Fprint(w, resultHTML("Connected", "You can close this window and return to Sonara."))
}

// userMessage picks the text shown on the result page. Callback errors
// carry a provider- or validation-specific reason; anything else gets a
// generic line so internals never reach the browser.
func userMessage(err error) string {
	var cbErr *domain.CallbackError
	if errors.As(err, &cbErr) {
		return html.EscapeString(cbErr.Reason)
	}
	return "Something went wrong completing the connection. Please try again."
}

func resultHTML(title, message string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <title>Sonara</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            height: 100vh;
            margin: 0;
            background: #0F1117;
        }
        .container {
            text-align: center;
            background: #1A1D26;
            padding: 48px 64px;
            border-radius: 16px;
            border: 1px solid #2A2E3A;
        }
        h1 {
            color: #E8EAF0;
            margin: 0 0 8px 0;
            font-size: 24px;
            font-weight: 600;
        }
        p {
            color: #8A8FA3;
            margin: 0;
            font-size: 16px;
        }
    </style>
</head>
<body>
    <div class="container">
        <h1>%s</h1>
        <p>%s</p>
    </div>
</body>
</html>`, title, message)
}
