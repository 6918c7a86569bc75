package exchange

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// Token endpoints are low-volume; the limiter exists to keep a refresh storm
// (many integrations expiring together) from hammering one provider.
const (
	requestsPerSecond = 5.0
	burstSize         = 10
)

// hostLimiters rate-limits token endpoint calls per provider host.
type hostLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newHostLimiters() *hostLimiters {
	return &hostLimiters{
		limiters: make(map[string]*rate.Limiter),
	}
}

// wait blocks until a request to the endpoint's host is within the rate
// limit, or the context is done.
func (h *hostLimiters) wait(ctx context.Context, endpoint string) error {
	host := endpoint
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		host = u.Host
	}

	h.mu.Lock()
	limiter, ok := h.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burstSize)
		h.limiters[host] = limiter
	}
	h.mu.Unlock()

	return limiter.Wait(ctx)
}
