package driving

import "github.com/sonara-labs/sonara-link/internal/core/domain"

// ServiceRegistry is the static lookup of supported OAuth services. Pure
// lookup: no side effects, no network.
type ServiceRegistry interface {
	// Get returns the configuration for a service, or
	// domain.ErrUnknownService when none is registered.
	Get(service string) (domain.ServiceConfig, error)

	// ResolveRedirectURI returns the redirect URI to register in an
	// authorization request for the given service and platform.
	ResolveRedirectURI(service string, platform domain.Platform) (string, error)

	// Services returns the canonical names of all registered services,
	// sorted.
	Services() []string
}
