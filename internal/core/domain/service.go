package domain

// Platform identifies where the application is running. The redirect URI
// registered with a provider differs per platform (custom scheme on mobile,
// loopback HTTPS elsewhere).
type Platform string

const (
	// PlatformIOS uses the custom sonara:// scheme.
	PlatformIOS Platform = "ios"
	// PlatformAndroid uses the custom sonara:// scheme.
	PlatformAndroid Platform = "android"
	// PlatformDesktop uses a loopback HTTP redirect.
	PlatformDesktop Platform = "desktop"
	// PlatformWeb uses an HTTPS redirect on the application host.
	PlatformWeb Platform = "web"
)

// TokenAuthMethod defines how the client authenticates against a provider's
// token endpoint.
type TokenAuthMethod string

const (
	// TokenAuthBasic sends client id and secret as HTTP Basic credentials.
	TokenAuthBasic TokenAuthMethod = "basic"
	// TokenAuthBody sends client_secret in the form body.
	TokenAuthBody TokenAuthMethod = "body"
	// TokenAuthNone sends only the client_id (public PKCE clients).
	TokenAuthNone TokenAuthMethod = "none"
)

// ServiceConfig describes one OAuth provider. Configs are assembled once at
// startup by the service registry and treated as immutable afterwards.
type ServiceConfig struct {
	// Name is the canonical service identifier (e.g. "slack", "gmail").
	Name string
	// DisplayName is the human-readable service name for user-facing messages.
	DisplayName string
	// ClientID is the OAuth client ID from the provider's developer console.
	ClientID string
	// ClientSecret is the OAuth client secret. Empty for public PKCE clients.
	ClientSecret string
	// Scopes are the OAuth scopes to request.
	Scopes []string
	// AuthorizeEndpoint is the provider's authorization URL.
	AuthorizeEndpoint string
	// TokenEndpoint is the provider's token exchange URL.
	TokenEndpoint string
	// RevokeEndpoint is the provider's token revocation URL. Optional.
	RevokeEndpoint string
	// RedirectURIs maps platforms to registered redirect URIs. Platforms
	// without an entry fall back to the registry default for that platform.
	RedirectURIs map[Platform]string
	// UsesPKCE indicates whether the authorization request carries an S256
	// code challenge.
	UsesPKCE bool
	// TokenAuthMethod selects how client credentials are presented to the
	// token endpoint.
	TokenAuthMethod TokenAuthMethod
	// RefreshTokenRotates indicates the provider issues a new refresh token
	// on every refresh. Informational; the engine always adopts a rotated
	// token when one is returned.
	RefreshTokenRotates bool
	// ExtraAuthParams are fixed service-specific authorization parameters
	// (e.g. access_type=offline, prompt=consent).
	ExtraAuthParams map[string]string
}

// RedirectURI returns the redirect URI registered for the given platform, or
// empty when the service has no platform-specific override.
func (c ServiceConfig) RedirectURI(platform Platform) string {
	if c.RedirectURIs == nil {
		return ""
	}
	return c.RedirectURIs[platform]
}

// IsConfigured reports whether the service has the client credentials needed
// to start an authorization flow.
func (c ServiceConfig) IsConfigured() bool {
	if c.ClientID == "" {
		return false
	}
	if c.TokenAuthMethod == TokenAuthNone {
		return true
	}
	return c.ClientSecret != ""
}
