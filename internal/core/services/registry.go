package services

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/oauth2/endpoints"

	"github.com/sonara-labs/sonara-link/internal/core/domain"
	"github.com/sonara-labs/sonara-link/internal/core/ports/driving"
)

// Ensure ServiceRegistry implements the interface.
var _ driving.ServiceRegistry = (*ServiceRegistry)(nil)

// ServiceOverride carries per-service settings loaded from the config file:
// client credentials and optional scope/redirect overrides. Zero-value
// fields leave the static default untouched.
type ServiceOverride struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	RedirectURI  string
}

// ServiceRegistry is the static mapping from service name to OAuth endpoint
// configuration. Defaults are compiled in; client credentials and overrides
// are merged from the config store at startup and on config reload.
type ServiceRegistry struct {
	mu       sync.RWMutex
	platform domain.Platform
	configs  map[string]domain.ServiceConfig
}

// NewServiceRegistry builds the registry for the given platform.
func NewServiceRegistry(platform domain.Platform) *ServiceRegistry {
	configs := make(map[string]domain.ServiceConfig, len(defaultServices))
	for _, cfg := range defaultServices {
		configs[cfg.Name] = cfg
	}
	return &ServiceRegistry{
		platform: platform,
		configs:  configs,
	}
}

// Get returns the configuration for a service.
func (r *ServiceRegistry) Get(service string) (domain.ServiceConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.configs[service]
	if !ok {
		return domain.ServiceConfig{}, fmt.Errorf("%w: %s", domain.ErrUnknownService, service)
	}
	return cfg, nil
}

// ResolveRedirectURI returns the redirect URI for a service on a platform.
// Service-specific registrations win; otherwise the platform default
// pattern is filled in.
func (r *ServiceRegistry) ResolveRedirectURI(service string, platform domain.Platform) (string, error) {
	cfg, err := r.Get(service)
	if err != nil {
		return "", err
	}
	if uri := cfg.RedirectURI(platform); uri != "" {
		return uri, nil
	}
	switch platform {
	case domain.PlatformIOS, domain.PlatformAndroid, domain.PlatformDesktop:
		return "sonara://oauth/callback/" + service, nil
	case domain.PlatformWeb:
		return "https://link.sonara.app/oauth/" + service + "/callback", nil
	default:
		return "", fmt.Errorf("unknown platform: %s", platform)
	}
}

// Services returns the canonical names of all registered services, sorted.
func (r *ServiceRegistry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Platform returns the platform this registry resolves redirects for.
func (r *ServiceRegistry) Platform() domain.Platform {
	return r.platform
}

// ApplyOverrides merges config-file settings into the registry. Called at
// startup and again when the config watcher sees a change; configs handed
// out before the call are unaffected (ServiceConfig is a value type).
func (r *ServiceRegistry) ApplyOverrides(overrides map[string]ServiceOverride) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var unknown []string
	for name, ov := range overrides {
		cfg, ok := r.configs[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if ov.ClientID != "" {
			cfg.ClientID = ov.ClientID
		}
		if ov.ClientSecret != "" {
			cfg.ClientSecret = ov.ClientSecret
		}
		if len(ov.Scopes) > 0 {
			cfg.Scopes = append([]string(nil), ov.Scopes...)
		}
		if ov.RedirectURI != "" {
			uris := make(map[domain.Platform]string, len(cfg.RedirectURIs)+1)
			for p, u := range cfg.RedirectURIs {
				uris[p] = u
			}
			uris[r.platform] = ov.RedirectURI
			cfg.RedirectURIs = uris
		}
		r.configs[name] = cfg
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: %s", domain.ErrUnknownService, strings.Join(unknown, ", "))
	}
	return nil
}

// defaultServices is the compiled-in service table. Authorize/token URLs
// come from golang.org/x/oauth2/endpoints where published; the rest are the
// providers' documented endpoints. Client credentials are supplied through
// the config file.
//
// Trello is deliberately absent: its authorization flow is token-based
// (OAuth 1.0a style), not an authorization-code exchange this engine speaks.
var defaultServices = []domain.ServiceConfig{
	{
		Name:              "google-calendar",
		DisplayName:       "Google Calendar",
		Scopes:            []string{"https://www.googleapis.com/auth/calendar"},
		AuthorizeEndpoint: endpoints.Google.AuthURL,
		TokenEndpoint:     endpoints.Google.TokenURL,
		RevokeEndpoint:    "https://oauth2.googleapis.com/revoke",
		UsesPKCE:          true,
		TokenAuthMethod:   domain.TokenAuthBody,
		ExtraAuthParams:   map[string]string{"access_type": "offline", "prompt": "consent"},
	},
	{
		Name:              "gmail",
		DisplayName:       "Gmail",
		Scopes:            []string{"https://www.googleapis.com/auth/gmail.modify"},
		AuthorizeEndpoint: endpoints.Google.AuthURL,
		TokenEndpoint:     endpoints.Google.TokenURL,
		RevokeEndpoint:    "https://oauth2.googleapis.com/revoke",
		UsesPKCE:          true,
		TokenAuthMethod:   domain.TokenAuthBody,
		ExtraAuthParams:   map[string]string{"access_type": "offline", "prompt": "consent"},
	},
	{
		Name:              "google-drive",
		DisplayName:       "Google Drive",
		Scopes:            []string{"https://www.googleapis.com/auth/drive.file"},
		AuthorizeEndpoint: endpoints.Google.AuthURL,
		TokenEndpoint:     endpoints.Google.TokenURL,
		RevokeEndpoint:    "https://oauth2.googleapis.com/revoke",
		UsesPKCE:          true,
		TokenAuthMethod:   domain.TokenAuthBody,
		ExtraAuthParams:   map[string]string{"access_type": "offline", "prompt": "consent"},
	},
	{
		Name:              "slack",
		DisplayName:       "Slack",
		Scopes:            []string{"channels:read", "chat:write", "users:read"},
		AuthorizeEndpoint: "https://slack.com/oauth/v2/authorize",
		TokenEndpoint:     "https://slack.com/api/oauth.v2.access",
		RevokeEndpoint:    "https://slack.com/api/auth.revoke",
		TokenAuthMethod:   domain.TokenAuthBody,
		ExtraAuthParams:   map[string]string{"user_scope": "search:read"},
	},
	{
		Name:              "notion",
		DisplayName:       "Notion",
		AuthorizeEndpoint: "https://api.notion.com/v1/oauth/authorize",
		TokenEndpoint:     "https://api.notion.com/v1/oauth/token",
		TokenAuthMethod:   domain.TokenAuthBasic,
		ExtraAuthParams:   map[string]string{"owner": "user"},
	},
	{
		Name:              "todoist",
		DisplayName:       "Todoist",
		Scopes:            []string{"data:read_write"},
		AuthorizeEndpoint: "https://todoist.com/oauth/authorize",
		TokenEndpoint:     "https://todoist.com/oauth/access_token",
		RevokeEndpoint:    "https://api.todoist.com/sync/v9/access_tokens/revoke",
		TokenAuthMethod:   domain.TokenAuthBody,
	},
	{
		Name:                "zoom",
		DisplayName:         "Zoom",
		Scopes:              []string{"meeting:write", "user:read"},
		AuthorizeEndpoint:   endpoints.Zoom.AuthURL,
		TokenEndpoint:       endpoints.Zoom.TokenURL,
		RevokeEndpoint:      "https://zoom.us/oauth/revoke",
		TokenAuthMethod:     domain.TokenAuthBasic,
		RefreshTokenRotates: true,
	},
	{
		Name:              "microsoft-outlook",
		DisplayName:       "Microsoft Outlook",
		Scopes:            []string{"offline_access", "Mail.ReadWrite", "Mail.Send", "Calendars.ReadWrite"},
		AuthorizeEndpoint: endpoints.AzureAD("common").AuthURL,
		TokenEndpoint:     endpoints.AzureAD("common").TokenURL,
		UsesPKCE:          true,
		TokenAuthMethod:   domain.TokenAuthNone,
	},
	{
		Name:              "microsoft-teams",
		DisplayName:       "Microsoft Teams",
		Scopes:            []string{"offline_access", "Chat.ReadWrite", "OnlineMeetings.ReadWrite"},
		AuthorizeEndpoint: endpoints.AzureAD("common").AuthURL,
		TokenEndpoint:     endpoints.AzureAD("common").TokenURL,
		UsesPKCE:          true,
		TokenAuthMethod:   domain.TokenAuthNone,
	},
	{
		Name:              "onedrive",
		DisplayName:       "OneDrive",
		Scopes:            []string{"offline_access", "Files.ReadWrite"},
		AuthorizeEndpoint: endpoints.AzureAD("common").AuthURL,
		TokenEndpoint:     endpoints.AzureAD("common").TokenURL,
		UsesPKCE:          true,
		TokenAuthMethod:   domain.TokenAuthNone,
	},
	{
		Name:                "dropbox",
		DisplayName:         "Dropbox",
		Scopes:              []string{"files.content.write", "files.content.read"},
		AuthorizeEndpoint:   endpoints.Dropbox.AuthURL,
		TokenEndpoint:       endpoints.Dropbox.TokenURL,
		RevokeEndpoint:      "https://api.dropboxapi.com/2/auth/token/revoke",
		UsesPKCE:            true,
		TokenAuthMethod:     domain.TokenAuthNone,
		ExtraAuthParams:     map[string]string{"token_access_type": "offline"},
		RefreshTokenRotates: false,
	},
	{
		Name:              "fitbit",
		DisplayName:       "Fitbit",
		Scopes:            []string{"activity", "heartrate", "sleep"},
		AuthorizeEndpoint: endpoints.Fitbit.AuthURL,
		TokenEndpoint:     endpoints.Fitbit.TokenURL,
		RevokeEndpoint:    "https://api.fitbit.com/oauth2/revoke",
		UsesPKCE:          true,
		TokenAuthMethod:   domain.TokenAuthBasic,
		// Fitbit rotates the refresh token on every refresh.
		RefreshTokenRotates: true,
	},
	{
		Name:              "github",
		DisplayName:       "GitHub",
		Scopes:            []string{"repo", "read:user"},
		AuthorizeEndpoint: endpoints.GitHub.AuthURL,
		TokenEndpoint:     endpoints.GitHub.TokenURL,
		TokenAuthMethod:   domain.TokenAuthBody,
	},
	{
		Name:              "gitlab",
		DisplayName:       "GitLab",
		Scopes:            []string{"api", "read_user"},
		AuthorizeEndpoint: endpoints.GitLab.AuthURL,
		TokenEndpoint:     endpoints.GitLab.TokenURL,
		RevokeEndpoint:    "https://gitlab.com/oauth/revoke",
		UsesPKCE:          true,
		TokenAuthMethod:   domain.TokenAuthBody,
	},
	{
		Name:              "linear",
		DisplayName:       "Linear",
		Scopes:            []string{"read", "write"},
		AuthorizeEndpoint: "https://linear.app/oauth/authorize",
		TokenEndpoint:     "https://api.linear.app/oauth/token",
		RevokeEndpoint:    "https://api.linear.app/oauth/revoke",
		TokenAuthMethod:   domain.TokenAuthBody,
	},
	{
		Name:              "asana",
		DisplayName:       "Asana",
		Scopes:            []string{"default"},
		AuthorizeEndpoint: "https://app.asana.com/-/oauth_authorize",
		TokenEndpoint:     "https://app.asana.com/-/oauth_token",
		RevokeEndpoint:    "https://app.asana.com/-/oauth_revoke",
		UsesPKCE:          true,
		TokenAuthMethod:   domain.TokenAuthBody,
	},
	{
		Name:              "spotify",
		DisplayName:       "Spotify",
		Scopes:            []string{"user-read-playback-state", "user-modify-playback-state"},
		AuthorizeEndpoint: endpoints.Spotify.AuthURL,
		TokenEndpoint:     endpoints.Spotify.TokenURL,
		UsesPKCE:          true,
		TokenAuthMethod:   domain.TokenAuthBasic,
	},
	{
		Name:              "discord",
		DisplayName:       "Discord",
		Scopes:            []string{"identify", "guilds"},
		AuthorizeEndpoint: endpoints.Discord.AuthURL,
		TokenEndpoint:     endpoints.Discord.TokenURL,
		RevokeEndpoint:    "https://discord.com/api/oauth2/token/revoke",
		TokenAuthMethod:   domain.TokenAuthBody,
	},
	{
		Name:              "strava",
		DisplayName:       "Strava",
		Scopes:            []string{"activity:read_all"},
		AuthorizeEndpoint: endpoints.Strava.AuthURL,
		TokenEndpoint:     endpoints.Strava.TokenURL,
		RevokeEndpoint:    "https://www.strava.com/oauth/deauthorize",
		TokenAuthMethod:   domain.TokenAuthBody,
		// Strava rotates refresh tokens on each refresh.
		RefreshTokenRotates: true,
	},
	{
		Name:              "hubspot",
		DisplayName:       "HubSpot",
		Scopes:            []string{"crm.objects.contacts.read", "crm.objects.contacts.write"},
		AuthorizeEndpoint: "https://app.hubspot.com/oauth/authorize",
		TokenEndpoint:     "https://api.hubapi.com/oauth/v1/token",
		TokenAuthMethod:   domain.TokenAuthBody,
	},
}
