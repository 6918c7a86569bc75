// Package config loads and persists the sonara-link configuration file:
// backend coordinates and per-service OAuth client credentials. The file is
// TOML, stored alongside the credential database.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// DefaultListenAddr is where the local callback listener binds.
const DefaultListenAddr = "127.0.0.1:8923"

// Config is the on-disk configuration.
type Config struct {
	// BackendURL is the Sonara backend integration API base URL.
	BackendURL string `toml:"backend_url"`
	// DeviceKey authenticates this device to the backend. Optional.
	DeviceKey string `toml:"device_key,omitempty"`
	// Platform overrides platform detection (ios, android, desktop, web).
	Platform string `toml:"platform,omitempty"`
	// ListenAddr is the local callback listener address.
	ListenAddr string `toml:"listen_addr,omitempty"`
	// DataDir overrides the credential database location.
	DataDir string `toml:"data_dir,omitempty"`
	// Verbose enables debug logging without the --verbose flag.
	Verbose bool `toml:"verbose,omitempty"`
	// Services holds per-service OAuth client credentials and overrides.
	Services map[string]ServiceCredentials `toml:"services,omitempty"`
}

// ServiceCredentials are the per-service settings merged over the compiled-in
// service table.
type ServiceCredentials struct {
	ClientID     string   `toml:"client_id,omitempty"`
	ClientSecret string   `toml:"client_secret,omitempty"`
	Scopes       []string `toml:"scopes,omitempty"`
	RedirectURI  string   `toml:"redirect_uri,omitempty"`
	// IntegrationID is the backend integration this device connects the
	// service under. Minted on first connect when absent.
	IntegrationID string `toml:"integration_id,omitempty"`
}

// DefaultPath returns the default config file location,
// ~/.sonara/link/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".sonara", "link", "config.toml"), nil
}

// Load reads the config file at path. A missing file yields the zero config
// without error; first-run setup then writes it.
func Load(path string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Save writes the config file at path, creating parent directories. The
// file is 0600: it carries client secrets.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	raw, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// SetServiceCredentials updates one service's credentials in the config.
func (c *Config) SetServiceCredentials(service string, creds ServiceCredentials) {
	if c.Services == nil {
		c.Services = make(map[string]ServiceCredentials)
	}
	c.Services[service] = creds
}
