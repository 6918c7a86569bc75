// Package cli provides the sonara-link command-line interface.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sonara-labs/sonara-link/internal/adapters/driven/browser"
	"github.com/sonara-labs/sonara-link/internal/adapters/driven/exchange"
	"github.com/sonara-labs/sonara-link/internal/adapters/driven/notify"
	"github.com/sonara-labs/sonara-link/internal/adapters/driven/storage/sqlite"
	"github.com/sonara-labs/sonara-link/internal/config"
	"github.com/sonara-labs/sonara-link/internal/core/domain"
	"github.com/sonara-labs/sonara-link/internal/core/ports/driven"
	"github.com/sonara-labs/sonara-link/internal/core/ports/driving"
	"github.com/sonara-labs/sonara-link/internal/core/services"
	"github.com/sonara-labs/sonara-link/internal/logger"
)

// version is set at build time via ldflags.
var version = "dev"

// Services wired by initServices (or by tests directly).
var (
	sessionService  driving.SessionService
	callbackRouter  driving.CallbackRouter
	serviceRegistry *services.ServiceRegistry
	credentialStore driven.CredentialStore

	appConfig  config.Config
	configPath string
)

// Persistent flags.
var (
	flagVerbose    bool
	flagConfigPath string
)

var rootCmd = &cobra.Command{
	Use:   "sonara-link",
	Short: "Connect third-party services to Sonara",
	Long: `sonara-link manages OAuth connections between this device and the
services Sonara integrates with: calendars, mail, messaging, music, and more.

It opens the provider's consent page in your browser, receives the redirect
callback, exchanges the authorization code for tokens, and keeps tokens
fresh, all stored encrypted on this machine.

Examples:
  # Configure OAuth client credentials for a service
  sonara-link config set spotify --client-id "xxx"

  # Connect a service (opens the browser)
  sonara-link connect spotify

  # Receive callbacks while flows are in progress
  sonara-link listen

  # Show connection state across services
  sonara-link status`,
	SilenceUsage: true,
	// Service wiring happens here, after cobra has parsed the persistent
	// flags, so --config and --verbose take effect.
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := initServices(); err != nil {
			return err
		}
		if flagVerbose || appConfig.Verbose {
			logger.SetVerbose(true)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(
		&flagVerbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(
		&flagConfigPath, "config", "", "Config file path (default ~/.sonara/link/config.toml)")
}

// Execute runs the root command and tears the adapter stack down afterwards.
func Execute() error {
	defer shutdown()
	return rootCmd.Execute()
}

// initServices builds the adapter stack from the config file. Safe to call
// when tests have already injected services; it then leaves them alone.
func initServices() error {
	if sessionService != nil {
		return nil
	}

	path := flagConfigPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	appConfig = cfg
	configPath = path

	platform := domain.PlatformDesktop
	if cfg.Platform != "" {
		platform = domain.Platform(cfg.Platform)
	}

	serviceRegistry = services.NewServiceRegistry(platform)
	if err := applyConfigOverrides(cfg); err != nil {
		logger.Warn("config overrides: %v", err)
	}

	store, err := sqlite.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}
	credentialStore = store

	var notifier driven.CompletionNotifier
	if cfg.BackendURL != "" {
		notifier = notify.NewClient(cfg.BackendURL, cfg.DeviceKey, nil)
	}

	manager := services.NewSessionManager(
		serviceRegistry,
		store,
		exchange.NewClient(nil),
		notifier,
		browser.NewOpener(),
		services.SessionOptions{Platform: platform},
	)
	sessionService = manager
	callbackRouter = services.NewCallbackRouter(serviceRegistry, manager)
	return nil
}

// applyConfigOverrides merges the config file's per-service credentials into
// the registry. Called at startup and again on config reload.
func applyConfigOverrides(cfg config.Config) error {
	if len(cfg.Services) == 0 {
		return nil
	}
	overrides := make(map[string]services.ServiceOverride, len(cfg.Services))
	for name, creds := range cfg.Services {
		overrides[name] = services.ServiceOverride{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Scopes:       creds.Scopes,
			RedirectURI:  creds.RedirectURI,
		}
	}
	return serviceRegistry.ApplyOverrides(overrides)
}

func shutdown() {
	if manager, ok := sessionService.(*services.SessionManager); ok {
		manager.Close()
	}
	if closer, ok := credentialStore.(*sqlite.Store); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("closing credential store: %v", err)
		}
	}
}

// integrationIDFor resolves the integration id for a service: the explicit
// flag wins, then the id remembered in the config file.
func integrationIDFor(service, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if creds, ok := appConfig.Services[service]; ok && creds.IntegrationID != "" {
		return creds.IntegrationID, nil
	}
	return "", fmt.Errorf("no integration id known for %s; pass --integration or run 'sonara-link connect %s' first", service, service)
}

// rememberIntegrationID persists the integration id for a service so later
// commands can omit --integration.
func rememberIntegrationID(service, integrationID string) {
	creds := appConfig.Services[service]
	creds.IntegrationID = integrationID
	appConfig.SetServiceCredentials(service, creds)
	if configPath == "" {
		return
	}
	if err := config.Save(configPath, appConfig); err != nil {
		logger.Warn("saving config: %v", err)
	}
}
