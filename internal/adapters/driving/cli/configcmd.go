package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sonara-labs/sonara-link/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage sonara-link configuration",
	Long: `Inspect and edit the config file: backend coordinates and per-service
OAuth client credentials.

Examples:
  # Set client credentials for a service (secret prompted, hidden)
  sonara-link config set spotify --client-id "xxx"

  # Set everything non-interactively
  sonara-link config set spotify --client-id "xxx" --client-secret "yyy"

  # Point at the Sonara backend
  sonara-link config set-backend https://api.sonara.app --device-key "zzz"

  # Show the effective configuration
  sonara-link config show`,
}

var configSetCmd = &cobra.Command{
	Use:   "set <service>",
	Short: "Set OAuth client credentials for a service",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigSet,
}

var configSetBackendCmd = &cobra.Command{
	Use:   "set-backend <url>",
	Short: "Set the backend URL and device key",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigSetBackend,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

// Flags for config set.
var (
	configSetClientID     string
	configSetClientSecret string
	configSetScopes       string
	configSetRedirectURI  string
	configSetDeviceKey    string
)

func init() {
	configSetCmd.Flags().StringVar(
		&configSetClientID, "client-id", "", "OAuth client ID")
	configSetCmd.Flags().StringVar(
		&configSetClientSecret, "client-secret", "", "OAuth client secret (prompted when omitted)")
	configSetCmd.Flags().StringVar(
		&configSetScopes, "scopes", "", "Scope override (comma-separated, uses service defaults if not provided)")
	configSetCmd.Flags().StringVar(
		&configSetRedirectURI, "redirect-uri", "", "Redirect URI override")
	configSetBackendCmd.Flags().StringVar(
		&configSetDeviceKey, "device-key", "", "Device key for backend authentication")

	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetBackendCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	if serviceRegistry == nil {
		return errors.New("service registry not configured")
	}
	service := args[0]
	if _, err := serviceRegistry.Get(service); err != nil {
		return err
	}

	clientID := configSetClientID
	if clientID == "" {
		cmd.Print("Client ID: ")
		reader := bufio.NewReader(cmd.InOrStdin())
		input, _ := reader.ReadString('\n')
		clientID = strings.TrimSpace(input)
		if clientID == "" {
			return errors.New("client ID is required")
		}
	}

	secret := configSetClientSecret
	if secret == "" {
		var err error
		if secret, err = promptSecret(cmd, "Client Secret (empty for public clients): "); err != nil {
			return err
		}
	}

	creds := appConfig.Services[service]
	creds.ClientID = clientID
	creds.ClientSecret = secret
	if configSetScopes != "" {
		scopes := strings.Split(configSetScopes, ",")
		for i := range scopes {
			scopes[i] = strings.TrimSpace(scopes[i])
		}
		creds.Scopes = scopes
	}
	if configSetRedirectURI != "" {
		creds.RedirectURI = configSetRedirectURI
	}
	appConfig.SetServiceCredentials(service, creds)

	if err := saveConfig(); err != nil {
		return err
	}
	if err := applyConfigOverrides(appConfig); err != nil {
		return err
	}

	cmd.Printf("Credentials saved for %s\n", service)
	return nil
}

func runConfigSetBackend(cmd *cobra.Command, args []string) error {
	appConfig.BackendURL = args[0]
	if configSetDeviceKey != "" {
		appConfig.DeviceKey = configSetDeviceKey
	}
	if err := saveConfig(); err != nil {
		return err
	}
	cmd.Printf("Backend set to %s\n", appConfig.BackendURL)
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cmd.Printf("Config file: %s\n", configPath)
	if appConfig.BackendURL != "" {
		cmd.Printf("Backend: %s\n", appConfig.BackendURL)
	} else {
		cmd.Println("Backend: (not set, completion notifications disabled)")
	}
	if appConfig.Platform != "" {
		cmd.Printf("Platform: %s\n", appConfig.Platform)
	}
	if len(appConfig.Services) == 0 {
		cmd.Println("No service credentials configured.")
		return nil
	}

	cmd.Println("Services:")
	for _, name := range sortedServiceNames(appConfig.Services) {
		creds := appConfig.Services[name]
		cmd.Printf("  %s\n", name)
		cmd.Printf("    Client ID: %s\n", redact(creds.ClientID))
		if creds.ClientSecret != "" {
			cmd.Println("    Client Secret: (set)")
		}
		if len(creds.Scopes) > 0 {
			cmd.Printf("    Scopes: %s\n", strings.Join(creds.Scopes, ", "))
		}
		if creds.IntegrationID != "" {
			cmd.Printf("    Integration: %s\n", creds.IntegrationID)
		}
	}
	return nil
}

func saveConfig() error {
	path := configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
		configPath = path
	}
	return config.Save(path, appConfig)
}

// promptSecret reads a secret without echoing when stdin is a terminal,
// falling back to a plain line read otherwise (pipes, tests).
func promptSecret(cmd *cobra.Command, prompt string) (string, error) {
	cmd.Print(prompt)
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		raw, err := term.ReadPassword(int(f.Fd()))
		cmd.Println()
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	reader := bufio.NewReader(cmd.InOrStdin())
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", nil
	}
	return strings.TrimSpace(input), nil
}

func sortedServiceNames(m map[string]config.ServiceCredentials) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// redact shows just enough of an identifier to recognise it.
func redact(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8] + "..."
}
