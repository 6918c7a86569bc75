package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/sonara-labs/sonara-link/internal/core/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status [service]",
	Short: "Show connection state for services",
	Long: `Show the session state of each known service: whether it has OAuth
client credentials configured, and whether this device holds a live token
for it. Pass a service name to show just that one.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var statusIntegration string

func init() {
	statusCmd.Flags().StringVar(
		&statusIntegration, "integration", "", "Integration id (default: the one remembered by connect)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if sessionService == nil || serviceRegistry == nil {
		return errors.New("session service not configured")
	}
	ctx := context.Background()

	names := serviceRegistry.Services()
	if len(args) == 1 {
		if _, err := serviceRegistry.Get(args[0]); err != nil {
			return err
		}
		names = args[:1]
	}

	for _, name := range names {
		cfg, err := serviceRegistry.Get(name)
		if err != nil {
			continue
		}
		if !cfg.IsConfigured() {
			cmd.Printf("  %-20s not configured\n", name)
			continue
		}

		integrationID := statusIntegration
		if integrationID == "" {
			if creds, ok := appConfig.Services[name]; ok {
				integrationID = creds.IntegrationID
			}
		}
		if integrationID == "" {
			cmd.Printf("  %-20s %s\n", name, domain.StateUnauthenticated)
			continue
		}

		state := sessionService.State(ctx, name, integrationID)
		cmd.Printf("  %-20s %s (integration %s)\n", name, state, integrationID)
	}
	return nil
}
