package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <service>",
	Short: "Disconnect a service and delete its stored tokens",
	Long: `Revoke the service's tokens with the provider (best effort), delete
them from local storage, and tell the backend the integration is gone.
Safe to run repeatedly.`,
	Args: cobra.ExactArgs(1),
	RunE: runDisconnect,
}

var disconnectIntegration string

func init() {
	disconnectCmd.Flags().StringVar(
		&disconnectIntegration, "integration", "", "Integration id (default: the one remembered by connect)")
	rootCmd.AddCommand(disconnectCmd)
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	if sessionService == nil {
		return errors.New("session service not configured")
	}
	service := args[0]

	integrationID, err := integrationIDFor(service, disconnectIntegration)
	if err != nil {
		return err
	}

	if err := sessionService.Disconnect(context.Background(), service, integrationID); err != nil {
		return fmt.Errorf("disconnecting %s: %w", service, err)
	}
	cmd.Printf("Disconnected %s (integration %s)\n", service, integrationID)
	return nil
}
