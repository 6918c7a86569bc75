package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sonara-labs/sonara-link/internal/core/domain"
)

var tokenCmd = &cobra.Command{
	Use:   "token <service>",
	Short: "Print a valid access token for a service",
	Long: `Print an access token guaranteed to be usable for at least the
refresh buffer. Refreshes the stored token first when it is near expiry.

Intended for piping into other tools:
  curl -H "Authorization: Bearer $(sonara-link token spotify)" ...`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

var tokenIntegration string

func init() {
	tokenCmd.Flags().StringVar(
		&tokenIntegration, "integration", "", "Integration id (default: the one remembered by connect)")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	if sessionService == nil {
		return errors.New("session service not configured")
	}
	service := args[0]

	integrationID, err := integrationIDFor(service, tokenIntegration)
	if err != nil {
		return err
	}

	token, err := sessionService.GetValidAccessToken(context.Background(), service, integrationID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrReauthRequired):
			return fmt.Errorf("%s needs to be reconnected; run 'sonara-link connect %s'", service, service)
		case errors.Is(err, domain.ErrNotAuthenticated):
			return fmt.Errorf("%s is not connected; run 'sonara-link connect %s'", service, service)
		default:
			return fmt.Errorf("getting access token: %w", err)
		}
	}

	cmd.Println(token)
	return nil
}
