package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sonara-labs/sonara-link/internal/core/domain"
)

var connectCmd = &cobra.Command{
	Use:   "connect <service>",
	Short: "Connect a service through its OAuth consent flow",
	Long: `Start the OAuth authorization flow for a service.

The provider's consent page opens in your browser. Complete it there; the
redirect lands either on the sonara:// deep link or on the local listener
('sonara-link listen'). The authorization URL is also printed in case the
browser does not open.

Examples:
  sonara-link connect spotify
  sonara-link connect google-calendar --integration 7f3c2a`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

var connectIntegration string

func init() {
	connectCmd.Flags().StringVar(
		&connectIntegration, "integration", "", "Integration id to connect under (minted when omitted)")
	rootCmd.AddCommand(connectCmd)
}

func runConnect(cmd *cobra.Command, args []string) error {
	if sessionService == nil {
		return errors.New("session service not configured")
	}
	service := args[0]
	ctx := context.Background()

	integrationID := connectIntegration
	if integrationID == "" {
		if creds, ok := appConfig.Services[service]; ok && creds.IntegrationID != "" {
			integrationID = creds.IntegrationID
		} else {
			integrationID = uuid.New().String()
		}
	}

	req, err := sessionService.Authenticate(ctx, service, integrationID)
	if err != nil {
		if errors.Is(err, domain.ErrServiceNotConfigured) {
			return fmt.Errorf("%s has no OAuth client credentials; run 'sonara-link config set %s' first", service, service)
		}
		return fmt.Errorf("starting authorization: %w", err)
	}

	rememberIntegrationID(service, integrationID)

	cmd.Printf("Opening browser to connect %s (integration %s)\n\n", service, integrationID)
	cmd.Printf("If the browser did not open, visit:\n  %s\n\n", req.AuthorizeURL)
	cmd.Println("Complete the consent page, then let the redirect land on the")
	cmd.Println("sonara:// handler or on 'sonara-link listen'.")
	return nil
}
