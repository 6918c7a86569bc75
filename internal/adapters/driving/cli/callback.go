package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sonara-labs/sonara-link/internal/core/domain"
)

var callbackCmd = &cobra.Command{
	Use:   "callback <url>",
	Short: "Handle a single OAuth redirect URL",
	Long: `Handle one OAuth redirect URL and exit. This is what the operating
system's sonara:// URL handler invokes when a consent flow redirects while
no listener is running:

  sonara-link callback "sonara://oauth/callback/spotify?code=...&state=..."`,
	Args: cobra.ExactArgs(1),
	RunE: runCallback,
}

func init() {
	rootCmd.AddCommand(callbackCmd)
}

func runCallback(cmd *cobra.Command, args []string) error {
	if callbackRouter == nil {
		return errors.New("callback router not configured")
	}

	if err := callbackRouter.Route(context.Background(), args[0]); err != nil {
		var cbErr *domain.CallbackError
		if errors.As(err, &cbErr) {
			return fmt.Errorf("callback rejected: %s", cbErr.Reason)
		}
		return fmt.Errorf("handling callback: %w", err)
	}

	cmd.Println("Authorization complete.")
	return nil
}
