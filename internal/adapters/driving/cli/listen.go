package cli

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sonara-labs/sonara-link/internal/adapters/driving/deeplink"
	"github.com/sonara-labs/sonara-link/internal/config"
	"github.com/sonara-labs/sonara-link/internal/logger"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run the local callback listener",
	Long: `Run a local HTTP listener that receives OAuth redirect callbacks on
/oauth/<service>/callback while consent flows are in progress. The config
file is watched; credential changes apply without a restart.

Stops on Ctrl-C.`,
	RunE: runListen,
}

var listenAddr string

func init() {
	listenCmd.Flags().StringVar(
		&listenAddr, "addr", "", "Listen address (default from config, else "+config.DefaultListenAddr+")")
	rootCmd.AddCommand(listenCmd)
}

func runListen(cmd *cobra.Command, _ []string) error {
	if callbackRouter == nil {
		return errors.New("callback router not configured")
	}

	addr := listenAddr
	if addr == "" {
		addr = appConfig.ListenAddr
	}
	if addr == "" {
		addr = config.DefaultListenAddr
	}

	listener := deeplink.NewListener(addr, callbackRouter)
	if err := listener.Start(); err != nil {
		return err
	}
	defer func() { _ = listener.Stop() }()

	// Hot-reload credentials while flows are pending; a user often fills
	// in client secrets mid-flow on first setup.
	if configPath != "" && serviceRegistry != nil {
		watcher, err := config.Watch(configPath,
			func(cfg config.Config) {
				appConfig = cfg
				if err := applyConfigOverrides(cfg); err != nil {
					logger.Warn("config reload: %v", err)
					return
				}
				logger.Info("config reloaded")
			},
			func(err error) { logger.Warn("config watch: %v", err) },
		)
		if err != nil {
			logger.Warn("config watch unavailable: %v", err)
		} else {
			defer func() { _ = watcher.Close() }()
		}
	}

	cmd.Printf("Listening for OAuth callbacks on http://%s\n", listener.Addr())
	cmd.Println("Press Ctrl-C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case err := <-listener.Results():
			if err == nil {
				cmd.Println("Authorization complete.")
			}
		case <-sigCh:
			cmd.Println("\nStopping.")
			return nil
		}
	}
}
