package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/urlsentry/urlsentry/internal/config"
	"github.com/urlsentry/urlsentry/internal/server"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the URL reputation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger := buildLogger(cfg.Logging)

			srv, err := server.New(cfg, logger)
			if err != nil {
				return err
			}
			if err := srv.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "urlsentry listening on %s\n", srv.Addr())

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case sig := <-sigCh:
				logger.Info("shutting down", "signal", sig.String())
			case err, ok := <-srv.Err():
				if ok && err != nil {
					return fmt.Errorf("serve: %w", err)
				}
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "",
		"Path to config YAML (default: built-in defaults with no sources)")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		for _, candidate := range []string{"config.yml", "config.yaml", "/etc/urlsentry/config.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				return config.Load(candidate)
			}
		}
		return config.Default(), nil
	}
	return config.Load(path)
}
