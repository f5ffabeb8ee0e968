package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dmaulana/folio/api"
	"github.com/dmaulana/folio/internal/app"
	"github.com/dmaulana/folio/internal/config"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the HTTP API serving the portfolio chat assistant.

The server exposes streaming and synchronous chat endpoints under
/api/chat, plus /health and /ready probes. It shuts down gracefully
on SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	logger.Info("starting folio server", "version", AppVersion, "provider", cfg.Provider, "model", cfg.ModelName)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	// Expired sessions are reclaimed in the background for as long as
	// the server runs.
	go a.Reaper.Run(ctx)

	srv := api.NewServer(api.ServerConfig{
		Chat:      a.Chat,
		Pool:      a.DBPool,
		Logger:    logger,
		RateRPS:   cfg.RateRPS,
		RateBurst: cfg.RateBurst,
	})

	return srv.Run(ctx, cfg.Addr)
}
