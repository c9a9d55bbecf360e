package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"taskbeat/internal/api"
	taskbeatmcp "taskbeat/internal/mcp"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	var noMCP bool
	command := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := consoleLogger(cfg, os.Stderr)

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			var mcpHandler http.Handler
			if !noMCP {
				mcpHandler = taskbeatmcp.NewMCPServer(a.store, a.scheduler, logger, a.location, version).HTTPHandler()
			}
			server := api.NewServer(cfg.Addr, cfg.AuthToken, a.store, a.scheduler, mcpHandler, logger, a.location)

			runCtx, cancel := context.WithCancel(context.Background())
			defer cancel()
			a.scheduler.Start(runCtx)

			serverErr := make(chan error, 1)
			go func() {
				logger.Info().Str("addr", cfg.Addr).Msg("http server listening")
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()
			if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
				logger.Debug().Err(err).Msg("sd_notify ready")
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigs)

			var runErr error
			select {
			case sig := <-sigs:
				logger.Info().Str("signal", sig.String()).Msg("received signal")
			case runErr = <-serverErr:
				logger.Error().Err(runErr).Msg("server error")
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("server shutdown")
			}

			stopCtx := a.scheduler.Stop()
			select {
			case <-stopCtx.Done():
			case <-time.After(cfg.ShutdownGrace):
				logger.Warn().Msg("scheduler stop timed out")
			}
			return runErr
		},
	}
	command.Flags().BoolVar(&noMCP, "no-mcp", false, "Do not mount the MCP endpoint at /mcp")
	return command
}
