package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"taskbeat/internal/logging"
	taskbeatmcp "taskbeat/internal/mcp"
)

func mcpCmd(opts *rootOptions) *cobra.Command {
	var withScheduler bool
	command := &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			// stdout carries the protocol, so logs go to stderr as JSON.
			logger := logging.NewJSON(cfg.LogLevel, os.Stderr).With().Str("version", version).Logger()

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if withScheduler {
				if cfg.Redis.Addr == "" {
					logger.Warn().Msg("tick loop running without redis; tasks fire twice if serve shares this state dir")
				}
				runCtx, cancel := context.WithCancel(context.Background())
				defer cancel()
				a.scheduler.Start(runCtx)
				defer func() { <-a.scheduler.Stop().Done() }()
			}
			return taskbeatmcp.NewMCPServer(a.store, a.scheduler, logger, a.location, version).Run()
		},
	}
	command.Flags().BoolVar(&withScheduler, "with-scheduler", false, "Also run the tick loop while serving (use only when no serve process shares the state dir, or with redis)")
	return command
}
