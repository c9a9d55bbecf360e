package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"taskbeat/internal/config"
	"taskbeat/internal/logging"
)

type rootOptions struct {
	stateDir string
	logLevel string
	addr     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	command := &cobra.Command{
		Use:           "taskbeatd",
		Short:         "Scheduled keepalive checks and reminder notifications",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}
	command.PersistentFlags().StringVar(&opts.stateDir, "state-dir", "", "Directory holding the SQLite database")
	command.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	command.PersistentFlags().StringVar(&opts.addr, "addr", "", "HTTP listen address")

	command.AddCommand(serveCmd(opts))
	command.AddCommand(tickCmd(opts))
	command.AddCommand(mcpCmd(opts))
	command.AddCommand(importCmd(opts))

	command.SetErr(os.Stderr)
	command.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w\n\n%s", err, cmd.UsageString())
	})
	return command
}

// load reads env configuration and applies flag overrides.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if o.stateDir != "" {
		cfg.StateDir = o.stateDir
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.addr != "" {
		cfg.Addr = o.addr
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func consoleLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	return logging.New(cfg.LogLevel, w).With().Str("version", version).Logger()
}
