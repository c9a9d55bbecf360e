package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"taskbeat/internal/seed"
	"taskbeat/internal/store"
)

func importCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import tasks and notification settings from YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := consoleLogger(cfg, os.Stderr)

			st, err := store.Open(cmd.Context(), cfg.StateDir)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			res, err := seed.ImportFile(cmd.Context(), st, args[0])
			if err != nil {
				return err
			}
			logger.Info().Int("settings", res.Settings).Int("created", res.Created).Int("skipped", res.Skipped).Msg("import complete")
			return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
		},
	}
}
