package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	verbose    bool
}

func newRootCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "indexer",
		Short:         "Download, index and validate geographic datasets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.verbose && level != nil {
				level.Set(slog.LevelDebug)
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "YAML file overlaying environment defaults")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newRunCmd(flags, logger))
	cmd.AddCommand(newWatchCmd(flags, logger))

	return cmd
}
