package main

import (
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-geoindexer/internal/bus"
	"github.com/tendant/simple-geoindexer/internal/config"
)

type watchOptions struct {
	natsURL string
	topic   string
	json    bool
}

func newWatchCmd(root *rootFlags, logger *slog.Logger) *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print pipeline states until a run finishes",
		Long: `Watch subscribes to the state topic and prints every state it receives. It
stops once a run reaches NotAvailable, Available or Failure.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("nats-url") {
				cfg.Bus.NATSURL = opts.natsURL
			}
			if cmd.Flags().Changed("topic") {
				cfg.Topic = opts.topic
			}
			if err := cfg.ValidateWatch(); err != nil {
				return err
			}

			ctx := cmd.Context()
			client, err := bus.Connect(cfg.Bus.NATSURL, nats.Name("geoindexer-watch"))
			if err != nil {
				return fmt.Errorf("connect to NATS: %w", err)
			}
			defer func() { _ = client.Close() }()

			sub, err := client.SubscribeStates(ctx, cfg.Topic)
			if err != nil {
				return err
			}
			logger.Info("watching states", "nats_url", cfg.Bus.NATSURL, "topic", cfg.Topic)

			final, err := bus.Watch(ctx, sub, logger, func(u bus.Update) error {
				return printUpdate(cmd.OutOrStdout(), u, opts.json)
			})
			if err != nil {
				return err
			}
			logger.Info("run finished", "state", final.Kind)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.natsURL, "nats-url", "", "NATS server URL")
	cmd.Flags().StringVar(&opts.topic, "topic", "", "Subject to read state snapshots from")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print states as JSON lines")

	return cmd
}
