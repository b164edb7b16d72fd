package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/tendant/simple-geoindexer/internal/bus"
	"github.com/tendant/simple-geoindexer/internal/config"
	"github.com/tendant/simple-geoindexer/internal/driver"
	"github.com/tendant/simple-geoindexer/internal/fetch"
	"github.com/tendant/simple-geoindexer/internal/sources"
	"github.com/tendant/simple-geoindexer/internal/telemetry"
	"github.com/tendant/simple-geoindexer/internal/validate"
	"github.com/tendant/simple-geoindexer/pkg/schema"
)

// watchGrace is how long the watcher keeps reading after the driver returns
// in a state that does not end a subscription (halt policy, publish errors).
const watchGrace = 2 * time.Second

type runOptions struct {
	indexType     string
	dataSource    string
	region        string
	workingDir    string
	handlersDir   string
	indexEndpoint string
	natsURL       string
	topic         string
	codec         string
	errorPolicy   string
	probe         bool
	json          bool
}

func newRunCmd(root *rootFlags, logger *slog.Logger) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ingestion pipeline for one data source and region",
		Long: `Run downloads the dataset for a region, transforms it when the source needs
it, indexes it and waits for the index to become available. Every state change
is published on the state topic and printed. Exits non-zero unless the
pipeline ends in Available.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			opts.apply(cmd.Flags(), &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			final, err := runPipeline(cmd.Context(), cfg, cmd.OutOrStdout(), opts.json, logger)
			if err != nil {
				return err
			}
			return checkFinal(final)
		},
	}

	opts.bind(cmd.Flags())

	return cmd
}

func (o *runOptions) bind(f *pflag.FlagSet) {
	f.StringVarP(&o.indexType, "index-type", "i", "", "Index type (admins, streets, addresses, ...)")
	f.StringVarP(&o.dataSource, "data-source", "d", "", "Data source (bano, osm, cosmogony, ntfs)")
	f.StringVarP(&o.region, "region", "r", "", "Region identifier passed to the data source")
	f.StringVar(&o.workingDir, "working-dir", "", "Directory downloads and intermediate files are written to")
	f.StringVar(&o.handlersDir, "handlers-dir", "", "Directory holding the *2mimir executables")
	f.StringVar(&o.indexEndpoint, "index-endpoint", "", "Search engine connection string")
	f.StringVar(&o.natsURL, "nats-url", "", "NATS server URL")
	f.StringVar(&o.topic, "topic", "", "Subject state snapshots are published on")
	f.StringVar(&o.codec, "codec", "", "State encoding (json, msgpack)")
	f.StringVar(&o.errorPolicy, "error-policy", "", "What to do after an error state (reset, halt)")
	f.BoolVar(&o.probe, "probe", false, "Check cluster health before reporting Available")
	f.BoolVar(&o.json, "json", false, "Print states as JSON lines")
}

// apply copies explicitly set flags over cfg.
func (o *runOptions) apply(flags *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	set("index-type", &cfg.IndexType, o.indexType)
	set("data-source", &cfg.DataSource, o.dataSource)
	set("region", &cfg.Region, o.region)
	set("working-dir", &cfg.WorkingDir, o.workingDir)
	set("handlers-dir", &cfg.HandlersDir, o.handlersDir)
	set("index-endpoint", &cfg.IndexEndpoint, o.indexEndpoint)
	set("nats-url", &cfg.Bus.NATSURL, o.natsURL)
	set("topic", &cfg.Topic, o.topic)
	set("codec", &cfg.Bus.Codec, o.codec)
	set("error-policy", &cfg.ErrorPolicy, o.errorPolicy)
	if flags.Changed("probe") {
		cfg.Validation.Probe = o.probe
	}
}

func runPipeline(ctx context.Context, cfg config.Config, out io.Writer, asJSON bool, logger *slog.Logger) (schema.State, error) {
	policy, err := driver.ParseErrorPolicy(cfg.ErrorPolicy)
	if err != nil {
		return schema.State{}, err
	}
	codec, err := schema.CodecByName(cfg.Bus.Codec)
	if err != nil {
		return schema.State{}, err
	}

	providers, err := telemetry.Setup(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return schema.State{}, fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "err", err)
		}
	}()

	subClient, err := bus.Connect(cfg.Bus.NATSURL, nats.Name("geoindexer-watch"))
	if err != nil {
		return schema.State{}, fmt.Errorf("connect to NATS: %w", err)
	}
	defer func() { _ = subClient.Close() }()
	sub, err := subClient.SubscribeStates(ctx, cfg.Topic)
	if err != nil {
		return schema.State{}, err
	}

	pubClient, err := bus.Connect(cfg.Bus.NATSURL, nats.Name("geoindexer-driver"))
	if err != nil {
		return schema.State{}, fmt.Errorf("connect to NATS: %w", err)
	}
	publisher, err := bus.NewStatePublisher(pubClient, cfg.Topic, codec,
		bus.WithFlushTimeout(cfg.Bus.PublishTimeout),
		bus.WithPublisherLogger(logger.With("component", "publisher")))
	if err != nil {
		_ = pubClient.Close()
		return schema.State{}, err
	}
	logger.Info("connected to NATS", "nats_url", cfg.Bus.NATSURL, "topic", cfg.Topic, "codec", codec.Name())

	registry, err := sources.Default(sources.Options{
		Fetcher:     fetch.New(fetch.WithLogger(logger.With("component", "fetch"))),
		Runner:      sources.ExecRunner{Logger: logger.With("component", "exec")},
		BanoBaseURL: cfg.Sources.BanoBaseURL,
		OSMBaseURL:  cfg.Sources.OSMBaseURL,
		NTFSBaseURL: cfg.Sources.NTFSBaseURL,
		CountryCode: cfg.Sources.CountryCode,
		HandlersDir: cfg.HandlersDir,
		CityLevel:   cfg.Sources.CityLevel,
	})
	if err != nil {
		_ = publisher.Close()
		return schema.State{}, err
	}

	d, err := driver.New(cfg.Pipeline, registry, publisher,
		driver.WithProbe(buildProbe(cfg, logger)),
		driver.WithErrorPolicy(policy),
		driver.WithLogger(logger.With("component", "driver")),
		driver.WithTracerProvider(providers.Tracer),
		driver.WithMeterProvider(providers.Meter),
	)
	if err != nil {
		_ = publisher.Close()
		return schema.State{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	watchCtx, stopWatch := context.WithCancel(gctx)
	defer stopWatch()

	var final schema.State
	g.Go(func() error {
		res := <-d.Start(gctx)
		final = res.State
		time.AfterFunc(watchGrace, stopWatch)
		return res.Err
	})
	g.Go(func() error {
		_, err := bus.Watch(watchCtx, sub, logger, func(u bus.Update) error {
			return printUpdate(out, u, asJSON)
		})
		if errors.Is(err, context.Canceled) && gctx.Err() == nil {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return final, err
	}
	run := d.Run()
	logger.Info("run complete", "run_id", run.ID, "state", final.Kind, "status", run.Status, "duration", run.Duration())
	return final, nil
}

func buildProbe(cfg config.Config, logger *slog.Logger) validate.Probe {
	chain := validate.Chain{validate.Settle{Delay: cfg.Validation.Settle}}
	if cfg.Validation.Probe {
		chain = append(chain, validate.ClusterHealth{
			Endpoint: cfg.IndexEndpoint,
			Timeout:  cfg.Validation.Timeout,
			Logger:   logger.With("component", "probe"),
		})
	}
	return chain
}

// checkFinal turns anything but Available into an error so the process exit
// status reflects the outcome.
func checkFinal(final schema.State) error {
	switch final.Kind {
	case schema.StateAvailable:
		return nil
	case schema.StateFailure:
		return fmt.Errorf("pipeline failed: %s", final.Message)
	default:
		return fmt.Errorf("pipeline ended in %s", final.Kind)
	}
}
