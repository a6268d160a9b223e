package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-harvest-books/config"
	"github.com/aluiziolira/go-harvest-books/handoff"
	"github.com/aluiziolira/go-harvest-books/harvest"
	"github.com/aluiziolira/go-harvest-books/logger"
	"github.com/aluiziolira/go-harvest-books/metrics"
	"github.com/aluiziolira/go-harvest-books/parser"
	"github.com/aluiziolira/go-harvest-books/pipeline"
	"github.com/aluiziolira/go-harvest-books/ratelimit"
	"github.com/aluiziolira/go-harvest-books/scraper"
	"github.com/aluiziolira/go-harvest-books/storage"
)

type app struct {
	out io.Writer

	configPath  string
	logLevel    string
	logFormat   string
	metricsAddr string

	cfg     *config.Config
	log     zerolog.Logger
	metrics *metrics.Metrics

	// transport replaces the fetcher's HTTP transport when set.
	transport http.RoundTripper
}

// needs lists the components a command opens.
type needs struct {
	store     bool
	handoff   bool
	harvester bool
}

func newApp(out io.Writer) *app {
	return &app{out: out, log: zerolog.Nop()}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "harvester",
		Short: "Harvest book search results into a relational store",
		Long: `harvester pages through a book search listing, keeps unique titles up
to a target count and upserts them into Postgres or SQLite.

The harvest and persist stages can run as separate processes; the batch is
handed over through the configured handoff backend.`,
		Example: `  # Create the books table
  harvester ensure-schema

  # Harvest 50 books and keep a CSV copy
  harvester harvest --count 50 --export output/books.csv

  # Upsert the last harvested batch
  harvester persist

  # All three stages in one process
  harvester run --count 50`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file (defaults to "+config.DefaultConfigFile+" when present)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format: auto, console, json")
	root.PersistentFlags().StringVar(&a.metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")

	root.AddCommand(
		a.ensureSchemaCmd(),
		a.harvestCmd(),
		a.persistCmd(),
		a.runCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = a.logFormat
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = a.metricsAddr
	}
	applyStageFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.NewWithWriter(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.log = log
	a.metrics = metrics.New()
	return nil
}

// execute opens what the command needs, runs fn and releases everything on
// every exit path.
func (a *app) execute(cmd *cobra.Command, n needs, fn func(ctx context.Context, r *pipeline.Runner) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := a.startMetricsServer()
	defer a.stopMetricsServer(srv)

	opts := pipeline.Options{
		Query:      a.cfg.Source.Query,
		Key:        a.cfg.Handoff.Key,
		ExportFile: a.cfg.Pipeline.ExportFile,
		Retry: pipeline.RetryPolicy{
			MaxRetries: a.cfg.Pipeline.MaxRetries,
			Backoff:    a.cfg.Pipeline.RetryBackoff,
			BackoffMax: a.cfg.Pipeline.RetryBackoffMax,
		},
		Metrics: a.metrics,
		Logger:  a.log,
	}

	if n.store {
		store, err := storage.Open(ctx, a.cfg.Database, storage.WithLogger(a.log))
		if err != nil {
			a.log.Error().Err(err).Str("driver", a.cfg.Database.Driver).Msg("open store")
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				a.log.Error().Err(err).Msg("close store")
			}
		}()
		opts.Store = store
	}

	if n.handoff {
		slot, err := handoff.New(a.cfg.Handoff, a.log)
		if err != nil {
			return err
		}
		opts.Handoff = slot
	}

	if n.harvester {
		h, err := a.newHarvester()
		if err != nil {
			return err
		}
		opts.Harvester = h
	}

	err := fn(ctx, pipeline.NewRunner(opts))

	if perr := a.metrics.Push(a.cfg.Metrics.PushGatewayURL, a.cfg.Metrics.JobName); perr != nil {
		a.log.Warn().Err(perr).Msg("metrics push failed")
	}
	return err
}

func (a *app) newHarvester() (*harvest.Harvester, error) {
	fetcher, err := scraper.NewFetcher(a.cfg.Source, a.metrics, a.log)
	if err != nil {
		return nil, err
	}
	if a.transport != nil {
		fetcher.SetTransport(a.transport)
	}

	return harvest.New(harvest.Options{
		Query:     a.cfg.Source.Query,
		MaxPages:  a.cfg.Harvest.MaxPages,
		Limiter:   ratelimit.NewJitter(a.cfg.RateLimit.MinDelay, a.cfg.RateLimit.MaxDelay),
		Fetcher:   fetcher,
		Extractor: parser.NewExtractor(a.cfg.Selectors, a.metrics, a.log),
		Metrics:   a.metrics,
		Logger:    a.log,
	})
}

func (a *app) startMetricsServer() *http.Server {
	if a.cfg.Metrics.Addr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           promhttp.HandlerFor(a.metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Msg("metrics server failed")
		}
	}()
	a.log.Info().Str("addr", a.cfg.Metrics.Addr).Msg("metrics server enabled")
	return srv
}

func (a *app) stopMetricsServer(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.log.Error().Err(err).Msg("metrics server shutdown failed")
	}
}

func (a *app) warnIfMemoryHandoff() {
	if a.cfg.Handoff.Backend == "memory" {
		a.log.Warn().Msg("memory handoff does not outlive this process; use the file backend to split harvest and persist")
	}
}
