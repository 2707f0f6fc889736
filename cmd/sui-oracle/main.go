package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/StrathCole/sui-oracle/pkg/config"
	"github.com/StrathCole/sui-oracle/pkg/feeder/publisher"
	"github.com/StrathCole/sui-oracle/pkg/feeder/reconciler"
	"github.com/StrathCole/sui-oracle/pkg/feeder/registry"
	"github.com/StrathCole/sui-oracle/pkg/logging"
	"github.com/StrathCole/sui-oracle/pkg/metrics"
	"github.com/StrathCole/sui-oracle/pkg/server/aggregator"
	"github.com/StrathCole/sui-oracle/pkg/server/api"
	"github.com/StrathCole/sui-oracle/pkg/version"
)

const (
	exitOK     = 0
	exitSetup  = 1
	exitHalted = 2
)

var (
	configFile = flag.String("config", "config/config.yaml", "Path to configuration file")
	envFile    = flag.String("env-file", "", "Load environment variables from this .env file before reading the config")
	showVer    = flag.Bool("version", false, "Show version and exit")
	dryRun     = flag.Bool("dry-run", false, "Dry run mode: aggregate and log, but submit nothing and keep the registry untouched")
	once       = flag.Bool("once", false, "Run a single cycle and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("sui-oracle version %s\n", version.Version)
		os.Exit(exitOK)
	}

	os.Exit(run())
}

func run() int {
	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
			return exitSetup
		}
	} else {
		// A .env next to the binary is optional.
		_ = godotenv.Load()
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitSetup
	}
	if *dryRun {
		cfg.Publisher.DryRun = true
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return exitSetup
	}

	logger, err := logging.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, logging.FileOptions{
		Path:       cfg.Logging.File.Path,
		MaxSize:    cfg.Logging.File.MaxSize,
		MaxBackups: cfg.Logging.File.MaxBackups,
		MaxAge:     cfg.Logging.File.MaxAge,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return exitSetup
	}

	logger.Info("Starting sui-oracle",
		"version", version.Version,
		"pairs", len(cfg.Pairs),
		"interval", cfg.Publisher.Interval.ToDuration().String(),
		"dry_run", cfg.Publisher.DryRun)
	if cfg.Publisher.DryRun {
		logger.Warn("DRY RUN MODE ENABLED - prices will be aggregated but NOT submitted to the chain")
	}

	metricsOnStatus := cfg.Metrics.Enabled && cfg.Status.Enabled && cfg.Metrics.Addr == cfg.Status.Addr
	if cfg.Metrics.Enabled {
		metrics.Init()
		if !metricsOnStatus {
			go func() {
				logger.Info("Starting metrics server", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
				if err := metrics.ServeHTTP(cfg.Metrics.Addr, cfg.Metrics.Path); err != nil {
					logger.Error("Metrics server failed", "error", err)
				}
			}()
		}
	}

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srcs, weights, err := startSources(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start sources", "error", err)
		return exitSetup
	}
	defer stopSources(srcs, logger)

	agg, err := aggregator.NewAggregator(cfg.Publisher.AggregateMode, weights, logger.With("aggregator"))
	if err != nil {
		logger.Error("Failed to create aggregator", "error", err)
		return exitSetup
	}

	ledgerClient, err := buildLedger(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to set up chain client", "error", err)
		return exitSetup
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open registry store", "error", err)
		return exitSetup
	}
	defer closeStore()

	reg, err := registry.Open(ctx, store, logger.ZerologLogger())
	if err != nil {
		// Corrupt registries are fatal, never started empty.
		logger.Error("Failed to load object registry", "store", store.Describe(), "error", err)
		return exitSetup
	}

	rec := reconciler.New(reconciler.Config{
		Registry:      reg,
		Ledger:        ledgerClient,
		SubmitTimeout: cfg.Chain.SubmitTimeout.ToDuration(),
		DryRun:        cfg.Publisher.DryRun,
		Logger:        logger.ZerologLogger(),
	})

	var hub *api.StreamHub
	if cfg.Status.Enabled && cfg.Status.Stream {
		hub = api.NewStreamHub(logger.With("stream"))
		go hub.Run()
		defer hub.Stop()
	}

	pub, err := publisher.New(publisher.Config{
		Pairs:          pairsFromConfig(cfg.Pairs),
		Sources:        srcs,
		Aggregator:     agg,
		Reconciler:     rec,
		Flusher:        reg,
		Interval:       cfg.Publisher.Interval.ToDuration(),
		FetchTimeout:   cfg.Publisher.FetchTimeout.ToDuration(),
		MaxConcurrency: cfg.Publisher.MaxConcurrency,
		HaltOnFatal:    cfg.Publisher.ShouldHaltOnFatal(),
		OnCycle:        onCycle(hub),
		Logger:         logger.ZerologLogger(),
	})
	if err != nil {
		logger.Error("Failed to create publisher", "error", err)
		return exitSetup
	}

	if cfg.Status.Enabled {
		metricsPath := ""
		if metricsOnStatus {
			metricsPath = cfg.Metrics.Path
		}
		server := api.NewServer(api.Config{
			Addr:        cfg.Status.Addr,
			Registry:    reg,
			Status:      pub,
			Halts:       rec,
			Stream:      hub,
			MetricsPath: metricsPath,
			Logger:      logger.With("api"),
		})
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("Status server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := server.Stop(shutdownCtx); err != nil {
				logger.Warn("Status server shutdown failed", "error", err)
			}
		}()
	}

	code := exitOK
	if *once {
		report := pub.RunCycle(ctx)
		if fatal := report.FatalPairs(); len(fatal) > 0 {
			logger.Error("Cycle finished with fatal chain errors", "pairs", fatal)
			code = exitHalted
		}
	} else {
		err := pub.Start(ctx)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
			logger.Info("Received shutdown signal")
		case errors.Is(err, publisher.ErrFatalChain):
			logger.Error("Publisher halted", "error", err)
			code = exitHalted
		default:
			logger.Error("Publisher failed", "error", err)
			code = exitSetup
		}
	}

	if reg.Dirty() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := reg.Flush(flushCtx); err != nil {
			logger.Error("Final registry flush failed", "store", store.Describe(), "error", err)
		}
		flushCancel()
	}

	logger.Info("Shutdown complete")
	return code
}

func onCycle(hub *api.StreamHub) func(publisher.CycleReport) {
	if hub == nil {
		return nil
	}
	return hub.Publish
}

func pairsFromConfig(pairs []config.PairConfig) []reconciler.Pair {
	out := make([]reconciler.Pair, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, reconciler.Pair{
			Name:     p.Pair,
			Symbol:   p.SymbolOrPair(),
			Decimals: p.DecimalsOrDefault(),
		})
	}
	return out
}
