package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/StrathCole/sui-oracle/pkg/config"
	"github.com/StrathCole/sui-oracle/pkg/feeder/client"
	"github.com/StrathCole/sui-oracle/pkg/feeder/keystore"
	"github.com/StrathCole/sui-oracle/pkg/feeder/ledger"
	"github.com/StrathCole/sui-oracle/pkg/feeder/oracle"
	"github.com/StrathCole/sui-oracle/pkg/feeder/registry"
	"github.com/StrathCole/sui-oracle/pkg/feeder/tx"
	"github.com/StrathCole/sui-oracle/pkg/logging"
	"github.com/StrathCole/sui-oracle/pkg/server/sources"

	// Import sources to register them
	_ "github.com/StrathCole/sui-oracle/pkg/server/sources/cex"
)

// startSources creates, initializes and starts every enabled source. A source that fails
// to come up is skipped; at least one must start.
func startSources(ctx context.Context, cfg *config.Config, logger *logging.Logger) ([]sources.Source, map[string]float64, error) {
	var started []sources.Source
	weights := make(map[string]float64)

	for _, sourceCfg := range cfg.EnabledSources() {
		logger.Info("Initializing source", "type", sourceCfg.Type, "name", sourceCfg.Name, "weight", sourceCfg.WeightOrDefault())

		// Add logger to config so sources don't create their own
		if sourceCfg.Config == nil {
			sourceCfg.Config = make(map[string]interface{})
		}
		sourceCfg.Config["logger"] = logger.With(sourceCfg.Type + "." + sourceCfg.Name)

		source, err := sources.Create(sourceCfg.Type, sourceCfg.Name, sourceCfg.Config)
		if err != nil {
			logger.Warn("Failed to create source", "type", sourceCfg.Type, "name", sourceCfg.Name, "error", err)
			continue
		}
		if err := source.Initialize(ctx); err != nil {
			logger.Warn("Failed to initialize source", "source", source.Name(), "error", err)
			continue
		}
		if err := source.Start(ctx); err != nil {
			logger.Warn("Failed to start source", "source", source.Name(), "error", err)
			continue
		}

		started = append(started, source)
		weights[source.Name()] = sourceCfg.WeightOrDefault()
		logger.Info("Source started", "source", source.Name(), "symbols", source.Symbols())
	}

	if len(started) == 0 {
		return nil, nil, fmt.Errorf("no sources available (registered: %s)", strings.Join(sources.List(), ", "))
	}

	for _, p := range cfg.Pairs {
		if !anySupports(started, p.Pair) {
			logger.Warn("No source supports pair, it will be skipped every cycle", "pair", p.Pair)
		}
	}

	return started, weights, nil
}

func anySupports(srcs []sources.Source, pair string) bool {
	for _, s := range srcs {
		if s.Supports(pair) {
			return true
		}
	}
	return false
}

func stopSources(srcs []sources.Source, logger *logging.Logger) {
	for _, s := range srcs {
		if err := s.Stop(); err != nil {
			logger.Warn("Failed to stop source", "source", s.Name(), "error", err)
		}
	}
}

// buildLedger returns the chain client. Dry-run mode never touches the chain.
func buildLedger(ctx context.Context, cfg *config.Config, logger *logging.Logger) (ledger.Client, error) {
	zl := logger.ZerologLogger()
	if cfg.Publisher.DryRun {
		return ledger.NewDryRun(zl), nil
	}

	signer, err := loadSigner(&cfg.Chain)
	if err != nil {
		return nil, err
	}
	if err := signer.VerifyAddress(cfg.Chain.SignerAddress); err != nil {
		return nil, err
	}
	logger.Info("Loaded oracle account", "address", signer.Address())

	rpc, err := client.NewClient(client.Config{
		Endpoints: cfg.Chain.RPCEndpoints,
		Timeout:   cfg.Chain.RequestTimeout.ToDuration(),
		Logger:    zl,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client: %w", err)
	}
	logger.Info("Using Sui RPC endpoints", "endpoints", cfg.Chain.RPCEndpoints)

	broadcaster := tx.NewBroadcaster(tx.BroadcasterConfig{
		Client:    rpc,
		Signer:    signer,
		GasBudget: cfg.Chain.GasBudget,
		Logger:    zl,
	})

	gasCtx, cancel := context.WithTimeout(ctx, cfg.Chain.RequestTimeout.ToDuration())
	defer cancel()
	if _, err := broadcaster.ReferenceGasPrice(gasCtx); err != nil {
		logger.Warn("Could not read reference gas price", "error", err)
	}

	return oracle.NewPriceObjects(oracle.Config{
		Executor:  broadcaster,
		Reader:    rpc,
		PackageID: cfg.Chain.PackageID,
		Module:    cfg.Chain.Module,
		Logger:    zl,
	})
}

func loadSigner(cfg *config.ChainConfig) (*keystore.Signer, error) {
	if cfg.KeyEnv != "" {
		key := os.Getenv(cfg.KeyEnv)
		if key == "" {
			return nil, fmt.Errorf("environment variable %s not set", cfg.KeyEnv)
		}
		signer, err := keystore.ParseKey(key)
		if err != nil {
			return nil, fmt.Errorf("key from %s: %w", cfg.KeyEnv, err)
		}
		return signer, nil
	}
	return keystore.LoadKeystoreFile(cfg.KeystorePath, cfg.KeyIndex)
}

// openStore returns the configured registry backend and a close function.
func openStore(ctx context.Context, cfg *config.Config) (registry.Store, func(), error) {
	switch strings.ToLower(cfg.Registry.Backend) {
	case config.BackendRedis:
		store, err := registry.NewRedisStore(ctx, registry.RedisConfig{
			Addr:     cfg.Registry.Redis.Addr,
			Password: cfg.Registry.Redis.Password,
			DB:       cfg.Registry.Redis.DB,
			Key:      cfg.Registry.Redis.Key,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return registry.NewFileStore(cfg.Registry.Path), func() {}, nil
	}
}
