// Package config provides configuration loading and validation for sui-oracle.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultDecimals is the fixed-point precision used when a pair does not set one.
	DefaultDecimals uint8 = 6
	// DefaultModule is the Move module holding create_price_object and update_price.
	DefaultModule = "price_oracle"
	// DefaultGasBudget is the gas budget per transaction in MIST.
	DefaultGasBudget uint64 = 100_000_000
	// DefaultRegistryPath is where the file registry lives when no path is set.
	DefaultRegistryPath = "known_price_objects.json"

	// BackendFile stores the registry as a JSON file.
	BackendFile = "file"
	// BackendRedis stores the registry in a Redis hash.
	BackendRedis = "redis"
)

// Load loads configuration from YAML file and environment variables.
func Load(path string) (*Config, error) {
	// Validate and sanitize path
	cleanPath := filepath.Clean(path)
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	data, err := os.ReadFile(absPath) // #nosec G304 -- Path sanitized with filepath.Clean and filepath.Abs
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration, expanding ${VAR} references first, and applies defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// applyDefaults sets default values for optional fields.
func applyDefaults(cfg *Config) {
	// Publisher defaults
	if cfg.Publisher.Interval.ToDuration() == 0 {
		cfg.Publisher.Interval = Duration(60 * time.Second)
	}
	if cfg.Publisher.FetchTimeout.ToDuration() == 0 {
		cfg.Publisher.FetchTimeout = Duration(10 * time.Second)
	}
	if cfg.Publisher.AggregateMode == "" {
		cfg.Publisher.AggregateMode = "average"
	}

	// Chain defaults
	if cfg.Chain.Module == "" {
		cfg.Chain.Module = DefaultModule
	}
	if cfg.Chain.GasBudget == 0 {
		cfg.Chain.GasBudget = DefaultGasBudget
	}
	if cfg.Chain.RequestTimeout.ToDuration() == 0 {
		cfg.Chain.RequestTimeout = Duration(15 * time.Second)
	}
	if cfg.Chain.SubmitTimeout.ToDuration() == 0 {
		cfg.Chain.SubmitTimeout = Duration(60 * time.Second)
	}

	// Registry defaults
	if cfg.Registry.Backend == "" {
		cfg.Registry.Backend = BackendFile
	}
	if cfg.Registry.Path == "" {
		cfg.Registry.Path = DefaultRegistryPath
	}

	// Status server defaults
	if cfg.Status.Enabled && cfg.Status.Addr == "" {
		cfg.Status.Addr = ":8080"
	}

	// Metrics defaults
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9091"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.File.MaxSize == 0 {
		cfg.Logging.File.MaxSize = 100
	}
}

// EnabledSources returns the sources with enabled set.
func (c *Config) EnabledSources() []SourceConfig {
	out := make([]SourceConfig, 0, len(c.Sources))
	for _, s := range c.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// SymbolOrPair returns the on-chain symbol for the pair.
func (p PairConfig) SymbolOrPair() string {
	if p.Symbol != "" {
		return p.Symbol
	}
	return p.Pair
}

// WeightOrDefault returns the aggregation weight, 1.0 when unset.
func (sc *SourceConfig) WeightOrDefault() float64 {
	if sc.Weight == 0 {
		return 1.0
	}
	return sc.Weight
}
