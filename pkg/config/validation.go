package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// maxDecimals keeps 10^decimals well inside u64.
const maxDecimals = 18

// Validate checks configuration for errors. Chain settings are not required in dry-run mode.
func Validate(cfg *Config) error {
	if err := validatePublisherConfig(&cfg.Publisher); err != nil {
		return fmt.Errorf("publisher config: %w", err)
	}

	if err := validatePairs(cfg.Pairs); err != nil {
		return fmt.Errorf("pairs: %w", err)
	}

	if len(cfg.Sources) == 0 {
		return ErrNoSourcesConfigured
	}
	for i, source := range cfg.Sources {
		if err := validateSourceConfig(&source); err != nil {
			return fmt.Errorf("source %d (%s.%s): %w", i, source.Type, source.Name, err)
		}
	}
	if len(cfg.EnabledSources()) == 0 {
		return ErrNoSourcesEnabled
	}

	if !cfg.Publisher.DryRun {
		if err := validateChainConfig(&cfg.Chain); err != nil {
			return fmt.Errorf("chain config: %w", err)
		}
	}

	if err := validateRegistryConfig(&cfg.Registry); err != nil {
		return fmt.Errorf("registry config: %w", err)
	}

	if err := validateLoggingConfig(&cfg.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

func validatePublisherConfig(cfg *PublisherConfig) error {
	mode := strings.ToLower(cfg.AggregateMode)
	if mode != "average" && mode != "median" {
		return fmt.Errorf("%w: %s (must be 'average' or 'median')", ErrInvalidAggregateMode, cfg.AggregateMode)
	}
	if cfg.Interval.ToDuration() <= 0 {
		return ErrInvalidInterval
	}
	if cfg.MaxConcurrency < 0 {
		return ErrInvalidConcurrency
	}
	return nil
}

func validatePairs(pairs []PairConfig) error {
	if len(pairs) == 0 {
		return ErrNoPairs
	}

	seen := make(map[string]bool, len(pairs))
	for i, p := range pairs {
		if p.Pair == "" {
			return fmt.Errorf("pair %d: %w", i, ErrPairRequired)
		}
		parts := strings.Split(p.Pair, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("%w: %s", ErrInvalidPairFormat, p.Pair)
		}
		if seen[p.Pair] {
			return fmt.Errorf("%w: %s", ErrDuplicatePair, p.Pair)
		}
		seen[p.Pair] = true

		if p.DecimalsOrDefault() > maxDecimals {
			return fmt.Errorf("%w: %s has %d", ErrInvalidDecimals, p.Pair, p.DecimalsOrDefault())
		}
	}
	return nil
}

func validateSourceConfig(cfg *SourceConfig) error {
	if cfg.Type == "" {
		return ErrSourceTypeRequired
	}
	if cfg.Name == "" {
		return ErrSourceNameRequired
	}
	if cfg.Weight < 0 {
		return ErrSourceWeightMustBeNonNegative
	}
	return nil
}

func validateChainConfig(cfg *ChainConfig) error {
	if len(cfg.RPCEndpoints) == 0 {
		return ErrNoRPCEndpoints
	}
	for i, ep := range cfg.RPCEndpoints {
		u, err := url.Parse(ep)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("rpc_endpoints[%d]: %w: %q", i, ErrInvalidRPCEndpoint, ep)
		}
	}

	if cfg.PackageID == "" {
		return ErrPackageIDRequired
	}
	if !isHexAddress(cfg.PackageID) {
		return fmt.Errorf("%w: %q", ErrInvalidPackageID, cfg.PackageID)
	}

	// Key material (either env or keystore file)
	switch {
	case cfg.KeyEnv != "":
		if os.Getenv(cfg.KeyEnv) == "" {
			return fmt.Errorf("%w: %s", ErrKeyEnvNotSet, cfg.KeyEnv)
		}
	case cfg.KeystorePath == "":
		return ErrKeyRequired
	}

	return nil
}

func validateRegistryConfig(cfg *RegistryConfig) error {
	switch strings.ToLower(cfg.Backend) {
	case BackendFile:
		return nil
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			return ErrRedisAddrRequired
		}
		return nil
	default:
		return fmt.Errorf("%w: %s (must be 'file' or 'redis')", ErrInvalidRegistryBackend, cfg.Backend)
	}
}

func validateLoggingConfig(cfg *LoggingConfig) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	levelValid := false
	for _, l := range validLevels {
		if strings.ToLower(cfg.Level) == l {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("%w: %s (must be one of: %s)", ErrInvalidLogLevel, cfg.Level, strings.Join(validLevels, ", "))
	}

	formatValid := strings.ToLower(cfg.Format) == "json" || strings.ToLower(cfg.Format) == "text"
	if !formatValid {
		return fmt.Errorf("%w: %s (must be 'json' or 'text')", ErrInvalidLogFormat, cfg.Format)
	}

	if cfg.Output == "file" && cfg.File.Path == "" {
		return ErrLogFilePathRequired
	}

	return nil
}

func isHexAddress(s string) bool {
	h, ok := strings.CutPrefix(s, "0x")
	if !ok || h == "" || len(h) > 64 {
		return false
	}
	if len(h)%2 == 1 {
		h = "0" + h
	}
	_, err := hex.DecodeString(h)
	return err == nil
}
