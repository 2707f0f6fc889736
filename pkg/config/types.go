package config

import "time"

// Config is the root configuration structure
type Config struct {
	Publisher PublisherConfig `yaml:"publisher"`
	Pairs     []PairConfig    `yaml:"pairs"`
	Sources   []SourceConfig  `yaml:"sources"`
	Chain     ChainConfig     `yaml:"chain"`
	Registry  RegistryConfig  `yaml:"registry"`
	Status    StatusConfig    `yaml:"status"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// PublisherConfig configures the reconciliation loop
type PublisherConfig struct {
	Interval       Duration `yaml:"interval"`
	FetchTimeout   Duration `yaml:"fetch_timeout"`
	MaxConcurrency int      `yaml:"max_concurrency"` // 0 = one goroutine per pair
	AggregateMode  string   `yaml:"aggregate_mode"`  // average or median
	HaltOnFatal    *bool    `yaml:"halt_on_fatal"`   // nil defaults to true
	DryRun         bool     `yaml:"dry_run"`
}

// ShouldHaltOnFatal reports whether a fatal chain error stops the publisher.
func (p PublisherConfig) ShouldHaltOnFatal() bool {
	return p.HaltOnFatal == nil || *p.HaltOnFatal
}

// PairConfig describes one published pair
type PairConfig struct {
	Pair     string `yaml:"pair"`     // unified pair, e.g. "BTC/USD"
	Symbol   string `yaml:"symbol"`   // on-chain symbol, defaults to Pair
	Decimals *uint8 `yaml:"decimals"` // fixed-point decimals, defaults to 6
}

// DecimalsOrDefault returns the configured decimals or DefaultDecimals.
func (p PairConfig) DecimalsOrDefault() uint8 {
	if p.Decimals == nil {
		return DefaultDecimals
	}
	return *p.Decimals
}

// SourceConfig configures a price source
type SourceConfig struct {
	Type    string                 `yaml:"type"`
	Name    string                 `yaml:"name"`
	Enabled bool                   `yaml:"enabled"`
	Weight  float64                `yaml:"weight"` // 0 = 1.0
	Config  map[string]interface{} `yaml:"config"`
}

// ChainConfig configures the Sui connection and the price_oracle package
type ChainConfig struct {
	RPCEndpoints   []string `yaml:"rpc_endpoints"`   // tried in order with failover
	PackageID      string   `yaml:"package_id"`      // published price_oracle package
	Module         string   `yaml:"module"`          // defaults to price_oracle
	GasBudget      uint64   `yaml:"gas_budget"`      // MIST
	KeyEnv         string   `yaml:"key_env"`         // env var holding a base64 sui.keystore key
	KeystorePath   string   `yaml:"keystore_path"`   // sui.keystore file, used when key_env is empty
	KeyIndex       int      `yaml:"key_index"`       // index into the keystore file
	SignerAddress  string   `yaml:"signer_address"`  // optional sanity check against the derived address
	RequestTimeout Duration `yaml:"request_timeout"` // per JSON-RPC request
	SubmitTimeout  Duration `yaml:"submit_timeout"`  // per create/update, survives shutdown
}

// RegistryConfig configures where pair to object mappings are persisted
type RegistryConfig struct {
	Backend string      `yaml:"backend"` // file or redis
	Path    string      `yaml:"path"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis registry backend
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// StatusConfig configures the read-only status server
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Stream  bool   `yaml:"stream"` // mount /v1/stream
}

// MetricsConfig configures Prometheus metrics
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string        `yaml:"level"`
	Format string        `yaml:"format"`
	Output string        `yaml:"output"`
	File   LogFileConfig `yaml:"file"`
}

// LogFileConfig configures log file rotation
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// Duration is a wrapper around time.Duration for YAML parsing
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	td, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(td)
	return nil
}

// ToDuration converts Duration to time.Duration
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}
