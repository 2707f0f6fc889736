package config

import "errors"

var (
	// ErrNoPairs indicates that no pairs are configured.
	ErrNoPairs = errors.New("at least one pair must be configured")
	// ErrPairRequired indicates a pair entry without a pair name.
	ErrPairRequired = errors.New("pair must be specified")
	// ErrDuplicatePair indicates that a pair is listed twice.
	ErrDuplicatePair = errors.New("duplicate pair")
	// ErrInvalidPairFormat indicates a pair that is not BASE/QUOTE.
	ErrInvalidPairFormat = errors.New("pair must be in BASE/QUOTE format")
	// ErrInvalidDecimals indicates decimals above what a u64 price can carry.
	ErrInvalidDecimals = errors.New("decimals must be between 0 and 18")
	// ErrNoSourcesConfigured indicates that no price sources are configured.
	ErrNoSourcesConfigured = errors.New("at least one price source must be configured")
	// ErrNoSourcesEnabled indicates that no sources are enabled.
	ErrNoSourcesEnabled = errors.New("no sources enabled")
	// ErrSourceTypeRequired indicates that source type is required.
	ErrSourceTypeRequired = errors.New("source type is required")
	// ErrSourceNameRequired indicates that source name is required.
	ErrSourceNameRequired = errors.New("source name is required")
	// ErrSourceWeightMustBeNonNegative indicates that source weight must be >= 0.
	ErrSourceWeightMustBeNonNegative = errors.New("weight must be >= 0")
	// ErrInvalidAggregateMode indicates that the aggregation mode is invalid.
	ErrInvalidAggregateMode = errors.New("invalid aggregate_mode")
	// ErrInvalidInterval indicates a non-positive publish interval.
	ErrInvalidInterval = errors.New("interval must be positive")
	// ErrInvalidConcurrency indicates a negative max_concurrency.
	ErrInvalidConcurrency = errors.New("max_concurrency must be >= 0")
	// ErrNoRPCEndpoints indicates that at least one rpc_endpoint must be specified.
	ErrNoRPCEndpoints = errors.New("at least one rpc_endpoint must be specified")
	// ErrInvalidRPCEndpoint indicates an endpoint that is not an http(s) URL.
	ErrInvalidRPCEndpoint = errors.New("rpc endpoint must be an http or https URL")
	// ErrPackageIDRequired indicates that package_id must be specified.
	ErrPackageIDRequired = errors.New("package_id must be specified")
	// ErrInvalidPackageID indicates a package id that is not a hex address.
	ErrInvalidPackageID = errors.New("package_id must be a 0x-prefixed hex address")
	// ErrKeyRequired indicates that neither key_env nor keystore_path is set.
	ErrKeyRequired = errors.New("either key_env or keystore_path must be specified")
	// ErrKeyEnvNotSet indicates that the key environment variable is empty.
	ErrKeyEnvNotSet = errors.New("key environment variable not set")
	// ErrInvalidRegistryBackend indicates an unknown registry backend.
	ErrInvalidRegistryBackend = errors.New("invalid registry backend")
	// ErrRedisAddrRequired indicates a redis backend without an address.
	ErrRedisAddrRequired = errors.New("registry.redis.addr must be specified")
	// ErrInvalidLogLevel indicates that the log level is invalid.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat indicates that the log format is invalid.
	ErrInvalidLogFormat = errors.New("invalid log format")
	// ErrLogFilePathRequired indicates file output without a file path.
	ErrLogFilePathRequired = errors.New("logging.file.path must be specified for file output")
)
