package sources

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SourceType represents the type of price source
type SourceType string

const (
	SourceTypeCEX SourceType = "cex"
)

// Price is the latest cached price for a symbol, kept by streaming sources.
type Price struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
}

// Quote is one source's price for one pair in one cycle. Never persisted.
type Quote struct {
	Source    string          `json:"source"`
	Pair      string          `json:"pair"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Outcome is the tagged result of a single fetch: either a Quote or an error.
type Outcome struct {
	Source string
	Pair   string
	Quote  Quote
	Err    error
}

// OK reports whether the fetch produced a usable quote.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Succeeded builds a successful outcome.
func Succeeded(q Quote) Outcome {
	return Outcome{Source: q.Source, Pair: q.Pair, Quote: q}
}

// Failed builds a failed outcome.
func Failed(source, pair string, err error) Outcome {
	return Outcome{Source: source, Pair: pair, Err: err}
}

// Source defines the interface that all price sources must implement
type Source interface {
	// Initialize prepares the source for operation
	Initialize(ctx context.Context) error

	// Start begins background work (streams); REST sources may no-op
	Start(ctx context.Context) error

	// Stop halts the source and cleans up resources
	Stop() error

	// Fetch returns the current price of a unified pair (e.g. "BTC/USD")
	Fetch(ctx context.Context, pair string) (Quote, error)

	// Supports reports whether the source is configured for the pair
	Supports(pair string) bool

	// Name returns the unique name of this source
	Name() string

	// Type returns the type of this source
	Type() SourceType

	// Symbols returns the list of symbols this source provides
	Symbols() []string

	// IsHealthy returns whether the source is currently healthy
	IsHealthy() bool

	// LastUpdate returns the timestamp of the last successful update
	LastUpdate() time.Time
}

// SourceFactory is a function that creates a new Source instance
type SourceFactory func(config map[string]interface{}) (Source, error)
