package sources

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/StrathCole/sui-oracle/pkg/logging"
	"github.com/StrathCole/sui-oracle/pkg/metrics"
)

// BaseSource provides common functionality for all price sources
type BaseSource struct {
	name       string
	sourcetype SourceType
	symbols    []string
	pairs      map[string]string // unified symbol -> source-specific symbol mapping
	prices     map[string]Price
	pricesMu   sync.RWMutex
	lastUpdate time.Time
	updateMu   sync.RWMutex
	healthy    bool
	healthMu   sync.RWMutex
	limiter    *rate.Limiter
	stopChan   chan struct{}
	stopOnce   sync.Once
	logger     *logging.Logger
}

// NewBaseSource creates a new base source with pair mappings
// pairs: map of unified symbol (e.g., "BTC/USDT") -> source-specific symbol (e.g., "BTCUSDT")
// A nil limiter means unlimited.
func NewBaseSource(name string, sourcetype SourceType, pairs map[string]string, limiter *rate.Limiter, logger *logging.Logger) *BaseSource {
	symbols := make([]string, 0, len(pairs))
	for unifiedSymbol := range pairs {
		symbols = append(symbols, unifiedSymbol)
	}
	sort.Strings(symbols)

	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if logger == nil {
		logger = logging.NewNoopLogger()
	}

	return &BaseSource{
		name:       name,
		sourcetype: sourcetype,
		symbols:    symbols,
		pairs:      pairs,
		prices:     make(map[string]Price),
		limiter:    limiter,
		stopChan:   make(chan struct{}),
		logger:     logger.With("source." + name),
	}
}

// Name returns the source name
func (b *BaseSource) Name() string {
	return b.name
}

// Type returns the source type
func (b *BaseSource) Type() SourceType {
	return b.sourcetype
}

// Symbols returns the symbols this source provides
func (b *BaseSource) Symbols() []string {
	return b.symbols
}

// IsHealthy returns the health status
func (b *BaseSource) IsHealthy() bool {
	b.healthMu.RLock()
	defer b.healthMu.RUnlock()
	return b.healthy
}

// SetHealthy sets the health status
func (b *BaseSource) SetHealthy(healthy bool) {
	b.healthMu.Lock()
	b.healthy = healthy
	b.healthMu.Unlock()
	metrics.RecordSourceHealth(b.name, string(b.sourcetype), healthy)
}

// LastUpdate returns the time of the last successful price update
func (b *BaseSource) LastUpdate() time.Time {
	b.updateMu.RLock()
	defer b.updateMu.RUnlock()
	return b.lastUpdate
}

// SetLastUpdate sets the last update time
func (b *BaseSource) SetLastUpdate(t time.Time) {
	b.updateMu.Lock()
	defer b.updateMu.Unlock()
	b.lastUpdate = t
}

// GetPrice returns the cached price for a unified symbol
func (b *BaseSource) GetPrice(symbol string) (Price, bool) {
	b.pricesMu.RLock()
	defer b.pricesMu.RUnlock()
	price, ok := b.prices[symbol]
	return price, ok
}

// SetPrice caches a price for a unified symbol
func (b *BaseSource) SetPrice(symbol string, price decimal.Decimal, timestamp time.Time) {
	b.pricesMu.Lock()
	b.prices[symbol] = Price{
		Symbol:    symbol,
		Price:     price,
		Timestamp: timestamp,
		Source:    b.name,
	}
	b.pricesMu.Unlock()
	b.SetLastUpdate(timestamp)
}

// CachedQuote serves a quote from the streaming cache, rejecting entries older than maxAge.
func (b *BaseSource) CachedQuote(pair string, maxAge time.Duration, now time.Time) (Quote, error) {
	unified, ok := b.resolve(pair)
	if !ok {
		return Quote{}, ErrUnsupportedPair
	}
	p, ok := b.GetPrice(unified)
	if !ok {
		return Quote{}, ErrNoPriceYet
	}
	if maxAge > 0 && now.Sub(p.Timestamp) > maxAge {
		return Quote{}, fmt.Errorf("%w: age %s", ErrStalePrice, now.Sub(p.Timestamp).Round(time.Millisecond))
	}
	return Quote{Source: b.name, Pair: pair, Price: p.Price, Timestamp: p.Timestamp}, nil
}

// StopChan returns the stop channel
func (b *BaseSource) StopChan() <-chan struct{} {
	return b.stopChan
}

// Close closes the stop channel
func (b *BaseSource) Close() {
	b.stopOnce.Do(func() { close(b.stopChan) })
}

// Logger returns the logger
func (b *BaseSource) Logger() *logging.Logger {
	return b.logger
}

// Wait blocks until the source's rate limiter allows another request.
func (b *BaseSource) Wait(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRateLimitExceeded, err)
	}
	return nil
}

// Supports reports whether a configured symbol serves the pair, directly or via normalization.
func (b *BaseSource) Supports(pair string) bool {
	_, ok := b.resolve(pair)
	return ok
}

// GetSourceSymbol converts a unified pair to the source-specific symbol.
// "BTC/USD" matches a configured "BTC/USDT" mapping through NormalizeSymbol.
// Returns empty string if not found.
func (b *BaseSource) GetSourceSymbol(pair string) string {
	unified, ok := b.resolve(pair)
	if !ok {
		return ""
	}
	return b.pairs[unified]
}

// GetUnifiedSymbol finds the unified symbol for a source-specific symbol
// Returns empty string if not found
func (b *BaseSource) GetUnifiedSymbol(sourceSymbol string) string {
	for _, unified := range b.symbols {
		if b.pairs[unified] == sourceSymbol {
			return unified
		}
	}
	return ""
}

// GetAllPairs returns a copy of the pair mappings
func (b *BaseSource) GetAllPairs() map[string]string {
	pairs := make(map[string]string, len(b.pairs))
	for k, v := range b.pairs {
		pairs[k] = v
	}
	return pairs
}

// Observe records the result of one fetch in health state and metrics.
func (b *BaseSource) Observe(pair string, started time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordSourceFetch(b.name, pair, status, time.Since(started))
	b.SetHealthy(err == nil)
}

// resolve returns the configured unified key serving pair. symbols is sorted so the match is stable.
func (b *BaseSource) resolve(pair string) (string, bool) {
	if _, ok := b.pairs[pair]; ok {
		return pair, true
	}
	for _, unified := range b.symbols {
		if IsEquivalentSymbol(unified, pair) {
			return unified, true
		}
	}
	return "", false
}
