package cex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/sui-oracle/pkg/server/sources"
)

const coinbaseBaseURL = "https://api.exchange.coinbase.com"

// CoinbaseSource fetches prices from the Coinbase Exchange ticker endpoint.
type CoinbaseSource struct {
	*sources.BaseSource
	apiURL string
	client *http.Client
}

// CoinbaseTicker is the /products/{id}/ticker response. Only price is used.
type CoinbaseTicker struct {
	Price  string `json:"price"`
	Volume string `json:"volume"`
	Time   string `json:"time"`
}

// NewCoinbaseSource creates a Coinbase source. Pairs map to product ids such as "BTC-USD".
func NewCoinbaseSource(config map[string]interface{}) (sources.Source, error) {
	pairs, err := sources.ParsePairsFromMap(config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pairs: %w", err)
	}

	base := sources.NewBaseSource("coinbase", sources.SourceTypeCEX, pairs,
		sources.ParseRateLimit(config), sources.GetLoggerFromConfig(config))

	return &CoinbaseSource{
		BaseSource: base,
		apiURL:     strings.TrimRight(sources.GetString(config, "api_url", coinbaseBaseURL), "/"),
		client:     newHTTPClient(config),
	}, nil
}

// Initialize prepares the source for operation
func (s *CoinbaseSource) Initialize(ctx context.Context) error {
	s.Logger().Info("Initializing Coinbase source", "pairs", len(s.Symbols()))
	return nil
}

// Start is a no-op; quotes are fetched on demand.
func (s *CoinbaseSource) Start(ctx context.Context) error {
	return nil
}

// Stop halts the source
func (s *CoinbaseSource) Stop() error {
	s.Close()
	return nil
}

// Fetch returns the last trade price for pair.
func (s *CoinbaseSource) Fetch(ctx context.Context, pair string) (q sources.Quote, err error) {
	started := time.Now()
	defer func() { s.Observe(pair, started, err) }()

	product := s.GetSourceSymbol(pair)
	if product == "" {
		return sources.Quote{}, sources.ErrUnsupportedPair
	}
	if err := s.Wait(ctx); err != nil {
		return sources.Quote{}, err
	}

	endpoint := fmt.Sprintf("%s/products/%s/ticker", s.apiURL, url.PathEscape(product))

	var ticker CoinbaseTicker
	if err := getJSON(ctx, s.client, endpoint, nil, &ticker); err != nil {
		return sources.Quote{}, err
	}

	price, err := decimal.NewFromString(ticker.Price)
	if err != nil || !price.IsPositive() {
		return sources.Quote{}, fmt.Errorf("%w: %q", sources.ErrInvalidPrice, ticker.Price)
	}

	now := time.Now()
	s.SetLastUpdate(now)
	return sources.Quote{Source: s.Name(), Pair: pair, Price: price, Timestamp: now}, nil
}
