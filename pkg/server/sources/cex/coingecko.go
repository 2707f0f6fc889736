package cex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/StrathCole/sui-oracle/pkg/server/sources"
)

const (
	coingeckoBaseURL    = "https://api.coingecko.com/api/v3"
	coingeckoProBaseURL = "https://pro-api.coingecko.com/api/v3"
	// Free API allows roughly 30 calls/minute; keep well below.
	coingeckoFreeRate = rate.Limit(0.25)
	coingeckoProRate  = rate.Limit(5)
)

// CoinGeckoSource fetches prices from the CoinGecko simple/price endpoint.
type CoinGeckoSource struct {
	*sources.BaseSource

	apiKey string
	apiURL string
	client *http.Client
}

// NewCoinGeckoSource creates a CoinGecko source. Pairs map to coin ids, e.g. "BTC/USD": "bitcoin".
func NewCoinGeckoSource(config map[string]interface{}) (sources.Source, error) {
	pairs, err := sources.ParsePairsFromMap(config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pairs: %w", err)
	}

	apiKey := sources.GetString(config, "api_key", "")
	apiURL := coingeckoBaseURL
	limit := coingeckoFreeRate
	if apiKey != "" {
		apiURL = coingeckoProBaseURL
		limit = coingeckoProRate
	}
	apiURL = strings.TrimRight(sources.GetString(config, "api_url", apiURL), "/")

	limiter := sources.ParseRateLimit(config)
	if _, set := config["rate_limit"]; !set {
		limiter = rate.NewLimiter(limit, 2)
	}

	base := sources.NewBaseSource("coingecko", sources.SourceTypeCEX, pairs, limiter, sources.GetLoggerFromConfig(config))

	return &CoinGeckoSource{
		BaseSource: base,
		apiKey:     apiKey,
		apiURL:     apiURL,
		client:     newHTTPClient(config),
	}, nil
}

// Initialize prepares the source for operation
func (s *CoinGeckoSource) Initialize(ctx context.Context) error {
	s.Logger().Info("Initializing CoinGecko source", "symbols", s.Symbols(), "has_api_key", s.apiKey != "")
	return nil
}

// Start is a no-op; quotes are fetched on demand.
func (s *CoinGeckoSource) Start(ctx context.Context) error {
	return nil
}

// Stop halts the source
func (s *CoinGeckoSource) Stop() error {
	s.Close()
	return nil
}

// Fetch returns the price of pair quoted in the pair's (normalized) quote currency.
func (s *CoinGeckoSource) Fetch(ctx context.Context, pair string) (q sources.Quote, err error) {
	started := time.Now()
	defer func() { s.Observe(pair, started, err) }()

	coinID := s.GetSourceSymbol(pair)
	if coinID == "" {
		return sources.Quote{}, sources.ErrUnsupportedPair
	}
	vs := strings.ToLower(strings.Split(sources.NormalizeSymbol(pair), "/")[1])

	if err := s.Wait(ctx); err != nil {
		return sources.Quote{}, err
	}

	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s", s.apiURL, url.QueryEscape(coinID), url.QueryEscape(vs))
	var header http.Header
	if s.apiKey != "" {
		header = http.Header{"x-cg-pro-api-key": []string{s.apiKey}}
	}

	var data map[string]map[string]decimal.Decimal
	if err := getJSON(ctx, s.client, endpoint, header, &data); err != nil {
		return sources.Quote{}, err
	}

	price, ok := data[coinID][vs]
	if !ok {
		return sources.Quote{}, fmt.Errorf("%w: no %s price for %s", sources.ErrInvalidResponse, vs, coinID)
	}

	now := time.Now()
	s.SetLastUpdate(now)
	return sources.Quote{Source: s.Name(), Pair: pair, Price: price, Timestamp: now}, nil
}
