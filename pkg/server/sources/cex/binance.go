package cex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/sui-oracle/pkg/server/sources"
	ws "github.com/StrathCole/sui-oracle/pkg/server/sources/websocket"
)

const (
	binanceBaseURL = "https://api.binance.com"
	binanceWSURL   = "wss://stream.binance.com:9443"
	binanceMaxAge  = 30 * time.Second
)

// BinanceSource fetches prices from Binance, per request over REST or from a miniTicker stream cache.
type BinanceSource struct {
	*sources.BaseSource
	useWebSocket bool
	restFallback bool
	apiURL       string
	wsURL        string
	maxAge       time.Duration
	client       *http.Client
	wsClient     *ws.Client
}

// BinancePriceTicker is the /api/v3/ticker/price response.
type BinancePriceTicker struct {
	Symbol string `json:"symbol"` // e.g., "BTCUSDT"
	Price  string `json:"price"`
}

// BinanceMiniTickerMessage is a combined-stream 24hrMiniTicker event.
type BinanceMiniTickerMessage struct {
	Stream string `json:"stream"` // e.g. "btcusdt@miniTicker"
	Data   struct {
		EventType  string `json:"e"`
		EventTime  int64  `json:"E"` // milliseconds
		Symbol     string `json:"s"`
		ClosePrice string `json:"c"`
	} `json:"data"`
}

// NewBinanceSource creates a new Binance source (REST or WebSocket based on config)
func NewBinanceSource(config map[string]interface{}) (sources.Source, error) {
	logger := sources.GetLoggerFromConfig(config)

	pairs, err := sources.ParsePairsFromMap(config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pairs: %w", err)
	}

	base := sources.NewBaseSource("binance", sources.SourceTypeCEX, pairs, sources.ParseRateLimit(config), logger)

	source := &BinanceSource{
		BaseSource:   base,
		useWebSocket: sources.GetBool(config, "use_websocket", false),
		restFallback: sources.GetBool(config, "rest_fallback", true),
		apiURL:       strings.TrimRight(sources.GetString(config, "api_url", binanceBaseURL), "/"),
		wsURL:        strings.TrimRight(sources.GetString(config, "websocket_url", binanceWSURL), "/"),
		maxAge:       sources.GetDuration(config, "max_age", binanceMaxAge),
		client:       newHTTPClient(config),
	}

	if source.useWebSocket {
		source.wsClient = ws.NewClient(ws.Config{
			URL:    source.buildWebSocketURL(),
			Logger: base.Logger().ZerologLogger(),
		})
		source.wsClient.SetHandlers(
			source.handleWSMessage,
			source.handleWSConnect,
			source.handleWSDisconnect,
		)
	}

	return source, nil
}

// Initialize prepares the source for operation
func (s *BinanceSource) Initialize(ctx context.Context) error {
	s.Logger().Info("Initializing Binance source", "pairs", len(s.Symbols()), "websocket", s.useWebSocket)
	return nil
}

// Start connects the stream in WebSocket mode. REST mode fetches on demand.
func (s *BinanceSource) Start(ctx context.Context) error {
	if !s.useWebSocket {
		return nil
	}
	s.Logger().Info("Starting Binance source (WebSocket mode)")
	if err := s.wsClient.ConnectWithRetry(ctx); err != nil {
		return fmt.Errorf("failed to connect WebSocket: %w", err)
	}
	return nil
}

// Stop halts the source and cleans up resources
func (s *BinanceSource) Stop() error {
	s.Logger().Info("Stopping Binance source")
	if s.wsClient != nil {
		_ = s.wsClient.Close()
	}
	s.Close()
	return nil
}

// Fetch returns the current price for pair.
func (s *BinanceSource) Fetch(ctx context.Context, pair string) (q sources.Quote, err error) {
	started := time.Now()
	defer func() { s.Observe(pair, started, err) }()

	if s.useWebSocket {
		q, err = s.CachedQuote(pair, s.maxAge, time.Now())
		if err == nil || !s.restFallback {
			return q, err
		}
		s.Logger().Debug("Stream price unavailable, falling back to REST", "pair", pair, "error", err)
	}
	return s.fetchREST(ctx, pair)
}

func (s *BinanceSource) fetchREST(ctx context.Context, pair string) (sources.Quote, error) {
	symbol := s.GetSourceSymbol(pair)
	if symbol == "" {
		return sources.Quote{}, sources.ErrUnsupportedPair
	}
	if err := s.Wait(ctx); err != nil {
		return sources.Quote{}, err
	}

	endpoint := s.apiURL + "/api/v3/ticker/price?symbol=" + url.QueryEscape(strings.ToUpper(symbol))

	var ticker BinancePriceTicker
	if err := getJSON(ctx, s.client, endpoint, nil, &ticker); err != nil {
		return sources.Quote{}, err
	}

	price, err := decimal.NewFromString(ticker.Price)
	if err != nil {
		return sources.Quote{}, fmt.Errorf("%w: %q", sources.ErrInvalidPrice, ticker.Price)
	}

	now := time.Now()
	s.SetLastUpdate(now)
	return sources.Quote{Source: s.Name(), Pair: pair, Price: price, Timestamp: now}, nil
}

// buildWebSocketURL creates the combined stream URL for all configured symbols
func (s *BinanceSource) buildWebSocketURL() string {
	streams := make([]string, 0, len(s.Symbols()))
	for _, unified := range s.Symbols() {
		streams = append(streams, strings.ToLower(s.GetSourceSymbol(unified))+"@miniTicker")
	}
	return s.wsURL + "/stream?streams=" + strings.Join(streams, "/")
}

func (s *BinanceSource) handleWSMessage(message []byte) {
	var msg BinanceMiniTickerMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.Logger().Warn("Failed to unmarshal miniTicker message", "error", err)
		return
	}
	if err := s.processMiniTicker(&msg); err != nil {
		s.Logger().Warn("Failed to process miniTicker", "error", err)
	}
}

func (s *BinanceSource) handleWSConnect() {
	s.Logger().Info("Binance WebSocket connected")
	s.SetHealthy(true)
}

func (s *BinanceSource) handleWSDisconnect(err error) {
	s.Logger().Warn("Binance WebSocket disconnected", "error", err)
	s.SetHealthy(false)
}

func (s *BinanceSource) processMiniTicker(msg *BinanceMiniTickerMessage) error {
	unified := s.GetUnifiedSymbol(strings.ToUpper(msg.Data.Symbol))
	if unified == "" {
		unified = s.GetUnifiedSymbol(strings.ToLower(msg.Data.Symbol))
		if unified == "" {
			return nil
		}
	}

	price, err := decimal.NewFromString(msg.Data.ClosePrice)
	if err != nil {
		return fmt.Errorf("failed to parse price %s: %w", msg.Data.ClosePrice, err)
	}

	ts := time.Now()
	if msg.Data.EventTime > 0 {
		ts = time.UnixMilli(msg.Data.EventTime)
	}
	s.SetPrice(unified, price, ts)
	return nil
}
