package aggregator

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/sui-oracle/pkg/logging"
	"github.com/StrathCole/sui-oracle/pkg/server/sources"
)

func ok(source, pair, price string) sources.Outcome {
	return sources.Succeeded(sources.Quote{
		Source:    source,
		Pair:      pair,
		Price:     decimal.RequireFromString(price),
		Timestamp: time.Now(),
	})
}

func failed(source, pair string) sources.Outcome {
	return sources.Failed(source, pair, errors.New("timeout"))
}

func TestNewAggregator(t *testing.T) {
	logger := logging.NewNoopLogger()

	agg, err := NewAggregator("", nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &AverageAggregator{}, agg)

	agg, err = NewAggregator(ModeMedian, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &MedianAggregator{}, agg)

	_, err = NewAggregator("tvwap", nil, logger)
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestAverageAggregator(t *testing.T) {
	agg := NewAverageAggregator(nil, logging.NewNoopLogger())
	at := time.Unix(1700000000, 0)

	tests := []struct {
		name     string
		outcomes []sources.Outcome
		want     string
		count    int
	}{
		{
			name:     "two sources agree",
			outcomes: []sources.Outcome{ok("binance", "BTC/USD", "65000"), ok("coinbase", "BTC/USD", "65000")},
			want:     "65000",
			count:    2,
		},
		{
			name:     "mean of two",
			outcomes: []sources.Outcome{ok("binance", "BTC/USD", "64990"), ok("coinbase", "BTC/USD", "65010")},
			want:     "65000",
			count:    2,
		},
		{
			name:     "partial failure uses the remainder",
			outcomes: []sources.Outcome{failed("binance", "BTC/USD"), ok("coinbase", "BTC/USD", "65001.5")},
			want:     "65001.5",
			count:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := agg.Aggregate("BTC/USD", tt.outcomes, at)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got.Price), "got %s", got.Price)
			assert.Equal(t, tt.count, got.Sources)
			assert.Equal(t, "BTC/USD", got.Pair)
			assert.Equal(t, at, got.Timestamp)
		})
	}
}

func TestAverageAggregator_Weights(t *testing.T) {
	agg := NewAverageAggregator(map[string]float64{"a": 3, "b": 1, "c": 0}, logging.NewNoopLogger())

	got, err := agg.Aggregate("ETH/USD", []sources.Outcome{
		ok("a", "ETH/USD", "100"),
		ok("b", "ETH/USD", "200"),
		ok("c", "ETH/USD", "9999"),
	}, time.Now())
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(125).Equal(got.Price), "got %s", got.Price)
	assert.ElementsMatch(t, []string{"a", "b"}, got.Used)
}

func TestAggregators_NoData(t *testing.T) {
	for _, mode := range []string{ModeAverage, ModeMedian} {
		t.Run(mode, func(t *testing.T) {
			agg, err := NewAggregator(mode, nil, nil)
			require.NoError(t, err)

			_, err = agg.Aggregate("ETH/USD", []sources.Outcome{failed("binance", "ETH/USD"), failed("coinbase", "ETH/USD")}, time.Now())
			assert.ErrorIs(t, err, ErrNoData)

			_, err = agg.Aggregate("ETH/USD", nil, time.Now())
			assert.ErrorIs(t, err, ErrNoData)
		})
	}
}

func TestMedianAggregator_RejectsOutlier(t *testing.T) {
	agg := NewMedianAggregator(nil, logging.NewNoopLogger())

	got, err := agg.Aggregate("BTC/USD", []sources.Outcome{
		ok("a", "BTC/USD", "65000"),
		ok("b", "BTC/USD", "65100"),
		ok("c", "BTC/USD", "90000"),
	}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, got.Sources)
	assert.True(t, decimal.NewFromInt(65050).Equal(got.Price), "got %s", got.Price)
}

func TestMedianAggregator_SingleAndPair(t *testing.T) {
	agg := NewMedianAggregator(nil, logging.NewNoopLogger())

	got, err := agg.Aggregate("SUI/USD", []sources.Outcome{ok("a", "SUI/USD", "1.25")}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "1.25", got.Price.String())

	got, err = agg.Aggregate("SUI/USD", []sources.Outcome{ok("a", "SUI/USD", "1"), ok("b", "SUI/USD", "2")}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "1.5", got.Price.String())
}
