package aggregator

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/sui-oracle/pkg/logging"
	"github.com/StrathCole/sui-oracle/pkg/metrics"
	"github.com/StrathCole/sui-oracle/pkg/server/sources"
)

const (
	// OutlierThreshold is the fractional deviation from the median that counts as an outlier.
	OutlierThreshold = 0.10
)

// MedianAggregator aggregates prices using a weighted median and rejects outliers.
type MedianAggregator struct {
	weights map[string]float64
	logger  *logging.Logger
}

var _ Aggregator = (*MedianAggregator)(nil)

// NewMedianAggregator creates a new median aggregator.
func NewMedianAggregator(sourceWeights map[string]float64, logger *logging.Logger) *MedianAggregator {
	return &MedianAggregator{
		weights: sourceWeights,
		logger:  logger,
	}
}

// Aggregate computes the median of the successful outcomes for pair after dropping outliers.
func (a *MedianAggregator) Aggregate(pair string, outcomes []sources.Outcome, at time.Time) (AggregatedPrice, error) {
	start := time.Now()
	defer func() {
		metrics.RecordAggregation(ModeMedian, time.Since(start))
	}()

	prices := usable(outcomes, a.weights)
	if len(prices) == 0 {
		metrics.RecordAggregationGap(pair)
		return AggregatedPrice{}, fmt.Errorf("%w: %s (0/%d sources)", ErrNoData, pair, len(outcomes))
	}

	sort.Slice(prices, func(i, j int) bool {
		return prices[i].price.LessThan(prices[j].price)
	})

	filtered := a.rejectOutliers(pair, prices)
	med := weightedMedian(filtered)

	return AggregatedPrice{
		Pair:      pair,
		Price:     med,
		Sources:   len(filtered),
		Used:      sourceNames(filtered),
		Timestamp: at,
	}, nil
}

// rejectOutliers drops prices deviating more than OutlierThreshold from the initial median.
// If everything would be dropped the input is returned unchanged.
func (a *MedianAggregator) rejectOutliers(pair string, prices []priceWithSource) []priceWithSource {
	if len(prices) < 3 {
		return prices
	}

	initial := weightedMedian(prices)
	if initial.IsZero() {
		return prices
	}
	threshold := decimal.NewFromFloat(OutlierThreshold)

	filtered := make([]priceWithSource, 0, len(prices))
	for _, p := range prices {
		deviation := p.price.Sub(initial).Abs().Div(initial)
		if deviation.GreaterThan(threshold) {
			a.logger.Debug("Rejecting outlier",
				"pair", pair,
				"source", p.source,
				"price", p.price.String(),
				"median", initial.String(),
				"deviation_pct", deviation.Mul(decimal.NewFromInt(100)).StringFixed(2))
			metrics.RecordOutlierRejection(pair)
			continue
		}
		filtered = append(filtered, p)
	}

	if len(filtered) == 0 {
		a.logger.Warn("All prices rejected as outliers, using all", "pair", pair, "count", len(prices))
		return prices
	}
	return filtered
}

// weightedMedian returns the price where cumulative weight reaches half the total.
// prices must be sorted ascending.
func weightedMedian(prices []priceWithSource) decimal.Decimal {
	n := len(prices)
	if n == 1 {
		return prices[0].price
	}

	totalWeight := 0.0
	for _, p := range prices {
		totalWeight += p.weight
	}

	target := totalWeight / 2.0
	cumulative := 0.0
	for i, p := range prices {
		cumulative += p.weight
		if cumulative >= target {
			if cumulative == target && i+1 < n {
				return p.price.Add(prices[i+1].price).Div(decimal.NewFromInt(2))
			}
			return p.price
		}
	}
	return prices[n/2].price
}
