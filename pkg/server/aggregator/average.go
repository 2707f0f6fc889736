package aggregator

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/sui-oracle/pkg/logging"
	"github.com/StrathCole/sui-oracle/pkg/metrics"
	"github.com/StrathCole/sui-oracle/pkg/server/sources"
)

// AverageAggregator aggregates prices using the arithmetic mean, weighted per source.
type AverageAggregator struct {
	weights map[string]float64
	logger  *logging.Logger
}

var _ Aggregator = (*AverageAggregator)(nil)

// NewAverageAggregator creates a new average aggregator
func NewAverageAggregator(sourceWeights map[string]float64, logger *logging.Logger) *AverageAggregator {
	return &AverageAggregator{
		weights: sourceWeights,
		logger:  logger,
	}
}

// Aggregate computes the mean of the successful outcomes for pair.
func (a *AverageAggregator) Aggregate(pair string, outcomes []sources.Outcome, at time.Time) (AggregatedPrice, error) {
	start := time.Now()
	defer func() {
		metrics.RecordAggregation(ModeAverage, time.Since(start))
	}()

	prices := usable(outcomes, a.weights)
	if len(prices) == 0 {
		metrics.RecordAggregationGap(pair)
		return AggregatedPrice{}, fmt.Errorf("%w: %s (0/%d sources)", ErrNoData, pair, len(outcomes))
	}

	avg := computeAverage(prices)
	a.logger.Debug("Aggregated price using average", "pair", pair, "price", avg.String(), "sources", len(prices))

	return AggregatedPrice{
		Pair:      pair,
		Price:     avg,
		Sources:   len(prices),
		Used:      sourceNames(prices),
		Timestamp: at,
	}, nil
}

// computeAverage calculates the weighted arithmetic mean. With unit weights it is the plain mean.
func computeAverage(prices []priceWithSource) decimal.Decimal {
	sum := decimal.Zero
	totalWeight := decimal.Zero
	for _, p := range prices {
		w := decimal.NewFromFloat(p.weight)
		sum = sum.Add(p.price.Mul(w))
		totalWeight = totalWeight.Add(w)
	}
	return sum.Div(totalWeight)
}
