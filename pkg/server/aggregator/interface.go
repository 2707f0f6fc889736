// Package aggregator combines per-source quotes into one consensus price per pair.
package aggregator

import (
	"fmt"
	"time"

	"github.com/StrathCole/sui-oracle/pkg/logging"
	"github.com/StrathCole/sui-oracle/pkg/server/sources"
)

const (
	// ModeAverage uses the (weighted) arithmetic mean of available quotes.
	ModeAverage = "average"
	// ModeMedian uses weighted median aggregation with outlier rejection.
	ModeMedian = "median"
)

// Aggregator defines the interface for price aggregation strategies.
type Aggregator interface {
	// Aggregate combines the successful outcomes for pair. Failed outcomes are ignored.
	// Returns ErrNoData when no outcome succeeded.
	Aggregate(pair string, outcomes []sources.Outcome, at time.Time) (AggregatedPrice, error)
}

// NewAggregator creates an aggregator based on the specified mode.
// sourceWeights maps source names to weights (1.0 = standard, 0.5 = half weight); nil means all 1.0.
func NewAggregator(mode string, sourceWeights map[string]float64, logger *logging.Logger) (Aggregator, error) {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	switch mode {
	case ModeAverage, "":
		return NewAverageAggregator(sourceWeights, logger), nil
	case ModeMedian:
		return NewMedianAggregator(sourceWeights, logger), nil
	default:
		return nil, fmt.Errorf("%w: %s (supported: average, median)", ErrUnknownMode, mode)
	}
}
