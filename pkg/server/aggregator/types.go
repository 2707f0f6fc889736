package aggregator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/sui-oracle/pkg/server/sources"
)

// AggregatedPrice is the consensus price for one pair in one cycle. Never cached across cycles.
type AggregatedPrice struct {
	Pair      string          `json:"pair"`
	Price     decimal.Decimal `json:"price"`
	Sources   int             `json:"sources"`
	Used      []string        `json:"used"`
	Timestamp time.Time       `json:"timestamp"`
}

// priceWithSource tracks which source provided a price and its weight.
type priceWithSource struct {
	price  decimal.Decimal
	source string
	weight float64
}

// usable keeps successful outcomes with a positive weight.
func usable(outcomes []sources.Outcome, weights map[string]float64) []priceWithSource {
	out := make([]priceWithSource, 0, len(outcomes))
	for _, o := range outcomes {
		if !o.OK() {
			continue
		}
		weight := 1.0
		if w, ok := weights[o.Source]; ok {
			weight = w
		}
		if weight <= 0 {
			continue
		}
		out = append(out, priceWithSource{price: o.Quote.Price, source: o.Source, weight: weight})
	}
	return out
}

func sourceNames(prices []priceWithSource) []string {
	names := make([]string, 0, len(prices))
	for _, p := range prices {
		names = append(names, p.source)
	}
	return names
}
