package aggregator

import "errors"

var (
	// ErrNoData indicates that no source produced a quote for the pair this cycle.
	ErrNoData = errors.New("no data")
	// ErrUnknownMode indicates that the aggregation mode is unknown.
	ErrUnknownMode = errors.New("unknown aggregation mode")
)
