// Package sources provides quote source interfaces and implementations.
package sources

import (
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedStatus indicates an unexpected HTTP status code.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status code")
	// ErrRateLimitExceeded indicates that a rate limit has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrInvalidResponse indicates an invalid response from the source.
	ErrInvalidResponse = errors.New("invalid response")
	// ErrInvalidPrice indicates a non-positive or unparsable price.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrStalePrice indicates that a cached streaming price is too old to use.
	ErrStalePrice = errors.New("stale price")
	// ErrNoPriceYet indicates that a streaming source has not received the pair yet.
	ErrNoPriceYet = errors.New("no price received yet")
	// ErrUnsupportedPair indicates that the source is not configured for a pair.
	ErrUnsupportedPair = errors.New("pair not supported by source")
	// ErrSourceStopped indicates that the source has been stopped.
	ErrSourceStopped = errors.New("source stopped")
	// ErrInvalidConfig indicates that the source configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrNoPairsConfigured indicates that no pairs are configured.
	ErrNoPairsConfigured = errors.New("no pairs configured")
	// ErrInvalidSymbolFormat indicates that the symbol format is invalid.
	ErrInvalidSymbolFormat = errors.New("symbol must be in BASE/QUOTE format")
	// ErrEmptyBaseCurrency indicates that the symbol BASE currency cannot be empty.
	ErrEmptyBaseCurrency = errors.New("symbol BASE currency cannot be empty")
	// ErrEmptyQuoteCurrency indicates that the symbol QUOTE currency cannot be empty.
	ErrEmptyQuoteCurrency = errors.New("symbol QUOTE currency cannot be empty")
	// ErrUnknownSource indicates no factory is registered under the requested key.
	ErrUnknownSource = errors.New("unknown source")
)

// FetchError is a per-source failure. It excludes the source from aggregation for one cycle.
type FetchError struct {
	Source string
	Pair   string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Source, e.Pair, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError wraps err for the given source and pair.
func NewFetchError(source, pair string, err error) *FetchError {
	return &FetchError{Source: source, Pair: pair, Err: err}
}
