// Package ledger defines the chain-facing contract used by the reconciler:
// object references, fixed-point prices and the classified ChainError.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// ErrPriceOutOfRange indicates a price that cannot be represented as u64 fixed point.
var ErrPriceOutOfRange = errors.New("price out of range")

// ObjectRef identifies the on-chain price object for a pair.
// Version 0 means the chain has not reported one.
type ObjectRef struct {
	Pair     string `json:"pair"`
	ObjectID string `json:"object_id"`
	Version  uint64 `json:"version,omitempty"`
	Digest   string `json:"digest,omitempty"`
}

// PairMetadata is what a create call needs to know about a pair.
type PairMetadata struct {
	Pair     string
	Symbol   string // on-chain symbol, defaults to Pair
	Decimals uint8
}

// Price is a fixed-point price ready for submission.
type Price struct {
	Value       uint64
	Decimals    uint8
	TimestampMs uint64
}

// String renders the fixed-point value with its decimals, e.g. "65000.000000".
func (p Price) String() string {
	v := new(big.Int).SetUint64(p.Value)
	return decimal.NewFromBigInt(v, -int32(p.Decimals)).StringFixed(int32(p.Decimals))
}

// UpdateResult is the outcome of a confirmed update.
type UpdateResult struct {
	Version    uint64
	Digest     string
	HasVersion bool
}

// Client creates and updates price objects on the ledger.
type Client interface {
	Create(ctx context.Context, meta PairMetadata, price Price) (ObjectRef, error)
	Update(ctx context.Context, ref ObjectRef, price Price) (UpdateResult, error)
}

// maxU64 is the largest value a Move u64 can hold.
var maxU64 = decimal.RequireFromString("18446744073709551615")

// ScalePrice converts a decimal price to fixed point with the given decimals.
// The value is truncated toward zero at `decimals` places, so re-scaling an unchanged
// price always yields the same integer.
func ScalePrice(price decimal.Decimal, decimals uint8, at time.Time) (Price, error) {
	if price.IsNegative() {
		return Price{}, fmt.Errorf("%w: negative price %s", ErrPriceOutOfRange, price)
	}
	scaled := price.Shift(int32(decimals)).Truncate(0)
	if scaled.GreaterThan(maxU64) {
		return Price{}, fmt.Errorf("%w: %s with %d decimals", ErrPriceOutOfRange, price, decimals)
	}
	ts := at.UnixMilli()
	if ts < 0 {
		ts = 0
	}
	return Price{
		Value:       scaled.BigInt().Uint64(),
		Decimals:    decimals,
		TimestampMs: uint64(ts),
	}, nil
}
