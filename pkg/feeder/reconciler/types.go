// Package reconciler decides, per pair and per cycle, whether to create or update
// the pair's on-chain price object and keeps the registry in step with the chain.
package reconciler

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/sui-oracle/pkg/feeder/ledger"
)

// State is a pair's registration state.
type State string

const (
	StateUnregistered State = "unregistered"
	StateRegistered   State = "registered"
)

// Action is what a reconciliation did for a pair.
type Action string

const (
	ActionCreated       Action = "created"
	ActionUpdated       Action = "updated"
	ActionSkippedNoData Action = "skipped_no_data"
	ActionRetrying      Action = "retrying"
	ActionDemoted       Action = "demoted"
	ActionFatal         Action = "fatal"
	ActionHalted        Action = "halted"
	ActionDryRun        Action = "dry_run"
)

// Pair is a tracked pair with its on-chain metadata.
type Pair struct {
	Name     string // unified pair, e.g. BTC/USD
	Symbol   string // on-chain symbol, defaults to Name
	Decimals uint8
}

func (p Pair) metadata() ledger.PairMetadata {
	symbol := p.Symbol
	if symbol == "" {
		symbol = p.Name
	}
	return ledger.PairMetadata{Pair: p.Name, Symbol: symbol, Decimals: p.Decimals}
}

// Registry is the subset of *registry.Registry the reconciler mutates.
type Registry interface {
	Lookup(pair string) (ledger.ObjectRef, bool)
	Record(ctx context.Context, pair string, ref ledger.ObjectRef) error
	Forget(ctx context.Context, pair string) error
}

// Result describes one pair's reconciliation in one cycle.
type Result struct {
	Pair     string          `json:"pair"`
	Action   Action          `json:"action"`
	From     State           `json:"from"`
	To       State           `json:"to"`
	Price    decimal.Decimal `json:"price"`
	Value    uint64          `json:"value,omitempty"` // fixed-point value submitted
	Sources  int             `json:"sources"`
	ObjectID string          `json:"object_id,omitempty"`
	Version  uint64          `json:"version,omitempty"`
	ErrClass string          `json:"error_class,omitempty"`
	Error    string          `json:"error,omitempty"`
	Err      error           `json:"-"`
}

func (r *Result) fail(class string, err error) {
	r.ErrClass = class
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
}
