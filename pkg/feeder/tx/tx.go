package tx

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/StrathCole/sui-oracle/pkg/feeder/client"
	"github.com/StrathCole/sui-oracle/pkg/feeder/keystore"
)

const (
	// DefaultGasBudget is the gas budget for oracle calls in MIST.
	DefaultGasBudget uint64 = 100_000_000
	// MinGasUnits is the smallest budget, in reference gas price units, the network accepts.
	MinGasUnits uint64 = 1_000
)

// Broadcaster handles transaction construction, signing, and execution.
// Execute calls are serialized, since the node picks the sender's gas coin per build.
type Broadcaster struct {
	mu        sync.Mutex
	client    *client.Client
	signer    *keystore.Signer
	gasBudget uint64
	logger    zerolog.Logger
}

// BroadcasterConfig holds configuration for creating a Broadcaster.
type BroadcasterConfig struct {
	Client    *client.Client
	Signer    *keystore.Signer
	GasBudget uint64
	Logger    zerolog.Logger
}

// NewBroadcaster creates a new transaction broadcaster.
func NewBroadcaster(cfg BroadcasterConfig) *Broadcaster {
	if cfg.GasBudget == 0 {
		cfg.GasBudget = DefaultGasBudget
	}
	return &Broadcaster{
		client:    cfg.Client,
		signer:    cfg.Signer,
		gasBudget: cfg.GasBudget,
		logger:    cfg.Logger,
	}
}

// Sender returns the address transactions are built for.
func (b *Broadcaster) Sender() string {
	return b.signer.Address()
}

// ReferenceGasPrice fetches the network reference gas price and logs whether
// the configured budget covers at least MinGasUnits at that price.
func (b *Broadcaster) ReferenceGasPrice(ctx context.Context) (uint64, error) {
	price, err := b.client.GetReferenceGasPrice(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch reference gas price: %w", err)
	}

	event := b.logger.Info()
	if price > 0 && gasUnits(b.gasBudget, price) < MinGasUnits {
		event = b.logger.Warn()
	}
	event.
		Uint64("reference_gas_price", price).
		Uint64("gas_budget", b.gasBudget).
		Uint64("budget_units", gasUnits(b.gasBudget, price)).
		Msg("Reference gas price")
	return price, nil
}

func gasUnits(budget, price uint64) uint64 {
	if price == 0 {
		return 0
	}
	return budget / price
}

// MoveCall describes a single entry function call.
type MoveCall struct {
	PackageID     string
	Module        string
	Function      string
	TypeArguments []string
	Arguments     []interface{}
}

// ObjectChange is one entry of the execution's objectChanges list.
type ObjectChange struct {
	Kind            string // created, mutated, deleted, ...
	ObjectID        string
	ObjectType      string
	Owner           string
	Version         uint64
	PreviousVersion uint64
	Digest          string
}

// Execution is the parsed result of an executed transaction.
type Execution struct {
	Digest  string
	Status  string
	Error   string
	Changes []ObjectChange
}

// Created returns the created object changes.
func (e *Execution) Created() []ObjectChange {
	return e.filter("created")
}

// Mutated returns the mutated object with the given id, if any.
func (e *Execution) Mutated(objectID string) (ObjectChange, bool) {
	for _, c := range e.filter("mutated") {
		if keystore.NormalizeAddress(c.ObjectID) == keystore.NormalizeAddress(objectID) {
			return c, true
		}
	}
	return ObjectChange{}, false
}

func (e *Execution) filter(kind string) []ObjectChange {
	var out []ObjectChange
	for _, c := range e.Changes {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Execute builds the call through the node, signs it and waits for local execution.
//
// Returns the parsed execution if it succeeded, or an error if:
// - the node refused to build the call
// - signing failed
// - the node refused to execute the transaction
// - the transaction executed with a failure status (ErrExecutionFailed)
func (b *Broadcaster) Execute(ctx context.Context, call MoveCall) (*Execution, error) {
	if call.PackageID == "" || call.Module == "" || call.Function == "" {
		return nil, fmt.Errorf("%w: package, module and function are required", ErrInvalidParameter)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	started := time.Now()
	txBytes, err := b.client.MoveCall(ctx, client.MoveCallRequest{
		Signer:        b.signer.Address(),
		PackageID:     call.PackageID,
		Module:        call.Module,
		Function:      call.Function,
		TypeArguments: call.TypeArguments,
		Arguments:     call.Arguments,
		GasBudget:     b.gasBudget,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build %s::%s: %w", call.Module, call.Function, err)
	}

	sig, err := b.signer.SignTransaction(txBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	b.logger.Debug().
		Str("function", call.Module+"::"+call.Function).
		Str("sender", b.signer.Address()).
		Uint64("gas_budget", b.gasBudget).
		Int("tx_bytes", len(txBytes)).
		Msg("Executing transaction")

	result, err := b.client.ExecuteTransactionBlock(ctx, txBytes, []string{sig})
	if err != nil {
		return nil, fmt.Errorf("failed to execute transaction: %w", err)
	}

	exec, err := ParseExecution(result)
	if err != nil {
		return nil, err
	}

	if exec.Status != "success" {
		return exec, fmt.Errorf("%w: digest=%s: %s", ErrExecutionFailed, exec.Digest, exec.Error)
	}

	b.logger.Info().
		Str("digest", exec.Digest).
		Str("function", call.Module+"::"+call.Function).
		Int("object_changes", len(exec.Changes)).
		Dur("took", time.Since(started)).
		Msg("Transaction executed")

	return exec, nil
}

// ParseExecution extracts digest, status and object changes from a
// sui_executeTransactionBlock result.
func ParseExecution(result gjson.Result) (*Execution, error) {
	status := result.Get("effects.status")
	if !status.Exists() {
		return nil, fmt.Errorf("%w: missing effects.status", ErrMalformedEffects)
	}

	exec := &Execution{
		Digest: result.Get("digest").String(),
		Status: status.Get("status").String(),
		Error:  status.Get("error").String(),
	}

	for _, ch := range result.Get("objectChanges").Array() {
		exec.Changes = append(exec.Changes, ObjectChange{
			Kind:            ch.Get("type").String(),
			ObjectID:        ch.Get("objectId").String(),
			ObjectType:      ch.Get("objectType").String(),
			Owner:           ch.Get("owner.AddressOwner").String(),
			Version:         parseVersion(ch.Get("version")),
			PreviousVersion: parseVersion(ch.Get("previousVersion")),
			Digest:          ch.Get("digest").String(),
		})
	}
	return exec, nil
}

// parseVersion accepts versions encoded as strings or numbers.
func parseVersion(v gjson.Result) uint64 {
	if !v.Exists() {
		return 0
	}
	if v.Type == gjson.String {
		n, err := strconv.ParseUint(v.String(), 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return v.Uint()
}
