package oracle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/StrathCole/sui-oracle/pkg/feeder/client"
	"github.com/StrathCole/sui-oracle/pkg/feeder/keystore"
	"github.com/StrathCole/sui-oracle/pkg/feeder/ledger"
	"github.com/StrathCole/sui-oracle/pkg/feeder/tx"
	"github.com/StrathCole/sui-oracle/pkg/metrics"
)

const (
	// DefaultModule is the Move module holding PriceObject.
	DefaultModule = "price_oracle"

	createFunction = "create_price_object"
	updateFunction = "update_price"
	objectTypeName = "PriceObject"
)

// Executor runs a Move call. Satisfied by *tx.Broadcaster.
type Executor interface {
	Execute(ctx context.Context, call tx.MoveCall) (*tx.Execution, error)
	Sender() string
}

// ObjectReader reads the current state of an object. Satisfied by *client.Client.
type ObjectReader interface {
	GetObject(ctx context.Context, objectID string) (client.ObjectInfo, error)
}

// PriceObjects creates and updates PriceObjects through the price_oracle module.
type PriceObjects struct {
	exec      Executor
	reader    ObjectReader
	packageID string
	module    string
	logger    zerolog.Logger
}

var _ ledger.Client = (*PriceObjects)(nil)

// Config holds configuration for creating PriceObjects.
type Config struct {
	Executor  Executor
	Reader    ObjectReader
	PackageID string
	Module    string // defaults to price_oracle
	Logger    zerolog.Logger
}

// NewPriceObjects creates the price_oracle ledger client.
func NewPriceObjects(cfg Config) (*PriceObjects, error) {
	if cfg.PackageID == "" {
		return nil, fmt.Errorf("%w: package id", ErrMissingConfig)
	}
	if cfg.Executor == nil || cfg.Reader == nil {
		return nil, fmt.Errorf("%w: executor and object reader", ErrMissingConfig)
	}
	if cfg.Module == "" {
		cfg.Module = DefaultModule
	}
	return &PriceObjects{
		exec:      cfg.Executor,
		reader:    cfg.Reader,
		packageID: keystore.NormalizeAddress(cfg.PackageID),
		module:    cfg.Module,
		logger:    cfg.Logger.With().Str("component", "price_objects").Logger(),
	}, nil
}

// ObjectType returns the fully qualified PriceObject type.
func (p *PriceObjects) ObjectType() string {
	return fmt.Sprintf("%s::%s::%s", p.packageID, p.module, objectTypeName)
}

// Create calls create_price_object(symbol, price, timestamp_ms, decimals) and returns
// the created object owned by the sender.
func (p *PriceObjects) Create(ctx context.Context, meta ledger.PairMetadata, price ledger.Price) (ledger.ObjectRef, error) {
	started := time.Now()
	ref, err := p.create(ctx, meta, price)
	p.observe("create", started, err)
	return ref, err
}

func (p *PriceObjects) create(ctx context.Context, meta ledger.PairMetadata, price ledger.Price) (ledger.ObjectRef, error) {
	symbol := meta.Symbol
	if symbol == "" {
		symbol = meta.Pair
	}

	exec, err := p.exec.Execute(ctx, tx.MoveCall{
		PackageID: p.packageID,
		Module:    p.module,
		Function:  createFunction,
		Arguments: []interface{}{
			symbolBytes(symbol),
			strconv.FormatUint(price.Value, 10),
			strconv.FormatUint(price.TimestampMs, 10),
			meta.Decimals,
		},
	})
	if err != nil {
		return ledger.ObjectRef{}, p.classify("create", "", err)
	}

	sender := keystore.NormalizeAddress(p.exec.Sender())
	for _, c := range exec.Created() {
		if !p.isPriceObject(c.ObjectType) {
			continue
		}
		if c.Owner != "" && keystore.NormalizeAddress(c.Owner) != sender {
			continue
		}
		p.logger.Info().
			Str("pair", meta.Pair).
			Str("object_id", c.ObjectID).
			Uint64("version", c.Version).
			Str("tx_digest", exec.Digest).
			Msg("Created price object")
		return ledger.ObjectRef{
			Pair:     meta.Pair,
			ObjectID: c.ObjectID,
			Version:  c.Version,
			Digest:   c.Digest,
		}, nil
	}

	// The transaction went through, so retrying would create a second object.
	return ledger.ObjectRef{}, ledger.NewChainError(ledger.Fatal, "create",
		fmt.Errorf("%w: digest %s", ErrCreatedObjectNotFound, exec.Digest))
}

// Update checks the tracked object against the chain and calls
// update_price(object, price, timestamp_ms).
func (p *PriceObjects) Update(ctx context.Context, ref ledger.ObjectRef, price ledger.Price) (ledger.UpdateResult, error) {
	started := time.Now()
	res, err := p.update(ctx, ref, price)
	p.observe("update", started, err)
	return res, err
}

func (p *PriceObjects) update(ctx context.Context, ref ledger.ObjectRef, price ledger.Price) (ledger.UpdateResult, error) {
	if err := p.preflight(ctx, ref); err != nil {
		return ledger.UpdateResult{}, err
	}

	exec, err := p.exec.Execute(ctx, tx.MoveCall{
		PackageID: p.packageID,
		Module:    p.module,
		Function:  updateFunction,
		Arguments: []interface{}{
			ref.ObjectID,
			strconv.FormatUint(price.Value, 10),
			strconv.FormatUint(price.TimestampMs, 10),
		},
	})
	if err != nil {
		return ledger.UpdateResult{}, p.classify("update", ref.ObjectID, err)
	}

	var res ledger.UpdateResult
	m, ok := exec.Mutated(ref.ObjectID)
	if ok && m.Version > 0 {
		res = ledger.UpdateResult{Version: m.Version, Digest: m.Digest, HasVersion: true}
	}
	p.logger.Debug().
		Str("pair", ref.Pair).
		Str("object_id", ref.ObjectID).
		Uint64("previous_version", m.PreviousVersion).
		Uint64("version", res.Version).
		Str("tx_digest", exec.Digest).
		Msg("Updated price object")
	return res, nil
}

// preflight compares the tracked reference with the object on chain.
func (p *PriceObjects) preflight(ctx context.Context, ref ledger.ObjectRef) error {
	info, err := p.reader.GetObject(ctx, ref.ObjectID)
	switch {
	case errors.Is(err, client.ErrObjectNotFound), errors.Is(err, client.ErrObjectDeleted):
		return ledger.NewChainError(ledger.StaleReference, "update", err)
	case err != nil:
		return p.classify("update", ref.ObjectID, err)
	}

	if info.Type != "" && !p.isPriceObject(info.Type) {
		return ledger.NewChainError(ledger.StaleReference, "update",
			fmt.Errorf("%w: %s has type %s, want %s", ErrForeignObject, ref.ObjectID, info.Type, p.ObjectType()))
	}
	if info.Owner != "" && keystore.NormalizeAddress(info.Owner) != keystore.NormalizeAddress(p.exec.Sender()) {
		return ledger.NewChainError(ledger.StaleReference, "update",
			fmt.Errorf("%w: %s owned by %s", ErrForeignObject, ref.ObjectID, info.Owner))
	}
	switch {
	case ref.Version == 0 || info.Version == ref.Version:
	case info.Version > ref.Version:
		// Still ours, the registry missed an earlier version bump.
		p.logger.Info().
			Str("pair", ref.Pair).
			Str("object_id", ref.ObjectID).
			Uint64("tracked_version", ref.Version).
			Uint64("chain_version", info.Version).
			Msg("Tracked version behind chain, updating in place")
	default:
		return ledger.NewChainError(ledger.StaleReference, "update",
			fmt.Errorf("%w: %s tracked v%d, chain v%d", ErrVersionMismatch, ref.ObjectID, ref.Version, info.Version))
	}
	return nil
}

func (p *PriceObjects) isPriceObject(objectType string) bool {
	pkg, rest, ok := strings.Cut(objectType, "::")
	if !ok {
		return false
	}
	return keystore.NormalizeAddress(pkg)+"::"+rest == p.ObjectType()
}

var fatalMarkers = []string{
	"package object does not exist",
	"dependent package not found",
	"module not found",
	"function not found",
	"functionnotfound",
	"invalid user signature",
	"signature is not valid",
	"moveabort",
}

var staleMarkers = []string{
	"not available for consumption",
	"objectversionunavailableforconsumption",
	"deleted",
	"could not find the referenced object",
	"objectnotfound",
	"does not exist",
}

// classify maps an execution error to a chain error class.
func (p *PriceObjects) classify(op, objectID string, err error) error {
	var httpErr *client.HTTPError
	if errors.As(err, &httpErr) && httpErr.Unauthorized() {
		return ledger.NewChainError(ledger.Fatal, op, err)
	}
	if errors.Is(err, tx.ErrInvalidParameter) {
		return ledger.NewChainError(ledger.Fatal, op, err)
	}

	var rpcErr *client.RPCError
	nodeRejected := errors.As(err, &rpcErr) || errors.Is(err, tx.ErrExecutionFailed)
	if !nodeRejected {
		return ledger.NewChainError(ledger.Transient, op, err)
	}

	msg := strings.ToLower(err.Error())
	if objectID != "" && mentions(msg, objectID) && containsAny(msg, staleMarkers) {
		return ledger.NewChainError(ledger.StaleReference, op, err)
	}
	if containsAny(msg, fatalMarkers) {
		return ledger.NewChainError(ledger.Fatal, op, err)
	}
	return ledger.NewChainError(ledger.Transient, op, err)
}

func (p *PriceObjects) observe(op string, started time.Time, err error) {
	class := "success"
	if err != nil {
		class = ledger.Classify(err).String()
	}
	metrics.RecordChainSubmission(op, class, time.Since(started))
}

// mentions reports whether msg names the object in short or padded form.
func mentions(msg, objectID string) bool {
	id := strings.ToLower(objectID)
	return strings.Contains(msg, id) || strings.Contains(msg, keystore.NormalizeAddress(id))
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// symbolBytes encodes a symbol as a vector<u8> argument.
func symbolBytes(symbol string) []int {
	out := make([]int, len(symbol))
	for i := 0; i < len(symbol); i++ {
		out[i] = int(symbol[i])
	}
	return out
}
