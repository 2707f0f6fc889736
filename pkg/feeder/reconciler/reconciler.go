package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/StrathCole/sui-oracle/pkg/feeder/ledger"
	"github.com/StrathCole/sui-oracle/pkg/feeder/registry"
	"github.com/StrathCole/sui-oracle/pkg/metrics"
	"github.com/StrathCole/sui-oracle/pkg/server/aggregator"
)

// DefaultSubmitTimeout bounds a chain call plus the registry write that follows it.
const DefaultSubmitTimeout = 60 * time.Second

// Reconciler maps aggregated prices onto price objects.
type Reconciler struct {
	registry      Registry
	ledger        ledger.Client
	submitTimeout time.Duration
	dryRun        bool
	logger        zerolog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	haltMu sync.RWMutex
	halted map[string]error
}

// Config holds configuration for creating a Reconciler.
type Config struct {
	Registry      Registry
	Ledger        ledger.Client
	SubmitTimeout time.Duration
	DryRun        bool // results are reported but never recorded
	Logger        zerolog.Logger
}

// New creates a reconciler.
func New(cfg Config) *Reconciler {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}
	return &Reconciler{
		registry:      cfg.Registry,
		ledger:        cfg.Ledger,
		submitTimeout: cfg.SubmitTimeout,
		dryRun:        cfg.DryRun,
		logger:        cfg.Logger.With().Str("component", "reconciler").Logger(),
		locks:         make(map[string]*sync.Mutex),
		halted:        make(map[string]error),
	}
}

// Reconcile runs one transition for pair. A nil agg is an aggregation gap: the
// pair is skipped with no chain call and no registry change.
//
// Chain calls and the registry write after them run on a context that ignores
// cancellation of ctx and is bounded by the submit timeout, so a confirmed
// mutation is always recorded. Once ctx is done no new call is started.
func (r *Reconciler) Reconcile(ctx context.Context, pair Pair, agg *aggregator.AggregatedPrice) Result {
	lock := r.lockFor(pair.Name)
	lock.Lock()
	defer lock.Unlock()

	ref, registered := r.registry.Lookup(pair.Name)
	res := Result{Pair: pair.Name, From: stateOf(registered), To: stateOf(registered)}
	if registered {
		res.ObjectID = ref.ObjectID
		res.Version = ref.Version
	}

	r.reconcile(ctx, pair, agg, ref, registered, &res)

	metrics.RecordReconcile(pair.Name, string(res.Action))
	r.log(res)
	return res
}

func (r *Reconciler) reconcile(ctx context.Context, pair Pair, agg *aggregator.AggregatedPrice, ref ledger.ObjectRef, registered bool, res *Result) {
	if agg == nil {
		res.Action = ActionSkippedNoData
		return
	}
	res.Price = agg.Price
	res.Sources = agg.Sources

	if err := r.HaltReason(pair.Name); err != nil {
		res.Action = ActionHalted
		res.fail(ledger.Fatal.String(), err)
		return
	}

	price, err := ledger.ScalePrice(agg.Price, pair.Decimals, agg.Timestamp)
	if err != nil {
		res.Action = ActionRetrying
		res.fail("price", err)
		return
	}
	res.Value = price.Value

	if err := ctx.Err(); err != nil {
		res.Action = ActionRetrying
		res.fail(ledger.Transient.String(), err)
		return
	}

	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.submitTimeout)
	defer cancel()

	if registered {
		r.update(submitCtx, pair, ref, price, res)
	} else {
		r.create(submitCtx, pair, price, res)
	}
}

// create handles Unregistered -> Registered. A failed create never writes the registry.
func (r *Reconciler) create(ctx context.Context, pair Pair, price ledger.Price, res *Result) {
	newRef, err := r.ledger.Create(ctx, pair.metadata(), price)
	if err != nil {
		r.chainFailure(pair.Name, err, res)
		return
	}
	newRef.Pair = pair.Name

	res.ObjectID = newRef.ObjectID
	res.Version = newRef.Version
	if r.dryRun {
		res.Action = ActionDryRun
		return
	}

	err = r.registry.Record(ctx, pair.Name, newRef)
	switch {
	case err == nil:
		res.Action = ActionCreated
		res.To = StateRegistered
	case errors.Is(err, registry.ErrPersist):
		// Held in memory; the registry retries the flush.
		res.Action = ActionCreated
		res.To = StateRegistered
		res.fail("persist", err)
	default:
		// The object exists on chain but cannot be tracked; stop before creating more.
		r.halt(pair.Name, err)
		res.Action = ActionFatal
		res.fail(ledger.Fatal.String(), fmt.Errorf("created %s but could not record it: %w", newRef.ObjectID, err))
	}
}

// update handles Registered -> Registered, demoting on a stale reference.
func (r *Reconciler) update(ctx context.Context, pair Pair, ref ledger.ObjectRef, price ledger.Price, res *Result) {
	upd, err := r.ledger.Update(ctx, ref, price)
	if err != nil {
		if ledger.IsStale(err) {
			r.demote(ctx, pair.Name, err, res)
			return
		}
		r.chainFailure(pair.Name, err, res)
		return
	}

	if r.dryRun {
		res.Action = ActionDryRun
		return
	}
	res.Action = ActionUpdated

	if !upd.HasVersion || upd.Version == ref.Version {
		return
	}
	next := ref
	next.Version = upd.Version
	if upd.Digest != "" {
		next.Digest = upd.Digest
	}
	res.Version = next.Version
	if err := r.registry.Record(ctx, pair.Name, next); err != nil {
		res.fail("persist", err)
	}
}

func (r *Reconciler) demote(ctx context.Context, pair string, cause error, res *Result) {
	res.Action = ActionDemoted
	res.fail(ledger.StaleReference.String(), cause)
	if r.dryRun {
		return
	}

	err := r.registry.Forget(ctx, pair)
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrPersist):
		res.fail(ledger.StaleReference.String(), errors.Join(cause, err))
	default:
		res.Action = ActionRetrying
		res.fail(ledger.StaleReference.String(), errors.Join(cause, err))
		return
	}
	res.To = StateUnregistered
}

func (r *Reconciler) chainFailure(pair string, err error, res *Result) {
	class := ledger.Classify(err)
	res.fail(class.String(), err)
	if class == ledger.Fatal {
		r.halt(pair, err)
		res.Action = ActionFatal
		return
	}
	res.Action = ActionRetrying
}

// HaltReason returns the fatal error that stopped pair, or nil.
func (r *Reconciler) HaltReason(pair string) error {
	r.haltMu.RLock()
	defer r.haltMu.RUnlock()
	return r.halted[pair]
}

// HaltedPairs returns the halted pairs and their errors.
func (r *Reconciler) HaltedPairs() map[string]error {
	r.haltMu.RLock()
	defer r.haltMu.RUnlock()
	out := make(map[string]error, len(r.halted))
	for k, v := range r.halted {
		out[k] = v
	}
	return out
}

func (r *Reconciler) halt(pair string, err error) {
	r.haltMu.Lock()
	defer r.haltMu.Unlock()
	r.halted[pair] = err
}

func (r *Reconciler) lockFor(pair string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[pair]
	if !ok {
		l = &sync.Mutex{}
		r.locks[pair] = l
	}
	return l
}

func (r *Reconciler) log(res Result) {
	var event *zerolog.Event
	switch res.Action {
	case ActionCreated, ActionUpdated, ActionSkippedNoData, ActionDryRun:
		event = r.logger.Info()
		if res.Err != nil {
			event = r.logger.Warn()
		}
	case ActionRetrying, ActionDemoted:
		event = r.logger.Warn()
	default:
		event = r.logger.Error()
	}

	event = event.
		Str("pair", res.Pair).
		Str("action", string(res.Action)).
		Str("from", string(res.From)).
		Str("to", string(res.To)).
		Int("sources", res.Sources)
	if res.Action != ActionSkippedNoData {
		event = event.Str("price", res.Price.String())
	}
	if res.ObjectID != "" {
		event = event.Str("object_id", res.ObjectID).Uint64("version", res.Version)
	}
	if res.Err != nil {
		event = event.Str("error_class", res.ErrClass).Err(res.Err)
	}
	event.Msg("Pair reconciled")
}

func stateOf(registered bool) State {
	if registered {
		return StateRegistered
	}
	return StateUnregistered
}
