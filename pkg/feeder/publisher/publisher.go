package publisher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/StrathCole/sui-oracle/pkg/feeder/reconciler"
	"github.com/StrathCole/sui-oracle/pkg/logging"
	"github.com/StrathCole/sui-oracle/pkg/metrics"
	"github.com/StrathCole/sui-oracle/pkg/server/aggregator"
	"github.com/StrathCole/sui-oracle/pkg/server/sources"
)

// Reconciler is satisfied by *reconciler.Reconciler.
type Reconciler interface {
	Reconcile(ctx context.Context, pair reconciler.Pair, agg *aggregator.AggregatedPrice) reconciler.Result
}

// Flusher retries registry writes that failed during a cycle. Satisfied by *registry.Registry.
type Flusher interface {
	Dirty() bool
	Flush(ctx context.Context) error
}

// CycleReport summarizes one pass over all pairs.
type CycleReport struct {
	ID       string                    `json:"id"`
	Started  time.Time                 `json:"started"`
	Duration time.Duration             `json:"duration"`
	Results  []reconciler.Result       `json:"results"`
	Counts   map[reconciler.Action]int `json:"counts"`
}

// FatalPairs returns the pairs that failed fatally in this cycle.
func (r CycleReport) FatalPairs() []string {
	var out []string
	for _, res := range r.Results {
		if res.Action == reconciler.ActionFatal {
			out = append(out, res.Pair)
		}
	}
	return out
}

// Publisher runs reconciliation cycles on a fixed interval.
type Publisher struct {
	pairs          []reconciler.Pair
	sources        []sources.Source
	aggregator     aggregator.Aggregator
	reconciler     Reconciler
	flusher        Flusher
	interval       time.Duration
	fetchTimeout   time.Duration
	maxConcurrency int
	haltOnFatal    bool
	onCycle        func(CycleReport)
	logger         zerolog.Logger
	now            func() time.Time

	mu   sync.RWMutex
	last *CycleReport
}

// Config holds configuration for creating a Publisher.
type Config struct {
	Pairs          []reconciler.Pair
	Sources        []sources.Source
	Aggregator     aggregator.Aggregator
	Reconciler     Reconciler
	Flusher        Flusher // optional
	Interval       time.Duration
	FetchTimeout   time.Duration
	MaxConcurrency int  // 0 means one goroutine per pair
	HaltOnFatal    bool // stop Start on the first fatal chain error
	OnCycle        func(CycleReport) // optional, called after every cycle
	Logger         zerolog.Logger
}

// New creates a publisher.
func New(cfg Config) (*Publisher, error) {
	if len(cfg.Pairs) == 0 {
		return nil, ErrNoPairs
	}
	if cfg.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if cfg.Reconciler == nil {
		return nil, ErrNoReconciler
	}
	if cfg.Aggregator == nil {
		cfg.Aggregator = aggregator.NewAverageAggregator(nil, logging.New(cfg.Logger))
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	return &Publisher{
		pairs:          cfg.Pairs,
		sources:        cfg.Sources,
		aggregator:     cfg.Aggregator,
		reconciler:     cfg.Reconciler,
		flusher:        cfg.Flusher,
		interval:       cfg.Interval,
		fetchTimeout:   cfg.FetchTimeout,
		maxConcurrency: cfg.MaxConcurrency,
		haltOnFatal:    cfg.HaltOnFatal,
		onCycle:        cfg.OnCycle,
		logger:         cfg.Logger.With().Str("component", "publisher").Logger(),
		now:            time.Now,
	}, nil
}

// Start runs a cycle immediately and then once per interval until ctx is done.
// Cycles never overlap; ticks missed while a cycle overran are dropped.
func (p *Publisher) Start(ctx context.Context) error {
	p.logger.Info().
		Int("pairs", len(p.pairs)).
		Int("sources", len(p.sources)).
		Dur("interval", p.interval).
		Bool("halt_on_fatal", p.haltOnFatal).
		Msg("Starting publish loop")

	if err := p.runOnce(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Publish loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := p.runOnce(ctx); err != nil {
				return err
			}
			p.dropMissedTick(ticker)
		}
	}
}

func (p *Publisher) runOnce(ctx context.Context) error {
	report := p.RunCycle(ctx)
	if !p.haltOnFatal {
		return nil
	}
	if fatal := report.FatalPairs(); len(fatal) > 0 {
		return fmt.Errorf("%w: %s", ErrFatalChain, strings.Join(fatal, ", "))
	}
	return nil
}

// dropMissedTick discards a tick that fired while the previous cycle was still running.
func (p *Publisher) dropMissedTick(ticker *time.Ticker) {
	select {
	case <-ticker.C:
		metrics.RecordCycleOverrun()
		p.logger.Warn().Dur("interval", p.interval).Msg("Cycle overran interval, skipping tick")
	default:
	}
}

// RunCycle fetches, aggregates and reconciles every pair once.
func (p *Publisher) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{
		ID:      uuid.NewString(),
		Started: p.now(),
		Results: make([]reconciler.Result, len(p.pairs)),
		Counts:  make(map[reconciler.Action]int),
	}
	logger := p.logger.With().Str("cycle_id", report.ID).Logger()
	logger.Debug().Msg("Cycle started")

	var g errgroup.Group
	if p.maxConcurrency > 0 {
		g.SetLimit(p.maxConcurrency)
	}
	for i, pair := range p.pairs {
		i, pair := i, pair
		g.Go(func() error {
			report.Results[i] = p.processPair(ctx, logger, pair, report.Started)
			return nil
		})
	}
	_ = g.Wait()

	if p.flusher != nil && p.flusher.Dirty() {
		if err := p.flusher.Flush(context.WithoutCancel(ctx)); err != nil {
			logger.Error().Err(err).Msg("Registry still not persisted")
		}
	}

	for _, res := range report.Results {
		report.Counts[res.Action]++
	}
	report.Duration = time.Since(report.Started)
	metrics.RecordCycle(report.Duration)

	p.logSummary(logger, report)

	p.mu.Lock()
	p.last = &report
	p.mu.Unlock()

	if p.onCycle != nil {
		p.onCycle(report)
	}
	return report
}

func (p *Publisher) processPair(ctx context.Context, logger zerolog.Logger, pair reconciler.Pair, at time.Time) reconciler.Result {
	outcomes := sources.FetchAll(ctx, p.sources, pair.Name, p.fetchTimeout)
	for _, o := range outcomes {
		if !o.OK() {
			logger.Warn().Str("pair", pair.Name).Str("source", o.Source).Err(o.Err).Msg("Source fetch failed")
		}
	}

	var agg *aggregator.AggregatedPrice
	price, err := p.aggregator.Aggregate(pair.Name, outcomes, at)
	switch {
	case err == nil:
		agg = &price
		f, _ := price.Price.Float64()
		metrics.RecordAggregatedPrice(pair.Name, f)
	case errors.Is(err, aggregator.ErrNoData):
		logger.Warn().
			Str("pair", pair.Name).
			Int("sources_queried", len(outcomes)).
			Msg("No quotes for pair, skipping")
	default:
		logger.Error().Str("pair", pair.Name).Err(err).Msg("Aggregation failed, skipping")
	}

	return p.reconciler.Reconcile(ctx, pair, agg)
}

func (p *Publisher) logSummary(logger zerolog.Logger, report CycleReport) {
	actions := make([]string, 0, len(report.Counts))
	for a := range report.Counts {
		actions = append(actions, string(a))
	}
	sort.Strings(actions)

	dict := zerolog.Dict()
	for _, a := range actions {
		dict = dict.Int(a, report.Counts[reconciler.Action(a)])
	}

	logger.Info().
		Int("pairs", len(report.Results)).
		Dict("actions", dict).
		Dur("took", report.Duration).
		Msg("Cycle completed")
}

// LastReport returns the most recent cycle report.
func (p *Publisher) LastReport() (CycleReport, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return CycleReport{}, false
	}
	return *p.last, true
}

// Pairs returns the configured pairs.
func (p *Publisher) Pairs() []reconciler.Pair {
	out := make([]reconciler.Pair, len(p.pairs))
	copy(out, p.pairs)
	return out
}
