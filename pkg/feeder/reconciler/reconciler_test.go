package reconciler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/sui-oracle/pkg/feeder/ledger"
	"github.com/StrathCole/sui-oracle/pkg/feeder/registry"
	"github.com/StrathCole/sui-oracle/pkg/server/aggregator"
)

var (
	btc = Pair{Name: "BTC/USD", Decimals: 6}
	eth = Pair{Name: "ETH/USD", Decimals: 6}

	cycleTime = time.UnixMilli(1700000000000)
)

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Create(ctx context.Context, meta ledger.PairMetadata, price ledger.Price) (ledger.ObjectRef, error) {
	args := m.Called(ctx, meta, price)
	return args.Get(0).(ledger.ObjectRef), args.Error(1)
}

func (m *mockLedger) Update(ctx context.Context, ref ledger.ObjectRef, price ledger.Price) (ledger.UpdateResult, error) {
	args := m.Called(ctx, ref, price)
	return args.Get(0).(ledger.UpdateResult), args.Error(1)
}

type fixture struct {
	path   string
	reg    *registry.Registry
	ledger *mockLedger
	rec    *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.json")
	reg, err := registry.Open(context.Background(), registry.NewFileStore(path), zerolog.Nop())
	require.NoError(t, err)

	l := &mockLedger{}
	return &fixture{
		path:   path,
		reg:    reg,
		ledger: l,
		rec:    New(Config{Registry: reg, Ledger: l, SubmitTimeout: time.Second, Logger: zerolog.Nop()}),
	}
}

func (f *fixture) seed(t *testing.T, pair string, ref ledger.ObjectRef) {
	t.Helper()
	require.NoError(t, f.reg.Record(context.Background(), pair, ref))
}

func (f *fixture) fileBytes(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile(f.path)
	require.NoError(t, err)
	return data
}

func agg(pair, price string, sources int) *aggregator.AggregatedPrice {
	return &aggregator.AggregatedPrice{
		Pair:      pair,
		Price:     decimal.RequireFromString(price),
		Sources:   sources,
		Timestamp: cycleTime,
	}
}

func scaled(value uint64) ledger.Price {
	return ledger.Price{Value: value, Decimals: 6, TimestampMs: uint64(cycleTime.UnixMilli())}
}

func TestReconcile_UnregisteredCreatesOnce(t *testing.T) {
	f := newFixture(t)
	f.ledger.On("Create", mock.Anything, ledger.PairMetadata{Pair: "BTC/USD", Symbol: "BTC/USD", Decimals: 6}, scaled(65000000000)).
		Return(ledger.ObjectRef{ObjectID: "0xb7c", Version: 1}, nil).Once()

	res := f.rec.Reconcile(context.Background(), btc, agg("BTC/USD", "65000", 2))

	assert.Equal(t, ActionCreated, res.Action)
	assert.Equal(t, StateUnregistered, res.From)
	assert.Equal(t, StateRegistered, res.To)
	assert.NoError(t, res.Err)

	ref, ok := f.reg.Lookup("BTC/USD")
	require.True(t, ok)
	assert.Equal(t, ledger.ObjectRef{Pair: "BTC/USD", ObjectID: "0xb7c", Version: 1}, ref)

	f.ledger.AssertExpectations(t)
	f.ledger.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcile_RegisteredUpdatesNeverCreates(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "BTC/USD", ledger.ObjectRef{ObjectID: "0xb7c", Version: 3})

	f.ledger.On("Update", mock.Anything, ledger.ObjectRef{Pair: "BTC/USD", ObjectID: "0xb7c", Version: 3}, scaled(65100500000)).
		Return(ledger.UpdateResult{Version: 4, Digest: "D4", HasVersion: true}, nil).Once()

	res := f.rec.Reconcile(context.Background(), btc, agg("BTC/USD", "65100.5", 2))

	assert.Equal(t, ActionUpdated, res.Action)
	assert.Equal(t, StateRegistered, res.To)
	assert.Equal(t, uint64(4), res.Version)

	ref, ok := f.reg.Lookup("BTC/USD")
	require.True(t, ok)
	assert.Equal(t, "0xb7c", ref.ObjectID, "object id unchanged")
	assert.Equal(t, uint64(4), ref.Version)
	assert.Equal(t, "D4", ref.Digest)

	f.ledger.AssertExpectations(t)
	f.ledger.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcile_UpdateWithoutVersionLeavesRegistry(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "BTC/USD", ledger.ObjectRef{ObjectID: "0xb7c", Version: 3})
	before := f.fileBytes(t)

	f.ledger.On("Update", mock.Anything, mock.Anything, mock.Anything).Return(ledger.UpdateResult{}, nil).Once()

	res := f.rec.Reconcile(context.Background(), btc, agg("BTC/USD", "65000", 1))
	assert.Equal(t, ActionUpdated, res.Action)
	assert.Equal(t, before, f.fileBytes(t))
}

func TestReconcile_FailedCreateLeavesNoEntry(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantAction Action
	}{
		{name: "transient", err: ledger.NewChainError(ledger.Transient, "create", errors.New("timeout")), wantAction: ActionRetrying},
		{name: "untyped", err: errors.New("connection reset"), wantAction: ActionRetrying},
		{name: "fatal", err: ledger.NewChainError(ledger.Fatal, "create", errors.New("package not found")), wantAction: ActionFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.ledger.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(ledger.ObjectRef{}, tt.err).Once()

			res := f.rec.Reconcile(context.Background(), btc, agg("BTC/USD", "65000", 2))
			assert.Equal(t, tt.wantAction, res.Action)
			assert.Equal(t, StateUnregistered, res.To)
			assert.ErrorIs(t, res.Err, tt.err)

			_, ok := f.reg.Lookup("BTC/USD")
			assert.False(t, ok)
			_, statErr := os.Stat(f.path)
			assert.True(t, os.IsNotExist(statErr), "nothing persisted")
		})
	}
}

func TestReconcile_TransientUpdateKeepsEntryByteIdentical(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "BTC/USD", ledger.ObjectRef{ObjectID: "0xb7c", Version: 3, Digest: "D3"})
	refBefore, _ := f.reg.Lookup("BTC/USD")
	fileBefore := f.fileBytes(t)

	f.ledger.On("Update", mock.Anything, mock.Anything, mock.Anything).
		Return(ledger.UpdateResult{}, ledger.NewChainError(ledger.Transient, "update", errors.New("429 too many requests"))).Once()

	res := f.rec.Reconcile(context.Background(), btc, agg("BTC/USD", "65000", 2))
	assert.Equal(t, ActionRetrying, res.Action)
	assert.Equal(t, "transient", res.ErrClass)
	assert.Equal(t, StateRegistered, res.To)

	refAfter, ok := f.reg.Lookup("BTC/USD")
	require.True(t, ok)
	assert.Equal(t, refBefore, refAfter)
	assert.Equal(t, fileBefore, f.fileBytes(t))
}

func TestReconcile_StaleDemotesOnlyThatPair(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "BTC/USD", ledger.ObjectRef{ObjectID: "0xb7c", Version: 3})
	f.seed(t, "ETH/USD", ledger.ObjectRef{ObjectID: "0xe7h", Version: 9})
	ethBefore, _ := f.reg.Lookup("ETH/USD")

	f.ledger.On("Update", mock.Anything, mock.Anything, mock.Anything).
		Return(ledger.UpdateResult{}, ledger.NewChainError(ledger.StaleReference, "update", errors.New("object deleted"))).Once()

	res := f.rec.Reconcile(context.Background(), btc, agg("BTC/USD", "65000", 2))
	assert.Equal(t, ActionDemoted, res.Action)
	assert.Equal(t, StateRegistered, res.From)
	assert.Equal(t, StateUnregistered, res.To)
	assert.Equal(t, "stale_reference", res.ErrClass)

	_, ok := f.reg.Lookup("BTC/USD")
	assert.False(t, ok)
	ethAfter, ok := f.reg.Lookup("ETH/USD")
	require.True(t, ok)
	assert.Equal(t, ethBefore, ethAfter)
}

func TestReconcile_AggregationGapMakesNoCalls(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "BTC/USD", ledger.ObjectRef{ObjectID: "0xb7c", Version: 3})
	before := f.fileBytes(t)

	for _, p := range []Pair{btc, eth} {
		res := f.rec.Reconcile(context.Background(), p, nil)
		assert.Equal(t, ActionSkippedNoData, res.Action)
		assert.Equal(t, res.From, res.To)
	}

	f.ledger.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	f.ledger.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, before, f.fileBytes(t))
}

func TestScenario_FirstCycleWithGap(t *testing.T) {
	f := newFixture(t)
	f.ledger.On("Create", mock.Anything, mock.MatchedBy(func(m ledger.PairMetadata) bool { return m.Pair == "BTC/USD" }), scaled(65000000000)).
		Return(ledger.ObjectRef{ObjectID: "0xb7c", Version: 1}, nil).Once()

	btcRes := f.rec.Reconcile(context.Background(), btc, agg("BTC/USD", "65000", 2))
	ethRes := f.rec.Reconcile(context.Background(), eth, nil)

	assert.Equal(t, ActionCreated, btcRes.Action)
	assert.Equal(t, ActionSkippedNoData, ethRes.Action)
	f.ledger.AssertNumberOfCalls(t, "Create", 1)
	f.ledger.AssertNumberOfCalls(t, "Update", 0)

	snap := f.reg.Snapshot()
	assert.Len(t, snap, 1)
	assert.Contains(t, snap, "BTC/USD")
}

func TestScenario_StaleThenRecreate(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "BTC/USD", ledger.ObjectRef{ObjectID: "0xold", Version: 3})

	f.ledger.On("Update", mock.Anything, ledger.ObjectRef{Pair: "BTC/USD", ObjectID: "0xold", Version: 3}, mock.Anything).
		Return(ledger.UpdateResult{}, ledger.NewChainError(ledger.StaleReference, "update", errors.New("version mismatch"))).Once()

	res := f.rec.Reconcile(context.Background(), btc, agg("BTC/USD", "65000", 2))
	require.Equal(t, ActionDemoted, res.Action)
	_, ok := f.reg.Lookup("BTC/USD")
	require.False(t, ok)

	f.ledger.On("Create", mock.Anything, mock.Anything, mock.Anything).
		Return(ledger.ObjectRef{ObjectID: "0xnew", Version: 1}, nil).Once()

	res = f.rec.Reconcile(context.Background(), btc, agg("BTC/USD", "65010", 2))
	assert.Equal(t, ActionCreated, res.Action)
	ref, ok := f.reg.Lookup("BTC/USD")
	require.True(t, ok)
	assert.Equal(t, "0xnew", ref.ObjectID)

	f.ledger.AssertNumberOfCalls(t, "Update", 1)
	f.ledger.AssertNumberOfCalls(t, "Create", 1)
}

func TestReconcile_FatalHaltsPair(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "BTC/USD", ledger.ObjectRef{ObjectID: "0xb7c", Version: 3})
	f.ledger.On("Update", mock.Anything, mock.Anything, mock.Anything).
		Return(ledger.UpdateResult{}, ledger.NewChainError(ledger.Fatal, "update", errors.New("invalid user signature"))).Once()

	res := f.rec.Reconcile(context.Background(), btc, agg("BTC/USD", "65000", 2))
	assert.Equal(t, ActionFatal, res.Action)
	assert.Error(t, f.rec.HaltReason("BTC/USD"))
	assert.NoError(t, f.rec.HaltReason("ETH/USD"))

	res = f.rec.Reconcile(context.Background(), btc, agg("BTC/USD", "65000", 2))
	assert.Equal(t, ActionHalted, res.Action)
	f.ledger.AssertNumberOfCalls(t, "Update", 1)
	assert.Len(t, f.rec.HaltedPairs(), 1)
}

func TestReconcile_CreatedObjectAlreadyTrackedIsFatal(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ETH/USD", ledger.ObjectRef{ObjectID: "0xsame"})
	f.ledger.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(ledger.ObjectRef{ObjectID: "0xsame"}, nil).Once()

	res := f.rec.Reconcile(context.Background(), btc, agg("BTC/USD", "65000", 2))
	assert.Equal(t, ActionFatal, res.Action)
	assert.ErrorIs(t, res.Err, registry.ErrDuplicateObject)

	_, ok := f.reg.Lookup("BTC/USD")
	assert.False(t, ok)
}

func TestReconcile_PriceOutOfRangeMakesNoCall(t *testing.T) {
	f := newFixture(t)
	res := f.rec.Reconcile(context.Background(), btc, agg("BTC/USD", "-1", 1))
	assert.Equal(t, ActionRetrying, res.Action)
	assert.ErrorIs(t, res.Err, ledger.ErrPriceOutOfRange)
	f.ledger.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcile_CancelledBeforeSubmitMakesNoCall(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.rec.Reconcile(ctx, btc, agg("BTC/USD", "65000", 2))
	assert.Equal(t, ActionRetrying, res.Action)
	assert.ErrorIs(t, res.Err, context.Canceled)
	f.ledger.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcile_InFlightSubmissionSurvivesCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	f.ledger.On("Create", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			cancel()
			callCtx := args.Get(0).(context.Context)
			assert.NoError(t, callCtx.Err(), "submission context ignores process cancellation")
		}).
		Return(ledger.ObjectRef{ObjectID: "0xb7c"}, nil).Once()

	res := f.rec.Reconcile(ctx, btc, agg("BTC/USD", "65000", 2))
	assert.Equal(t, ActionCreated, res.Action)
	_, ok := f.reg.Lookup("BTC/USD")
	assert.True(t, ok, "confirmed create is recorded after shutdown began")
}

func TestReconcile_DryRunNeverRecords(t *testing.T) {
	f := newFixture(t)
	f.rec = New(Config{Registry: f.reg, Ledger: ledger.NewDryRun(zerolog.Nop()), DryRun: true, Logger: zerolog.Nop()})

	res := f.rec.Reconcile(context.Background(), btc, agg("BTC/USD", "65000", 2))
	assert.Equal(t, ActionDryRun, res.Action)
	assert.Equal(t, 0, f.reg.Len())
}

// countingLedger detects overlapping calls for the same pair.
type countingLedger struct {
	inFlight atomic.Int32
	overlap  atomic.Bool
	creates  atomic.Int32
}

func (c *countingLedger) Create(ctx context.Context, meta ledger.PairMetadata, price ledger.Price) (ledger.ObjectRef, error) {
	if c.inFlight.Add(1) > 1 {
		c.overlap.Store(true)
	}
	defer c.inFlight.Add(-1)
	time.Sleep(5 * time.Millisecond)
	c.creates.Add(1)
	return ledger.ObjectRef{ObjectID: "0xb7c"}, nil
}

func (c *countingLedger) Update(ctx context.Context, ref ledger.ObjectRef, price ledger.Price) (ledger.UpdateResult, error) {
	if c.inFlight.Add(1) > 1 {
		c.overlap.Store(true)
	}
	defer c.inFlight.Add(-1)
	time.Sleep(5 * time.Millisecond)
	return ledger.UpdateResult{}, nil
}

func TestReconcile_SamePairSerialized(t *testing.T) {
	f := newFixture(t)
	l := &countingLedger{}
	f.rec = New(Config{Registry: f.reg, Ledger: l, Logger: zerolog.Nop()})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.rec.Reconcile(context.Background(), btc, agg("BTC/USD", "65000", 2))
		}()
	}
	wg.Wait()

	assert.False(t, l.overlap.Load())
	assert.Equal(t, int32(1), l.creates.Load(), "only the first reconciliation creates")
}
