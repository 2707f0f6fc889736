package sources

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSource answers Fetch from a fixed price, error or delay.
type stubSource struct {
	*BaseSource
	price decimal.Decimal
	err   error
	delay time.Duration
	block bool
}

func newStub(name string, pairs map[string]string) *stubSource {
	return &stubSource{BaseSource: NewBaseSource(name, SourceTypeCEX, pairs, nil, nil)}
}

func (s *stubSource) Initialize(context.Context) error { return nil }
func (s *stubSource) Start(context.Context) error      { return nil }
func (s *stubSource) Stop() error                      { return nil }

func (s *stubSource) Fetch(ctx context.Context, pair string) (Quote, error) {
	if s.block {
		// ignores ctx on purpose
		time.Sleep(5 * time.Second)
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Quote{}, ctx.Err()
		}
	}
	if s.err != nil {
		return Quote{}, s.err
	}
	return Quote{Price: s.price, Timestamp: time.Now()}, nil
}

func TestFetchAll_TagsEveryOutcome(t *testing.T) {
	ok := newStub("a", map[string]string{"BTC/USDT": "BTCUSDT"})
	ok.price = decimal.NewFromInt(65000)
	failing := newStub("b", map[string]string{"BTC/USD": "BTC-USD"})
	failing.err = errors.New("boom")
	other := newStub("c", map[string]string{"ETH/USD": "ethereum"})

	outcomes := FetchAll(context.Background(), []Source{ok, failing, other}, "BTC/USD", time.Second)
	require.Len(t, outcomes, 2, "source without the pair is not queried")

	assert.True(t, outcomes[0].OK())
	assert.Equal(t, "a", outcomes[0].Source)
	assert.Equal(t, "BTC/USD", outcomes[0].Quote.Pair)
	assert.True(t, outcomes[0].Quote.Price.Equal(decimal.NewFromInt(65000)))

	assert.False(t, outcomes[1].OK())
	var fe *FetchError
	require.ErrorAs(t, outcomes[1].Err, &fe)
	assert.Equal(t, "b", fe.Source)
}

func TestFetchAll_TimeoutDoesNotStallOthers(t *testing.T) {
	fast := newStub("fast", map[string]string{"BTC/USD": "x"})
	fast.price = decimal.NewFromInt(1)
	hung := newStub("hung", map[string]string{"BTC/USD": "y"})
	hung.block = true

	start := time.Now()
	outcomes := FetchAll(context.Background(), []Source{fast, hung}, "BTC/USD", 100*time.Millisecond)
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].OK())
	assert.ErrorIs(t, outcomes[1].Err, context.DeadlineExceeded)
}

func TestFetchAll_RejectsNonPositivePrice(t *testing.T) {
	zero := newStub("zero", map[string]string{"BTC/USD": "x"})

	outcomes := FetchAll(context.Background(), []Source{zero}, "BTC/USD", time.Second)
	require.Len(t, outcomes, 1)
	assert.ErrorIs(t, outcomes[0].Err, ErrInvalidPrice)
}

func TestBaseSource_CachedQuote(t *testing.T) {
	b := NewBaseSource("s", SourceTypeCEX, map[string]string{"ETH/USDT": "ETHUSDT"}, nil, nil)
	now := time.Now()

	_, err := b.CachedQuote("SUI/USD", time.Minute, now)
	assert.ErrorIs(t, err, ErrUnsupportedPair)

	_, err = b.CachedQuote("ETH/USD", time.Minute, now)
	assert.ErrorIs(t, err, ErrNoPriceYet)

	b.SetPrice("ETH/USDT", decimal.NewFromInt(3000), now.Add(-10*time.Second))
	q, err := b.CachedQuote("ETH/USD", time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, "ETH/USD", q.Pair)

	_, err = b.CachedQuote("ETH/USD", 5*time.Second, now)
	assert.ErrorIs(t, err, ErrStalePrice)
}

func TestBaseSource_SymbolMapping(t *testing.T) {
	b := NewBaseSource("s", SourceTypeCEX, map[string]string{"BTC/USDT": "BTCUSDT"}, nil, nil)

	assert.Equal(t, "BTCUSDT", b.GetSourceSymbol("BTC/USDT"))
	assert.Equal(t, "BTCUSDT", b.GetSourceSymbol("BTC/USD"))
	assert.Equal(t, "", b.GetSourceSymbol("ETH/USD"))
	assert.Equal(t, "BTC/USDT", b.GetUnifiedSymbol("BTCUSDT"))
}
