package oracle

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/sui-oracle/pkg/feeder/client"
	"github.com/StrathCole/sui-oracle/pkg/feeder/keystore"
	"github.com/StrathCole/sui-oracle/pkg/feeder/ledger"
	"github.com/StrathCole/sui-oracle/pkg/feeder/tx"
)

const (
	testPackage = "0xe99f"
	testSender  = "0x267e"
	testObject  = "0x00000000000000000000000000000000000000000000000000000000000000aa"
)

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Execute(ctx context.Context, call tx.MoveCall) (*tx.Execution, error) {
	args := m.Called(ctx, call)
	exec, _ := args.Get(0).(*tx.Execution)
	return exec, args.Error(1)
}

func (m *mockExecutor) Sender() string {
	return testSender
}

type mockReader struct {
	mock.Mock
}

func (m *mockReader) GetObject(ctx context.Context, objectID string) (client.ObjectInfo, error) {
	args := m.Called(ctx, objectID)
	return args.Get(0).(client.ObjectInfo), args.Error(1)
}

func newTestPriceObjects(t *testing.T) (*PriceObjects, *mockExecutor, *mockReader) {
	t.Helper()
	exec := &mockExecutor{}
	reader := &mockReader{}
	p, err := NewPriceObjects(Config{
		Executor:  exec,
		Reader:    reader,
		PackageID: testPackage,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return p, exec, reader
}

func priceObjectType() string {
	return keystore.NormalizeAddress(testPackage) + "::price_oracle::PriceObject"
}

func TestNewPriceObjects_RequiresPackage(t *testing.T) {
	_, err := NewPriceObjects(Config{Executor: &mockExecutor{}, Reader: &mockReader{}})
	assert.ErrorIs(t, err, ErrMissingConfig)
}

func TestCreate(t *testing.T) {
	p, exec, _ := newTestPriceObjects(t)

	exec.On("Execute", mock.Anything, mock.MatchedBy(func(call tx.MoveCall) bool {
		return call.Function == "create_price_object" &&
			call.Module == "price_oracle" &&
			assert.ObjectsAreEqual([]interface{}{[]int{66, 84, 67}, "65000000000", "1700000000000", uint8(6)}, call.Arguments)
	})).Return(&tx.Execution{
		Digest: "TX1",
		Status: "success",
		Changes: []tx.ObjectChange{
			{Kind: "mutated", ObjectID: "0xgas", Version: 3},
			{Kind: "created", ObjectID: "0xother", ObjectType: "0x2::coin::Coin<0x2::sui::SUI>", Owner: testSender, Version: 3},
			{Kind: "created", ObjectID: testObject, ObjectType: priceObjectType(), Owner: testSender, Version: 3, Digest: "OBJ"},
		},
	}, nil).Once()

	ref, err := p.Create(context.Background(),
		ledger.PairMetadata{Pair: "BTC/USD", Symbol: "BTC", Decimals: 6},
		ledger.Price{Value: 65000000000, Decimals: 6, TimestampMs: 1700000000000})
	require.NoError(t, err)
	assert.Equal(t, ledger.ObjectRef{Pair: "BTC/USD", ObjectID: testObject, Version: 3, Digest: "OBJ"}, ref)
	exec.AssertExpectations(t)
}

func TestCreate_NoPriceObjectInChangesIsFatal(t *testing.T) {
	p, exec, _ := newTestPriceObjects(t)
	exec.On("Execute", mock.Anything, mock.Anything).Return(&tx.Execution{
		Digest: "TX1",
		Status: "success",
		Changes: []tx.ObjectChange{
			{Kind: "created", ObjectID: testObject, ObjectType: priceObjectType(), Owner: "0xsomeoneelse"},
		},
	}, nil)

	_, err := p.Create(context.Background(), ledger.PairMetadata{Pair: "BTC/USD"}, ledger.Price{})
	assert.ErrorIs(t, err, ErrCreatedObjectNotFound)
	assert.True(t, ledger.IsFatal(err))
}

func TestUpdate(t *testing.T) {
	p, exec, reader := newTestPriceObjects(t)
	ref := ledger.ObjectRef{Pair: "BTC/USD", ObjectID: testObject, Version: 3}

	reader.On("GetObject", mock.Anything, testObject).Return(client.ObjectInfo{
		ObjectID: testObject, Version: 3, Type: priceObjectType(), Owner: testSender,
	}, nil)
	exec.On("Execute", mock.Anything, mock.MatchedBy(func(call tx.MoveCall) bool {
		return call.Function == "update_price" &&
			assert.ObjectsAreEqual([]interface{}{testObject, "65100000000", "1700000060000"}, call.Arguments)
	})).Return(&tx.Execution{
		Digest: "TX2",
		Status: "success",
		Changes: []tx.ObjectChange{
			{Kind: "mutated", ObjectID: "0xaa", Version: 4, PreviousVersion: 3, Digest: "OBJ4"},
		},
	}, nil)

	res, err := p.Update(context.Background(), ref, ledger.Price{Value: 65100000000, Decimals: 6, TimestampMs: 1700000060000})
	require.NoError(t, err)
	assert.Equal(t, ledger.UpdateResult{Version: 4, Digest: "OBJ4", HasVersion: true}, res)
}

func TestUpdate_Preflight(t *testing.T) {
	tests := []struct {
		name      string
		ref       ledger.ObjectRef
		info      client.ObjectInfo
		readErr   error
		wantClass ledger.Class
		wantErr   error
	}{
		{
			name:      "object deleted",
			ref:       ledger.ObjectRef{ObjectID: testObject, Version: 3},
			readErr:   fmt.Errorf("%w: %s", client.ErrObjectDeleted, testObject),
			wantClass: ledger.StaleReference,
			wantErr:   client.ErrObjectDeleted,
		},
		{
			name:      "object missing",
			ref:       ledger.ObjectRef{ObjectID: testObject, Version: 3},
			readErr:   fmt.Errorf("%w: %s", client.ErrObjectNotFound, testObject),
			wantClass: ledger.StaleReference,
			wantErr:   client.ErrObjectNotFound,
		},
		{
			name:      "chain version older than tracked",
			ref:       ledger.ObjectRef{ObjectID: testObject, Version: 5},
			info:      client.ObjectInfo{Version: 3, Type: priceObjectType(), Owner: testSender},
			wantClass: ledger.StaleReference,
			wantErr:   ErrVersionMismatch,
		},
		{
			name:      "transferred away",
			ref:       ledger.ObjectRef{ObjectID: testObject, Version: 3},
			info:      client.ObjectInfo{Version: 3, Type: priceObjectType(), Owner: "0xbeef"},
			wantClass: ledger.StaleReference,
			wantErr:   ErrForeignObject,
		},
		{
			name:      "node unreachable",
			ref:       ledger.ObjectRef{ObjectID: testObject, Version: 3},
			readErr:   fmt.Errorf("%w: timeout", client.ErrAllEndpointsFailed),
			wantClass: ledger.Transient,
			wantErr:   client.ErrAllEndpointsFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, exec, reader := newTestPriceObjects(t)
			reader.On("GetObject", mock.Anything, tt.ref.ObjectID).Return(tt.info, tt.readErr)

			_, err := p.Update(context.Background(), tt.ref, ledger.Price{Value: 1})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantClass, ledger.Classify(err))
			exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
		})
	}
}

func TestUpdate_TrackedVersionBehindChain(t *testing.T) {
	p, exec, reader := newTestPriceObjects(t)
	ref := ledger.ObjectRef{Pair: "BTC/USD", ObjectID: testObject, Version: 3}

	reader.On("GetObject", mock.Anything, testObject).Return(client.ObjectInfo{
		ObjectID: testObject, Version: 4, Type: priceObjectType(), Owner: testSender,
	}, nil)
	exec.On("Execute", mock.Anything, mock.MatchedBy(func(call tx.MoveCall) bool {
		return call.Function == "update_price"
	})).Return(&tx.Execution{
		Digest: "TX3",
		Status: "success",
		Changes: []tx.ObjectChange{
			{Kind: "mutated", ObjectID: testObject, Version: 5, PreviousVersion: 4, Digest: "OBJ5"},
		},
	}, nil)

	res, err := p.Update(context.Background(), ref, ledger.Price{Value: 1})
	require.NoError(t, err)
	assert.Equal(t, ledger.UpdateResult{Version: 5, Digest: "OBJ5", HasVersion: true}, res)
	exec.AssertNumberOfCalls(t, "Execute", 1)
}

func TestUpdate_ForeignTypeWithNewerVersion(t *testing.T) {
	p, exec, reader := newTestPriceObjects(t)
	reader.On("GetObject", mock.Anything, testObject).Return(client.ObjectInfo{
		Version: 9, Type: "0x2::coin::Coin<0x2::sui::SUI>", Owner: testSender,
	}, nil)

	_, err := p.Update(context.Background(), ledger.ObjectRef{ObjectID: testObject, Version: 3}, ledger.Price{Value: 1})
	assert.ErrorIs(t, err, ErrForeignObject)
	assert.Equal(t, ledger.StaleReference, ledger.Classify(err))
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestUpdate_UnknownVersionSkipsVersionCheck(t *testing.T) {
	p, exec, reader := newTestPriceObjects(t)
	reader.On("GetObject", mock.Anything, testObject).Return(client.ObjectInfo{Version: 9, Type: priceObjectType(), Owner: testSender}, nil)
	exec.On("Execute", mock.Anything, mock.Anything).Return(&tx.Execution{Status: "success"}, nil)

	res, err := p.Update(context.Background(), ledger.ObjectRef{ObjectID: testObject}, ledger.Price{Value: 1})
	require.NoError(t, err)
	assert.False(t, res.HasVersion)
}

func TestClassify(t *testing.T) {
	p, _, _ := newTestPriceObjects(t)

	tests := []struct {
		name string
		err  error
		want ledger.Class
	}{
		{name: "transport", err: errors.New("dial tcp: connection refused"), want: ledger.Transient},
		{name: "rate limited", err: &client.HTTPError{StatusCode: 429}, want: ledger.Transient},
		{name: "unauthorized", err: &client.HTTPError{StatusCode: 401}, want: ledger.Fatal},
		{name: "missing package", err: &client.RPCError{Message: "Package object does not exist with ID 0xe99f"}, want: ledger.Fatal},
		{name: "missing function", err: &client.RPCError{Message: "Function Not Found: update_price"}, want: ledger.Fatal},
		{
			name: "stale object version",
			err: &client.RPCError{Message: "Object " + testObject +
				" is not available for consumption, its current version: 0x5"},
			want: ledger.StaleReference,
		},
		{name: "other object busy", err: &client.RPCError{Message: "Object 0xdead is not available for consumption"}, want: ledger.Transient},
		{name: "gas", err: fmt.Errorf("%w: InsufficientGas", tx.ErrExecutionFailed), want: ledger.Transient},
		{name: "abort", err: fmt.Errorf("%w: MoveAbort(price_oracle, 1)", tx.ErrExecutionFailed), want: ledger.Fatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.classify("update", testObject, tt.err)
			assert.Equal(t, tt.want, ledger.Classify(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestIsPriceObject(t *testing.T) {
	p, _, _ := newTestPriceObjects(t)
	assert.True(t, p.isPriceObject(priceObjectType()))
	assert.True(t, p.isPriceObject("0xe99f::price_oracle::PriceObject"))
	assert.False(t, p.isPriceObject("0x1::price_oracle::PriceObject"))
	assert.False(t, p.isPriceObject("0xe99f::other::PriceObject"))
	assert.False(t, p.isPriceObject(""))
	assert.False(t, p.isPriceObject(priceObjectType()+"Cap"))
	assert.Equal(t, priceObjectType(), p.ObjectType())
}

func TestSymbolBytes(t *testing.T) {
	assert.Equal(t, []int{66, 84, 67, 47, 85, 83, 68}, symbolBytes("BTC/USD"))
}
