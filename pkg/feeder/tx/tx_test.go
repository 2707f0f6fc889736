package tx

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/StrathCole/sui-oracle/pkg/feeder/client"
	"github.com/StrathCole/sui-oracle/pkg/feeder/keystore"
)

func fakeNode(t *testing.T, executeResult string) (*httptest.Server, *[]string) {
	t.Helper()
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.Unmarshal(body, &req))
		methods = append(methods, req.Method)

		switch req.Method {
		case "unsafe_moveCall":
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"txBytes":"` +
				base64.StdEncoding.EncodeToString([]byte("tx")) + `"}}`))
		case "sui_executeTransactionBlock":
			var sigs []string
			require.NoError(t, json.Unmarshal(req.Params[1], &sigs))
			assert.Len(t, sigs, 1)
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + executeResult + `}`))
		case "suix_getReferenceGasPrice":
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"750"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &methods
}

func newBroadcaster(t *testing.T, url string) *Broadcaster {
	t.Helper()
	c, err := client.NewClient(client.Config{Endpoints: []string{url}, Timeout: time.Second, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return NewBroadcaster(BroadcasterConfig{
		Client: c,
		Signer: keystore.FromSeed([]byte("0123456789abcdef0123456789abcdef")),
		Logger: zerolog.Nop(),
	})
}

func TestExecute_Success(t *testing.T) {
	srv, methods := fakeNode(t, `{
		"digest": "9XyZ",
		"effects": {"status": {"status": "success"}},
		"objectChanges": [
			{"type": "mutated", "objectId": "0x5", "version": "12", "previousVersion": "11", "digest": "d"},
			{"type": "created", "objectId": "0x7", "version": "12", "objectType": "0xpkg::price_oracle::PriceObject",
			 "owner": {"AddressOwner": "0xme"}}
		]
	}`)
	b := newBroadcaster(t, srv.URL)

	exec, err := b.Execute(context.Background(), MoveCall{
		PackageID: "0xpkg",
		Module:    "price_oracle",
		Function:  "create_price_object",
		Arguments: []interface{}{[]int{66}, "1", "2", 6},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"unsafe_moveCall", "sui_executeTransactionBlock"}, *methods)
	assert.Equal(t, "9XyZ", exec.Digest)

	created := exec.Created()
	require.Len(t, created, 1)
	assert.Equal(t, "0x7", created[0].ObjectID)
	assert.Equal(t, "0xme", created[0].Owner)

	mut, ok := exec.Mutated("0x5")
	require.True(t, ok)
	assert.Equal(t, uint64(12), mut.Version)
	assert.Equal(t, uint64(11), mut.PreviousVersion)
}

func TestExecute_SerializesSubmissions(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		switch req.Method {
		case "unsafe_moveCall":
			n := inFlight.Add(1)
			for {
				cur := maxInFlight.Load()
				if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"txBytes":"` +
				base64.StdEncoding.EncodeToString([]byte("tx")) + `"}}`))
		case "sui_executeTransactionBlock":
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"digest":"D","effects":{"status":{"status":"success"}}}}`))
		}
	}))
	t.Cleanup(srv.Close)
	b := newBroadcaster(t, srv.URL)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = b.Execute(context.Background(), MoveCall{PackageID: "0xpkg", Module: "price_oracle", Function: "update_price"})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, int32(0), inFlight.Load())
}

func TestExecute_FailureStatus(t *testing.T) {
	srv, _ := fakeNode(t, `{"digest":"D","effects":{"status":{"status":"failure","error":"InsufficientGas"}}}`)
	b := newBroadcaster(t, srv.URL)

	exec, err := b.Execute(context.Background(), MoveCall{PackageID: "0xpkg", Module: "m", Function: "f"})
	assert.ErrorIs(t, err, ErrExecutionFailed)
	assert.Contains(t, err.Error(), "InsufficientGas")
	require.NotNil(t, exec)
	assert.Equal(t, "failure", exec.Status)
}

func TestExecute_InvalidCall(t *testing.T) {
	b := newBroadcaster(t, "http://127.0.0.1:1")
	_, err := b.Execute(context.Background(), MoveCall{Module: "m", Function: "f"})
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestReferenceGasPrice(t *testing.T) {
	srv, methods := fakeNode(t, "")
	b := newBroadcaster(t, srv.URL)

	price, err := b.ReferenceGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(750), price)
	assert.Equal(t, []string{"suix_getReferenceGasPrice"}, *methods)
}

func TestGasUnits(t *testing.T) {
	assert.Equal(t, uint64(133_333), gasUnits(DefaultGasBudget, 750))
	assert.Equal(t, uint64(0), gasUnits(DefaultGasBudget, 0))
	assert.Less(t, gasUnits(500_000, 750), MinGasUnits)
}

func TestParseExecution_MissingEffects(t *testing.T) {
	_, err := ParseExecution(gjson.Parse(`{"digest":"D"}`))
	assert.ErrorIs(t, err, ErrMalformedEffects)
}

func TestParseVersion(t *testing.T) {
	assert.Equal(t, uint64(7), parseVersion(gjson.Parse(`"7"`)))
	assert.Equal(t, uint64(7), parseVersion(gjson.Parse(`7`)))
	assert.Equal(t, uint64(0), parseVersion(gjson.Parse(`"x"`)))
	assert.Equal(t, uint64(0), parseVersion(gjson.Get(`{}`, "v")))
}

func TestNewBroadcaster_DefaultGasBudget(t *testing.T) {
	b := NewBroadcaster(BroadcasterConfig{Signer: keystore.FromSeed(make([]byte, 32))})
	assert.Equal(t, DefaultGasBudget, b.gasBudget)
	assert.NotEmpty(t, b.Sender())
}
