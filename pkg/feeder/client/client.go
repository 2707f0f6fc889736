package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/StrathCole/sui-oracle/pkg/metrics"
	"github.com/StrathCole/sui-oracle/pkg/version"
)

const maxResponseBytes = 8 << 20

// Client sends JSON-RPC 2.0 requests to a list of Sui fullnodes and fails over between them.
type Client struct {
	logger     zerolog.Logger
	endpoints  []string
	current    int
	mu         sync.RWMutex
	httpClient *http.Client
	retryDelay time.Duration
	nextID     atomic.Uint64
}

// Config holds configuration for creating a new Client.
type Config struct {
	Endpoints  []string
	Timeout    time.Duration // per HTTP request
	RetryDelay time.Duration // pause after rotating endpoints
	HTTPClient *http.Client  // optional; overrides Timeout
	Logger     zerolog.Logger
}

// NewClient creates a JSON-RPC client. Endpoints are tried in order, starting with the first.
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 250 * time.Millisecond
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	endpoints := make([]string, len(cfg.Endpoints))
	copy(endpoints, cfg.Endpoints)

	return &Client{
		logger:     cfg.Logger.With().Str("component", "rpc").Logger(),
		endpoints:  endpoints,
		httpClient: httpClient,
		retryDelay: cfg.RetryDelay,
	}, nil
}

// Failover rotates to the next endpoint.
func (c *Client) Failover() {
	c.mu.Lock()
	defer c.mu.Unlock()

	oldIndex := c.current
	c.current = (c.current + 1) % len(c.endpoints)
	metrics.RecordRPCFailover()

	c.logger.Warn().
		Str("from", c.endpoints[oldIndex]).
		Str("to", c.endpoints[c.current]).
		Msg("Failing over to next RPC endpoint")
}

// CurrentEndpoint returns the currently active endpoint.
func (c *Client) CurrentEndpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoints[c.current]
}

// WithFailover runs call against the current endpoint, rotating on endpoint failures
// until every endpoint has been tried once. Node-reported RPC errors are returned immediately.
func WithFailover[T any](ctx context.Context, c *Client, call func(endpoint string) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < len(c.endpoints); attempt++ {
		endpoint := c.CurrentEndpoint()
		resp, err := call(endpoint)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !shouldRotate(err) || ctx.Err() != nil {
			return zero, err
		}

		c.logger.Debug().
			Err(err).
			Str("endpoint", endpoint).
			Int("attempt", attempt+1).
			Int("max_attempts", len(c.endpoints)).
			Msg("RPC call failed")

		if attempt == len(c.endpoints)-1 {
			break
		}
		c.Failover()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}

	return zero, fmt.Errorf("%w: %w", ErrAllEndpointsFailed, lastErr)
}

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// Call invokes method with params and returns the "result" member of the response.
func (c *Client) Call(ctx context.Context, method string, params ...interface{}) (gjson.Result, error) {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	return WithFailover(ctx, c, func(endpoint string) (gjson.Result, error) {
		return c.post(ctx, endpoint, method, body)
	})
}

func (c *Client) post(ctx context.Context, endpoint, method string, body []byte) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.AgentString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("rpc %s: failed to read response: %w", method, err)
	}

	if resp.StatusCode != http.StatusOK {
		snippet := string(raw)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return gjson.Result{}, &HTTPError{StatusCode: resp.StatusCode, Body: snippet, Endpoint: endpoint}
	}

	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrInvalidResponse, method)
	}
	parsed := gjson.ParseBytes(raw)
	if e := parsed.Get("error"); e.Exists() && e.Type != gjson.Null {
		return gjson.Result{}, &RPCError{
			Code:    int(e.Get("code").Int()),
			Message: e.Get("message").String(),
			Method:  method,
		}
	}
	result := parsed.Get("result")
	if !result.Exists() {
		return gjson.Result{}, fmt.Errorf("%w: %s: missing result", ErrInvalidResponse, method)
	}
	return result, nil
}

// ObjectInfo is the subset of sui_getObject we rely on.
type ObjectInfo struct {
	ObjectID string
	Version  uint64
	Digest   string
	Type     string
	Owner    string
}

// GetObject fetches an object's current version. Missing and deleted objects map to
// ErrObjectNotFound and ErrObjectDeleted.
func (c *Client) GetObject(ctx context.Context, objectID string) (ObjectInfo, error) {
	result, err := c.Call(ctx, "sui_getObject", objectID, map[string]bool{
		"showType":  true,
		"showOwner": true,
	})
	if err != nil {
		return ObjectInfo{}, err
	}

	if code := result.Get("error.code").String(); code != "" {
		switch code {
		case "notExists":
			return ObjectInfo{}, fmt.Errorf("%w: %s", ErrObjectNotFound, objectID)
		case "deleted":
			return ObjectInfo{}, fmt.Errorf("%w: %s", ErrObjectDeleted, objectID)
		default:
			return ObjectInfo{}, &RPCError{Message: code, Method: "sui_getObject"}
		}
	}

	data := result.Get("data")
	if !data.Exists() {
		return ObjectInfo{}, fmt.Errorf("%w: sui_getObject: missing data", ErrInvalidResponse)
	}
	version, err := strconv.ParseUint(data.Get("version").String(), 10, 64)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("%w: bad object version %q", ErrInvalidResponse, data.Get("version").String())
	}

	return ObjectInfo{
		ObjectID: data.Get("objectId").String(),
		Version:  version,
		Digest:   data.Get("digest").String(),
		Type:     data.Get("type").String(),
		Owner:    data.Get("owner.AddressOwner").String(),
	}, nil
}

// MoveCallRequest describes an unsafe_moveCall transaction build.
type MoveCallRequest struct {
	Signer        string
	PackageID     string
	Module        string
	Function      string
	TypeArguments []string
	Arguments     []interface{}
	Gas           string // optional gas coin object id
	GasBudget     uint64
}

// MoveCall asks the node to build a Move call transaction and returns the base64 tx bytes.
func (c *Client) MoveCall(ctx context.Context, r MoveCallRequest) (string, error) {
	var gas interface{}
	if r.Gas != "" {
		gas = r.Gas
	}
	typeArgs := r.TypeArguments
	if typeArgs == nil {
		typeArgs = []string{}
	}

	result, err := c.Call(ctx, "unsafe_moveCall",
		r.Signer,
		r.PackageID,
		r.Module,
		r.Function,
		typeArgs,
		r.Arguments,
		gas,
		strconv.FormatUint(r.GasBudget, 10),
	)
	if err != nil {
		return "", err
	}

	txBytes := result.Get("txBytes").String()
	if txBytes == "" {
		return "", fmt.Errorf("%w: unsafe_moveCall: missing txBytes", ErrInvalidResponse)
	}
	return txBytes, nil
}

// ExecuteTransactionBlock submits signed tx bytes and waits for local execution.
// The returned result includes effects and object changes.
func (c *Client) ExecuteTransactionBlock(ctx context.Context, txBytes string, signatures []string) (gjson.Result, error) {
	return c.Call(ctx, "sui_executeTransactionBlock",
		txBytes,
		signatures,
		map[string]bool{
			"showEffects":       true,
			"showObjectChanges": true,
		},
		"WaitForLocalExecution",
	)
}

// GetReferenceGasPrice returns the current reference gas price in MIST.
func (c *Client) GetReferenceGasPrice(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "suix_getReferenceGasPrice")
	if err != nil {
		return 0, err
	}
	price, err := strconv.ParseUint(result.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: reference gas price %q", ErrInvalidResponse, result.String())
	}
	return price, nil
}
