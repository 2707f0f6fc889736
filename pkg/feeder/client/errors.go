// Package client provides a Sui JSON-RPC client with endpoint failover.
package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoEndpoints indicates that at least one RPC endpoint is required.
	ErrNoEndpoints = errors.New("at least one RPC endpoint is required")
	// ErrAllEndpointsFailed indicates that all attempts failed across RPC endpoints.
	ErrAllEndpointsFailed = errors.New("all attempts failed across RPC endpoints")
	// ErrInvalidResponse indicates a malformed JSON-RPC response.
	ErrInvalidResponse = errors.New("invalid JSON-RPC response")
	// ErrObjectNotFound indicates that the object does not exist on chain.
	ErrObjectNotFound = errors.New("object does not exist")
	// ErrObjectDeleted indicates that the object was deleted on chain.
	ErrObjectDeleted = errors.New("object deleted")
)

// RPCError is an error object returned by the node inside a JSON-RPC response.
type RPCError struct {
	Code    int
	Message string
	Method  string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc %s: code %d: %s", e.Method, e.Code, e.Message)
}

// HTTPError is a non-200 HTTP response from an RPC endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
	Endpoint   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("rpc endpoint %s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Unauthorized reports whether the endpoint rejected our credentials.
func (e *HTTPError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// shouldRotate reports whether err is an endpoint problem that another endpoint may not have.
func shouldRotate(err error) bool {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	return !errors.Is(err, ErrInvalidResponse)
}
