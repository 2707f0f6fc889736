// Package websocket provides a reconnecting WebSocket client for streaming sources.
package websocket

import "errors"

var (
	// ErrMaxRetriesExceeded indicates that the maximum connection retries have been exceeded.
	ErrMaxRetriesExceeded = errors.New("max connection retries exceeded")
	// ErrNotConnected indicates that the client is not connected.
	ErrNotConnected = errors.New("not connected")
	// ErrClosed indicates that the client was closed and will not reconnect.
	ErrClosed = errors.New("client closed")
)
