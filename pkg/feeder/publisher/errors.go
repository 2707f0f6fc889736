// Package publisher drives the periodic fetch, aggregate and reconcile cycle.
package publisher

import "errors"

var (
	// ErrFatalChain indicates that a pair hit a fatal chain error and the loop stopped.
	ErrFatalChain = errors.New("fatal chain error")
	// ErrNoPairs indicates that no pairs are configured.
	ErrNoPairs = errors.New("no pairs configured")
	// ErrNoReconciler indicates that no reconciler was provided.
	ErrNoReconciler = errors.New("reconciler is required")
	// ErrInvalidInterval indicates a non-positive publish interval.
	ErrInvalidInterval = errors.New("publish interval must be positive")
)
