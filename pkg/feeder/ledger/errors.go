package ledger

import (
	"errors"
	"fmt"
)

// Class tells the reconciler how to react to a failed chain call.
type Class int

const (
	// Transient failures (network, timeout, rate limit) leave state unchanged; retry next cycle.
	Transient Class = iota
	// StaleReference means the stored object or version no longer matches the chain; demote the pair.
	StaleReference
	// Fatal failures (bad credentials, missing package) must not be retried.
	Fatal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case StaleReference:
		return "stale_reference"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// ChainError is a classified failure of a ledger mutation.
type ChainError struct {
	Class Class
	Op    string // "create" or "update"
	Err   error
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Class, e.Op, e.Err)
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// NewChainError wraps err with a class and operation.
func NewChainError(class Class, op string, err error) *ChainError {
	return &ChainError{Class: class, Op: op, Err: err}
}

// Classify returns the class of err. Errors that are not ChainErrors count as transient.
func Classify(err error) Class {
	var ce *ChainError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return Transient
}

// IsFatal reports whether err is a fatal chain error.
func IsFatal(err error) bool {
	return err != nil && Classify(err) == Fatal
}

// IsStale reports whether err is a stale-reference chain error.
func IsStale(err error) bool {
	return err != nil && Classify(err) == StaleReference
}
