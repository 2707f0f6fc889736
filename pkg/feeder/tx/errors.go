// Package tx builds, signs and executes Sui Move call transactions.
package tx

import "errors"

var (
	// ErrExecutionFailed indicates that the transaction executed with a failure status.
	ErrExecutionFailed = errors.New("transaction execution failed")
	// ErrInvalidParameter indicates that an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrMalformedEffects indicates that the execution response lacked the expected effects.
	ErrMalformedEffects = errors.New("malformed transaction effects")
)
