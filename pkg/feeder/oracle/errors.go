// Package oracle implements the ledger client for the price_oracle Move module.
package oracle

import "errors"

var (
	// ErrCreatedObjectNotFound indicates that a create call succeeded but no PriceObject was found among its changes.
	ErrCreatedObjectNotFound = errors.New("created price object not found in transaction changes")
	// ErrVersionMismatch indicates that the on-chain object version is behind the tracked one.
	ErrVersionMismatch = errors.New("object version mismatch")
	// ErrForeignObject indicates that the tracked object is no longer a PriceObject owned by the signer.
	ErrForeignObject = errors.New("object not owned by signer or of unexpected type")
	// ErrMissingConfig indicates a required configuration value is empty.
	ErrMissingConfig = errors.New("missing configuration value")
)
