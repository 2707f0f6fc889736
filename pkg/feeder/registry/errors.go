// Package registry keeps the durable pair -> price object mapping.
package registry

import "errors"

var (
	// ErrStoreMissing indicates that no persisted registry exists yet.
	ErrStoreMissing = errors.New("registry store does not exist")
	// ErrUnreadable indicates that the persisted registry could not be read.
	ErrUnreadable = errors.New("registry store unreadable")
	// ErrCorrupt indicates a persisted registry that exists but cannot be trusted.
	ErrCorrupt = errors.New("registry store corrupt")
	// ErrDuplicateObject indicates an object id already recorded for another pair.
	ErrDuplicateObject = errors.New("object id already recorded for another pair")
	// ErrInvalidRef indicates a reference without an object id.
	ErrInvalidRef = errors.New("object reference has no object id")
	// ErrPersist indicates that the registry could not be flushed to its store.
	ErrPersist = errors.New("failed to persist registry")
)
