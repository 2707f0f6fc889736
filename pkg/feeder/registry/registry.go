package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/StrathCole/sui-oracle/pkg/feeder/ledger"
	"github.com/StrathCole/sui-oracle/pkg/metrics"
)

// Registry maps pairs to their on-chain price objects.
//
// Record and Forget are the only mutators. Both flush the whole mapping to the
// store before returning. Reads never touch the store.
type Registry struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time

	writeMu sync.Mutex // serializes mutate+flush

	mu      sync.RWMutex
	entries map[string]Entry
	dirty   bool

	// set when Load failed as unreadable; the old contents are moved aside before the first save
	preserve bool
}

// Open loads the registry from store. A missing or unreadable store yields an
// empty registry; a corrupt store returns ErrCorrupt. An unreadable store is
// preserved, never overwritten.
func Open(ctx context.Context, store Store, logger zerolog.Logger) (*Registry, error) {
	r := &Registry{
		store:   store,
		logger:  logger.With().Str("component", "registry").Str("store", store.Describe()).Logger(),
		now:     time.Now,
		entries: make(map[string]Entry),
	}

	loaded, err := store.Load(ctx)
	switch {
	case errors.Is(err, ErrStoreMissing):
		r.logger.Info().Msg("No persisted registry, starting empty")
		return r, nil
	case errors.Is(err, ErrCorrupt):
		return nil, err
	case err != nil:
		r.logger.Warn().Err(err).Msg("Registry unreadable, starting empty")
		r.preserve = true
		return r, nil
	}

	if err := validate(loaded); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, store.Describe(), err)
	}
	if loaded != nil {
		r.entries = loaded
	}

	r.logger.Info().Int("entries", len(loaded)).Msg("Registry loaded")
	metrics.RegistryEntries.Set(float64(len(loaded)))
	return r, nil
}

// validate enforces non-empty ids and one pair per object id.
func validate(entries map[string]Entry) error {
	owners := make(map[string]string, len(entries))
	for _, pair := range sortedPairs(entries) {
		e := entries[pair]
		if e.ObjectID == "" {
			return fmt.Errorf("pair %q has no object id", pair)
		}
		if other, ok := owners[e.ObjectID]; ok {
			return fmt.Errorf("object %s recorded for both %q and %q", e.ObjectID, other, pair)
		}
		owners[e.ObjectID] = pair
	}
	return nil
}

// Lookup returns the reference recorded for pair.
func (r *Registry) Lookup(pair string) (ledger.ObjectRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[pair]
	if !ok {
		return ledger.ObjectRef{}, false
	}
	return toRef(pair, e), true
}

// Record stores ref for pair and flushes. If the flush fails the in-memory
// mapping keeps the new value, the registry is marked dirty and an ErrPersist
// error is returned.
func (r *Registry) Record(ctx context.Context, pair string, ref ledger.ObjectRef) error {
	if ref.ObjectID == "" {
		return fmt.Errorf("%w: pair %s", ErrInvalidRef, pair)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	for other, e := range r.entries {
		if other != pair && e.ObjectID == ref.ObjectID {
			r.mu.Unlock()
			return fmt.Errorf("%w: %s held by %s", ErrDuplicateObject, ref.ObjectID, other)
		}
	}
	r.entries[pair] = Entry{
		ObjectID:  ref.ObjectID,
		Version:   ref.Version,
		Digest:    ref.Digest,
		UpdatedAt: r.now().UTC(),
	}
	snap := r.copyLocked()
	r.mu.Unlock()

	return r.flush(ctx, snap)
}

// Forget removes the entry for pair and flushes. Forgetting an absent pair is a no-op.
func (r *Registry) Forget(ctx context.Context, pair string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	if _, ok := r.entries[pair]; !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, pair)
	snap := r.copyLocked()
	r.mu.Unlock()

	return r.flush(ctx, snap)
}

// Flush writes the current mapping if an earlier flush failed.
func (r *Registry) Flush(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	if !r.dirty {
		r.mu.RUnlock()
		return nil
	}
	snap := r.copyLocked()
	r.mu.RUnlock()

	return r.flush(ctx, snap)
}

// Dirty reports whether the store is behind the in-memory mapping.
func (r *Registry) Dirty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dirty
}

// Snapshot returns a copy of all references.
func (r *Registry) Snapshot() map[string]ledger.ObjectRef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]ledger.ObjectRef, len(r.entries))
	for pair, e := range r.entries {
		out[pair] = toRef(pair, e)
	}
	return out
}

// Len returns the number of recorded pairs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// flush must be called with writeMu held.
func (r *Registry) flush(ctx context.Context, snap map[string]Entry) error {
	err := r.preserveUnreadable(ctx)
	if err == nil {
		err = r.store.Save(ctx, snap)
	}
	metrics.RecordRegistryPersist(err == nil, len(snap))

	r.mu.Lock()
	r.dirty = err != nil
	r.mu.Unlock()

	if err != nil {
		r.logger.Error().Err(err).Int("entries", len(snap)).Msg("Failed to persist registry")
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	r.logger.Debug().Int("entries", len(snap)).Msg("Registry persisted")
	return nil
}

// preserveUnreadable must be called with writeMu held.
func (r *Registry) preserveUnreadable(ctx context.Context) error {
	if !r.preserve {
		return nil
	}
	dest, err := r.store.Preserve(ctx)
	if err != nil {
		return fmt.Errorf("refusing to overwrite unreadable registry: %w", err)
	}
	r.preserve = false
	if dest != "" {
		r.logger.Warn().Str("preserved_as", dest).Msg("Moved unreadable registry aside")
	}
	return nil
}

func (r *Registry) copyLocked() map[string]Entry {
	out := make(map[string]Entry, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out
}

func toRef(pair string, e Entry) ledger.ObjectRef {
	return ledger.ObjectRef{
		Pair:     pair,
		ObjectID: e.ObjectID,
		Version:  e.Version,
		Digest:   e.Digest,
	}
}

func sortedPairs(entries map[string]Entry) []string {
	pairs := make([]string, 0, len(entries))
	for p := range entries {
		pairs = append(pairs, p)
	}
	sort.Strings(pairs)
	return pairs
}
