package ledger

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// DryRun is a Client that logs would-be mutations and never touches the chain.
// Created refs carry a synthetic "dry-run:" object id.
type DryRun struct {
	logger zerolog.Logger
}

var _ Client = (*DryRun)(nil)

// NewDryRun creates a dry-run client.
func NewDryRun(logger zerolog.Logger) *DryRun {
	return &DryRun{logger: logger.With().Bool("dry_run", true).Logger()}
}

// Create logs the create call.
func (d *DryRun) Create(ctx context.Context, meta PairMetadata, price Price) (ObjectRef, error) {
	d.logger.Info().
		Str("pair", meta.Pair).
		Str("symbol", meta.Symbol).
		Str("price", price.String()).
		Uint64("value", price.Value).
		Msg("Would create price object")
	return ObjectRef{Pair: meta.Pair, ObjectID: fmt.Sprintf("dry-run:%s", meta.Pair)}, nil
}

// Update logs the update call and reports no new version.
func (d *DryRun) Update(ctx context.Context, ref ObjectRef, price Price) (UpdateResult, error) {
	d.logger.Info().
		Str("pair", ref.Pair).
		Str("object_id", ref.ObjectID).
		Uint64("version", ref.Version).
		Str("price", price.String()).
		Uint64("value", price.Value).
		Msg("Would update price object")
	return UpdateResult{}, nil
}
