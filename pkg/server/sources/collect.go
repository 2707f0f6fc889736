package sources

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// FetchAll queries every source that supports pair concurrently, each bounded by timeout.
// The result holds one Outcome per supporting source, in the order of srcs. A slow source
// only costs its own slot; it never delays or cancels the others.
func FetchAll(ctx context.Context, srcs []Source, pair string, timeout time.Duration) []Outcome {
	candidates := make([]Source, 0, len(srcs))
	for _, src := range srcs {
		if src.Supports(pair) {
			candidates = append(candidates, src)
		}
	}

	outcomes := make([]Outcome, len(candidates))
	var g errgroup.Group
	for i, src := range candidates {
		i, src := i, src
		g.Go(func() error {
			fetchCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				fetchCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			q, err := fetchBounded(fetchCtx, src, pair)
			if err != nil {
				outcomes[i] = Failed(src.Name(), pair, NewFetchError(src.Name(), pair, err))
				return nil
			}
			if !q.Price.IsPositive() {
				outcomes[i] = Failed(src.Name(), pair, NewFetchError(src.Name(), pair, ErrInvalidPrice))
				return nil
			}
			q.Source = src.Name()
			q.Pair = pair
			outcomes[i] = Succeeded(q)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

type fetchResult struct {
	quote Quote
	err   error
}

// fetchBounded returns when ctx is done even if the source ignores cancellation.
func fetchBounded(ctx context.Context, src Source, pair string) (Quote, error) {
	ch := make(chan fetchResult, 1)
	go func() {
		q, err := src.Fetch(ctx, pair)
		ch <- fetchResult{quote: q, err: err}
	}()

	select {
	case r := <-ch:
		return r.quote, r.err
	case <-ctx.Done():
		return Quote{}, ctx.Err()
	}
}
