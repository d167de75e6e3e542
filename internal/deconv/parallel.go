package deconv

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// forEachSample runs fn for every sample index with at most workers goroutines.
// Samples are embarrassingly parallel: each fn call writes only its own output
// row, so execution order never affects result order. workers <= 1 runs
// sequentially, the deterministic default used in tests.
func forEachSample(ctx context.Context, n, workers int, fn func(j int) error) error {
	if workers <= 1 {
		for j := 0; j < n; j++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(j); err != nil {
				return err
			}
		}
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for j := 0; j < n; j++ {
		j := j
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(j)
		})
	}
	return g.Wait()
}
