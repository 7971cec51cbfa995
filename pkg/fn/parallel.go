package fn

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ParMap applies f to each item with at most workers goroutines, preserving
// order. The first error cancels the remaining work and is returned.
func ParMap[T, U any](ctx context.Context, items []T, workers int, f func(context.Context, T) (U, error)) ([]U, error) {
	out := make([]U, len(items))
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, v := range items {
		g.Go(func() error {
			u, err := f(ctx, v)
			if err != nil {
				return err
			}
			out[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// FanOut runs every function concurrently and returns the first error.
func FanOut(ctx context.Context, fns ...func(context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, f := range fns {
		g.Go(func() error { return f(ctx) })
	}
	return g.Wait()
}
