package parallel

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// ForEach runs fn over every item with at most limit concurrent calls.
// It is context aware, so a canceled context stops scheduling further
// items. The returned error joins the context error with the first
// error fn reported.
func ForEach[E any](ctx context.Context, limit int, items []E, fn func(context.Context, E) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return fn(gctx, item)
		})
	}
	return errors.Join(g.Wait(), ctx.Err())
}
