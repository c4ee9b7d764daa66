package storage

import (
	"context"

	"golang.org/x/sync/errgroup"

	"DropTracker/internal/domain"
)

// listConcurrently runs the item fetch and the count fetch of one plan in
// parallel. Both must succeed; the first failure cancels the other.
func listConcurrently(
	ctx context.Context,
	fetch func(context.Context) ([]domain.TrackedRecord, error),
	count func(context.Context) (int64, error),
) ([]domain.TrackedRecord, int64, error) {
	var (
		items []domain.TrackedRecord
		total int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = fetch(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = count(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []domain.TrackedRecord{}
	}
	return items, total, nil
}
