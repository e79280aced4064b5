package collective

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// WorkerFunc is the per-worker body of an SPMD run.
type WorkerFunc func(ctx context.Context, c Collective) error

// Launch runs fn on n in-process workers sharing one LocalGroup and waits
// for all of them. The first worker error cancels the shared context, which
// aborts the group so that workers blocked in a collective return instead of
// waiting for a peer that will never arrive. The first error is returned.
func Launch(ctx context.Context, n int, fn WorkerFunc) error {
	if n < 1 {
		return fmt.Errorf("launch: worker count must be >= 1, got %d", n)
	}

	members := NewLocalGroup(n)
	g, gCtx := errgroup.WithContext(ctx)

	for _, member := range members {
		member := member
		g.Go(func() error {
			if err := fn(gCtx, member); err != nil {
				return fmt.Errorf("worker %d: %w", member.Rank(), err)
			}
			return nil
		})
	}

	return g.Wait()
}
