package realtime

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Fanout publishes every message to all of its publishers concurrently and
// returns the first error.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, m Message) error {
	var g errgroup.Group
	for _, p := range f {
		g.Go(func() error {
			return p.Publish(ctx, m)
		})
	}
	return g.Wait()
}
