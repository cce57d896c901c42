package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// RunWorkers runs n encode workers until ctx is cancelled. Each worker
// claims batches of batchSize and sleeps pollInterval when the queue is
// drained.
func (p *Pipeline) RunWorkers(ctx context.Context, n, batchSize int, pollInterval time.Duration) error {
	if n <= 0 {
		n = 1
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				claimed, err := p.ProcessBatch(ctx, batchSize)
				if err != nil {
					p.logger.Error("encode batch", "error", err)
				}
				if claimed == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(pollInterval):
					}
				}
			}
		})
	}
	return g.Wait()
}
