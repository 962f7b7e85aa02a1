package scrape

import (
	"context"
	"sync"

	"condoscan/internal/models"
)

// runParallel fans the pairs out over a bounded worker pool. The task
// fails if any pair fails; cancellation wins over failure.
func (o *Orchestrator) runParallel(ctx context.Context, handle *TaskHandle, flags *ControlFlags, task models.ScrapeTask, pairs []pair) (failed, cancelled bool) {
	limit := o.env.ParallelLimit
	if limit < 1 {
		limit = 1
	}

	work := make(chan pair)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < limit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range work {
				if flags.Cancel.IsSet() {
					mu.Lock()
					cancelled = true
					mu.Unlock()
					continue
				}
				err := o.runPair(ctx, handle, flags, task, p)
				if err == nil {
					continue
				}
				mu.Lock()
				if err == ErrCancelled {
					cancelled = true
				} else {
					failed = true
				}
				mu.Unlock()
				if err != ErrCancelled {
					handle.LogError(models.TaskLogEntry{
						Scraper: p.scraper,
						Area:    p.area,
						Type:    "pair_failed",
						Message: err.Error(),
					})
				}
			}
		}()
	}

	for _, p := range pairs {
		work <- p
	}
	close(work)
	wg.Wait()

	return failed, cancelled
}
