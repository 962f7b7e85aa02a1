package pricechange

import (
	"context"
	"log"
	"time"

	"condoscan/internal/repository"
)

const (
	pollInterval     = 2 * time.Second
	claimBatchSize   = 20
	stuckRequeueAge  = 15 * time.Minute
	finishedItemsTTL = 7 * 24 * time.Hour
)

// Worker drains the recomputation queue: claims pending items in priority
// order, runs the calculator, and marks them completed or failed.
type Worker struct {
	calc   *Calculator
	repo   *repository.Repository
	stopCh chan struct{}
}

func NewWorker(calc *Calculator, repo *repository.Repository) *Worker {
	return &Worker{calc: calc, repo: repo, stopCh: make(chan struct{})}
}

func (w *Worker) Start(ctx context.Context) {
	log.Printf("[pricechange] Starting queue worker (batch: %d)", claimBatchSize)
	go w.runLoop(ctx)
}

func (w *Worker) Stop() {
	close(w.stopCh)
}

func (w *Worker) runLoop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	maintenance := time.NewTicker(10 * time.Minute)
	defer maintenance.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[pricechange] Stopping...")
			return
		case <-w.stopCh:
			return
		case <-maintenance.C:
			w.maintain(ctx)
		case <-ticker.C:
			w.drainOnce(ctx)
		}
	}
}

// drainOnce claims and processes one batch. Returns after the batch so the
// ticker paces queue pressure.
func (w *Worker) drainOnce(ctx context.Context) {
	items, err := w.repo.ClaimPriceChangeItems(ctx, claimBatchSize)
	if err != nil {
		log.Printf("[pricechange] claim failed: %v", err)
		return
	}
	for _, item := range items {
		if err := w.calc.Recompute(ctx, item.MasterPropertyID); err != nil {
			log.Printf("[pricechange] property %d (%s): %v", item.MasterPropertyID, item.Reason, err)
			if err := w.repo.FailPriceChangeItem(ctx, item.ID, err.Error()); err != nil {
				log.Printf("[pricechange] mark failed %d: %v", item.ID, err)
			}
			continue
		}
		if err := w.repo.CompletePriceChangeItem(ctx, item.ID); err != nil {
			log.Printf("[pricechange] mark complete %d: %v", item.ID, err)
		}
	}
}

func (w *Worker) maintain(ctx context.Context) {
	if n, err := w.repo.RequeueStuckItems(ctx, stuckRequeueAge); err != nil {
		log.Printf("[pricechange] requeue stuck: %v", err)
	} else if n > 0 {
		log.Printf("[pricechange] requeued %d stuck items", n)
	}
	if n, err := w.repo.PruneFinishedQueueItems(ctx, finishedItemsTTL); err != nil {
		log.Printf("[pricechange] prune finished: %v", err)
	} else if n > 0 {
		log.Printf("[pricechange] pruned %d finished items", n)
	}
}
