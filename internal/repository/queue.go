package repository

import (
	"context"
	"time"

	"condoscan/internal/models"
)

// EnqueuePriceChange adds a recomputation work item. A pending item for the
// same property is coalesced; the higher priority (lower number) wins.
func (r *Repository) EnqueuePriceChange(ctx context.Context, propertyID int64, priority int, reason string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO property_price_change_queue (master_property_id, status, priority, reason)
		VALUES ($1, 'pending', $2, $3)
		ON CONFLICT (master_property_id) WHERE status = 'pending' DO UPDATE SET
			priority = LEAST(property_price_change_queue.priority, EXCLUDED.priority),
			reason = EXCLUDED.reason`,
		propertyID, priority, reason)
	return err
}

// ClaimPriceChangeItems atomically moves up to limit pending items to
// processing and returns them, highest priority and oldest first. SKIP
// LOCKED keeps concurrent workers from claiming the same rows.
func (r *Repository) ClaimPriceChangeItems(ctx context.Context, limit int) ([]*models.PropertyPriceChangeQueue, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE property_price_change_queue q
		SET status = 'processing'
		FROM (
			SELECT id FROM property_price_change_queue
			WHERE status = 'pending'
			ORDER BY priority, created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		) picked
		WHERE q.id = picked.id
		RETURNING q.id, q.master_property_id, q.status, q.priority, q.reason, q.error_message, q.created_at, q.processed_at`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.PropertyPriceChangeQueue
	for rows.Next() {
		var item models.PropertyPriceChangeQueue
		if err := rows.Scan(&item.ID, &item.MasterPropertyID, &item.Status, &item.Priority,
			&item.Reason, &item.ErrorMessage, &item.CreatedAt, &item.ProcessedAt); err != nil {
			return nil, err
		}
		out = append(out, &item)
	}
	return out, rows.Err()
}

func (r *Repository) CompletePriceChangeItem(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE property_price_change_queue
		SET status = 'completed', processed_at = NOW()
		WHERE id = $1`, id)
	return err
}

func (r *Repository) FailPriceChangeItem(ctx context.Context, id int64, msg string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE property_price_change_queue
		SET status = 'failed', error_message = $2, processed_at = NOW()
		WHERE id = $1`, id, msg)
	return err
}

// RequeueStuckItems returns items stuck in processing longer than maxAge to
// pending, covering worker crashes.
func (r *Repository) RequeueStuckItems(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE property_price_change_queue
		SET status = 'pending'
		WHERE status = 'processing' AND created_at < NOW() - $1::interval`,
		maxAge.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PruneFinishedQueueItems removes completed and failed items older than the
// retention window.
func (r *Repository) PruneFinishedQueueItems(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM property_price_change_queue
		WHERE status IN ('completed', 'failed') AND processed_at < NOW() - $1::interval`,
		olderThan.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) QueueDepth(ctx context.Context) (pending, processing int, err error) {
	err = r.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing')
		FROM property_price_change_queue`).Scan(&pending, &processing)
	return pending, processing, err
}
