package repository

import (
	"context"
	"time"

	"condoscan/internal/models"

	"github.com/jackc/pgx/v5"
)

// Backoff bounds for the 404 and price-mismatch ledgers. Each repeated
// failure doubles the wait, capped at a week.
const (
	retryBaseDelay = 6 * time.Hour
	retryMaxDelay  = 7 * 24 * time.Hour
)

func backoffDelay(errorCount int) time.Duration {
	d := retryBaseDelay
	for i := 1; i < errorCount; i++ {
		d *= 2
		if d >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return d
}

// Record404 upserts a 404 sighting, doubling the retry delay on repeats.
func (r *Repository) Record404(ctx context.Context, source models.SourceSite, sitePropertyID, url string) error {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT error_count FROM url_404_retries
		WHERE source_site = $1 AND site_property_id = $2`,
		string(source), sitePropertyID).Scan(&count)
	if err != nil && err != pgx.ErrNoRows {
		return err
	}
	count++
	retryAfter := time.Now().Add(backoffDelay(count))

	_, err = r.db.Exec(ctx, `
		INSERT INTO url_404_retries (source_site, site_property_id, url, error_count, retry_after)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (source_site, site_property_id) DO UPDATE SET
			error_count = url_404_retries.error_count + 1,
			url = EXCLUDED.url,
			last_error_at = NOW(),
			retry_after = EXCLUDED.retry_after,
			is_resolved = FALSE`,
		string(source), sitePropertyID, url, retryAfter)
	return err
}

// Should404Skip reports whether detail fetches for the key are still inside
// the backoff window.
func (r *Repository) Should404Skip(ctx context.Context, source models.SourceSite, sitePropertyID string) (bool, error) {
	var retryAfter time.Time
	var resolved bool
	err := r.db.QueryRow(ctx, `
		SELECT retry_after, is_resolved FROM url_404_retries
		WHERE source_site = $1 AND site_property_id = $2`,
		string(source), sitePropertyID).Scan(&retryAfter, &resolved)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if resolved {
		return false, nil
	}
	return time.Now().Before(retryAfter), nil
}

// Resolve404 marks the key healthy again after a successful fetch.
func (r *Repository) Resolve404(ctx context.Context, source models.SourceSite, sitePropertyID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE url_404_retries SET is_resolved = TRUE
		WHERE source_site = $1 AND site_property_id = $2`,
		string(source), sitePropertyID)
	return err
}

// RecordPriceMismatch upserts a list-vs-detail price disagreement with the
// same backoff schedule as the 404 ledger.
func (r *Repository) RecordPriceMismatch(ctx context.Context, source models.SourceSite, sitePropertyID string, listPrice, detailPrice int) error {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT error_count FROM price_mismatch_histories
		WHERE source_site = $1 AND site_property_id = $2`,
		string(source), sitePropertyID).Scan(&count)
	if err != nil && err != pgx.ErrNoRows {
		return err
	}
	count++
	retryAfter := time.Now().Add(backoffDelay(count))

	_, err = r.db.Exec(ctx, `
		INSERT INTO price_mismatch_histories
			(source_site, site_property_id, list_price, detail_price, error_count, retry_after)
		VALUES ($1, $2, $3, $4, 1, $5)
		ON CONFLICT (source_site, site_property_id) DO UPDATE SET
			error_count = price_mismatch_histories.error_count + 1,
			list_price = EXCLUDED.list_price,
			detail_price = EXCLUDED.detail_price,
			last_error_at = NOW(),
			retry_after = EXCLUDED.retry_after,
			is_resolved = FALSE`,
		string(source), sitePropertyID, listPrice, detailPrice, retryAfter)
	return err
}

func (r *Repository) ResolvePriceMismatch(ctx context.Context, source models.SourceSite, sitePropertyID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE price_mismatch_histories SET is_resolved = TRUE
		WHERE source_site = $1 AND site_property_id = $2`,
		string(source), sitePropertyID)
	return err
}

// ShouldSkipPriceMismatch mirrors Should404Skip for the mismatch ledger.
func (r *Repository) ShouldSkipPriceMismatch(ctx context.Context, source models.SourceSite, sitePropertyID string) (bool, error) {
	var retryAfter time.Time
	var resolved bool
	err := r.db.QueryRow(ctx, `
		SELECT retry_after, is_resolved FROM price_mismatch_histories
		WHERE source_site = $1 AND site_property_id = $2`,
		string(source), sitePropertyID).Scan(&retryAfter, &resolved)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if resolved {
		return false, nil
	}
	return time.Now().Before(retryAfter), nil
}
