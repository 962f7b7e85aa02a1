package repository

import (
	"context"

	"condoscan/internal/models"

	"github.com/jackc/pgx/v5"
)

// FindBuildingMergeByMerged returns the latest merge record naming the
// building as the merged-away side.
func (r *Repository) FindBuildingMergeByMerged(ctx context.Context, mergedID int64) (*models.BuildingMergeHistory, error) {
	var h models.BuildingMergeHistory
	err := r.db.QueryRow(ctx, `
		SELECT id, merged_building_id, direct_primary_building_id, final_primary_building_id,
			merge_depth, merge_details, created_at
		FROM building_merge_histories
		WHERE merged_building_id = $1
		ORDER BY created_at DESC LIMIT 1`, mergedID).Scan(
		&h.ID, &h.MergedBuildingID, &h.DirectPrimaryBuildingID, &h.FinalPrimaryBuildingID,
		&h.MergeDepth, &h.MergeDetails, &h.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *Repository) FindPropertyMergeByMerged(ctx context.Context, mergedID int64) (*models.PropertyMergeHistory, error) {
	var h models.PropertyMergeHistory
	err := r.db.QueryRow(ctx, `
		SELECT id, building_id, merged_property_id, direct_primary_property_id,
			final_primary_property_id, merge_depth, merge_details, created_at
		FROM property_merge_histories
		WHERE merged_property_id = $1
		ORDER BY created_at DESC LIMIT 1`, mergedID).Scan(
		&h.ID, &h.BuildingID, &h.MergedPropertyID, &h.DirectPrimaryPropertyID,
		&h.FinalPrimaryPropertyID, &h.MergeDepth, &h.MergeDetails, &h.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// ListBuildingMergeHistoriesByFinal returns every chain record currently
// ending at the given building.
func (r *Repository) ListBuildingMergeHistoriesByFinal(ctx context.Context, finalID int64) ([]*models.BuildingMergeHistory, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, merged_building_id, direct_primary_building_id, final_primary_building_id,
			merge_depth, merge_details, created_at
		FROM building_merge_histories
		WHERE final_primary_building_id = $1
		ORDER BY id`, finalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.BuildingMergeHistory
	for rows.Next() {
		var h models.BuildingMergeHistory
		if err := rows.Scan(&h.ID, &h.MergedBuildingID, &h.DirectPrimaryBuildingID, &h.FinalPrimaryBuildingID,
			&h.MergeDepth, &h.MergeDetails, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

func (r *Repository) ListPropertyMergeHistoriesByFinal(ctx context.Context, finalID int64) ([]*models.PropertyMergeHistory, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, building_id, merged_property_id, direct_primary_property_id,
			final_primary_property_id, merge_depth, merge_details, created_at
		FROM property_merge_histories
		WHERE final_primary_property_id = $1
		ORDER BY id`, finalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.PropertyMergeHistory
	for rows.Next() {
		var h models.PropertyMergeHistory
		if err := rows.Scan(&h.ID, &h.BuildingID, &h.MergedPropertyID, &h.DirectPrimaryPropertyID,
			&h.FinalPrimaryPropertyID, &h.MergeDepth, &h.MergeDetails, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

// SetBuildingMergeFinal rewrites one chain record's endpoint and depth.
func (r *Repository) SetBuildingMergeFinal(ctx context.Context, tx pgx.Tx, historyID, finalID int64, depth int) error {
	_, err := tx.Exec(ctx, `
		UPDATE building_merge_histories
		SET final_primary_building_id = $2, merge_depth = $3
		WHERE id = $1`, historyID, finalID, depth)
	return err
}

func (r *Repository) SetPropertyMergeFinal(ctx context.Context, tx pgx.Tx, historyID, finalID int64, depth int) error {
	_, err := tx.Exec(ctx, `
		UPDATE property_merge_histories
		SET final_primary_property_id = $2, merge_depth = $3
		WHERE id = $1`, historyID, finalID, depth)
	return err
}

// MoveListingPriceHistory re-parents price points before a duplicate
// listing row is deleted.
func (r *Repository) MoveListingPriceHistory(ctx context.Context, tx pgx.Tx, fromListingID, toListingID int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE listing_price_history SET listing_id = $2 WHERE listing_id = $1`,
		fromListingID, toListingID)
	return err
}

func (r *Repository) DeleteListing(ctx context.Context, tx pgx.Tx, id int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM listings WHERE id = $1`, id)
	return err
}
