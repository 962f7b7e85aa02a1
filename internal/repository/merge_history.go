package repository

import (
	"context"
	"encoding/json"

	"condoscan/internal/models"

	"github.com/jackc/pgx/v5"
)

// ResolveBuildingMerge follows the redirection table: if id was merged away,
// the current final primary is returned, otherwise id itself. One hop, the
// final pointer is maintained on every chain rewrite.
func (r *Repository) ResolveBuildingMerge(ctx context.Context, id int64) (int64, error) {
	var final int64
	err := r.db.QueryRow(ctx, `
		SELECT final_primary_building_id FROM building_merge_histories
		WHERE merged_building_id = $1
		ORDER BY created_at DESC LIMIT 1`, id).Scan(&final)
	if err == pgx.ErrNoRows {
		return id, nil
	}
	if err != nil {
		return 0, err
	}
	return final, nil
}

// ResolvePropertyMerge mirrors ResolveBuildingMerge for master properties.
func (r *Repository) ResolvePropertyMerge(ctx context.Context, id int64) (int64, error) {
	var final int64
	err := r.db.QueryRow(ctx, `
		SELECT final_primary_property_id FROM property_merge_histories
		WHERE merged_property_id = $1
		ORDER BY created_at DESC LIMIT 1`, id).Scan(&final)
	if err == pgx.ErrNoRows {
		return id, nil
	}
	if err != nil {
		return 0, err
	}
	return final, nil
}

func (r *Repository) InsertBuildingMergeHistory(ctx context.Context, tx pgx.Tx, h *models.BuildingMergeHistory) error {
	return tx.QueryRow(ctx, `
		INSERT INTO building_merge_histories
			(merged_building_id, direct_primary_building_id, final_primary_building_id, merge_depth, merge_details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		h.MergedBuildingID, h.DirectPrimaryBuildingID, h.FinalPrimaryBuildingID, h.MergeDepth, h.MergeDetails,
	).Scan(&h.ID, &h.CreatedAt)
}

func (r *Repository) InsertPropertyMergeHistory(ctx context.Context, tx pgx.Tx, h *models.PropertyMergeHistory) error {
	return tx.QueryRow(ctx, `
		INSERT INTO property_merge_histories
			(building_id, merged_property_id, direct_primary_property_id, final_primary_property_id, merge_depth, merge_details)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		h.BuildingID, h.MergedPropertyID, h.DirectPrimaryPropertyID, h.FinalPrimaryPropertyID, h.MergeDepth, h.MergeDetails,
	).Scan(&h.ID, &h.CreatedAt)
}

// RewriteBuildingFinalPrimary repoints every chain record whose final
// primary is oldFinal at newFinal, bumping merge_depth by depthDelta.
func (r *Repository) RewriteBuildingFinalPrimary(ctx context.Context, tx pgx.Tx, oldFinal, newFinal int64, depthDelta int) error {
	_, err := tx.Exec(ctx, `
		UPDATE building_merge_histories
		SET final_primary_building_id = $2, merge_depth = merge_depth + $3
		WHERE final_primary_building_id = $1`, oldFinal, newFinal, depthDelta)
	return err
}

func (r *Repository) RewritePropertyFinalPrimary(ctx context.Context, tx pgx.Tx, oldFinal, newFinal int64, depthDelta int) error {
	_, err := tx.Exec(ctx, `
		UPDATE property_merge_histories
		SET final_primary_property_id = $2, merge_depth = merge_depth + $3
		WHERE final_primary_property_id = $1`, oldFinal, newFinal, depthDelta)
	return err
}

func (r *Repository) GetBuildingMergeHistory(ctx context.Context, id int64) (*models.BuildingMergeHistory, error) {
	var h models.BuildingMergeHistory
	err := r.db.QueryRow(ctx, `
		SELECT id, merged_building_id, direct_primary_building_id, final_primary_building_id,
			merge_depth, merge_details, created_at
		FROM building_merge_histories WHERE id = $1`, id).Scan(
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

func (r *Repository) GetPropertyMergeHistory(ctx context.Context, id int64) (*models.PropertyMergeHistory, error) {
	var h models.PropertyMergeHistory
	err := r.db.QueryRow(ctx, `
		SELECT id, building_id, merged_property_id, direct_primary_property_id,
			final_primary_property_id, merge_depth, merge_details, created_at
		FROM property_merge_histories WHERE id = $1`, id).Scan(
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

func (r *Repository) DeleteBuildingMergeHistory(ctx context.Context, tx pgx.Tx, id int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM building_merge_histories WHERE id = $1`, id)
	return err
}

func (r *Repository) DeletePropertyMergeHistory(ctx context.Context, tx pgx.Tx, id int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM property_merge_histories WHERE id = $1`, id)
	return err
}

// PropertyMergeHistoriesForBuildings returns merge records among the given
// buildings, the learning input for resolver attribute matching.
func (r *Repository) PropertyMergeHistoriesForBuilding(ctx context.Context, buildingID int64) ([]*models.PropertyMergeHistory, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, building_id, merged_property_id, direct_primary_property_id,
			final_primary_property_id, merge_depth, merge_details, created_at
		FROM property_merge_histories WHERE building_id = $1 ORDER BY created_at`, buildingID)
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

// BuildingIDInUse reports whether the ID is currently a live buildings row.
// Revert refuses to run when the merged ID has been reused.
func (r *Repository) BuildingIDInUse(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM buildings WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *Repository) PropertyIDInUse(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM master_properties WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// RestoreBuilding reinserts a merged-away building with its original ID
// from the merge snapshot.
func (r *Repository) RestoreBuilding(ctx context.Context, tx pgx.Tx, id int64, d models.BuildingMergeDetails) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO buildings (id, normalized_name, canonical_name, address, normalized_address,
			total_floors, basement_floors, total_units, built_year, built_month,
			construction_type, is_valid_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id, d.NormalizedName, d.CanonicalName, d.Address, d.NormalizedAddress,
		d.TotalFloors, d.BasementFloors, d.TotalUnits, d.BuiltYear, d.BuiltMonth,
		d.ConstructionType, d.IsValidName)
	return err
}

// RestoreProperty reinserts a merged-away property with its original ID.
func (r *Repository) RestoreProperty(ctx context.Context, tx pgx.Tx, id, buildingID int64, d models.PropertyMergeDetails) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO master_properties (id, building_id, room_number, floor_number, area,
			balcony_area, layout, direction, display_building_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, buildingID, d.RoomNumber, d.FloorNumber, d.Area,
		d.BalconyArea, d.Layout, d.Direction, d.DisplayBuildingName)
	return err
}

// MoveBackProperties returns the listed properties to their original
// building during a revert. Properties merged or deleted since the merge are
// skipped; the returned slice holds the IDs actually moved.
func (r *Repository) MoveBackProperties(ctx context.Context, tx pgx.Tx, ids []int64, buildingID int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := tx.Query(ctx, `
		UPDATE master_properties SET building_id = $2, updated_at = NOW()
		WHERE id = ANY($1)
		RETURNING id`, ids, buildingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var moved []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		moved = append(moved, id)
	}
	return moved, rows.Err()
}

// MoveBackListings mirrors MoveBackProperties for a property merge revert.
// Listings that have since moved to another property stay where they are.
func (r *Repository) MoveBackListings(ctx context.Context, tx pgx.Tx, ids []int64, fromPropertyID, toPropertyID int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := tx.Query(ctx, `
		UPDATE listings SET master_property_id = $3, updated_at = NOW()
		WHERE id = ANY($1) AND master_property_id = $2
		RETURNING id`, ids, fromPropertyID, toPropertyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var moved []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		moved = append(moved, id)
	}
	return moved, rows.Err()
}

// Exclusion pairs are stored with the smaller ID first.

func orderPair(a, b int64) (int64, int64) {
	if a < b {
		return a, b
	}
	return b, a
}

func (r *Repository) AddBuildingMergeExclusion(ctx context.Context, id1, id2 int64) error {
	lo, hi := orderPair(id1, id2)
	_, err := r.db.Exec(ctx, `
		INSERT INTO building_merge_exclusions (building_id_1, building_id_2)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`, lo, hi)
	return err
}

func (r *Repository) AddPropertyMergeExclusion(ctx context.Context, id1, id2 int64) error {
	lo, hi := orderPair(id1, id2)
	_, err := r.db.Exec(ctx, `
		INSERT INTO property_merge_exclusions (property_id_1, property_id_2)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`, lo, hi)
	return err
}

func (r *Repository) IsBuildingPairExcluded(ctx context.Context, id1, id2 int64) (bool, error) {
	lo, hi := orderPair(id1, id2)
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM building_merge_exclusions
			WHERE building_id_1 = $1 AND building_id_2 = $2)`, lo, hi).Scan(&exists)
	return exists, err
}

func (r *Repository) IsPropertyPairExcluded(ctx context.Context, id1, id2 int64) (bool, error) {
	lo, hi := orderPair(id1, id2)
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM property_merge_exclusions
			WHERE property_id_1 = $1 AND property_id_2 = $2)`, lo, hi).Scan(&exists)
	return exists, err
}

// RemoveExclusionsForBuilding drops every exclusion naming the building,
// run inside a merge transaction when the building disappears.
func (r *Repository) RemoveExclusionsForBuilding(ctx context.Context, tx pgx.Tx, id int64) error {
	_, err := tx.Exec(ctx, `
		DELETE FROM building_merge_exclusions
		WHERE building_id_1 = $1 OR building_id_2 = $1`, id)
	return err
}

func (r *Repository) RemoveExclusionsForProperty(ctx context.Context, tx pgx.Tx, id int64) error {
	_, err := tx.Exec(ctx, `
		DELETE FROM property_merge_exclusions
		WHERE property_id_1 = $1 OR property_id_2 = $1`, id)
	return err
}

// RecordAmbiguousMatch saves a resolver decision taken among multiple
// surviving candidates for later operator review.
func (r *Repository) RecordAmbiguousMatch(ctx context.Context, m *models.AmbiguousPropertyMatch) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO ambiguous_property_matches
			(building_id, source_site, site_property_id, selected_property_id, candidate_property_ids, confidence)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		m.BuildingID, string(m.SourceSite), m.SitePropertyID, m.SelectedPropertyID,
		m.CandidatePropertyIDs, m.Confidence,
	).Scan(&m.ID, &m.CreatedAt)
}

// RewriteAmbiguousMatches repoints review records from one property to
// another during a property merge, covering both the selection and the
// candidate array.
func (r *Repository) RewriteAmbiguousMatches(ctx context.Context, tx pgx.Tx, fromPropertyID, toPropertyID int64) error {
	if _, err := tx.Exec(ctx, `
		UPDATE ambiguous_property_matches
		SET selected_property_id = $2
		WHERE selected_property_id = $1`, fromPropertyID, toPropertyID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE ambiguous_property_matches
		SET candidate_property_ids = array_replace(candidate_property_ids, $1::bigint, $2::bigint)
		WHERE $1 = ANY(candidate_property_ids)`, fromPropertyID, toPropertyID)
	return err
}

func (r *Repository) ListAmbiguousMatches(ctx context.Context, limit int) ([]*models.AmbiguousPropertyMatch, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, building_id, source_site, site_property_id, selected_property_id,
			candidate_property_ids, confidence, created_at
		FROM ambiguous_property_matches
		ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.AmbiguousPropertyMatch
	for rows.Next() {
		var m models.AmbiguousPropertyMatch
		if err := rows.Scan(&m.ID, &m.BuildingID, &m.SourceSite, &m.SitePropertyID,
			&m.SelectedPropertyID, &m.CandidatePropertyIDs, &m.Confidence, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// MergeDetailsJSON marshals a snapshot for storage, returning raw JSON.
func MergeDetailsJSON(v interface{}) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// mergeHistoryMaxDepth guards against pathological chains.
const mergeHistoryMaxDepth = 64

// ChainDepthOK reports whether creating one more hop below the given depth
// stays inside the guard.
func ChainDepthOK(depth int) bool {
	return depth < mergeHistoryMaxDepth
}
