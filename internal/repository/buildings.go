package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"condoscan/internal/models"
	"condoscan/internal/normalizer"

	"github.com/jackc/pgx/v5"
)

const buildingColumns = `id, normalized_name, canonical_name, address, normalized_address,
	total_floors, basement_floors, total_units, built_year, built_month,
	construction_type, land_rights, station_info, latitude, longitude, geocoded_at,
	is_valid_name, created_at, updated_at`

func scanBuilding(row pgx.Row) (*models.Building, error) {
	var b models.Building
	err := row.Scan(
		&b.ID, &b.NormalizedName, &b.CanonicalName, &b.Address, &b.NormalizedAddress,
		&b.TotalFloors, &b.BasementFloors, &b.TotalUnits, &b.BuiltYear, &b.BuiltMonth,
		&b.ConstructionType, &b.LandRights, &b.StationInfo, &b.Latitude, &b.Longitude, &b.GeocodedAt,
		&b.IsValidName, &b.CreatedAt, &b.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repository) GetBuilding(ctx context.Context, id int64) (*models.Building, error) {
	row := r.db.QueryRow(ctx, `SELECT `+buildingColumns+` FROM buildings WHERE id = $1`, id)
	return scanBuilding(row)
}

// FindBuildingsByCanonicalName returns all buildings with the given search
// key, newest last so the oldest (most established) comes first.
func (r *Repository) FindBuildingsByCanonicalName(ctx context.Context, canonical string) ([]*models.Building, error) {
	rows, err := r.db.Query(ctx, `SELECT `+buildingColumns+` FROM buildings WHERE canonical_name = $1 ORDER BY id`, canonical)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Building
	for rows.Next() {
		b, err := scanBuilding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// FindBuildingsByAliasCanonical returns buildings that have appeared under
// the given canonical name on any source (building_listing_names lookup).
func (r *Repository) FindBuildingsByAliasCanonical(ctx context.Context, canonical string) ([]*models.Building, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT `+prefixColumns("b", buildingColumns)+`
		FROM buildings b
		JOIN building_listing_names n ON n.building_id = b.id
		WHERE n.canonical_name = $1
		ORDER BY b.id`, canonical)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Building
	for rows.Next() {
		b, err := scanBuilding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// prefixColumns qualifies each column of a comma-joined list with an alias.
func prefixColumns(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func (r *Repository) CreateBuilding(ctx context.Context, b *models.Building) error {
	now := time.Now()
	return r.db.QueryRow(ctx, `
		INSERT INTO buildings (normalized_name, canonical_name, address, normalized_address,
			total_floors, basement_floors, total_units, built_year, built_month,
			construction_type, land_rights, station_info, is_valid_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		RETURNING id`,
		b.NormalizedName, b.CanonicalName, b.Address, b.NormalizedAddress,
		b.TotalFloors, b.BasementFloors, b.TotalUnits, b.BuiltYear, b.BuiltMonth,
		b.ConstructionType, b.LandRights, b.StationInfo, b.IsValidName, now,
	).Scan(&b.ID)
}

// UpdateBuildingAttrs writes the majority-vote winners. Only the derived
// columns are touched.
func (r *Repository) UpdateBuildingAttrs(ctx context.Context, b *models.Building) error {
	_, err := r.db.Exec(ctx, `
		UPDATE buildings SET
			normalized_name = $2, canonical_name = $3, address = $4, normalized_address = $5,
			total_floors = $6, basement_floors = $7, total_units = $8,
			built_year = $9, built_month = $10, construction_type = $11,
			land_rights = $12, station_info = $13, is_valid_name = $14, updated_at = NOW()
		WHERE id = $1`,
		b.ID, b.NormalizedName, b.CanonicalName, b.Address, b.NormalizedAddress,
		b.TotalFloors, b.BasementFloors, b.TotalUnits,
		b.BuiltYear, b.BuiltMonth, b.ConstructionType,
		b.LandRights, b.StationInfo, b.IsValidName)
	return err
}

func (r *Repository) DeleteBuilding(ctx context.Context, tx pgx.Tx, id int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM buildings WHERE id = $1`, id)
	return err
}

// UpsertBuildingListingName records one observation of a name for a
// building, accumulating source sites and occurrence counts.
func (r *Repository) UpsertBuildingListingName(ctx context.Context, buildingID int64, normalizedName string, source models.SourceSite, count int) error {
	canonical := normalizer.Canonicalize(normalizedName)
	_, err := r.db.Exec(ctx, `
		INSERT INTO building_listing_names (building_id, normalized_name, canonical_name, source_sites, occurrence_count, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (building_id, normalized_name) DO UPDATE SET
			occurrence_count = building_listing_names.occurrence_count + EXCLUDED.occurrence_count,
			source_sites = CASE
				WHEN position(EXCLUDED.source_sites IN building_listing_names.source_sites) > 0
				THEN building_listing_names.source_sites
				ELSE building_listing_names.source_sites || ',' || EXCLUDED.source_sites
			END,
			last_seen_at = NOW()`,
		buildingID, normalizedName, canonical, string(source), count)
	return err
}

func (r *Repository) ListBuildingListingNames(ctx context.Context, buildingID int64) ([]models.BuildingListingName, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, building_id, normalized_name, canonical_name, source_sites, occurrence_count, first_seen_at, last_seen_at
		FROM building_listing_names WHERE building_id = $1 ORDER BY occurrence_count DESC, id`, buildingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.BuildingListingName
	for rows.Next() {
		var n models.BuildingListingName
		if err := rows.Scan(&n.ID, &n.BuildingID, &n.NormalizedName, &n.CanonicalName, &n.SourceSites, &n.OccurrenceCount, &n.FirstSeenAt, &n.LastSeenAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// BuildingNameVote is one (name, source, count) row feeding the building
// name majority vote.
type BuildingNameVote struct {
	Name   string
	Source models.SourceSite
	Count  int
}

// BuildingNameVotes aggregates the raw listing names currently attached to
// the building's properties.
func (r *Repository) BuildingNameVotes(ctx context.Context, buildingID int64) ([]BuildingNameVote, error) {
	rows, err := r.db.Query(ctx, `
		SELECT l.listing_building_name, l.source_site, COUNT(*)
		FROM listings l
		JOIN master_properties p ON p.id = l.master_property_id
		WHERE p.building_id = $1 AND l.listing_building_name <> ''
		GROUP BY l.listing_building_name, l.source_site`, buildingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BuildingNameVote
	for rows.Next() {
		var v BuildingNameVote
		if err := rows.Scan(&v.Name, &v.Source, &v.Count); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SearchBuildings matches the pattern set against the building's own names
// and its alias set with OR-joined ILIKE terms. The SQL is generated from
// the typed pattern set; every pattern is a bind parameter.
func (r *Repository) SearchBuildings(ctx context.Context, patterns normalizer.SearchPatternSet, limit int) ([]*models.Building, error) {
	if len(patterns.Patterns) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	var conds []string
	var args []interface{}
	for _, arg := range patterns.LikeArgs() {
		args = append(args, arg)
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"b.normalized_name ILIKE $%d OR b.canonical_name ILIKE $%d OR n.canonical_name ILIKE $%d", n, n, n))
	}
	args = append(args, limit)

	query := `
		SELECT DISTINCT ` + prefixColumns("b", buildingColumns) + `
		FROM buildings b
		LEFT JOIN building_listing_names n ON n.building_id = b.id
		WHERE ` + "(" + strings.Join(conds, ") OR (") + ")" + `
		ORDER BY b.id
		LIMIT $` + fmt.Sprint(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Building
	for rows.Next() {
		b, err := scanBuilding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// BuildingsForDuplicateScan returns buildings that own at least one
// property, with the fields the duplicate detector compares.
func (r *Repository) BuildingsForDuplicateScan(ctx context.Context) ([]*models.Building, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+prefixColumns("b", buildingColumns)+`
		FROM buildings b
		WHERE EXISTS (SELECT 1 FROM master_properties p WHERE p.building_id = b.id)
		ORDER BY b.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Building
	for rows.Next() {
		b, err := scanBuilding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
