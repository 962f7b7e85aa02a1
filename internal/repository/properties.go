package repository

import (
	"context"
	"time"

	"condoscan/internal/models"

	"github.com/jackc/pgx/v5"
)

const propertyColumns = `id, building_id, room_number, floor_number, area, balcony_area,
	layout, direction, display_building_name, current_price, management_fee, repair_fund,
	station_info, parking_info, sold_at, final_price, final_price_updated_at,
	earliest_listing_date, created_at, updated_at`

func scanProperty(row pgx.Row) (*models.MasterProperty, error) {
	var p models.MasterProperty
	err := row.Scan(
		&p.ID, &p.BuildingID, &p.RoomNumber, &p.FloorNumber, &p.Area, &p.BalconyArea,
		&p.Layout, &p.Direction, &p.DisplayBuildingName, &p.CurrentPrice, &p.ManagementFee, &p.RepairFund,
		&p.StationInfo, &p.ParkingInfo, &p.SoldAt, &p.FinalPrice, &p.FinalPriceUpdatedAt,
		&p.EarliestListingDate, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectProperties(rows pgx.Rows) ([]*models.MasterProperty, error) {
	defer rows.Close()
	var out []*models.MasterProperty
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) GetProperty(ctx context.Context, id int64) (*models.MasterProperty, error) {
	row := r.db.QueryRow(ctx, `SELECT `+propertyColumns+` FROM master_properties WHERE id = $1`, id)
	return scanProperty(row)
}

func (r *Repository) ListPropertiesByBuilding(ctx context.Context, buildingID int64) ([]*models.MasterProperty, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+propertyColumns+` FROM master_properties WHERE building_id = $1 ORDER BY id`, buildingID)
	if err != nil {
		return nil, err
	}
	return collectProperties(rows)
}

// FindPropertyByRoom looks up the room-number identity within a building.
func (r *Repository) FindPropertyByRoom(ctx context.Context, buildingID int64, roomNumber string) (*models.MasterProperty, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+propertyColumns+` FROM master_properties
		WHERE building_id = $1 AND room_number = $2`, buildingID, roomNumber)
	return scanProperty(row)
}

// FindCandidateProperties returns properties in the building that could be
// the same unit as the observed attributes. NULL columns on either side
// match anything; area compares within a 0.5 m2 tolerance.
func (r *Repository) FindCandidateProperties(ctx context.Context, buildingID int64, floor *int, area *float64, layout, direction *string) ([]*models.MasterProperty, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+propertyColumns+` FROM master_properties
		WHERE building_id = $1
		  AND room_number IS NULL
		  AND ($2::int IS NULL OR floor_number IS NULL OR floor_number = $2)
		  AND ($3::double precision IS NULL OR area IS NULL OR abs(area - $3) <= 0.5)
		  AND ($4::text IS NULL OR layout IS NULL OR layout = $4)
		  AND ($5::text IS NULL OR direction IS NULL OR direction = $5)
		ORDER BY id`,
		buildingID, floor, area, layout, direction)
	if err != nil {
		return nil, err
	}
	return collectProperties(rows)
}

func (r *Repository) CreateProperty(ctx context.Context, p *models.MasterProperty) error {
	now := time.Now()
	return r.db.QueryRow(ctx, `
		INSERT INTO master_properties (building_id, room_number, floor_number, area, balcony_area,
			layout, direction, display_building_name, current_price, management_fee, repair_fund,
			station_info, parking_info, earliest_listing_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		RETURNING id`,
		p.BuildingID, p.RoomNumber, p.FloorNumber, p.Area, p.BalconyArea,
		p.Layout, p.Direction, p.DisplayBuildingName, p.CurrentPrice, p.ManagementFee, p.RepairFund,
		p.StationInfo, p.ParkingInfo, p.EarliestListingDate, now,
	).Scan(&p.ID)
}

// UpdatePropertyAttrs writes the voted attribute columns. Returns the error
// unwrapped so callers can detect a composite-identity collision with
// IsUniqueViolation and skip the write.
func (r *Repository) UpdatePropertyAttrs(ctx context.Context, p *models.MasterProperty) error {
	_, err := r.db.Exec(ctx, `
		UPDATE master_properties SET
			room_number = $2, floor_number = $3, area = $4, balcony_area = $5,
			layout = $6, direction = $7, display_building_name = $8,
			current_price = $9, management_fee = $10, repair_fund = $11,
			station_info = $12, parking_info = $13, updated_at = NOW()
		WHERE id = $1`,
		p.ID, p.RoomNumber, p.FloorNumber, p.Area, p.BalconyArea,
		p.Layout, p.Direction, p.DisplayBuildingName,
		p.CurrentPrice, p.ManagementFee, p.RepairFund,
		p.StationInfo, p.ParkingInfo)
	return err
}

// UpdatePropertyLifecycle writes the sold/final-price block.
func (r *Repository) UpdatePropertyLifecycle(ctx context.Context, id int64, soldAt *time.Time, finalPrice *int, finalPriceUpdatedAt *time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE master_properties SET
			sold_at = $2, final_price = $3, final_price_updated_at = $4, updated_at = NOW()
		WHERE id = $1`,
		id, soldAt, finalPrice, finalPriceUpdatedAt)
	return err
}

// UpdatePropertyEarliestListingDate keeps earliest_listing_date at the min
// first_seen_at across the property's listings.
func (r *Repository) UpdatePropertyEarliestListingDate(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE master_properties p SET earliest_listing_date = sub.earliest, updated_at = NOW()
		FROM (SELECT MIN(first_seen_at) AS earliest FROM listings WHERE master_property_id = $1) sub
		WHERE p.id = $1 AND (p.earliest_listing_date IS DISTINCT FROM sub.earliest)`, id)
	return err
}

// MovePropertiesToBuilding reassigns every property of src to dst inside tx.
// Returns the moved IDs for the merge snapshot.
func (r *Repository) MovePropertiesToBuilding(ctx context.Context, tx pgx.Tx, srcBuildingID, dstBuildingID int64) ([]int64, error) {
	rows, err := tx.Query(ctx, `
		UPDATE master_properties SET building_id = $2, updated_at = NOW()
		WHERE building_id = $1
		RETURNING id`, srcBuildingID, dstBuildingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) DeleteProperty(ctx context.Context, tx pgx.Tx, id int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM master_properties WHERE id = $1`, id)
	return err
}

// PropertiesWithActiveListings returns the IDs of properties in the building
// that still have at least one active listing.
func (r *Repository) PropertiesWithActiveListings(ctx context.Context, buildingID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT p.id
		FROM master_properties p
		JOIN listings l ON l.master_property_id = p.id AND l.is_active
		WHERE p.building_id = $1
		ORDER BY p.id`, buildingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AllPropertyIDs streams every property ID, for full recomputation tools.
func (r *Repository) AllPropertyIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM master_properties ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
