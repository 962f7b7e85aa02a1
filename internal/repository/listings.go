package repository

import (
	"context"
	"time"

	"condoscan/internal/models"

	"github.com/jackc/pgx/v5"
)

const listingColumns = `id, master_property_id, source_site, site_property_id, url, is_active,
	listing_building_name, listing_address, listing_floor_number, listing_area, listing_balcony_area,
	listing_layout, listing_direction, listing_total_floors, listing_basement_floors,
	listing_total_units, listing_built_year, listing_built_month, listing_land_rights,
	listing_station_info, listing_building_structure,
	current_price, management_fee, repair_fund, agency_name, agency_tel, room_number, has_update_mark,
	first_seen_at, first_published_at, published_at, last_scraped_at, last_confirmed_at,
	last_fetched_at, price_updated_at, delisted_at, detail_fetched_at, created_at, updated_at`

func scanListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	err := row.Scan(
		&l.ID, &l.MasterPropertyID, &l.SourceSite, &l.SitePropertyID, &l.URL, &l.IsActive,
		&l.ListingBuildingName, &l.ListingAddress, &l.ListingFloorNumber, &l.ListingArea, &l.ListingBalconyArea,
		&l.ListingLayout, &l.ListingDirection, &l.ListingTotalFloors, &l.ListingBasementFloors,
		&l.ListingTotalUnits, &l.ListingBuiltYear, &l.ListingBuiltMonth, &l.ListingLandRights,
		&l.ListingStationInfo, &l.ListingBuildingStructure,
		&l.CurrentPrice, &l.ManagementFee, &l.RepairFund, &l.AgencyName, &l.AgencyTel, &l.RoomNumber, &l.HasUpdateMark,
		&l.FirstSeenAt, &l.FirstPublishedAt, &l.PublishedAt, &l.LastScrapedAt, &l.LastConfirmedAt,
		&l.LastFetchedAt, &l.PriceUpdatedAt, &l.DelistedAt, &l.DetailFetchedAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func collectListings(rows pgx.Rows) ([]*models.Listing, error) {
	defer rows.Close()
	var out []*models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *Repository) GetListing(ctx context.Context, id int64) (*models.Listing, error) {
	row := r.db.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	return scanListing(row)
}

// GetListingBySourceKey looks up the unique (source_site, site_property_id)
// pair, the identity a scraper observes.
func (r *Repository) GetListingBySourceKey(ctx context.Context, source models.SourceSite, sitePropertyID string) (*models.Listing, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE source_site = $1 AND site_property_id = $2`, string(source), sitePropertyID)
	return scanListing(row)
}

func (r *Repository) ListListingsByProperty(ctx context.Context, propertyID int64) ([]*models.Listing, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+listingColumns+` FROM listings WHERE master_property_id = $1 ORDER BY id`, propertyID)
	if err != nil {
		return nil, err
	}
	return collectListings(rows)
}

func (r *Repository) ListActiveListingsByProperty(ctx context.Context, propertyID int64) ([]*models.Listing, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE master_property_id = $1 AND is_active ORDER BY id`, propertyID)
	if err != nil {
		return nil, err
	}
	return collectListings(rows)
}

func (r *Repository) CreateListing(ctx context.Context, l *models.Listing) error {
	now := time.Now()
	if l.FirstSeenAt.IsZero() {
		l.FirstSeenAt = now
	}
	return r.db.QueryRow(ctx, `
		INSERT INTO listings (master_property_id, source_site, site_property_id, url, is_active,
			listing_building_name, listing_address, listing_floor_number, listing_area, listing_balcony_area,
			listing_layout, listing_direction, listing_total_floors, listing_basement_floors,
			listing_total_units, listing_built_year, listing_built_month, listing_land_rights,
			listing_station_info, listing_building_structure,
			current_price, management_fee, repair_fund, agency_name, agency_tel, room_number, has_update_mark,
			first_seen_at, first_published_at, published_at, last_scraped_at, last_confirmed_at,
			last_fetched_at, price_updated_at, detail_fetched_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18,
			$19, $20,
			$21, $22, $23, $24, $25, $26, $27,
			$28, $29, $30, $31, $32,
			$33, $34, $35, $36, $36)
		RETURNING id`,
		l.MasterPropertyID, string(l.SourceSite), l.SitePropertyID, l.URL, l.IsActive,
		l.ListingBuildingName, l.ListingAddress, l.ListingFloorNumber, l.ListingArea, l.ListingBalconyArea,
		l.ListingLayout, l.ListingDirection, l.ListingTotalFloors, l.ListingBasementFloors,
		l.ListingTotalUnits, l.ListingBuiltYear, l.ListingBuiltMonth, l.ListingLandRights,
		l.ListingStationInfo, l.ListingBuildingStructure,
		l.CurrentPrice, l.ManagementFee, l.RepairFund, l.AgencyName, l.AgencyTel, l.RoomNumber, l.HasUpdateMark,
		l.FirstSeenAt, l.FirstPublishedAt, l.PublishedAt, l.LastScrapedAt, l.LastConfirmedAt,
		l.LastFetchedAt, l.PriceUpdatedAt, l.DetailFetchedAt, now,
	).Scan(&l.ID)
}

// UpdateListing rewrites all mutable columns of an existing listing row.
func (r *Repository) UpdateListing(ctx context.Context, l *models.Listing) error {
	_, err := r.db.Exec(ctx, `
		UPDATE listings SET
			master_property_id = $2, url = $3, is_active = $4,
			listing_building_name = $5, listing_address = $6, listing_floor_number = $7,
			listing_area = $8, listing_balcony_area = $9, listing_layout = $10,
			listing_direction = $11, listing_total_floors = $12, listing_basement_floors = $13,
			listing_total_units = $14, listing_built_year = $15, listing_built_month = $16,
			listing_land_rights = $17, listing_station_info = $18, listing_building_structure = $19,
			current_price = $20, management_fee = $21, repair_fund = $22,
			agency_name = $23, agency_tel = $24, room_number = $25, has_update_mark = $26,
			first_published_at = $27, published_at = $28, last_scraped_at = $29,
			last_confirmed_at = $30, last_fetched_at = $31, price_updated_at = $32,
			delisted_at = $33, detail_fetched_at = $34, updated_at = NOW()
		WHERE id = $1`,
		l.ID, l.MasterPropertyID, l.URL, l.IsActive,
		l.ListingBuildingName, l.ListingAddress, l.ListingFloorNumber,
		l.ListingArea, l.ListingBalconyArea, l.ListingLayout,
		l.ListingDirection, l.ListingTotalFloors, l.ListingBasementFloors,
		l.ListingTotalUnits, l.ListingBuiltYear, l.ListingBuiltMonth,
		l.ListingLandRights, l.ListingStationInfo, l.ListingBuildingStructure,
		l.CurrentPrice, l.ManagementFee, l.RepairFund,
		l.AgencyName, l.AgencyTel, l.RoomNumber, l.HasUpdateMark,
		l.FirstPublishedAt, l.PublishedAt, l.LastScrapedAt,
		l.LastConfirmedAt, l.LastFetchedAt, l.PriceUpdatedAt,
		l.DelistedAt, l.DetailFetchedAt)
	return err
}

// TouchListingConfirmed bumps the liveness timestamps on a list-page
// sighting that changed nothing else.
func (r *Repository) TouchListingConfirmed(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE listings SET last_confirmed_at = $2, last_scraped_at = $2, updated_at = NOW()
		WHERE id = $1`, id, at)
	return err
}

// AppendListingPrice records one observed price point.
func (r *Repository) AppendListingPrice(ctx context.Context, listingID int64, price int, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO listing_price_history (listing_id, price, recorded_at) VALUES ($1, $2, $3)`,
		listingID, price, at)
	return err
}

func (r *Repository) ListingPriceHistory(ctx context.Context, listingID int64) ([]models.ListingPriceHistory, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, listing_id, price, recorded_at
		FROM listing_price_history WHERE listing_id = $1 ORDER BY recorded_at, id`, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ListingPriceHistory
	for rows.Next() {
		var h models.ListingPriceHistory
		if err := rows.Scan(&h.ID, &h.ListingID, &h.Price, &h.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// PropertyPriceHistory returns all price points across a property's
// listings, joined with each listing's source, ordered by time.
func (r *Repository) PropertyPriceHistory(ctx context.Context, propertyID int64) ([]PricePoint, error) {
	rows, err := r.db.Query(ctx, `
		SELECT h.listing_id, l.source_site, h.price, h.recorded_at, l.first_seen_at
		FROM listing_price_history h
		JOIN listings l ON l.id = h.listing_id
		WHERE l.master_property_id = $1
		ORDER BY h.recorded_at, h.id`, propertyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PricePoint
	for rows.Next() {
		var p PricePoint
		if err := rows.Scan(&p.ListingID, &p.Source, &p.Price, &p.RecordedAt, &p.ListingFirstSeen); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PricePoint is one cross-listing price observation used by the price
// change derivation walk.
type PricePoint struct {
	ListingID        int64
	Source           models.SourceSite
	Price            int
	RecordedAt       time.Time
	ListingFirstSeen time.Time
}

// StaleActiveListings returns active listings not confirmed since the
// cutoff, the lifecycle sweep input.
func (r *Repository) StaleActiveListings(ctx context.Context, cutoff time.Time, limit int) ([]*models.Listing, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE is_active AND (last_confirmed_at IS NULL OR last_confirmed_at < $1)
		ORDER BY last_confirmed_at NULLS FIRST
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return collectListings(rows)
}

// DeactivateListing retires a listing, stamping delisted_at once.
func (r *Repository) DeactivateListing(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE listings SET is_active = FALSE,
			delisted_at = COALESCE(delisted_at, $2),
			updated_at = NOW()
		WHERE id = $1`, id, at)
	return err
}

// MoveListingsToProperty reassigns listings from src to dst inside tx,
// returning the moved IDs.
func (r *Repository) MoveListingsToProperty(ctx context.Context, tx pgx.Tx, srcPropertyID, dstPropertyID int64) ([]int64, error) {
	rows, err := tx.Query(ctx, `
		UPDATE listings SET master_property_id = $2, updated_at = NOW()
		WHERE master_property_id = $1
		RETURNING id`, srcPropertyID, dstPropertyID)
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

func (r *Repository) DeactivateListingTx(ctx context.Context, tx pgx.Tx, id int64, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE listings SET is_active = FALSE,
			delisted_at = COALESCE(delisted_at, $2),
			updated_at = NOW()
		WHERE id = $1`, id, at)
	return err
}
