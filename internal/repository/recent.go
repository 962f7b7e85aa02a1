package repository

import (
	"context"
	"strings"
	"time"

	"condoscan/internal/models"
)

// wardOf extracts the ward ("…区") from a normalized address. Addresses
// outside the 23 wards bucket under "other".
func wardOf(address string) string {
	if idx := strings.Index(address, "区"); idx >= 0 {
		return address[:idx+len("区")]
	}
	return "other"
}

// RecentPriceChanges returns price changes recorded in the window, joined
// with building display fields, bucketed by ward. Only properties that
// still have an active listing and a building with a trusted name appear.
func (r *Repository) RecentPriceChanges(ctx context.Context, since time.Time) (map[string][]models.RecentPriceChange, error) {
	rows, err := r.db.Query(ctx, `
		SELECT c.master_property_id, b.normalized_name, COALESCE(b.normalized_address, ''),
			c.change_date, c.old_price, c.new_price, c.price_diff, c.price_diff_rate
		FROM property_price_changes c
		JOIN master_properties p ON p.id = c.master_property_id
		JOIN buildings b ON b.id = p.building_id
		WHERE c.created_at >= $1
		  AND b.is_valid_name
		  AND EXISTS (SELECT 1 FROM listings l WHERE l.master_property_id = p.id AND l.is_active)
		ORDER BY c.change_date DESC, c.id DESC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]models.RecentPriceChange)
	for rows.Next() {
		var c models.RecentPriceChange
		var address string
		if err := rows.Scan(&c.MasterPropertyID, &c.BuildingName, &address,
			&c.ChangeDate, &c.OldPrice, &c.NewPrice, &c.PriceDiff, &c.PriceDiffRate); err != nil {
			return nil, err
		}
		c.Ward = wardOf(address)
		out[c.Ward] = append(out[c.Ward], c)
	}
	return out, rows.Err()
}

// RecentNewListings returns listings first seen in the window, one row per
// master property (the earliest source wins), bucketed by ward.
func (r *Repository) RecentNewListings(ctx context.Context, since time.Time) (map[string][]models.RecentNewListing, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT ON (l.master_property_id)
			l.master_property_id, b.normalized_name, COALESCE(b.normalized_address, ''),
			l.current_price, l.first_seen_at, l.source_site
		FROM listings l
		JOIN master_properties p ON p.id = l.master_property_id
		JOIN buildings b ON b.id = p.building_id
		WHERE l.first_seen_at >= $1
		  AND l.is_active
		  AND b.is_valid_name
		ORDER BY l.master_property_id, l.first_seen_at`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]models.RecentNewListing)
	for rows.Next() {
		var n models.RecentNewListing
		var address string
		if err := rows.Scan(&n.MasterPropertyID, &n.BuildingName, &address,
			&n.Price, &n.FirstSeenAt, &n.SourceSite); err != nil {
			return nil, err
		}
		n.Ward = wardOf(address)
		out[n.Ward] = append(out[n.Ward], n)
	}
	return out, rows.Err()
}

// BuildRecentUpdates assembles the full projection for the window.
func (r *Repository) BuildRecentUpdates(ctx context.Context, hours int) (*models.RecentUpdates, error) {
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	changes, err := r.RecentPriceChanges(ctx, since)
	if err != nil {
		return nil, err
	}
	listings, err := r.RecentNewListings(ctx, since)
	if err != nil {
		return nil, err
	}
	return &models.RecentUpdates{
		Hours:        hours,
		PriceChanges: changes,
		NewListings:  listings,
		GeneratedAt:  time.Now(),
	}, nil
}

// BuildRecentUpdateCounts is the counts-only companion of
// BuildRecentUpdates, built from the same queries.
func (r *Repository) BuildRecentUpdateCounts(ctx context.Context, hours int) (*models.RecentUpdateCounts, error) {
	full, err := r.BuildRecentUpdates(ctx, hours)
	if err != nil {
		return nil, err
	}
	counts := &models.RecentUpdateCounts{
		Hours:        hours,
		PriceChanges: make(map[string]int, len(full.PriceChanges)),
		NewListings:  make(map[string]int, len(full.NewListings)),
		GeneratedAt:  full.GeneratedAt,
	}
	for ward, cs := range full.PriceChanges {
		counts.PriceChanges[ward] = len(cs)
	}
	for ward, ls := range full.NewListings {
		counts.NewListings[ward] = len(ls)
	}
	return counts, nil
}
