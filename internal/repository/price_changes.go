package repository

import (
	"context"
	"time"

	"condoscan/internal/models"

	"github.com/jackc/pgx/v5"
)

// ReplacePropertyPriceChanges atomically swaps the derived change set for a
// property. Delete and insert run in one transaction so readers never see a
// partial set.
func (r *Repository) ReplacePropertyPriceChanges(ctx context.Context, propertyID int64, changes []models.PropertyPriceChange) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM property_price_changes WHERE master_property_id = $1`, propertyID); err != nil {
			return err
		}
		for _, c := range changes {
			_, err := tx.Exec(ctx, `
				INSERT INTO property_price_changes
					(master_property_id, change_date, old_price, new_price, price_diff, price_diff_rate,
					 new_price_votes, old_price_votes)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				propertyID, c.ChangeDate, c.OldPrice, c.NewPrice, c.PriceDiff, c.PriceDiffRate,
				c.NewPriceVotes, c.OldPriceVotes)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) ListPropertyPriceChanges(ctx context.Context, propertyID int64) ([]models.PropertyPriceChange, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, master_property_id, change_date, old_price, new_price, price_diff,
			price_diff_rate, new_price_votes, old_price_votes, created_at
		FROM property_price_changes
		WHERE master_property_id = $1
		ORDER BY change_date`, propertyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PropertyPriceChange
	for rows.Next() {
		var c models.PropertyPriceChange
		if err := rows.Scan(&c.ID, &c.MasterPropertyID, &c.ChangeDate, &c.OldPrice, &c.NewPrice,
			&c.PriceDiff, &c.PriceDiffRate, &c.NewPriceVotes, &c.OldPriceVotes, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeletePriceChangesForProperty clears the derived set, used when a merge
// invalidates the property's history.
func (r *Repository) DeletePriceChangesForProperty(ctx context.Context, propertyID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM property_price_changes WHERE master_property_id = $1`, propertyID)
	return err
}

// PriceChangesSince returns changes newer than the cutoff across all
// properties, for the recent-updates projection.
func (r *Repository) PriceChangesSince(ctx context.Context, cutoff time.Time) ([]models.PropertyPriceChange, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, master_property_id, change_date, old_price, new_price, price_diff,
			price_diff_rate, new_price_votes, old_price_votes, created_at
		FROM property_price_changes
		WHERE created_at >= $1
		ORDER BY change_date DESC, id DESC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PropertyPriceChange
	for rows.Next() {
		var c models.PropertyPriceChange
		if err := rows.Scan(&c.ID, &c.MasterPropertyID, &c.ChangeDate, &c.OldPrice, &c.NewPrice,
			&c.PriceDiff, &c.PriceDiffRate, &c.NewPriceVotes, &c.OldPriceVotes, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
