package database

import (
	"fmt"

	"madridtracker/server/internal/models"
)

// RunMigrations creates the listings and price_history tables with their indexes
// and backfills an initial history entry for active listings that have none.
func (d *Database) RunMigrations() error {
	if err := d.db.AutoMigrate(&models.Listing{}, &models.PriceHistoryEntry{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	res := d.db.Exec(`
		INSERT INTO price_history (listing_id, price, date_recorded, change_amount, change_percent)
		SELECT l.listing_id, l.price, l.first_seen_date, NULL, NULL
		FROM listings l
		WHERE l.status = ?
		AND l.price > 0
		AND NOT EXISTS (
			SELECT 1 FROM price_history ph WHERE ph.listing_id = l.listing_id
		)
	`, models.StatusActive)
	if res.Error != nil {
		return fmt.Errorf("failed to backfill initial price history: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		d.logger.WithField("entries", res.RowsAffected).Info("Backfilled initial price history")
	}
	return nil
}
