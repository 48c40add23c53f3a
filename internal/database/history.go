package database

import (
	"context"
	"fmt"

	"madridtracker/server/internal/models"
	"madridtracker/server/internal/numeric"
)

// PriceHistory returns the entries of one listing oldest first, empty if none.
func (d *Database) PriceHistory(ctx context.Context, listingID string) ([]models.PriceHistoryEntry, error) {
	entries := []models.PriceHistoryEntry{}
	err := d.db.WithContext(ctx).
		Where("listing_id = ?", listingID).
		Order("date_recorded ASC").
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get price history: %w", err)
	}
	return entries, nil
}

// PriceChangesSince returns every delta entry recorded on or after since.
func (d *Database) PriceChangesSince(ctx context.Context, since string) ([]models.PriceHistoryEntry, error) {
	entries := []models.PriceHistoryEntry{}
	err := d.db.WithContext(ctx).
		Where("date_recorded >= ? AND change_amount IS NOT NULL", since).
		Order("date_recorded ASC").
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get recent price changes: %w", err)
	}
	return entries, nil
}

// ListingsByID loads the listings with the given IDs keyed by ID.
func (d *Database) ListingsByID(ctx context.Context, ids []string) (map[string]models.Listing, error) {
	out := make(map[string]models.Listing, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var listings []models.Listing
	if err := d.db.WithContext(ctx).Where("listing_id IN ?", ids).Find(&listings).Error; err != nil {
		return nil, fmt.Errorf("failed to get listings by id: %w", err)
	}
	for _, l := range listings {
		out[l.ListingID] = l
	}
	return out, nil
}

// ListingsWithMinDrops returns active listings with at least minDrops negative
// history entries, together with their full histories oldest first.
func (d *Database) ListingsWithMinDrops(ctx context.Context, minDrops int) ([]models.Listing, map[string][]models.PriceHistoryEntry, error) {
	histories := map[string][]models.PriceHistoryEntry{}

	var ids []string
	err := d.db.WithContext(ctx).
		Model(&models.PriceHistoryEntry{}).
		Select("listing_id").
		Where("change_amount < 0").
		Group("listing_id").
		Having("COUNT(*) >= ?", minDrops).
		Pluck("listing_id", &ids).Error
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find listings with price drops: %w", err)
	}
	if len(ids) == 0 {
		return []models.Listing{}, histories, nil
	}

	listings := []models.Listing{}
	err = d.db.WithContext(ctx).
		Where("listing_id IN ? AND status = ?", ids, models.StatusActive).
		Order("listing_id").
		Find(&listings).Error
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load listings with price drops: %w", err)
	}

	var entries []models.PriceHistoryEntry
	err = d.db.WithContext(ctx).
		Where("listing_id IN ?", ids).
		Order("listing_id").
		Order("date_recorded ASC").
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load price histories: %w", err)
	}
	for _, e := range entries {
		histories[e.ListingID] = append(histories[e.ListingID], e)
	}
	return listings, histories, nil
}

// HistorySummary aggregates the ledger.
func (d *Database) HistorySummary(ctx context.Context) (models.HistorySummary, error) {
	var row struct {
		TotalRecords          int64
		PropertiesWithChanges int64
		TotalChanges          int64
		PriceDrops            int64
		PriceIncreases        int64
		AvgDropPercent        *float64
		AvgIncreasePercent    *float64
	}
	err := d.db.WithContext(ctx).Raw(`
		SELECT
			COUNT(*) AS total_records,
			COUNT(DISTINCT CASE WHEN change_amount IS NOT NULL THEN listing_id END) AS properties_with_changes,
			COUNT(change_amount) AS total_changes,
			COALESCE(SUM(CASE WHEN change_amount < 0 THEN 1 ELSE 0 END), 0) AS price_drops,
			COALESCE(SUM(CASE WHEN change_amount > 0 THEN 1 ELSE 0 END), 0) AS price_increases,
			AVG(CASE WHEN change_amount < 0 THEN change_percent END) AS avg_drop_percent,
			AVG(CASE WHEN change_amount > 0 THEN change_percent END) AS avg_increase_percent
		FROM price_history
	`).Scan(&row).Error
	if err != nil {
		return models.HistorySummary{}, fmt.Errorf("failed to summarize price history: %w", err)
	}

	summary := models.HistorySummary{
		TotalRecords:          row.TotalRecords,
		PropertiesWithChanges: row.PropertiesWithChanges,
		TotalChanges:          row.TotalChanges,
		PriceDrops:            row.PriceDrops,
		PriceIncreases:        row.PriceIncreases,
	}
	if row.AvgDropPercent != nil {
		summary.AvgDropPercent = numeric.Round2(*row.AvgDropPercent)
	}
	if row.AvgIncreasePercent != nil {
		summary.AvgIncreasePercent = numeric.Round2(*row.AvgIncreasePercent)
	}
	return summary, nil
}
