package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"madridtracker/server/internal/models"
)

// ActiveListingIDs returns the IDs of every listing with status active.
func (d *Database) ActiveListingIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := d.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("status = ?", models.StatusActive).
		Pluck("listing_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load active listing ids: %w", err)
	}
	return ids, nil
}

// GetListing returns one listing or ErrNotFound.
func (d *Database) GetListing(ctx context.Context, listingID string) (*models.Listing, error) {
	var l models.Listing
	err := d.db.WithContext(ctx).Where("listing_id = ?", listingID).Take(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return &l, nil
}

// GetListings applies the optional filters conjunctively.
func (d *Database) GetListings(ctx context.Context, f models.ListingFilter) ([]models.Listing, error) {
	q := d.db.WithContext(ctx).Model(&models.Listing{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if len(f.Zones) > 0 {
		q = q.Where("distrito IN ?", f.Zones)
	}
	if f.MinPrice != nil {
		q = q.Where("price >= ?", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		q = q.Where("price <= ?", *f.MaxPrice)
	}
	if f.SellerType != "" && f.SellerType != models.SellerTypeAll {
		q = q.Where("seller_type = ?", f.SellerType)
	}

	listings := []models.Listing{}
	if err := q.Order("listing_id").Find(&listings).Error; err != nil {
		return nil, fmt.Errorf("failed to get listings: %w", err)
	}
	return listings, nil
}

// MarkStale retires every active listing last seen before cutoff.
func (d *Database) MarkStale(ctx context.Context, cutoff string) (int64, error) {
	res := d.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("status = ? AND last_seen_date < ?", models.StatusActive, cutoff).
		Update("status", models.StatusSoldRemoved)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark stale listings: %w", res.Error)
	}
	return res.RowsAffected, nil
}
