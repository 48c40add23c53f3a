package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"madridtracker/server/internal/models"
)

// Writer performs reconciliation writes inside one transaction.
type Writer struct {
	tx *gorm.DB
}

// WriteTx runs fn in a transaction. Any error rolls back every write made through w.
func (d *Database) WriteTx(ctx context.Context, fn func(w *Writer) error) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Writer{tx: tx})
	})
}

// InsertListing inserts l unless its ID already exists. A duplicate is reported
// as inserted=false, not as an error.
func (w *Writer) InsertListing(l *models.Listing) (bool, error) {
	res := w.tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "listing_id"}},
		DoNothing: true,
	}).Create(l)
	if res.Error != nil {
		return false, fmt.Errorf("failed to insert listing %s: %w", l.ListingID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListingStatus returns the stored status of a listing or ErrNotFound.
func (w *Writer) ListingStatus(listingID string) (models.ListingStatus, error) {
	var l models.Listing
	err := w.tx.Select("listing_id", "status").Where("listing_id = ?", listingID).Take(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get listing status: %w", err)
	}
	return l.Status, nil
}

func observedFields(o models.Observation, today string) map[string]interface{} {
	fields := map[string]interface{}{
		"price":       o.Price,
		"title":       o.Title,
		"rooms":       o.Rooms,
		"size_sqm":    o.SizeSqm,
		"floor":       o.Floor,
		"orientation": o.Orientation,
		"seller_type": o.SellerType,
		// last_seen_date never moves before first_seen_date
		"last_seen_date": gorm.Expr("CASE WHEN first_seen_date > ? THEN first_seen_date ELSE ? END", today, today),
	}
	if o.Description != "" {
		fields["description"] = o.Description
	}
	return fields
}

// UpdateObserved refreshes the mutable fields of a listing seen today.
func (w *Writer) UpdateObserved(o models.Observation, today string) error {
	err := w.tx.Model(&models.Listing{}).
		Where("listing_id = ?", o.ListingID).
		Updates(observedFields(o, today)).Error
	if err != nil {
		return fmt.Errorf("failed to update listing %s: %w", o.ListingID, err)
	}
	return nil
}

// Reactivate returns a retired listing to active. With resetFirstSeen the listing
// starts a new market period today.
func (w *Writer) Reactivate(o models.Observation, today string, resetFirstSeen bool) error {
	fields := observedFields(o, today)
	fields["status"] = models.StatusActive
	if resetFirstSeen {
		fields["first_seen_date"] = today
		fields["last_seen_date"] = today
	}
	err := w.tx.Model(&models.Listing{}).
		Where("listing_id = ?", o.ListingID).
		Updates(fields).Error
	if err != nil {
		return fmt.Errorf("failed to reactivate listing %s: %w", o.ListingID, err)
	}
	return nil
}

// LatestPrice returns the price of the most recent history entry, nil if none.
func (w *Writer) LatestPrice(listingID string) (*int, error) {
	var e models.PriceHistoryEntry
	err := w.tx.Where("listing_id = ?", listingID).
		Order("date_recorded DESC").
		Order("id DESC").
		Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest price: %w", err)
	}
	return &e.Price, nil
}

func (w *Writer) AppendPrice(e *models.PriceHistoryEntry) error {
	if err := w.tx.Create(e).Error; err != nil {
		return fmt.Errorf("failed to append price history for %s: %w", e.ListingID, err)
	}
	return nil
}
