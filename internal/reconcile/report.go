package reconcile

import (
	"math"

	"madridtracker/server/internal/models"
)

// Report counts what a sweep did.
type Report struct {
	RunID        string               `json:"run_id"`
	Date         string               `json:"date"`
	Processed    int                  `json:"processed"`
	Inserted     int                  `json:"inserted"`
	Updated      int                  `json:"updated"`
	Reactivated  int                  `json:"reactivated"`
	IgnoredSold  int                  `json:"ignored_sold"`
	Duplicates   int                  `json:"duplicates"`
	Rejected     int                  `json:"rejected"`
	Unseen       int                  `json:"unseen"`
	PriceChanges []models.PriceChange `json:"price_changes"`
}

// PriceDrops returns the recorded decreases of at least minPercent.
func (r Report) PriceDrops(minPercent float64) []models.PriceChange {
	drops := []models.PriceChange{}
	for _, c := range r.PriceChanges {
		if c.ChangeAmount < 0 && c.ChangePercent <= -math.Abs(minPercent) {
			drops = append(drops, c)
		}
	}
	return drops
}

func (r *Report) add(o Report) {
	r.Processed += o.Processed
	r.Inserted += o.Inserted
	r.Updated += o.Updated
	r.Reactivated += o.Reactivated
	r.IgnoredSold += o.IgnoredSold
	r.Duplicates += o.Duplicates
	r.Rejected += o.Rejected
	r.PriceChanges = append(r.PriceChanges, o.PriceChanges...)
}
