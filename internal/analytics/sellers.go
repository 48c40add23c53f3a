package analytics

import (
	"math"
	"sort"

	"madridtracker/server/internal/models"
	"madridtracker/server/internal/numeric"
)

// Defaults for the price drop views.
const (
	DefaultDropWindowDays  = 7
	DefaultMinDropPercent  = 5.0
	DefaultMinDrops        = 2
	DefaultMinTotalDropPct = 10.0
	maxUrgencyScore        = 100.0
)

// DesperateSellers returns active listings with at least minDrops price cuts whose
// current price is at least minTotalDropPct below the first recorded price, most
// urgent first. histories holds each listing's entries oldest first.
func DesperateSellers(listings []models.Listing, histories map[string][]models.PriceHistoryEntry, minDrops int, minTotalDropPct float64) []models.DesperateSeller {
	out := make([]models.DesperateSeller, 0)
	for _, l := range listings {
		if l.Status != models.StatusActive {
			continue
		}
		entries := histories[l.ListingID]
		if len(entries) == 0 {
			continue
		}

		drops := 0
		lastChange := ""
		for _, e := range entries {
			if e.ChangeAmount == nil {
				continue
			}
			lastChange = e.DateRecorded
			if *e.ChangeAmount < 0 {
				drops++
			}
		}
		if drops < minDrops {
			continue
		}

		initial := entries[0].Price
		current := entries[len(entries)-1].Price
		pct := numeric.PercentChange(float64(initial), float64(current))
		if pct > -math.Abs(minTotalDropPct) {
			continue
		}

		out = append(out, models.DesperateSeller{
			ListingID:       l.ListingID,
			Title:           l.Title,
			URL:             l.URL,
			Distrito:        l.Distrito,
			Barrio:          l.Barrio,
			Rooms:           l.Rooms,
			SizeSqm:         l.SizeSqm,
			InitialPrice:    initial,
			CurrentPrice:    current,
			TotalDrop:       current - initial,
			TotalDropPct:    pct,
			NumDrops:        drops,
			FirstSeenDate:   l.FirstSeenDate,
			LastChangeDate:  lastChange,
			UrgencyScore:    numeric.Round2(math.Min(maxUrgencyScore, math.Abs(pct)*float64(drops))),
			InitialPriceSqm: pricePerSqmPtr(initial, l.SizeSqm),
			CurrentPriceSqm: pricePerSqmPtr(current, l.SizeSqm),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UrgencyScore == out[j].UrgencyScore {
			return out[i].ListingID < out[j].ListingID
		}
		return out[i].UrgencyScore > out[j].UrgencyScore
	})
	return out
}

// RecentDrops joins the price cuts recorded on or after since of at least
// minDropPercent with their listings, most severe first. Entries whose listing is
// missing are skipped.
func RecentDrops(entries []models.PriceHistoryEntry, listings map[string]models.Listing, since string, minDropPercent float64) []models.PriceDrop {
	out := make([]models.PriceDrop, 0)
	limit := -math.Abs(minDropPercent)
	for _, e := range entries {
		if e.DateRecorded < since || e.ChangeAmount == nil || e.ChangePercent == nil {
			continue
		}
		if *e.ChangePercent > limit {
			continue
		}
		l, ok := listings[e.ListingID]
		if !ok {
			continue
		}
		oldPrice := e.Price - *e.ChangeAmount
		out = append(out, models.PriceDrop{
			ListingID:     l.ListingID,
			Title:         l.Title,
			URL:           l.URL,
			Distrito:      l.Distrito,
			Barrio:        l.Barrio,
			Rooms:         l.Rooms,
			SizeSqm:       l.SizeSqm,
			Status:        string(l.Status),
			OldPrice:      oldPrice,
			NewPrice:      e.Price,
			ChangeAmount:  *e.ChangeAmount,
			ChangePercent: *e.ChangePercent,
			DateRecorded:  e.DateRecorded,
			OldPriceSqm:   pricePerSqmPtr(oldPrice, l.SizeSqm),
			NewPriceSqm:   pricePerSqmPtr(e.Price, l.SizeSqm),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ChangePercent == out[j].ChangePercent {
			return out[i].DateRecorded > out[j].DateRecorded
		}
		return out[i].ChangePercent < out[j].ChangePercent
	})
	return out
}
