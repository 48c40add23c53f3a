package database

import (
	"context"
	"fmt"
	"math"
	"sort"

	"madridtracker/server/internal/models"
	"madridtracker/server/internal/numeric"
)

// zoneColumns whitelists the columns a zone trend may group by.
var zoneColumns = map[string]string{
	"distrito": "distrito",
	"barrio":   "barrio",
}

// minTrendChangePct drops zone trends that are noise.
const minTrendChangePct = 0.1

// GetDatabaseStats returns the headline counts and averages over active listings.
func (d *Database) GetDatabaseStats(ctx context.Context) (models.DatabaseStats, error) {
	var row struct {
		ActiveCount     int64
		SoldCount       int64
		AvgPrice        *float64
		AvgPricePerArea *float64
	}
	err := d.db.WithContext(ctx).Raw(`
		SELECT
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS active_count,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS sold_count,
			AVG(CASE WHEN status = ? AND price > 0 THEN price END) AS avg_price,
			AVG(CASE WHEN status = ? AND price > 0 AND size_sqm > 0 THEN price * 1.0 / size_sqm END) AS avg_price_per_area
		FROM listings
	`, models.StatusActive, models.StatusSoldRemoved, models.StatusActive, models.StatusActive).Scan(&row).Error
	if err != nil {
		return models.DatabaseStats{}, fmt.Errorf("failed to get database stats: %w", err)
	}

	stats := models.DatabaseStats{ActiveCount: row.ActiveCount, SoldCount: row.SoldCount}
	if row.AvgPrice != nil {
		stats.AvgPrice = numeric.Round2(*row.AvgPrice)
	}
	if row.AvgPricePerArea != nil {
		stats.AvgPricePerArea = numeric.Round2(*row.AvgPricePerArea)
	}
	return stats, nil
}

type zoneAverage struct {
	Zone     string
	AvgPrice float64
	Count    int
}

// GetPriceTrendsByZone compares each zone's average price among listings first seen
// on the earliest tracked date with active listings last seen on the latest date.
func (d *Database) GetPriceTrendsByZone(ctx context.Context, zoneType string, minProperties int) ([]models.ZoneTrend, error) {
	column, ok := zoneColumns[zoneType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidZoneType, zoneType)
	}

	var bounds struct {
		Earliest *string
		Latest   *string
	}
	err := d.db.WithContext(ctx).
		Raw("SELECT MIN(first_seen_date) AS earliest, MAX(last_seen_date) AS latest FROM listings").
		Scan(&bounds).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get date bounds: %w", err)
	}
	trends := []models.ZoneTrend{}
	if bounds.Earliest == nil || bounds.Latest == nil || *bounds.Earliest == "" || *bounds.Earliest == *bounds.Latest {
		return trends, nil
	}

	var first []zoneAverage
	err = d.db.WithContext(ctx).Raw(fmt.Sprintf(`
		SELECT %[1]s AS zone, AVG(price) AS avg_price, COUNT(*) AS count
		FROM listings
		WHERE first_seen_date = ? AND price > 0 AND %[1]s IS NOT NULL AND %[1]s <> ''
		GROUP BY %[1]s
		HAVING COUNT(*) >= ?
	`, column), *bounds.Earliest, minProperties).Scan(&first).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get first zone averages: %w", err)
	}

	var last []zoneAverage
	err = d.db.WithContext(ctx).Raw(fmt.Sprintf(`
		SELECT %[1]s AS zone, AVG(price) AS avg_price, COUNT(*) AS count
		FROM listings
		WHERE last_seen_date = ? AND status = ? AND price > 0 AND %[1]s IS NOT NULL AND %[1]s <> ''
		GROUP BY %[1]s
		HAVING COUNT(*) >= ?
	`, column), *bounds.Latest, models.StatusActive, minProperties).Scan(&last).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get last zone averages: %w", err)
	}

	lastByZone := make(map[string]zoneAverage, len(last))
	for _, z := range last {
		lastByZone[z.Zone] = z
	}

	for _, f := range first {
		l, ok := lastByZone[f.Zone]
		if !ok {
			continue
		}
		change := l.AvgPrice - f.AvgPrice
		var pct float64
		if f.AvgPrice > 0 {
			pct = change / f.AvgPrice * 100
		}
		if math.Abs(pct) <= minTrendChangePct {
			continue
		}
		trends = append(trends, models.ZoneTrend{
			Zone:           f.Zone,
			EarliestDate:   *bounds.Earliest,
			LatestDate:     *bounds.Latest,
			FirstAvgPrice:  numeric.Round2(f.AvgPrice),
			LastAvgPrice:   numeric.Round2(l.AvgPrice),
			PropertyCount:  l.Count,
			PriceChange:    numeric.Round2(change),
			PriceChangePct: numeric.Round2(pct),
		})
	}

	sort.SliceStable(trends, func(i, j int) bool {
		if trends[i].PriceChangePct == trends[j].PriceChangePct {
			return trends[i].Zone < trends[j].Zone
		}
		return trends[i].PriceChangePct < trends[j].PriceChangePct
	})
	return trends, nil
}

// ZoneAvgPricePerSqm returns the average price per sqm of active listings in a
// distrito, false when there are none with a known size.
func (d *Database) ZoneAvgPricePerSqm(ctx context.Context, distrito string) (float64, bool, error) {
	var avg *float64
	err := d.db.WithContext(ctx).Raw(`
		SELECT AVG(price * 1.0 / size_sqm)
		FROM listings
		WHERE distrito = ? AND status = ? AND price > 0 AND size_sqm >= 10
	`, distrito, models.StatusActive).Scan(&avg).Error
	if err != nil {
		return 0, false, fmt.Errorf("failed to get zone price per sqm: %w", err)
	}
	if avg == nil {
		return 0, false, nil
	}
	return *avg, true, nil
}
