package query

import (
	"context"
	"fmt"

	"madridtracker/server/internal/analytics"
	"madridtracker/server/internal/models"
)

// dashboardTopLimit caps the ranked sections of the dashboard.
const dashboardTopLimit = 10

// Dashboard gathers every analytics section. A section that failed is left at
// its zero value and its error is reported under its name in Errors.
type Dashboard struct {
	Stats            models.DatabaseStats          `json:"stats"`
	Velocity         analytics.VelocityMetrics     `json:"velocity"`
	PriceTrends      []analytics.PeriodPrice       `json:"price_trends"`
	PricePerSqm      []analytics.PeriodPricePerSqm `json:"price_per_sqm"`
	NewVsSold        analytics.NewVsSold           `json:"new_vs_sold"`
	ZoneStats        []analytics.ZoneStats         `json:"zone_stats"`
	Opportunities    []analytics.Opportunity       `json:"opportunities"`
	Bargains         []analytics.Opportunity       `json:"bargains"`
	Chollos          []analytics.Chollo            `json:"chollos"`
	PriceDrops       []models.PriceDrop            `json:"price_drops"`
	DesperateSellers []models.DesperateSeller      `json:"desperate_sellers"`
	HistorySummary   models.HistorySummary         `json:"history_summary"`
	Errors           map[string]string             `json:"errors"`
}

// section runs fn and records its failure, panics included, without stopping
// the other sections.
func (d *Dashboard) section(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			d.Errors[name] = fmt.Sprintf("panic: %v", r)
		}
	}()
	if err := fn(); err != nil {
		d.Errors[name] = err.Error()
	}
}

// Dashboard computes each section independently.
func (s *Service) Dashboard(ctx context.Context) Dashboard {
	d := Dashboard{Errors: map[string]string{}}

	d.section("stats", func() (err error) {
		d.Stats, err = s.GetDatabaseStats(ctx)
		return err
	})
	d.section("velocity", func() (err error) {
		d.Velocity, err = s.Velocity(ctx)
		return err
	})
	d.section("price_trends", func() (err error) {
		d.PriceTrends, err = s.PriceTrends(ctx, string(analytics.Weekly))
		return err
	})
	d.section("price_per_sqm", func() (err error) {
		d.PricePerSqm, err = s.PricePerSqmEvolution(ctx, string(analytics.Weekly), analytics.AllDistritos)
		return err
	})
	d.section("new_vs_sold", func() (err error) {
		d.NewVsSold, err = s.NewVsSold(ctx, DefaultNewVsSoldDays)
		return err
	})
	d.section("zone_stats", func() (err error) {
		d.ZoneStats, err = s.ZoneStats(ctx, 0)
		return err
	})
	d.section("opportunities", func() (err error) {
		d.Opportunities, err = s.Opportunities(ctx, dashboardTopLimit)
		return err
	})
	d.section("bargains", func() (err error) {
		d.Bargains, err = s.Bargains(ctx, nil, dashboardTopLimit)
		return err
	})
	d.section("chollos", func() (err error) {
		d.Chollos, err = s.Chollos(ctx, dashboardTopLimit)
		return err
	})
	d.section("price_drops", func() (err error) {
		d.PriceDrops, err = s.GetRecentPriceDrops(ctx, s.cfg.DropWindowDays, s.cfg.DropMinPercent)
		return err
	})
	d.section("desperate_sellers", func() (err error) {
		d.DesperateSellers, err = s.GetPropertiesWithMultipleDrops(ctx, s.cfg.DesperateMinDrops, s.cfg.DesperateMinTotalDrop)
		return err
	})
	d.section("history_summary", func() (err error) {
		d.HistorySummary, err = s.HistorySummary(ctx)
		return err
	})

	if len(d.Errors) > 0 {
		s.logger.WithField("failed_sections", len(d.Errors)).Warn("Dashboard rendered with failed sections")
	}
	return d
}
