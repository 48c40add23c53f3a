// Package query is the read side served to the dashboard. It combines listing
// store queries with the analytics functions and applies the configured
// thresholds.
package query

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"madridtracker/server/config"
	"madridtracker/server/internal/analytics"
	"madridtracker/server/internal/dates"
	"madridtracker/server/internal/database"
	"madridtracker/server/internal/ledger"
	"madridtracker/server/internal/models"
)

var (
	ErrInvalidReference = errors.New("invalid listing reference")
	ErrInvalidParameter = errors.New("invalid parameter")
)

// listingURLPattern extracts the numeric ID from a canonical listing URL.
var listingURLPattern = regexp.MustCompile(`/inmueble/(\d+)`)

const (
	DefaultNewVsSoldDays = 30
	DefaultTopLimit      = 20
)

// Store is the read API of the listing store and price history ledger.
type Store interface {
	GetListing(ctx context.Context, listingID string) (*models.Listing, error)
	GetListings(ctx context.Context, f models.ListingFilter) ([]models.Listing, error)
	GetDatabaseStats(ctx context.Context) (models.DatabaseStats, error)
	GetPriceTrendsByZone(ctx context.Context, zoneType string, minProperties int) ([]models.ZoneTrend, error)
	PriceHistory(ctx context.Context, listingID string) ([]models.PriceHistoryEntry, error)
	PriceChangesSince(ctx context.Context, since string) ([]models.PriceHistoryEntry, error)
	ListingsByID(ctx context.Context, ids []string) (map[string]models.Listing, error)
	ListingsWithMinDrops(ctx context.Context, minDrops int) ([]models.Listing, map[string][]models.PriceHistoryEntry, error)
	HistorySummary(ctx context.Context) (models.HistorySummary, error)
}

// Options carries the deployment-specific inputs of the analytics.
type Options struct {
	Clock         dates.Clock
	TrackingStart string
	Scoring       analytics.ScoringPolicy
}

type Service struct {
	store  Store
	cfg    config.AnalyticsConfig
	opts   Options
	logger *logrus.Logger
}

func NewService(store Store, cfg config.AnalyticsConfig, opts Options, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if opts.Clock == nil {
		opts.Clock = dates.SystemClock{}
	}
	if opts.Scoring.Max == 0 {
		opts.Scoring = analytics.DefaultScoringPolicy()
	}
	return &Service{store: store, cfg: cfg, opts: opts, logger: logger}
}

func (s *Service) today() string {
	return dates.Today(s.opts.Clock)
}

func (s *Service) GetListings(ctx context.Context, f models.ListingFilter) ([]models.Listing, error) {
	if f.Status != "" && !f.Status.IsValid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidParameter, f.Status)
	}
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return nil, fmt.Errorf("%w: min_price above max_price", ErrInvalidParameter)
	}
	return s.store.GetListings(ctx, f)
}

func (s *Service) activeListings(ctx context.Context) ([]models.Listing, error) {
	return s.store.GetListings(ctx, models.ListingFilter{Status: models.StatusActive})
}

func (s *Service) allListings(ctx context.Context) ([]models.Listing, error) {
	return s.store.GetListings(ctx, models.ListingFilter{})
}

func (s *Service) GetDatabaseStats(ctx context.Context) (models.DatabaseStats, error) {
	return s.store.GetDatabaseStats(ctx)
}

// GetPriceTrendsByZone compares zone averages between the first and last
// observation dates. A non-positive minProperties uses the configured minimum.
func (s *Service) GetPriceTrendsByZone(ctx context.Context, zoneType string, minProperties int) ([]models.ZoneTrend, error) {
	if minProperties <= 0 {
		minProperties = s.cfg.ZoneTrendMinProperties
	}
	return s.store.GetPriceTrendsByZone(ctx, zoneType, minProperties)
}

func (s *Service) GetPriceHistory(ctx context.Context, listingID string) ([]models.PriceHistoryEntry, error) {
	return s.store.PriceHistory(ctx, listingID)
}

// GetPropertyPriceStats returns database.ErrNotFound when the listing has no history.
func (s *Service) GetPropertyPriceStats(ctx context.Context, listingID string) (models.PriceStats, error) {
	entries, err := s.store.PriceHistory(ctx, listingID)
	if err != nil {
		return models.PriceStats{}, err
	}
	stats, ok := ledger.Summarize(listingID, entries)
	if !ok {
		return models.PriceStats{}, fmt.Errorf("no price history for %s: %w", listingID, database.ErrNotFound)
	}
	return stats, nil
}

// GetRecentPriceDrops lists cuts of at least minDropPercent recorded in the
// last days days.
func (s *Service) GetRecentPriceDrops(ctx context.Context, days int, minDropPercent float64) ([]models.PriceDrop, error) {
	if days < 0 {
		return nil, fmt.Errorf("%w: days must be >= 0", ErrInvalidParameter)
	}
	since, err := dates.AddDays(s.today(), -days)
	if err != nil {
		return nil, err
	}

	entries, err := s.store.PriceChangesSince(ctx, since)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ListingID)
	}
	listings, err := s.store.ListingsByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	return analytics.RecentDrops(entries, listings, since, minDropPercent), nil
}

// GetPropertiesWithMultipleDrops returns active listings with repeated cuts,
// most urgent first.
func (s *Service) GetPropertiesWithMultipleDrops(ctx context.Context, minDrops int, minTotalDropPct float64) ([]models.DesperateSeller, error) {
	if minDrops < 1 {
		return nil, fmt.Errorf("%w: min_drops must be >= 1", ErrInvalidParameter)
	}
	listings, histories, err := s.store.ListingsWithMinDrops(ctx, minDrops)
	if err != nil {
		return nil, err
	}
	return analytics.DesperateSellers(listings, histories, minDrops, minTotalDropPct), nil
}

// ParseReference extracts a listing ID from a raw ID or a listing URL.
func ParseReference(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrInvalidReference
	}
	if m := listingURLPattern.FindStringSubmatch(ref); m != nil {
		return m[1], nil
	}
	if strings.Contains(ref, "://") || strings.Contains(ref, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	return ref, nil
}

// FindListing resolves a raw ID or listing URL. Unknown IDs yield database.ErrNotFound.
func (s *Service) FindListing(ctx context.Context, ref string) (*models.Listing, error) {
	id, err := ParseReference(ref)
	if err != nil {
		return nil, err
	}
	return s.store.GetListing(ctx, id)
}

func (s *Service) PriceTrends(ctx context.Context, period string) ([]analytics.PeriodPrice, error) {
	p, err := analytics.ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	listings, err := s.allListings(ctx)
	if err != nil {
		return nil, err
	}
	return analytics.PriceTrends(listings, p), nil
}

func (s *Service) PricePerSqmEvolution(ctx context.Context, period, distrito string) ([]analytics.PeriodPricePerSqm, error) {
	p, err := analytics.ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	listings, err := s.allListings(ctx)
	if err != nil {
		return nil, err
	}
	return analytics.PricePerSqmEvolution(listings, p, distrito), nil
}

func (s *Service) Velocity(ctx context.Context) (analytics.VelocityMetrics, error) {
	listings, err := s.allListings(ctx)
	if err != nil {
		return analytics.VelocityMetrics{}, err
	}
	return analytics.Velocity(listings, s.today(), s.opts.TrackingStart), nil
}

// NewVsSold returns daily counts over the last days days. A non-positive
// value uses DefaultNewVsSoldDays.
func (s *Service) NewVsSold(ctx context.Context, days int) (analytics.NewVsSold, error) {
	if days <= 0 {
		days = DefaultNewVsSoldDays
	}
	listings, err := s.allListings(ctx)
	if err != nil {
		return analytics.NewVsSold{}, err
	}
	return analytics.NewVsSoldTrends(listings, s.today(), days, s.opts.TrackingStart), nil
}

// ZoneStats ranks active distritos by average price per sqm. A non-positive
// minSample uses the configured minimum.
func (s *Service) ZoneStats(ctx context.Context, minSample int) ([]analytics.ZoneStats, error) {
	if minSample <= 0 {
		minSample = s.cfg.ZoneMinSample
	}
	listings, err := s.activeListings(ctx)
	if err != nil {
		return nil, err
	}
	return analytics.TopZones(analytics.DistritoStats(listings), minSample), nil
}

func limitTo[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

// Opportunities returns the best scored active listings. limit <= 0 returns all.
func (s *Service) Opportunities(ctx context.Context, limit int) ([]analytics.Opportunity, error) {
	listings, err := s.activeListings(ctx)
	if err != nil {
		return nil, err
	}
	return limitTo(analytics.RankOpportunities(listings, s.opts.Scoring), limit), nil
}

// Bargains applies the fixed threshold method. A nil threshold uses the configured one.
func (s *Service) Bargains(ctx context.Context, threshold *float64, limit int) ([]analytics.Opportunity, error) {
	t := s.cfg.BargainThreshold
	if threshold != nil {
		t = *threshold
	}
	listings, err := s.activeListings(ctx)
	if err != nil {
		return nil, err
	}
	return limitTo(analytics.Bargains(listings, s.opts.Scoring, t), limit), nil
}

func (s *Service) cholloParams() analytics.CholloParams {
	p := analytics.DefaultCholloParams()
	if s.cfg.CholloMinListings > 0 {
		p.MinListings = s.cfg.CholloMinListings
	}
	if s.cfg.CholloMinBarrio > 0 {
		p.MinPerBarrio = s.cfg.CholloMinBarrio
	}
	if s.cfg.CholloZThreshold != 0 {
		p.ZThreshold = s.cfg.CholloZThreshold
	}
	return p
}

// Chollos applies the per-barrio z-score method.
func (s *Service) Chollos(ctx context.Context, limit int) ([]analytics.Chollo, error) {
	listings, err := s.activeListings(ctx)
	if err != nil {
		return nil, err
	}
	return limitTo(analytics.Chollos(listings, s.cholloParams()), limit), nil
}

func (s *Service) HistorySummary(ctx context.Context) (models.HistorySummary, error) {
	return s.store.HistorySummary(ctx)
}
