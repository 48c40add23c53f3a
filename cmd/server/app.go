package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"madridtracker/server/config"
	"madridtracker/server/internal/database"
	"madridtracker/server/internal/dates"
	"madridtracker/server/internal/lifecycle"
	"madridtracker/server/internal/pipeline"
	"madridtracker/server/internal/processor"
	"madridtracker/server/internal/query"
	"madridtracker/server/internal/queue"
	"madridtracker/server/internal/reconcile"
	"madridtracker/server/internal/scraping"
	"madridtracker/server/internal/telegram"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg       *config.Config
	logger    *logrus.Logger
	db        *database.Database
	zones     *config.ZoneCatalog
	processor *processor.BatchProcessor
	resolver  *lifecycle.Resolver
	query     *query.Service
	pipeline  *pipeline.Pipeline
}

// openStore loads configuration, opens and migrates the store.
func openStore() (*config.Config, *logrus.Logger, *database.Database, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := cfg.NewLogger()

	logger.WithField("database", cfg.Database.URL).Info("Opening database")
	db, err := database.NewDatabase(database.Options{
		DSN:           cfg.Database.URL,
		BusyTimeoutMS: cfg.Database.BusyTimeoutMS,
		MaxOpenConns:  cfg.Database.MaxOpenConns,
	}, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logger.Info("Running database migrations...")
	if err := db.RunMigrations(); err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	return cfg, logger, db, nil
}

// newApp wires every component. withZones loads the zone catalog, which only
// scraping needs.
func newApp(withZones bool) (*app, error) {
	cfg, logger, db, err := openStore()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, db: db}
	clock := dates.SystemClock{Location: cfg.Location()}

	if withZones {
		a.zones, err = config.LoadZones(cfg.Scraper.ZonesFile)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.WithField("zones", len(a.zones.Zones())).Info("Loaded zone catalog")
	}

	q := queue.NewObservationQueue(cfg.BatchProcessing.QueueSize, logger)
	a.processor = processor.NewBatchProcessor(q, cfg.BatchProcessing, logger)
	a.processor.Start()

	engine := reconcile.NewEngine(db, reconcile.Options{Policy: cfg.Policy(), Clock: clock}, logger)
	a.resolver = lifecycle.NewResolver(db, clock, logger)
	a.query = query.NewService(db, cfg.Analytics, query.Options{
		Clock:         clock,
		TrackingStart: cfg.Tracker.TrackingStartDate,
	}, logger)

	deps := pipeline.Deps{
		Engine:    engine,
		Processor: a.processor,
		Resolver:  a.resolver,
		Zones:     a.zones,
		Fetcher:   scraping.NewThrottledFetcher(cfg.Scraper.RequestsPerSecond, cfg.Scraper.MaxRetries, logger),
	}
	if a.zones != nil {
		deps.Spider = scraping.NewSpiderManager(cfg.Scraper.SpiderCommand, cfg.Scraper.SpiderScript, logger)
	}
	if cfg.Telegram.Enabled {
		deps.Notifier = telegram.NewService(cfg.Telegram, db, logger)
		logger.Info("Telegram alerts enabled")
	}
	a.pipeline = pipeline.New(deps, pipeline.Options{
		StaleThresholdDays: cfg.Tracker.StaleThresholdDays,
		Scraper:            cfg.Scraper,
	}, logger)
	return a, nil
}

func (a *app) Close() {
	a.processor.Stop()
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Failed to close database")
	}
}

func logRun(logger *logrus.Logger, r pipeline.RunResult) {
	logger.WithFields(logrus.Fields{
		"run_id":        r.RunID,
		"source":        r.Source,
		"inserted":      r.Report.Inserted,
		"updated":       r.Report.Updated,
		"reactivated":   r.Report.Reactivated,
		"duplicates":    r.Report.Duplicates,
		"rejected":      r.Report.Rejected,
		"unseen":        r.Report.Unseen,
		"price_changes": len(r.Report.PriceChanges),
		"retired":       r.Retired,
		"malformed":     r.Malformed,
		"duration":      r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
	}).Info("Run finished")
}

func withTimeout(minutes int) (context.Context, context.CancelFunc) {
	if minutes <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), time.Duration(minutes)*time.Minute)
}
