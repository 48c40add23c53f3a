// Package pipeline runs one tracker cycle: a reconcile sweep fed through the
// batch processor, then the staleness resolver and price drop alerts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"madridtracker/server/config"
	"madridtracker/server/internal/models"
	"madridtracker/server/internal/queue"
	"madridtracker/server/internal/reconcile"
	"madridtracker/server/internal/scraping"
)

var (
	ErrRunInProgress    = errors.New("a tracker run is already in progress")
	ErrScrapingDisabled = errors.New("scraping is not configured")
)

// Spider produces observations for the selected zones.
type Spider interface {
	RunSpider(ctx context.Context, params scraping.SpiderParams, handle scraping.BatchHandler, stats *scraping.RequestStats) (scraping.SpiderResult, error)
}

// Processor serializes batch writes into sweeps.
type Processor interface {
	Submit(ctx context.Context, runID string, target queue.Applier, observations []models.Observation) error
	Flush(ctx context.Context, runID string) error
}

// Resolver retires listings not seen within the threshold.
type Resolver interface {
	ResolveStale(ctx context.Context, thresholdDays int) (int64, error)
}

// Notifier alerts on the price changes of a run.
type Notifier interface {
	NotifyPriceDrops(ctx context.Context, changes []models.PriceChange) (int, error)
}

// Options holds the run parameters taken from configuration.
type Options struct {
	StaleThresholdDays int
	Scraper            config.ScraperConfig
}

// RunResult describes one finished run.
type RunResult struct {
	RunID      string                 `json:"run_id"`
	Source     string                 `json:"source"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Report     reconcile.Report       `json:"report"`
	Retired    int64                  `json:"retired"`
	Malformed  int                    `json:"malformed"`
	Alerts     int                    `json:"alerts"`
	Requests   scraping.StatsSnapshot `json:"requests"`
	Spider     *scraping.SpiderResult `json:"spider,omitempty"`
}

type Pipeline struct {
	mu        sync.Mutex
	engine    *reconcile.Engine
	processor Processor
	resolver  Resolver
	spider    Spider
	zones     *config.ZoneCatalog
	fetcher   *scraping.ThrottledFetcher
	notifier  Notifier
	opts      Options
	logger    *logrus.Logger

	lastMu sync.RWMutex
	last   *RunResult
}

// Deps are the collaborators of a pipeline. Spider, Zones, Fetcher and
// Notifier are optional.
type Deps struct {
	Engine    *reconcile.Engine
	Processor Processor
	Resolver  Resolver
	Spider    Spider
	Zones     *config.ZoneCatalog
	Fetcher   *scraping.ThrottledFetcher
	Notifier  Notifier
}

func New(deps Deps, opts Options, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Pipeline{
		engine:    deps.Engine,
		processor: deps.Processor,
		resolver:  deps.Resolver,
		spider:    deps.Spider,
		zones:     deps.Zones,
		fetcher:   deps.Fetcher,
		notifier:  deps.Notifier,
		opts:      opts,
		logger:    logger,
	}
}

// LastRun returns the most recent finished run, nil before the first.
func (p *Pipeline) LastRun() *RunResult {
	p.lastMu.RLock()
	defer p.lastMu.RUnlock()
	if p.last == nil {
		return nil
	}
	r := *p.last
	return &r
}

// Busy reports whether a run holds the pipeline.
func (p *Pipeline) Busy() bool {
	if p.mu.TryLock() {
		p.mu.Unlock()
		return false
	}
	return true
}

// Scrape crawls the named zones (all when empty) and reconciles the result.
func (p *Pipeline) Scrape(ctx context.Context, zoneNames []string) (RunResult, error) {
	if !p.mu.TryLock() {
		return RunResult{}, ErrRunInProgress
	}
	defer p.mu.Unlock()
	return p.scrape(ctx, zoneNames)
}

// StartScrape validates the zones and runs Scrape in the background.
func (p *Pipeline) StartScrape(zoneNames []string) error {
	if p.spider == nil || p.zones == nil {
		return ErrScrapingDisabled
	}
	if _, err := p.zones.Select(zoneNames); err != nil {
		return err
	}
	if !p.mu.TryLock() {
		return ErrRunInProgress
	}
	go func() {
		defer p.mu.Unlock()
		if _, err := p.scrape(context.Background(), zoneNames); err != nil {
			p.logger.WithError(err).Error("Background scrape failed")
		}
	}()
	return nil
}

func (p *Pipeline) scrape(ctx context.Context, zoneNames []string) (RunResult, error) {
	if p.spider == nil || p.zones == nil {
		return RunResult{}, ErrScrapingDisabled
	}
	zones, err := p.zones.Select(zoneNames)
	if err != nil {
		return RunResult{}, err
	}

	params := scraping.SpiderParams{
		Zones:             zones,
		RequestsPerSecond: p.opts.Scraper.RequestsPerSecond,
		MaxRetries:        p.opts.Scraper.MaxRetries,
	}
	return p.run(ctx, "spider", func(ctx context.Context, sweep *reconcile.Sweep, result *RunResult, stats *scraping.RequestStats) error {
		spiderResult, err := p.spider.RunSpider(ctx, params, func(ctx context.Context, obs []models.Observation) error {
			return p.processor.Submit(ctx, sweep.RunID(), sweep, obs)
		}, stats)
		result.Spider = &spiderResult
		return err
	})
}

// Ingest reconciles an observation archive, a local path or an http(s) URL.
func (p *Pipeline) Ingest(ctx context.Context, src string) (RunResult, error) {
	if !p.mu.TryLock() {
		return RunResult{}, ErrRunInProgress
	}
	defer p.mu.Unlock()

	return p.run(ctx, src, func(ctx context.Context, sweep *reconcile.Sweep, result *RunResult, stats *scraping.RequestStats) error {
		read, err := scraping.ReadSource(ctx, src, p.fetcher, stats)
		result.Malformed = read.Malformed
		if err != nil {
			return err
		}
		return p.processor.Submit(ctx, sweep.RunID(), sweep, read.Observations)
	})
}

// ResolveStale runs the staleness resolver alone.
func (p *Pipeline) ResolveStale(ctx context.Context, thresholdDays int) (int64, error) {
	if !p.mu.TryLock() {
		return 0, ErrRunInProgress
	}
	defer p.mu.Unlock()
	return p.resolver.ResolveStale(ctx, thresholdDays)
}

type feedFunc func(ctx context.Context, sweep *reconcile.Sweep, result *RunResult, stats *scraping.RequestStats) error

// run opens a sweep, feeds it, waits for the writer and finishes the cycle.
// A failed feed or write skips the resolver so a partial run retires nothing.
func (p *Pipeline) run(ctx context.Context, source string, feed feedFunc) (RunResult, error) {
	sweep, err := p.engine.BeginSweep(ctx)
	if err != nil {
		return RunResult{}, err
	}
	result := RunResult{RunID: sweep.RunID(), Source: source, StartedAt: time.Now()}
	stats := scraping.NewRequestStats(p.opts.Scraper.CostPer1000)
	logger := p.logger.WithFields(logrus.Fields{"run_id": result.RunID, "source": source})

	feedErr := feed(ctx, sweep, &result, stats)
	flushErr := p.processor.Flush(ctx, sweep.RunID())
	result.Report = sweep.Finish()
	result.Requests = stats.Snapshot()

	if err := errors.Join(feedErr, flushErr); err != nil {
		result.FinishedAt = time.Now()
		p.remember(result)
		logger.WithError(err).Error("Tracker run failed, skipping staleness resolution")
		return result, fmt.Errorf("run %s failed: %w", result.RunID, err)
	}

	retired, err := p.resolver.ResolveStale(ctx, p.opts.StaleThresholdDays)
	if err != nil {
		result.FinishedAt = time.Now()
		p.remember(result)
		return result, err
	}
	result.Retired = retired

	if p.notifier != nil {
		sent, err := p.notifier.NotifyPriceDrops(ctx, result.Report.PriceChanges)
		result.Alerts = sent
		if err != nil {
			logger.WithError(err).Warn("Some price drop alerts failed")
		}
	}

	result.FinishedAt = time.Now()
	p.remember(result)
	logger.WithFields(logrus.Fields{
		"inserted":      result.Report.Inserted,
		"updated":       result.Report.Updated,
		"price_changes": len(result.Report.PriceChanges),
		"retired":       result.Retired,
		"requests":      result.Requests.Total,
		"cost_usd":      result.Requests.EstimatedCostUSD,
	}).Info("Tracker run completed")
	return result, nil
}

func (p *Pipeline) remember(r RunResult) {
	p.lastMu.Lock()
	defer p.lastMu.Unlock()
	p.last = &r
}
