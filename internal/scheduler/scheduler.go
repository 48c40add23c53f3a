package scheduler

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"madridtracker/server/internal/pipeline"
)

// Runner performs one scrape cycle.
type Runner interface {
	Scrape(ctx context.Context, zoneNames []string) (pipeline.RunResult, error)
}

// Scheduler triggers a daily scrape at a fixed hour
type Scheduler struct {
	runner       Runner
	logger       *logrus.Logger
	stopChan     chan struct{}
	wg           sync.WaitGroup
	scrapeHour   int
	runOnStartup bool
	location     *time.Location
	tick         time.Duration
	now          func() time.Time
	ctx          context.Context
	cancel       context.CancelFunc

	jobMutex sync.Mutex // Ensures sequential job execution
	lastRun  string     // date of the last scheduled run, YYYY-MM-DD
}

// NewScheduler creates a new scheduler
func NewScheduler(runner Runner, scrapeHour int, runOnStartup bool, location *time.Location, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.InfoLevel)
	}
	if location == nil {
		location = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		runner:       runner,
		logger:       logger,
		stopChan:     make(chan struct{}),
		scrapeHour:   scrapeHour,
		runOnStartup: runOnStartup,
		location:     location,
		tick:         time.Minute,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins the scheduled tasks
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.runScheduler()
}

func (s *Scheduler) runScheduler() {
	defer s.wg.Done()

	if s.runOnStartup {
		s.logger.Info("Running startup scrape")
		s.runJob("startup")
	}

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.executeScheduledJobs(s.now())
		}
	}
}

// due reports whether the daily scrape should run at t and marks the day as done.
func (s *Scheduler) due(t time.Time) bool {
	local := t.In(s.location)
	day := local.Format("2006-01-02")
	if local.Hour() != s.scrapeHour || s.lastRun == day {
		return false
	}
	s.lastRun = day
	return true
}

// executeScheduledJobs runs the daily scrape once when its hour comes round
func (s *Scheduler) executeScheduledJobs(t time.Time) {
	s.jobMutex.Lock()
	due := s.due(t)
	s.jobMutex.Unlock()

	if !due {
		s.logger.WithFields(logrus.Fields{
			"hour":   t.In(s.location).Hour(),
			"minute": t.Minute(),
		}).Debug("No scheduled jobs due")
		return
	}
	s.runJob("daily")
}

func (s *Scheduler) runJob(trigger string) {
	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()

	logger := s.logger.WithField("trigger", trigger)
	logger.Info("Starting scheduled scrape")
	result, err := s.runner.Scrape(s.ctx, nil)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		logger.Warn("Skipping scheduled scrape, another run is in progress")
	case err != nil:
		logger.WithError(err).Error("Scheduled scrape failed")
	default:
		logger.WithFields(logrus.Fields{
			"run_id":   result.RunID,
			"inserted": result.Report.Inserted,
			"updated":  result.Report.Updated,
			"retired":  result.Retired,
		}).Info("Scheduled scrape completed")
	}
}

// Stop gracefully stops the scheduler, cancelling a scrape in flight
func (s *Scheduler) Stop() {
	s.cancel()
	close(s.stopChan)
	s.wg.Wait()
}
