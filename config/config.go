package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"madridtracker/server/internal/dates"
	"madridtracker/server/internal/reconcile"
)

type ServerConfig struct {
	Port            int    `env:"PORT" envDefault:"5250"`
	CORSOrigins     string `env:"CORS_ORIGINS" envDefault:"*"`
	ShutdownTimeout int    `env:"SHUTDOWN_TIMEOUT" envDefault:"15"` // seconds
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
}

type DatabaseConfig struct {
	URL           string `env:"DATABASE_URL" envDefault:"database/madrid.db"`
	BusyTimeoutMS int    `env:"DB_BUSY_TIMEOUT_MS" envDefault:"30000"`
	MaxOpenConns  int    `env:"DB_MAX_OPEN_CONNS" envDefault:"8"`
}

type TrackerConfig struct {
	StaleThresholdDays int    `env:"STALE_THRESHOLD_DAYS" envDefault:"7"`
	TrackingStartDate  string `env:"TRACKING_START_DATE"`
	ResurrectionPolicy string `env:"RESURRECTION_POLICY" envDefault:"ignore"`
	Timezone           string `env:"TRACKER_TIMEZONE" envDefault:"Europe/Madrid"`
}

type AnalyticsConfig struct {
	BargainThreshold       float64 `env:"BARGAIN_THRESHOLD" envDefault:"-15"`
	ZoneMinSample          int     `env:"ZONE_MIN_SAMPLE" envDefault:"5"`
	ZoneTrendMinProperties int     `env:"ZONE_TREND_MIN_PROPERTIES" envDefault:"10"`
	CholloMinListings      int     `env:"CHOLLO_MIN_LISTINGS" envDefault:"20"`
	CholloMinBarrio        int     `env:"CHOLLO_MIN_BARRIO" envDefault:"5"`
	CholloZThreshold       float64 `env:"CHOLLO_Z_THRESHOLD" envDefault:"-1.5"`
	DropWindowDays         int     `env:"DROP_WINDOW_DAYS" envDefault:"7"`
	DropMinPercent         float64 `env:"DROP_MIN_PERCENT" envDefault:"5"`
	DesperateMinDrops      int     `env:"DESPERATE_MIN_DROPS" envDefault:"2"`
	DesperateMinTotalDrop  float64 `env:"DESPERATE_MIN_TOTAL_DROP_PCT" envDefault:"10"`
}

type BatchProcessingConfig struct {
	// Maximum number of observations per queued batch
	MaxBatchSize int `env:"BATCH_MAX_SIZE" envDefault:"100"`

	// Number of batches the queue buffers before Submit backs off
	QueueSize int `env:"BATCH_QUEUE_SIZE" envDefault:"64"`

	// Maximum number of retries for batches failing on a transient storage error
	MaxRetries int `env:"BATCH_MAX_RETRIES" envDefault:"3"`

	// Delay between retries in seconds
	RetryDelay int `env:"BATCH_RETRY_DELAY" envDefault:"5"`
}

type ScraperConfig struct {
	SpiderCommand     string  `env:"SPIDER_COMMAND" envDefault:"python3"`
	SpiderScript      string  `env:"SPIDER_SCRIPT" envDefault:"scripts/run_spider.py"`
	ZonesFile         string  `env:"ZONES_FILE" envDefault:"config/zones.yaml"`
	RequestsPerSecond float64 `env:"SCRAPER_REQUESTS_PER_SECOND" envDefault:"1"`
	MaxRetries        int     `env:"SCRAPER_MAX_RETRIES" envDefault:"3"`
	CostPer1000       float64 `env:"SCRAPER_COST_PER_1000" envDefault:"4.0"`
}

type SchedulerConfig struct {
	Enabled      bool `env:"SCHEDULER_ENABLED" envDefault:"true"`
	ScrapeHour   int  `env:"SCRAPE_HOUR" envDefault:"3"`
	RunOnStartup bool `env:"RUN_ON_STARTUP" envDefault:"false"`
}

type TelegramConfig struct {
	Enabled        bool    `env:"TELEGRAM_ENABLED" envDefault:"false"`
	BotToken       string  `env:"TELEGRAM_BOT_TOKEN"`
	ChatID         string  `env:"TELEGRAM_CHAT_ID"`
	MinDropPercent float64 `env:"TELEGRAM_MIN_DROP_PERCENT" envDefault:"5"`
}

type Config struct {
	Server          ServerConfig
	Database        DatabaseConfig
	Tracker         TrackerConfig
	Analytics       AnalyticsConfig
	BatchProcessing BatchProcessingConfig
	Scraper         ScraperConfig
	Scheduler       SchedulerConfig
	Telegram        TelegramConfig
}

// LoadConfig reads an optional .env file, then the environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Tracker.StaleThresholdDays < 0 {
		return fmt.Errorf("STALE_THRESHOLD_DAYS must be >= 0, got %d", c.Tracker.StaleThresholdDays)
	}
	if c.Tracker.TrackingStartDate != "" {
		if _, err := dates.Parse(c.Tracker.TrackingStartDate); err != nil {
			return fmt.Errorf("TRACKING_START_DATE must be YYYY-MM-DD: %w", err)
		}
	}
	if _, err := reconcile.ParsePolicy(c.Tracker.ResurrectionPolicy); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Tracker.Timezone); err != nil {
		return fmt.Errorf("invalid TRACKER_TIMEZONE %q: %w", c.Tracker.Timezone, err)
	}
	if c.Scheduler.ScrapeHour < 0 || c.Scheduler.ScrapeHour > 23 {
		return fmt.Errorf("SCRAPE_HOUR must be between 0 and 23, got %d", c.Scheduler.ScrapeHour)
	}
	if c.BatchProcessing.MaxBatchSize <= 0 {
		return fmt.Errorf("BATCH_MAX_SIZE must be positive, got %d", c.BatchProcessing.MaxBatchSize)
	}
	if c.BatchProcessing.QueueSize <= 0 {
		return fmt.Errorf("BATCH_QUEUE_SIZE must be positive, got %d", c.BatchProcessing.QueueSize)
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		return errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID are required when TELEGRAM_ENABLED is set")
	}
	return nil
}

// Policy returns the parsed resurrection policy. Validate has already checked it.
func (c *Config) Policy() reconcile.ResurrectionPolicy {
	p, _ := reconcile.ParsePolicy(c.Tracker.ResurrectionPolicy)
	return p
}

// Location returns the tracker timezone.
func (c *Config) Location() *time.Location {
	return dates.Timezone(c.Tracker.Timezone)
}

// NewLogger builds the JSON stdout logger at the configured level.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	level, err := logrus.ParseLevel(strings.TrimSpace(c.Server.LogLevel))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
