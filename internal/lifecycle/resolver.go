// Package lifecycle retires listings that have not been observed for longer than a
// grace window. It is the only place a listing becomes sold_removed.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"madridtracker/server/internal/dates"
)

var ErrInvalidThreshold = errors.New("threshold days must not be negative")

// DefaultThresholdDays is how long a listing may go unobserved and stay active.
const DefaultThresholdDays = 7

type Store interface {
	MarkStale(ctx context.Context, cutoff string) (int64, error)
}

type Resolver struct {
	store  Store
	clock  dates.Clock
	logger *logrus.Logger
}

func NewResolver(store Store, clock dates.Clock, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if clock == nil {
		clock = dates.SystemClock{}
	}
	return &Resolver{store: store, clock: clock, logger: logger}
}

// Cutoff is the oldest last_seen_date that still counts as active.
func (r *Resolver) Cutoff(thresholdDays int) (string, error) {
	if thresholdDays < 0 {
		return "", fmt.Errorf("%w: %d", ErrInvalidThreshold, thresholdDays)
	}
	return dates.Format(r.clock.Now().AddDate(0, 0, -thresholdDays)), nil
}

// ResolveStale marks every active listing last seen more than thresholdDays ago as
// sold_removed in one statement and returns how many changed. A listing last seen
// exactly thresholdDays ago stays active.
func (r *Resolver) ResolveStale(ctx context.Context, thresholdDays int) (int64, error) {
	cutoff, err := r.Cutoff(thresholdDays)
	if err != nil {
		return 0, err
	}

	n, err := r.store.MarkStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve stale listings: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"threshold_days": thresholdDays,
		"cutoff":         cutoff,
		"retired":        n,
	}).Info("Resolved stale listings")
	return n, nil
}
