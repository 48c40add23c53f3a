// Package reconcile merges scraped listing observations into the listing store and
// the price history ledger.
package reconcile

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"madridtracker/server/internal/database"
	"madridtracker/server/internal/dates"
	"madridtracker/server/internal/ledger"
	"madridtracker/server/internal/models"
)

// Store is the persistence the engine writes through.
type Store interface {
	ActiveListingIDs(ctx context.Context) ([]string, error)
	WriteTx(ctx context.Context, fn func(w *database.Writer) error) error
}

type Options struct {
	Policy ResurrectionPolicy
	Clock  dates.Clock
}

// Engine decides insert, update or skip for each observation of a sweep.
type Engine struct {
	store    Store
	policy   ResurrectionPolicy
	clock    dates.Clock
	validate *validator.Validate
	logger   *logrus.Logger
}

func NewEngine(store Store, opts Options, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if opts.Policy == "" {
		opts.Policy = PolicyIgnore
	}
	if opts.Clock == nil {
		opts.Clock = dates.SystemClock{}
	}
	return &Engine{
		store:    store,
		policy:   opts.Policy,
		clock:    opts.Clock,
		validate: validator.New(),
		logger:   logger,
	}
}

func (e *Engine) Policy() ResurrectionPolicy {
	return e.policy
}

// BeginSweep snapshots the active listing IDs and fixes the sweep date.
func (e *Engine) BeginSweep(ctx context.Context) (*Sweep, error) {
	ids, err := e.store.ActiveListingIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin sweep: %w", err)
	}
	active := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		active[id] = struct{}{}
	}

	s := &Sweep{
		engine: e,
		active: active,
		seen:   make(map[string]struct{}),
		report: Report{
			RunID:        uuid.NewString(),
			Date:         dates.Today(e.clock),
			PriceChanges: []models.PriceChange{},
		},
	}
	e.logger.WithFields(logrus.Fields{
		"run_id": s.report.RunID,
		"date":   s.report.Date,
		"active": len(active),
		"policy": e.policy,
	}).Info("Reconciliation sweep started")
	return s, nil
}

// Reconcile runs a complete sweep over a single batch of observations.
func (e *Engine) Reconcile(ctx context.Context, observations []models.Observation) (Report, error) {
	sweep, err := e.BeginSweep(ctx)
	if err != nil {
		return Report{}, err
	}
	if err := sweep.ApplyBatch(ctx, observations); err != nil {
		return Report{}, err
	}
	return sweep.Finish(), nil
}

type outcome int

const (
	outcomeInserted outcome = iota
	outcomeUpdated
	outcomeReactivated
	outcomeIgnoredSold
	outcomeExisting
)

// apply writes one validated observation. wasActive tells whether the ID was in
// the active set at sweep start and not yet seen.
func (e *Engine) apply(w *database.Writer, o models.Observation, today string, wasActive bool) (outcome, *models.PriceChange, error) {
	if wasActive {
		if err := w.UpdateObserved(o, today); err != nil {
			return 0, nil, err
		}
		change, err := recordPrice(w, o.ListingID, o.Price, today)
		return outcomeUpdated, change, err
	}

	l := o.ToListing(today)
	inserted, err := w.InsertListing(&l)
	if err != nil {
		return 0, nil, err
	}
	if inserted {
		entry := ledger.NewEntry(o.ListingID, o.Price, today, nil)
		return outcomeInserted, nil, w.AppendPrice(&entry)
	}

	status, err := w.ListingStatus(o.ListingID)
	if err != nil {
		return 0, nil, err
	}
	if status != models.StatusSoldRemoved {
		// inserted after the sweep began
		return outcomeExisting, nil, nil
	}

	switch e.policy {
	case PolicyReactivate, PolicyRelist:
		if err := w.Reactivate(o, today, e.policy == PolicyRelist); err != nil {
			return 0, nil, err
		}
		change, err := recordPrice(w, o.ListingID, o.Price, today)
		return outcomeReactivated, change, err
	default:
		return outcomeIgnoredSold, nil, nil
	}
}

// recordPrice appends a history entry when price differs from the latest recorded
// one and returns the change, nil for an initial entry or an unchanged price.
func recordPrice(w *database.Writer, listingID string, price int, today string) (*models.PriceChange, error) {
	prev, err := w.LatestPrice(listingID)
	if err != nil {
		return nil, err
	}
	if !ledger.Changed(prev, price) {
		return nil, nil
	}
	entry := ledger.NewEntry(listingID, price, today, prev)
	if err := w.AppendPrice(&entry); err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, nil
	}
	return &models.PriceChange{
		ListingID:     listingID,
		OldPrice:      *prev,
		NewPrice:      price,
		ChangeAmount:  *entry.ChangeAmount,
		ChangePercent: *entry.ChangePercent,
		Date:          today,
	}, nil
}
