package reconcile

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"madridtracker/server/internal/database"
	"madridtracker/server/internal/models"
)

// Sweep is one scrape round. The active set shrinks as listings are observed; what
// remains at Finish was not seen this round.
type Sweep struct {
	mu     sync.Mutex
	engine *Engine
	active map[string]struct{}
	seen   map[string]struct{}
	report Report
}

func (s *Sweep) RunID() string {
	return s.report.RunID
}

func (s *Sweep) Date() string {
	return s.report.Date
}

// ApplyBatch reconciles a batch in one write transaction. The sweep state only
// changes once the transaction commits, so a failed batch can be applied again.
func (s *Sweep) ApplyBatch(ctx context.Context, observations []models.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.engine
	today := s.report.Date
	var delta Report
	var observed []string

	err := e.store.WriteTx(ctx, func(w *database.Writer) error {
		delta = Report{}
		observed = observed[:0]
		inBatch := make(map[string]struct{}, len(observations))

		for _, o := range observations {
			delta.Processed++
			o.Normalize()
			if err := e.validate.Struct(o); err != nil {
				delta.Rejected++
				e.logger.WithFields(logrus.Fields{
					"run_id":     s.report.RunID,
					"listing_id": o.ListingID,
				}).WithError(err).Warn("Rejected observation")
				continue
			}

			_, seenBefore := s.seen[o.ListingID]
			_, seenInBatch := inBatch[o.ListingID]
			if seenBefore || seenInBatch {
				delta.Duplicates++
				continue
			}
			inBatch[o.ListingID] = struct{}{}
			observed = append(observed, o.ListingID)

			_, wasActive := s.active[o.ListingID]
			result, change, err := e.apply(w, o, today, wasActive)
			if err != nil {
				return err
			}
			switch result {
			case outcomeInserted:
				delta.Inserted++
			case outcomeUpdated:
				delta.Updated++
			case outcomeReactivated:
				delta.Reactivated++
			case outcomeIgnoredSold:
				delta.IgnoredSold++
			case outcomeExisting:
				delta.Duplicates++
			}
			if change != nil {
				delta.PriceChanges = append(delta.PriceChanges, *change)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range observed {
		delete(s.active, id)
		s.seen[id] = struct{}{}
	}
	s.report.add(delta)

	e.logger.WithFields(logrus.Fields{
		"run_id":        s.report.RunID,
		"batch_size":    len(observations),
		"inserted":      delta.Inserted,
		"updated":       delta.Updated,
		"price_changes": len(delta.PriceChanges),
		"rejected":      delta.Rejected,
		"duplicates":    delta.Duplicates,
	}).Debug("Applied observation batch")
	return nil
}

// Unseen returns the IDs that were active at sweep start and not observed since,
// in ID order. They are staleness candidates, not retired.
func (s *Sweep) Unseen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Finish returns the accumulated report.
func (s *Sweep) Finish() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.report
	r.Unseen = len(s.active)
	r.PriceChanges = append([]models.PriceChange{}, s.report.PriceChanges...)

	s.engine.logger.WithFields(logrus.Fields{
		"run_id":        r.RunID,
		"processed":     r.Processed,
		"inserted":      r.Inserted,
		"updated":       r.Updated,
		"reactivated":   r.Reactivated,
		"ignored_sold":  r.IgnoredSold,
		"price_changes": len(r.PriceChanges),
		"rejected":      r.Rejected,
		"duplicates":    r.Duplicates,
		"unseen":        r.Unseen,
	}).Info("Reconciliation sweep finished")
	return r
}
