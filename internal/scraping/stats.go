package scraping

import (
	"sync"

	"madridtracker/server/internal/numeric"
)

// DefaultCostPer1000 is the proxy price in USD per thousand requests.
const DefaultCostPer1000 = 4.0

// RequestStats counts fetch attempts for one run. It is passed explicitly to
// whatever fetches on behalf of that run.
type RequestStats struct {
	mu          sync.Mutex
	successful  int64
	failed      int64
	costPer1000 float64
}

// StatsSnapshot is a point-in-time copy of RequestStats.
type StatsSnapshot struct {
	Successful       int64   `json:"successful"`
	Failed           int64   `json:"failed"`
	Total            int64   `json:"total"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

func NewRequestStats(costPer1000 float64) *RequestStats {
	if costPer1000 <= 0 {
		costPer1000 = DefaultCostPer1000
	}
	return &RequestStats{costPer1000: costPer1000}
}

func (s *RequestStats) RecordSuccess() {
	s.Add(1, 0)
}

func (s *RequestStats) RecordFailure() {
	s.Add(0, 1)
}

// Add folds counts reported elsewhere, such as by the spider process.
func (s *RequestStats) Add(successful, failed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successful += successful
	s.failed += failed
}

func (s *RequestStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.successful + s.failed
	return StatsSnapshot{
		Successful:       s.successful,
		Failed:           s.failed,
		Total:            total,
		EstimatedCostUSD: numeric.Round2(float64(total) / 1000 * s.costPer1000),
	}
}
