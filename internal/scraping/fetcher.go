package scraping

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const defaultFetchTimeout = 60 * time.Second

// ThrottledFetcher issues GET requests at a bounded rate, retrying transient
// failures and recording every attempt in the run's RequestStats.
type ThrottledFetcher struct {
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	logger     *logrus.Logger
}

func NewThrottledFetcher(requestsPerSecond float64, maxRetries int, logger *logrus.Logger) *ThrottledFetcher {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &ThrottledFetcher{
		client:     &http.Client{Timeout: defaultFetchTimeout},
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: maxRetries,
		logger:     logger,
	}
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Get fetches url and returns the response body of the first successful
// attempt. The caller closes it.
func (f *ThrottledFetcher) Get(ctx context.Context, url string, stats *RequestStats) (io.ReadCloser, error) {
	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("failed to wait for rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		resp, err := f.client.Do(req)
		if err == nil && resp.StatusCode == http.StatusOK {
			stats.RecordSuccess()
			return resp.Body, nil
		}

		stats.RecordFailure()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		} else {
			resp.Body.Close()
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
			if !retryableStatus(resp.StatusCode) {
				break
			}
		}
		f.logger.WithError(lastErr).WithFields(logrus.Fields{
			"url":     url,
			"attempt": attempt + 1,
		}).Warn("Fetch failed")
	}
	return nil, fmt.Errorf("failed to fetch %s: %w", url, lastErr)
}
