package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"madridtracker/server/config"
	"madridtracker/server/internal/database"
	"madridtracker/server/internal/models"
	"madridtracker/server/internal/queue"
)

// pushBackoff is how long Submit waits before retrying a full queue.
const pushBackoff = 20 * time.Millisecond

// BatchProcessor is the single writer draining the observation queue into
// reconcile sweeps.
type BatchProcessor struct {
	logger     *logrus.Logger
	config     config.BatchProcessingConfig
	queue      *queue.ObservationQueue
	retryDelay time.Duration
	startOnce  sync.Once
	ctx        context.Context
	cancel     context.CancelFunc

	mu       sync.Mutex
	failures map[string][]error
}

// NewBatchProcessor creates a new batch processor instance
func NewBatchProcessor(q *queue.ObservationQueue, cfg config.BatchProcessingConfig, logger *logrus.Logger) *BatchProcessor {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BatchProcessor{
		logger:     logger,
		config:     cfg,
		queue:      q,
		retryDelay: time.Duration(cfg.RetryDelay) * time.Second,
		ctx:        ctx,
		cancel:     cancel,
		failures:   make(map[string][]error),
	}
}

// Start subscribes to the queue and begins dispatching. Calling it again is a no-op.
func (p *BatchProcessor) Start() {
	p.startOnce.Do(func() {
		p.queue.Subscribe(p.processBatch)
		p.queue.Start()
	})
}

// Stop cancels in-flight retries and closes the queue. Batches still buffered are dropped.
func (p *BatchProcessor) Stop() {
	p.cancel()
	_ = p.queue.Close()
}

// Submit splits observations into batches of at most MaxBatchSize and queues
// them for target. A full queue is retried until ctx is done.
func (p *BatchProcessor) Submit(ctx context.Context, runID string, target queue.Applier, observations []models.Observation) error {
	for start := 0; start < len(observations); start += p.config.MaxBatchSize {
		end := start + p.config.MaxBatchSize
		if end > len(observations) {
			end = len(observations)
		}
		batch := &queue.Batch{RunID: runID, Target: target, Observations: observations[start:end]}
		if err := p.push(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func (p *BatchProcessor) push(ctx context.Context, batch *queue.Batch) error {
	for {
		err := p.queue.Push(batch)
		if !errors.Is(err, queue.ErrQueueFull) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to queue batch for run %s: %w", batch.RunID, ctx.Err())
		case <-time.After(pushBackoff):
		}
	}
}

// Flush waits for every queued batch to be applied and returns the failures
// recorded for runID, joined.
func (p *BatchProcessor) Flush(ctx context.Context, runID string) error {
	if err := p.queue.Wait(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	errs := p.failures[runID]
	delete(p.failures, runID)
	p.mu.Unlock()

	return errors.Join(errs...)
}

// backoff sleeps for the retry delay and reports false if the processor stopped first.
func (p *BatchProcessor) backoff() bool {
	select {
	case <-p.ctx.Done():
		return false
	case <-time.After(p.retryDelay):
		return true
	}
}

// processBatch applies one batch, retrying transient storage errors.
func (p *BatchProcessor) processBatch(batch *queue.Batch) error {
	var err error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			p.logger.WithFields(logrus.Fields{
				"run_id":  batch.RunID,
				"attempt": attempt,
			}).Infof("Retrying batch processing, attempt %d of %d", attempt, p.config.MaxRetries)
			if !p.backoff() {
				err = errors.Join(err, p.ctx.Err())
				break
			}
		}

		err = batch.Target.ApplyBatch(p.ctx, batch.Observations)
		if err == nil {
			p.logger.WithField("run_id", batch.RunID).Debugf("Successfully processed batch of %d observations", len(batch.Observations))
			return nil
		}
		if !database.IsRetryable(err) {
			break
		}
		p.logger.WithError(err).WithField("run_id", batch.RunID).Warn("Batch hit a transient storage error")
	}

	err = fmt.Errorf("failed to process batch of %d observations: %w", len(batch.Observations), err)
	p.logger.WithError(err).WithField("run_id", batch.RunID).Error("Batch processing failed")

	p.mu.Lock()
	p.failures[batch.RunID] = append(p.failures[batch.RunID], err)
	p.mu.Unlock()
	return err
}
