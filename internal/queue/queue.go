package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"madridtracker/server/internal/models"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// Applier reconciles one batch of observations. A reconcile sweep satisfies it.
type Applier interface {
	ApplyBatch(ctx context.Context, observations []models.Observation) error
}

// Batch is a slice of observations bound for one sweep.
type Batch struct {
	RunID        string
	Target       Applier
	Observations []models.Observation
}

// ObservationQueue is an in-memory queue of observation batches. Batches are
// dispatched one at a time, in push order, so writes stay serialized.
type ObservationQueue struct {
	items    chan *Batch
	done     chan struct{}
	maxSize  int
	closed   bool
	mu       sync.RWMutex
	logger   *logrus.Logger
	handlers []func(*Batch) error

	pendingMu sync.Mutex
	pending   int
	idle      chan struct{} // closed whenever pending is zero
}

// NewObservationQueue creates a queue holding up to bufferSize batches
func NewObservationQueue(bufferSize int, logger *logrus.Logger) *ObservationQueue {
	if logger == nil {
		logger = logrus.New()
	}
	idle := make(chan struct{})
	close(idle)
	return &ObservationQueue{
		items:    make(chan *Batch, bufferSize),
		done:     make(chan struct{}),
		maxSize:  bufferSize,
		logger:   logger,
		handlers: make([]func(*Batch) error, 0),
		idle:     idle,
	}
}

func (q *ObservationQueue) addPending() {
	q.pendingMu.Lock()
	defer q.pendingMu.Unlock()
	if q.pending == 0 {
		q.idle = make(chan struct{})
	}
	q.pending++
}

func (q *ObservationQueue) donePending() {
	q.pendingMu.Lock()
	defer q.pendingMu.Unlock()
	q.pending--
	if q.pending == 0 {
		close(q.idle)
	}
}

// Push adds a batch without blocking
func (q *ObservationQueue) Push(batch *Batch) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	q.addPending()
	select {
	case q.items <- batch:
		q.logger.WithFields(logrus.Fields{
			"run_id":     batch.RunID,
			"batch_size": len(batch.Observations),
		}).Debug("Pushed batch to queue")
		return nil
	default:
		q.donePending()
		return ErrQueueFull
	}
}

// Subscribe adds a handler function that will be called for each batch
func (q *ObservationQueue) Subscribe(handler func(*Batch) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
}

// Start begins processing items in the queue
func (q *ObservationQueue) Start() {
	go q.process()
}

func (q *ObservationQueue) process() {
	for {
		select {
		case <-q.done:
			return
		case batch, ok := <-q.items:
			if !ok {
				return
			}
			q.processBatch(batch)
		}
	}
}

// processBatch sends the batch to all subscribed handlers
func (q *ObservationQueue) processBatch(batch *Batch) {
	defer q.donePending()

	q.mu.RLock()
	handlers := q.handlers
	q.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(batch); err != nil {
			q.logger.WithError(err).WithField("run_id", batch.RunID).Error("Handler failed to process batch")
		}
	}
}

// Wait blocks until every pushed batch has been handled or ctx is done.
func (q *ObservationQueue) Wait(ctx context.Context) error {
	q.pendingMu.Lock()
	idle := q.idle
	q.pendingMu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the queue and prevents new items from being added. Batches still
// buffered are dropped.
func (q *ObservationQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.done)
	for {
		select {
		case <-q.items:
			q.donePending()
		default:
			return nil
		}
	}
}

// Len returns the current number of batches in the queue
func (q *ObservationQueue) Len() int {
	return len(q.items)
}

// IsClosed returns whether the queue has been closed
func (q *ObservationQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
