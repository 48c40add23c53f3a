package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"madridtracker/server/internal/models"
)

func batchOf(runID string, ids ...string) *Batch {
	b := &Batch{RunID: runID}
	for _, id := range ids {
		b.Observations = append(b.Observations, models.Observation{ListingID: id})
	}
	return b
}

func TestNewObservationQueue(t *testing.T) {
	q := NewObservationQueue(10, logrus.New())
	assert.NotNil(t, q)
	assert.Equal(t, 10, q.maxSize)
	assert.False(t, q.IsClosed())
}

func TestObservationQueue_Push(t *testing.T) {
	q := NewObservationQueue(2, logrus.New())

	// Test successful push
	err := q.Push(batchOf("r1", "A"))
	assert.NoError(t, err)
	assert.Equal(t, 1, q.Len())

	// Test queue full
	_ = q.Push(batchOf("r1", "B"))
	err = q.Push(batchOf("r1", "C"))
	assert.Equal(t, ErrQueueFull, err)
	assert.Equal(t, 2, q.Len())

	// Test closed queue
	q.Close()
	err = q.Push(batchOf("r1", "D"))
	assert.Equal(t, ErrQueueClosed, err)
}

func TestObservationQueue_DispatchesInOrder(t *testing.T) {
	q := NewObservationQueue(10, logrus.New())

	var processed []string
	var mu sync.Mutex
	q.Subscribe(func(b *Batch) error {
		mu.Lock()
		for _, o := range b.Observations {
			processed = append(processed, o.ListingID)
		}
		mu.Unlock()
		return nil
	})
	q.Start()

	require.NoError(t, q.Push(batchOf("r1", "A", "B")))
	require.NoError(t, q.Push(batchOf("r1", "C")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))

	mu.Lock()
	assert.Equal(t, []string{"A", "B", "C"}, processed)
	mu.Unlock()
}

func TestObservationQueue_Close(t *testing.T) {
	q := NewObservationQueue(10, logrus.New())
	require.NoError(t, q.Push(batchOf("r1", "A")))

	// Test first close
	err := q.Close()
	assert.NoError(t, err)
	assert.True(t, q.IsClosed())
	assert.Equal(t, 0, q.Len())

	// Buffered batches are dropped, so nothing is pending
	assert.NoError(t, q.Wait(context.Background()))

	// Test second close (should be no-op)
	err = q.Close()
	assert.NoError(t, err)
}

func TestObservationQueue_ProcessBatch(t *testing.T) {
	q := NewObservationQueue(10, logrus.New())

	var wg sync.WaitGroup
	processedBatches := 0
	var mu sync.Mutex

	// Add multiple handlers, a failing one must not stop the others
	for i := 0; i < 3; i++ {
		wg.Add(1)
		fail := i == 0
		q.Subscribe(func(b *Batch) error {
			defer wg.Done()
			mu.Lock()
			processedBatches++
			mu.Unlock()
			if fail {
				return errors.New("handler failed")
			}
			return nil
		})
	}

	q.Start()
	require.NoError(t, q.Push(batchOf("r1", "A")))
	wg.Wait()

	mu.Lock()
	assert.Equal(t, 3, processedBatches)
	mu.Unlock()
}

func TestObservationQueue_WaitHonoursContext(t *testing.T) {
	q := NewObservationQueue(10, logrus.New())
	// not started, so the batch stays pending
	require.NoError(t, q.Push(batchOf("r1", "A")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Wait(ctx), context.DeadlineExceeded)
}
