package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-scraper/internal/crawler"
)

// TestDispatcherRunStartsRunners ensures runners begin and Run returns once they stop.
func TestDispatcherRunStartsRunners(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{}
	r1 := &consumer{queue: queue}
	r2 := &consumer{queue: queue}
	dispatch := New(queue, []Runner{r1, r2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return queue.waiting.Load() == 2
	}, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	queue := &errorQueue{err: errors.New("boom")}
	dispatch := New(queue, nil)

	err := dispatch.Enqueue(context.Background(), crawler.Task{JobID: "job"})
	require.EqualError(t, err, "queue enqueue: boom")
	require.ErrorIs(t, err, queue.err)
}

type consumer struct {
	queue crawler.Queue
}

func (c *consumer) Run(ctx context.Context) {
	for {
		if _, err := c.queue.Dequeue(ctx); err != nil {
			return
		}
	}
}

type blockingQueue struct {
	waiting atomic.Int32
}

func (q *blockingQueue) Enqueue(context.Context, crawler.Task) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (crawler.Task, error) {
	q.waiting.Add(1)
	<-ctx.Done()
	return crawler.Task{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, crawler.Task) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (crawler.Task, error) {
	return crawler.Task{}, nil
}
