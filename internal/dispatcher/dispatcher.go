// Package dispatcher manages worker fan-out over the task queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/site-scraper/internal/crawler"
)

// Runner is a long-lived consumer such as a worker.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queue work to a pool of runners.
type Dispatcher struct {
	queue   crawler.Queue
	runners []Runner
}

// New creates a Dispatcher.
func New(queue crawler.Queue, runners []Runner) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		runners: runners,
	}
}

// Run starts all runners and blocks until every one of them returns.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range d.runners {
		wg.Add(1)
		go func(rn Runner) {
			defer wg.Done()
			rn.Run(ctx)
		}(r)
	}
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, task crawler.Task) error {
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
