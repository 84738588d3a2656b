package crawler

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrJobNotFound is returned by JobStore lookups for unknown IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrQueueClosed is returned by a Queue that no longer accepts or yields tasks.
	ErrQueueClosed = errors.New("queue closed")
)

// JobStore is the job table. Update applies fn atomically; if fn returns an
// error the stored job is left untouched. Delete consults guard (when non-nil)
// under the same lock and keeps the job if guard returns an error.
type JobStore interface {
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, jobID string) (Job, error)
	Update(ctx context.Context, jobID string, fn func(*Job) error) (Job, error)
	Delete(ctx context.Context, jobID string, guard func(Job) error) error
	List(ctx context.Context) ([]Job, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// HistoryRecorder keeps a ledger of finished job phases.
type HistoryRecorder interface {
	RecordJob(ctx context.Context, record HistoryRecord) error
}

// Fetcher loads a page and returns its rendered markup.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// Starter is implemented by fetchers that need a warm-up step (e.g. launching a browser).
type Starter interface {
	Start(ctx context.Context) error
}

// Queue provides enqueue/dequeue semantics for background tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
