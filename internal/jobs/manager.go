// Package jobs owns the scrape job lifecycle: submission, lookup, deletion,
// retry acceptance and startup recovery. Execution happens in the worker pool.
package jobs

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/crawler"
	"github.com/JakeFAU/site-scraper/internal/storage/local"
)

// Depth bounds for a crawl.
const (
	MinDepth = 1
	MaxDepth = 10
)

// Job messages set by the manager.
const (
	MessageQueued    = "Scraping job queued"
	MessageRecovered = "Recovered from disk"
)

// Enqueuer schedules background tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, task crawler.Task) error
}

// ArtifactScanner lists completed job directories.
type ArtifactScanner interface {
	Scan(ctx context.Context) ([]local.Recovered, error)
}

// Config holds submission defaults.
type Config struct {
	DefaultMaxDepth int
}

// SubmitRequest describes a new scrape job.
type SubmitRequest struct {
	URL string
	// MaxDepth of zero selects the configured default.
	MaxDepth      int
	IncludeImages bool
}

// Manager coordinates the job table with the task queue.
type Manager struct {
	store   crawler.JobStore
	queue   Enqueuer
	ids     crawler.IDGenerator
	clock   crawler.Clock
	scanner ArtifactScanner
	cfg     Config
	logger  *zap.Logger
}

// NewManager constructs a Manager. scanner may be nil when recovery is not needed.
func NewManager(
	store crawler.JobStore,
	queue Enqueuer,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	scanner ArtifactScanner,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	if cfg.DefaultMaxDepth == 0 {
		cfg.DefaultMaxDepth = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:   store,
		queue:   queue,
		ids:     ids,
		clock:   clock,
		scanner: scanner,
		cfg:     cfg,
		logger:  logger,
	}
}

// Submit validates the request, records a pending job and schedules it.
// If scheduling fails the job is kept as failed and its ID is still returned.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	target := strings.TrimSpace(req.URL)
	if !validSubmissionURL(target) {
		return "", invalid(ErrInvalidURL, target)
	}
	depth := req.MaxDepth
	if depth == 0 {
		depth = m.cfg.DefaultMaxDepth
	}
	if depth < MinDepth || depth > MaxDepth {
		return "", invalid(ErrInvalidDepth, fmt.Sprintf("got %d", depth))
	}

	id, err := m.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := m.clock.Now()
	job := crawler.Job{
		ID:            id,
		Status:        crawler.JobStatusPending,
		URL:           target,
		MaxDepth:      depth,
		IncludeImages: req.IncludeImages,
		CreatedAt:     now,
		UpdatedAt:     now,
		Message:       MessageQueued,
	}
	if err := m.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	if err := m.queue.Enqueue(ctx, crawler.Task{JobID: id, Kind: crawler.TaskScrape}); err != nil {
		enqueueErr := fmt.Errorf("enqueue job: %w", err)
		m.markFailed(ctx, id, enqueueErr)
		return id, enqueueErr
	}
	m.logger.Info("job submitted",
		zap.String("job_id", id),
		zap.String("url", target),
		zap.Int("max_depth", depth),
		zap.Bool("include_images", req.IncludeImages),
	)
	return id, nil
}

func validSubmissionURL(raw string) bool {
	if !crawler.IsSyntacticallyValid(raw) {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func (m *Manager) markFailed(ctx context.Context, id string, cause error) {
	_, err := m.store.Update(context.WithoutCancel(ctx), id, func(j *crawler.Job) error {
		j.Status = crawler.JobStatusFailed
		j.Message = "Scraping failed: " + cause.Error()
		j.Errors = []string{cause.Error()}
		return nil
	})
	if err != nil {
		m.logger.Error("mark job failed", zap.String("job_id", id), zap.Error(err))
	}
}

// Get returns a snapshot of a job.
func (m *Manager) Get(ctx context.Context, id string) (crawler.Job, error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// List returns every known job ordered by creation time.
func (m *Manager) List(ctx context.Context) ([]crawler.Job, error) {
	jobs, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Delete forgets a job. Artifacts on disk are left in place.
func (m *Manager) Delete(ctx context.Context, id string) error {
	err := m.store.Delete(ctx, id, func(job crawler.Job) error {
		if job.Status == crawler.JobStatusInProgress {
			return ErrJobInProgress
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	m.logger.Info("job deleted", zap.String("job_id", id))
	return nil
}

// ActiveJobs counts jobs currently in progress.
func (m *Manager) ActiveJobs(ctx context.Context) (int, error) {
	jobs, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}
	active := 0
	for _, j := range jobs {
		if j.Status == crawler.JobStatusInProgress {
			active++
		}
	}
	return active, nil
}

// Retry accepts a re-scrape of some of a job's failed URLs. All checks and
// the move to in_progress happen in one store update, so a rejected retry
// leaves the job untouched.
func (m *Manager) Retry(ctx context.Context, id string, urls []string) error {
	targets := dedupe(urls)
	var previous crawler.JobStatus
	var previousMessage string

	_, err := m.store.Update(ctx, id, func(j *crawler.Job) error {
		if j.Status == crawler.JobStatusInProgress {
			return ErrJobInProgress
		}
		if len(targets) == 0 {
			return invalid(ErrNoURLs, "")
		}
		failed := j.FailedURLSet()
		for _, u := range targets {
			if _, ok := failed[u]; !ok {
				return invalid(ErrURLNotFailed, u)
			}
		}
		previous, previousMessage = j.Status, j.Message
		j.Status = crawler.JobStatusInProgress
		j.Message = fmt.Sprintf("Retry queued for %d URLs", len(targets))
		return nil
	})
	if err != nil {
		return fmt.Errorf("retry job %s: %w", id, err)
	}

	if err := m.queue.Enqueue(ctx, crawler.Task{JobID: id, Kind: crawler.TaskRetry, URLs: targets}); err != nil {
		m.restore(ctx, id, previous, previousMessage)
		return fmt.Errorf("enqueue retry: %w", err)
	}
	m.logger.Info("retry accepted", zap.String("job_id", id), zap.Int("urls", len(targets)))
	return nil
}

func (m *Manager) restore(ctx context.Context, id string, status crawler.JobStatus, message string) {
	_, err := m.store.Update(context.WithoutCancel(ctx), id, func(j *crawler.Job) error {
		j.Status = status
		j.Message = message
		return nil
	})
	if err != nil {
		m.logger.Error("restore job after failed retry enqueue", zap.String("job_id", id), zap.Error(err))
	}
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// Recover rebuilds completed jobs from the output directory. Each recovered
// job gets a fresh ID. It returns the number of jobs restored.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	if m.scanner == nil {
		return 0, nil
	}
	found, err := m.scanner.Scan(ctx)
	if err != nil {
		return 0, fmt.Errorf("scan output directory: %w", err)
	}
	restored := 0
	for _, rec := range found {
		id, err := m.ids.NewID()
		if err != nil {
			return restored, fmt.Errorf("generate job id: %w", err)
		}
		job := recoveredJob(id, rec, m.clock.Now())
		if err := m.store.Create(ctx, job); err != nil {
			m.logger.Warn("skip recovered job", zap.String("dir", rec.Dir), zap.Error(err))
			continue
		}
		m.logger.Info("job recovered",
			zap.String("job_id", id),
			zap.String("dir", rec.Dir),
			zap.Int("pages", len(rec.Pages)),
		)
		restored++
	}
	return restored, nil
}

func recoveredJob(id string, rec local.Recovered, now time.Time) crawler.Job {
	sm := rec.Sitemap
	includeImages := false
	for _, p := range rec.Pages {
		if len(p.Images) > 0 {
			includeImages = true
			break
		}
	}
	website := rec.Summary.Website
	if website == "" {
		website = sm.BaseURL
	}
	return crawler.Job{
		ID:                id,
		Status:            crawler.JobStatusCompleted,
		URL:               website,
		MaxDepth:          rec.Summary.MaxDepth,
		IncludeImages:     includeImages,
		CreatedAt:         rec.Summary.ScrapedAt,
		UpdatedAt:         now,
		OutputDir:         rec.Dir,
		Message:           MessageRecovered,
		Sitemap:           &sm,
		Pages:             rec.Pages,
		FailedURLs:        rec.Summary.FailedURLs,
		Errors:            rec.Summary.Errors,
		TotalPagesScraped: len(rec.Pages),
	}
}
