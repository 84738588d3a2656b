// Package worker executes scrape and retry tasks pulled from the job queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/crawler"
	"github.com/JakeFAU/site-scraper/internal/metrics"
	"github.com/JakeFAU/site-scraper/internal/scrape"
)

// Job messages.
const (
	MessageInitializing = "Initializing scraper..."
	MessageCompleted    = "Scraping completed successfully"
	messageFailedPrefix = "Scraping failed: "
)

// SitemapBuilder discovers a site's URLs.
type SitemapBuilder interface {
	Build(ctx context.Context, baseURL string, maxDepth int) (crawler.Sitemap, []string, error)
}

// PageScraper fetches and extracts a batch of pages.
type PageScraper interface {
	Run(ctx context.Context, urls []string, opts scrape.Options) scrape.Result
}

// ArtifactStore persists job artifacts.
type ArtifactStore interface {
	CreateJobDir(siteURL string, at time.Time) (string, error)
	SaveJob(ctx context.Context, dir string, job crawler.Job, now time.Time) error
	SaveSummary(ctx context.Context, dir string, job crawler.Job, now time.Time) error
	MergePages(ctx context.Context, dir string, pages []crawler.PageResult) ([]crawler.PageResult, error)
}

// Config controls Worker behavior.
type Config struct {
	// Topic receives a job event after every finished task when a publisher is set.
	Topic string
}

// Worker consumes tasks and runs the scrape pipeline or a retry pass.
type Worker struct {
	queue     crawler.Queue
	jobStore  crawler.JobStore
	builder   SitemapBuilder
	scraper   PageScraper
	artifacts ArtifactStore
	starter   crawler.Starter
	history   crawler.HistoryRecorder
	publisher crawler.Publisher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. starter, history and publisher may be nil.
func New(
	queue crawler.Queue,
	jobStore crawler.JobStore,
	builder SitemapBuilder,
	scraper PageScraper,
	artifacts ArtifactStore,
	starter crawler.Starter,
	history crawler.HistoryRecorder,
	publisher crawler.Publisher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		jobStore:  jobStore,
		builder:   builder,
		scraper:   scraper,
		artifacts: artifacts,
		starter:   starter,
		history:   history,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming tasks until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task", zap.String("job_id", task.JobID), zap.String("kind", string(task.Kind)))
		w.Process(ctx, task)
	}
}

// Process executes one task to completion.
func (w *Worker) Process(ctx context.Context, task crawler.Task) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	switch task.Kind {
	case crawler.TaskRetry:
		w.processRetry(ctx, task)
	default:
		w.processScrape(ctx, task)
	}
}

func (w *Worker) processScrape(ctx context.Context, task crawler.Task) {
	started := w.clock.Now()
	job, err := w.jobStore.Update(ctx, task.JobID, func(j *crawler.Job) error {
		j.Status = crawler.JobStatusInProgress
		j.Message = MessageInitializing
		return nil
	})
	if err != nil {
		w.logger.Error("mark job in progress failed", zap.String("job_id", task.JobID), zap.Error(err))
		return
	}
	w.logger.Info("scrape started",
		zap.String("job_id", job.ID),
		zap.String("url", job.URL),
		zap.Int("max_depth", job.MaxDepth),
	)

	progress := job
	pipelineErr := w.safely(job.ID, func() error {
		return w.scrapePipeline(ctx, &progress)
	})
	if pipelineErr != nil {
		progress.Errors = []string{pipelineErr.Error()}
	}
	w.finish(ctx, task, progress, pipelineErr, started)
}

func (w *Worker) scrapePipeline(ctx context.Context, job *crawler.Job) error {
	if err := w.startRenderer(ctx); err != nil {
		return err
	}

	sm, discoveryErrs, err := w.builder.Build(ctx, job.URL, job.MaxDepth)
	if err != nil {
		return fmt.Errorf("build sitemap: %w", err)
	}
	job.Sitemap = &sm
	job.Errors = append(job.Errors, discoveryErrs...)
	metrics.ObserveSitemap(sm.TotalURLs)
	w.checkpoint(ctx, *job, fmt.Sprintf("Scraping %d pages", sm.TotalURLs))

	res := w.scraper.Run(ctx, sm.URLs, scrape.Options{IncludeImages: job.IncludeImages})
	job.Pages = res.Pages
	job.FailedURLs = res.Failed
	job.Errors = append(job.Errors, res.Errors...)
	job.TotalPagesScraped = len(res.Pages)

	dir, err := w.artifacts.CreateJobDir(job.URL, w.clock.Now())
	if err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	job.OutputDir = dir
	if err := w.artifacts.SaveJob(ctx, dir, *job, w.clock.Now()); err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	job.Message = MessageCompleted
	return nil
}

func (w *Worker) startRenderer(ctx context.Context) error {
	if w.starter == nil {
		return nil
	}
	if err := w.starter.Start(ctx); err != nil {
		return fmt.Errorf("start page renderer: %w", err)
	}
	return nil
}

// checkpoint publishes intermediate progress so pollers see the sitemap early.
func (w *Worker) checkpoint(ctx context.Context, progress crawler.Job, message string) {
	_, err := w.jobStore.Update(ctx, progress.ID, func(j *crawler.Job) error {
		if progress.Sitemap != nil {
			sm := progress.Sitemap.Clone()
			j.Sitemap = &sm
		}
		j.Message = message
		return nil
	})
	if err != nil {
		w.logger.Warn("job checkpoint failed", zap.String("job_id", progress.ID), zap.Error(err))
	}
}

// safely runs fn and converts a panic into an error.
func (w *Worker) safely(jobID string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("task panicked", zap.String("job_id", jobID), zap.Any("panic", r))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// finish commits the terminal state and emits metrics, history and events.
func (w *Worker) finish(ctx context.Context, task crawler.Task, progress crawler.Job, pipelineErr error, started time.Time) {
	ctx = context.WithoutCancel(ctx)
	status := crawler.JobStatusCompleted
	message := progress.Message
	if pipelineErr != nil {
		status = crawler.JobStatusFailed
		message = messageFailedPrefix + pipelineErr.Error()
	}

	final, err := w.jobStore.Update(ctx, task.JobID, func(j *crawler.Job) error {
		j.Status = status
		j.Message = message
		j.Sitemap = progress.Sitemap
		j.Pages = progress.Pages
		j.FailedURLs = progress.FailedURLs
		j.Errors = progress.Errors
		j.TotalPagesScraped = progress.TotalPagesScraped
		j.OutputDir = progress.OutputDir
		return nil
	})
	if err != nil {
		w.logger.Error("final job update failed", zap.String("job_id", task.JobID), zap.Error(err))
		return
	}

	metrics.ObserveJob(string(task.Kind), string(status))
	fields := []zap.Field{
		zap.String("job_id", final.ID),
		zap.String("kind", string(task.Kind)),
		zap.String("status", string(status)),
		zap.Int("pages", len(final.Pages)),
		zap.Int("failed", len(final.FailedURLs)),
		zap.String("output_dir", final.OutputDir),
	}
	if pipelineErr != nil {
		w.logger.Error("task failed", append(fields, zap.Error(pipelineErr))...)
	} else {
		w.logger.Info("task finished", fields...)
	}

	w.recordHistory(ctx, task, final, started)
	w.publishEvent(ctx, task, final)
}

func (w *Worker) recordHistory(ctx context.Context, task crawler.Task, job crawler.Job, started time.Time) {
	if w.history == nil {
		return
	}
	totalURLs := 0
	if job.Sitemap != nil {
		totalURLs = job.Sitemap.TotalURLs
	}
	record := crawler.HistoryRecord{
		JobID:        job.ID,
		URL:          job.URL,
		Status:       job.Status,
		Kind:         kindOrScrape(task.Kind),
		PagesScraped: job.TotalPagesScraped,
		FailedCount:  len(job.FailedURLs),
		TotalURLs:    totalURLs,
		OutputDir:    job.OutputDir,
		Message:      job.Message,
		StartedAt:    started,
		FinishedAt:   w.clock.Now(),
	}
	if err := w.history.RecordJob(ctx, record); err != nil {
		w.logger.Warn("record job history failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (w *Worker) publishEvent(ctx context.Context, task crawler.Task, job crawler.Job) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"job_id":              job.ID,
		"kind":                string(kindOrScrape(task.Kind)),
		"url":                 job.URL,
		"status":              string(job.Status),
		"message":             job.Message,
		"output_directory":    job.OutputDir,
		"total_pages_scraped": job.TotalPagesScraped,
		"failed_urls":         len(job.FailedURLs),
		"timestamp":           w.clock.Now().Format(time.RFC3339),
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, payload)
	if err != nil {
		w.logger.Warn("publish job event failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	w.logger.Debug("job event published", zap.String("job_id", job.ID), zap.String("message_id", id))
}

func kindOrScrape(kind crawler.TaskKind) crawler.TaskKind {
	if kind == "" {
		return crawler.TaskScrape
	}
	return kind
}
