package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/crawler"
	"github.com/JakeFAU/site-scraper/internal/scrape"
	"github.com/JakeFAU/site-scraper/internal/storage/local"
)

// processRetry re-scrapes a subset of a job's failed URLs and merges the
// outcome into the job and its artifacts. The job was already moved to
// in_progress when the retry was accepted.
func (w *Worker) processRetry(ctx context.Context, task crawler.Task) {
	started := w.clock.Now()
	targets := make(map[string]struct{}, len(task.URLs))
	for _, u := range task.URLs {
		targets[u] = struct{}{}
	}

	job, err := w.jobStore.Update(ctx, task.JobID, func(j *crawler.Job) error {
		for i := range j.FailedURLs {
			if _, ok := targets[j.FailedURLs[i].URL]; ok {
				j.FailedURLs[i].RetryCount++
			}
		}
		j.Status = crawler.JobStatusInProgress
		j.Message = fmt.Sprintf("Retrying %d failed URLs", len(task.URLs))
		return nil
	})
	if err != nil {
		w.logger.Error("start retry failed", zap.String("job_id", task.JobID), zap.Error(err))
		return
	}
	w.logger.Info("retry started", zap.String("job_id", job.ID), zap.Strings("urls", task.URLs))

	progress := job
	pipelineErr := w.safely(job.ID, func() error {
		return w.retryPipeline(ctx, &progress, task.URLs)
	})
	if pipelineErr != nil {
		progress.Errors = append(progress.Errors, pipelineErr.Error())
	}
	w.finish(ctx, task, progress, pipelineErr, started)
}

func (w *Worker) retryPipeline(ctx context.Context, job *crawler.Job, urls []string) error {
	if err := w.startRenderer(ctx); err != nil {
		return err
	}

	res := w.scraper.Run(ctx, urls, scrape.Options{IncludeImages: job.IncludeImages})
	job.FailedURLs = reconcileFailures(job.FailedURLs, res)
	job.Errors = append(job.Errors, res.Errors...)
	job.TotalPagesScraped += len(res.Pages)

	now := w.clock.Now()
	if job.OutputDir == "" {
		// The original run never reached persistence; write a full artifact set.
		dir, err := w.artifacts.CreateJobDir(job.URL, now)
		if err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
		job.OutputDir = dir
		job.Pages = local.MergeByURL(job.Pages, res.Pages)
		if err := w.artifacts.SaveJob(ctx, dir, *job, now); err != nil {
			return fmt.Errorf("save results: %w", err)
		}
	} else {
		merged, err := w.artifacts.MergePages(ctx, job.OutputDir, res.Pages)
		if err != nil {
			return fmt.Errorf("merge pages: %w", err)
		}
		job.Pages = merged
		if err := w.artifacts.SaveSummary(ctx, job.OutputDir, *job, now); err != nil {
			return fmt.Errorf("save summary: %w", err)
		}
	}

	job.Message = fmt.Sprintf("Retry completed: %d recovered, %d still failing", len(res.Pages), len(res.Failed))
	return nil
}

// reconcileFailures drops recovered URLs and refreshes the error and
// timestamp of URLs that failed again. Retry counts are left as they are.
func reconcileFailures(current []crawler.FailedURL, res scrape.Result) []crawler.FailedURL {
	recovered := make(map[string]struct{}, len(res.Pages))
	for _, p := range res.Pages {
		recovered[p.URL] = struct{}{}
	}
	again := make(map[string]crawler.FailedURL, len(res.Failed))
	for _, f := range res.Failed {
		again[f.URL] = f
	}

	out := make([]crawler.FailedURL, 0, len(current))
	for _, f := range current {
		if _, ok := recovered[f.URL]; ok {
			continue
		}
		if latest, ok := again[f.URL]; ok {
			f.Error = latest.Error
			f.Timestamp = latest.Timestamp
		}
		out = append(out, f)
	}
	return out
}
