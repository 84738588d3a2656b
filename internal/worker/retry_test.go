package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-scraper/internal/crawler"
	"github.com/JakeFAU/site-scraper/internal/scrape"
)

// completedWithFailures runs a full scrape where B and C fail, then marks the
// job in progress the way an accepted retry does.
func completedWithFailures(t *testing.T, h *harness) crawler.Job {
	t.Helper()
	h.scraper.setFailures(map[string]string{
		siteB: "timeout after 30s",
		siteC: "failed to load page: HTTP 503",
	})
	h.createJob(t, "job-1")
	h.worker.Process(context.Background(), crawler.Task{JobID: "job-1", Kind: crawler.TaskScrape})

	job, err := h.jobs.Update(context.Background(), "job-1", func(j *crawler.Job) error {
		require.Equal(t, crawler.JobStatusCompleted, j.Status)
		j.Status = crawler.JobStatusInProgress
		return nil
	})
	require.NoError(t, err)
	require.Len(t, job.FailedURLs, 2)
	return job
}

func TestRetry_MergesRecoveredPages(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	before := completedWithFailures(t, h)

	h.scraper.setFailures(map[string]string{siteC: "failed to load page: HTTP 500"})
	h.worker.Process(context.Background(), crawler.Task{JobID: "job-1", Kind: crawler.TaskRetry, URLs: []string{siteB, siteC}})

	job, err := h.jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, job.Status)
	require.Equal(t, "Retry completed: 1 recovered, 1 still failing", job.Message)
	require.Equal(t, before.OutputDir, job.OutputDir)
	require.Equal(t, 2, job.TotalPagesScraped)

	require.Len(t, job.FailedURLs, 1)
	require.Equal(t, siteC, job.FailedURLs[0].URL)
	require.Equal(t, 1, job.FailedURLs[0].RetryCount)
	require.Equal(t, "failed to load page: HTTP 500", job.FailedURLs[0].Error)

	urls := make([]string, 0, len(job.Pages))
	for _, p := range job.Pages {
		urls = append(urls, p.URL)
	}
	require.Equal(t, []string{siteA, siteB}, urls)

	onDisk, err := h.artifacts.LoadPages(job.OutputDir)
	require.NoError(t, err)
	require.Equal(t, job.Pages, onDisk)

	summary, err := h.artifacts.LoadSummary(job.OutputDir)
	require.NoError(t, err)
	require.Equal(t, 1, summary.FailedURLsCount)
	require.Equal(t, 2, summary.PagesScraped)

	require.Len(t, h.history.records, 2)
	require.Equal(t, crawler.TaskRetry, h.history.records[1].Kind)
}

func TestRetry_RepeatedRetryIsIdempotentForPages(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	completedWithFailures(t, h)

	h.scraper.setFailures(map[string]string{siteC: "still down"})
	task := crawler.Task{JobID: "job-1", Kind: crawler.TaskRetry, URLs: []string{siteB, siteC}}
	h.worker.Process(context.Background(), task)
	first, err := h.jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)

	_, err = h.jobs.Update(context.Background(), "job-1", func(j *crawler.Job) error {
		j.Status = crawler.JobStatusInProgress
		return nil
	})
	require.NoError(t, err)
	h.worker.Process(context.Background(), crawler.Task{JobID: "job-1", Kind: crawler.TaskRetry, URLs: []string{siteC}})

	second, err := h.jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, second.Pages, len(first.Pages))
	require.Equal(t, first.TotalPagesScraped, second.TotalPagesScraped)
	require.Len(t, second.FailedURLs, 1)
	require.Equal(t, 2, second.FailedURLs[0].RetryCount)
}

func TestRetry_WithoutOutputDirWritesFullArtifacts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.createJob(t, "job-1")
	_, err := h.jobs.Update(context.Background(), "job-1", func(j *crawler.Job) error {
		j.Status = crawler.JobStatusInProgress
		j.FailedURLs = []crawler.FailedURL{{URL: siteB, Error: "boom"}}
		return nil
	})
	require.NoError(t, err)

	h.worker.Process(context.Background(), crawler.Task{JobID: "job-1", Kind: crawler.TaskRetry, URLs: []string{siteB}})

	job, err := h.jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, job.Status)
	require.NotEmpty(t, job.OutputDir)
	require.Empty(t, job.FailedURLs)
	require.Len(t, job.Pages, 1)
}

func TestReconcileFailures(t *testing.T) {
	t.Parallel()

	current := []crawler.FailedURL{
		{URL: "a", Error: "old", RetryCount: 1},
		{URL: "b", Error: "old", RetryCount: 1},
		{URL: "c", Error: "untouched", RetryCount: 0},
	}
	out := reconcileFailures(current, scrapeResult(
		[]string{"a"},
		[]crawler.FailedURL{{URL: "b", Error: "new"}},
	))
	require.Equal(t, []crawler.FailedURL{
		{URL: "b", Error: "new", RetryCount: 1},
		{URL: "c", Error: "untouched", RetryCount: 0},
	}, out)
}

func scrapeResult(recovered []string, failed []crawler.FailedURL) scrape.Result {
	res := scrape.Result{Failed: failed}
	for _, u := range recovered {
		res.Pages = append(res.Pages, crawler.PageResult{URL: u})
	}
	return res
}
