// Package scrape fetches a list of pages concurrently and extracts their content.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/site-scraper/internal/crawler"
	"github.com/JakeFAU/site-scraper/internal/extract"
	"github.com/JakeFAU/site-scraper/internal/metrics"
)

// Config controls the orchestrator.
type Config struct {
	// Concurrency is the maximum number of fetches in flight.
	Concurrency int
	// PageTimeout bounds each individual fetch.
	PageTimeout time.Duration
	// MaxImagesPerPage caps the per-page image URL list; zero means no cap.
	MaxImagesPerPage int
}

// Options are the per-run knobs taken from the job.
type Options struct {
	IncludeImages bool
}

// Result covers every input URL exactly once, as a page or a failure.
type Result struct {
	Pages  []crawler.PageResult
	Failed []crawler.FailedURL
	Errors []string
}

// Orchestrator runs fetch+extract for many URLs behind an admission gate.
type Orchestrator struct {
	fetcher crawler.Fetcher
	clock   crawler.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs an Orchestrator.
func New(fetcher crawler.Fetcher, clock crawler.Clock, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{fetcher: fetcher, clock: clock, cfg: cfg, logger: logger}
}

type outcome struct {
	page   *crawler.PageResult
	failed *crawler.FailedURL
}

// Run processes urls and returns results in completion order. Cancellation of
// ctx turns not-yet-admitted URLs into failures; it never drops a URL.
func (o *Orchestrator) Run(ctx context.Context, urls []string, opts Options) Result {
	sem := semaphore.NewWeighted(int64(o.cfg.Concurrency))
	results := make(chan outcome, len(urls))

	for _, u := range urls {
		if err := sem.Acquire(ctx, 1); err != nil {
			results <- outcome{failed: o.failure(u, fmt.Errorf("not admitted: %w", err))}
			continue
		}
		go func(pageURL string) {
			defer sem.Release(1)
			results <- o.scrapeOne(ctx, pageURL, opts)
		}(u)
	}

	var res Result
	for range urls {
		out := <-results
		switch {
		case out.page != nil:
			res.Pages = append(res.Pages, *out.page)
		case out.failed != nil:
			res.Failed = append(res.Failed, *out.failed)
			res.Errors = append(res.Errors, fmt.Sprintf("Page scraping error %s: %s", out.failed.URL, out.failed.Error))
		}
	}
	o.logger.Info("scrape batch finished",
		zap.Int("urls", len(urls)),
		zap.Int("pages", len(res.Pages)),
		zap.Int("failed", len(res.Failed)),
	)
	return res
}

func (o *Orchestrator) scrapeOne(ctx context.Context, pageURL string, opts Options) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("page scrape panicked", zap.String("url", pageURL), zap.Any("panic", r))
			out = outcome{failed: o.failure(pageURL, fmt.Errorf("panic: %v", r))}
		}
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.PageTimeout)
	defer cancel()

	start := time.Now()
	res, err := o.fetcher.Fetch(fetchCtx, pageURL)
	metrics.ObserveFetchDuration(time.Since(start))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timeout after %s: %w", o.cfg.PageTimeout, err)
		}
		metrics.ObservePage(pageURL, metrics.PageStatusFailed)
		return outcome{failed: o.failure(pageURL, err)}
	}
	if !crawler.IsSuccessStatus(res.StatusCode) {
		metrics.ObservePage(pageURL, metrics.PageStatusFailed)
		return outcome{failed: o.failure(pageURL, fmt.Errorf("failed to load page: HTTP %d", res.StatusCode))}
	}

	page := o.buildPage(pageURL, res.BaseURL(pageURL), res.HTML, opts)
	metrics.ObservePage(pageURL, metrics.PageStatusScraped)
	return outcome{page: &page}
}

// buildPage keys the result by the requested URL but resolves relative
// references against the document's own address.
func (o *Orchestrator) buildPage(pageURL, baseURL, markup string, opts Options) crawler.PageResult {
	meta := extract.Metadata(markup)
	if article, err := extract.Article(markup, baseURL); err != nil {
		o.logger.Debug("readability skipped", zap.String("url", pageURL), zap.Error(err))
	} else {
		meta = extract.MergeMetadata(meta, article)
	}

	content := extract.StructuredContent(markup, baseURL)
	images := []string{}
	if opts.IncludeImages {
		images = extract.ImageURLs(markup, baseURL, o.cfg.MaxImagesPerPage)
	} else {
		content = textOnly(content)
	}

	return crawler.PageResult{
		URL:       pageURL,
		Title:     meta[extract.KeyTitle],
		Metadata:  meta,
		Content:   content,
		Images:    images,
		ScrapedAt: o.clock.Now(),
	}
}

func (o *Orchestrator) failure(pageURL string, err error) *crawler.FailedURL {
	o.logger.Warn("page scrape failed", zap.String("url", pageURL), zap.Error(err))
	return &crawler.FailedURL{
		URL:       pageURL,
		Error:     err.Error(),
		Timestamp: o.clock.Now(),
	}
}

func textOnly(blocks crawler.Blocks) crawler.Blocks {
	out := make(crawler.Blocks, 0, len(blocks))
	for _, b := range blocks {
		if _, ok := b.(crawler.TextBlock); ok {
			out = append(out, b)
		}
	}
	return out
}
