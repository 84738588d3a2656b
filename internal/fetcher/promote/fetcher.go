// Package promote fetches pages statically and re-renders them in a browser
// only when the static markup looks client-side rendered.
package promote

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/crawler"
	"github.com/JakeFAU/site-scraper/internal/metrics"
)

// Detector decides whether a static response needs rendering.
type Detector interface {
	ShouldPromote(res crawler.FetchResult) bool
}

// Fetcher probes with a cheap fetcher and falls back to a renderer.
type Fetcher struct {
	probe    crawler.Fetcher
	renderer crawler.Fetcher
	detector Detector
	logger   *zap.Logger
}

// New builds a promoting fetcher.
func New(probe, renderer crawler.Fetcher, detector Detector, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{probe: probe, renderer: renderer, detector: detector, logger: logger}
}

// Fetch returns the probe's result unless the detector asks for rendering.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crawler.FetchResult, error) {
	res, err := f.probe.Fetch(ctx, url)
	if err != nil {
		return crawler.FetchResult{}, err
	}
	if f.renderer == nil || f.detector == nil || !f.detector.ShouldPromote(res) {
		return res, nil
	}
	f.logger.Debug("promoting to headless", zap.String("url", url), zap.Int("static_bytes", len(res.HTML)))
	metrics.ObservePromotion()
	rendered, err := f.renderer.Fetch(ctx, url)
	if err != nil {
		return crawler.FetchResult{}, fmt.Errorf("render after promotion: %w", err)
	}
	rendered.Duration += res.Duration
	return rendered, nil
}
