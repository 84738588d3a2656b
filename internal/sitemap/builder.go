// Package sitemap discovers the same-domain URL hierarchy of a site with a
// breadth-first crawl.
package sitemap

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/crawler"
	"github.com/JakeFAU/site-scraper/internal/extract"
)

// MaxVisited bounds the number of pages fetched during discovery.
const MaxVisited = 500

// Config controls discovery behavior.
type Config struct {
	PageTimeout time.Duration
	MaxVisited  int
}

// Builder walks a site breadth-first from its base URL.
type Builder struct {
	fetcher crawler.Fetcher
	clock   crawler.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Builder.
func New(fetcher crawler.Fetcher, clock crawler.Clock, cfg Config, logger *zap.Logger) *Builder {
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 30 * time.Second
	}
	if cfg.MaxVisited <= 0 || cfg.MaxVisited > MaxVisited {
		cfg.MaxVisited = MaxVisited
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{fetcher: fetcher, clock: clock, cfg: cfg, logger: logger}
}

type queued struct {
	url    string
	depth  int
	parent string
}

// Build crawls from baseURL down to maxDepth link hops. Per-page fetch
// failures are returned as error strings and never abort the crawl; the
// returned error is non-nil only when ctx ends first.
func (b *Builder) Build(ctx context.Context, baseURL string, maxDepth int) (crawler.Sitemap, []string, error) {
	base := crawler.NormalizeURL(baseURL)
	var (
		queue     = []queued{{url: base}}
		visited   = map[string]struct{}{}
		known     = map[string]struct{}{base: {}}
		urls      = []string{base}
		hierarchy = map[string][]string{}
		errs      []string
	)

	for len(queue) > 0 && len(visited) < b.cfg.MaxVisited {
		if err := ctx.Err(); err != nil {
			return crawler.Sitemap{}, errs, fmt.Errorf("sitemap build canceled: %w", err)
		}
		item := queue[0]
		queue = queue[1:]
		if _, seen := visited[item.url]; seen || item.depth > maxDepth {
			continue
		}
		visited[item.url] = struct{}{}

		links, err := b.discover(ctx, item.url)
		if err != nil {
			b.logger.Debug("discovery failed", zap.String("url", item.url), zap.Error(err))
			errs = append(errs, fmt.Sprintf("Sitemap building error %s: %v", item.url, err))
		}

		children := filterChildren(links, base, visited)
		hierarchy[item.url] = children
		for _, child := range children {
			if _, seen := known[child]; seen {
				continue
			}
			known[child] = struct{}{}
			urls = append(urls, child)
			queue = append(queue, queued{url: child, depth: item.depth + 1, parent: item.url})
		}
	}

	b.logger.Info("sitemap built",
		zap.String("base_url", base),
		zap.Int("urls", len(urls)),
		zap.Int("visited", len(visited)),
		zap.Int("errors", len(errs)),
	)
	return crawler.Sitemap{
		TotalURLs: len(urls),
		BaseURL:   base,
		ScrapedAt: b.clock.Now(),
		Hierarchy: hierarchy,
		URLs:      urls,
	}, errs, nil
}

func (b *Builder) discover(ctx context.Context, pageURL string) ([]string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, b.cfg.PageTimeout)
	defer cancel()

	res, err := b.fetcher.Fetch(fetchCtx, pageURL)
	if err != nil {
		return nil, err
	}
	if !crawler.IsSuccessStatus(res.StatusCode) {
		return nil, fmt.Errorf("HTTP %d", res.StatusCode)
	}
	return extract.Links(res.HTML, res.BaseURL(pageURL)), nil
}

// filterChildren keeps valid, same-domain, unvisited page links, normalized
// and deduplicated in first-seen order.
func filterChildren(links []string, base string, visited map[string]struct{}) []string {
	children := []string{}
	seen := map[string]struct{}{}
	for _, link := range links {
		u := crawler.NormalizeURL(link)
		if !crawler.IsSyntacticallyValid(u) || !crawler.SameDomain(u, base) || !crawler.IsCrawlableWebpage(u) {
			continue
		}
		if _, done := visited[u]; done {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		children = append(children, u)
	}
	return children
}
