// Package headless renders pages in headless Chrome via chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/crawler"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// IdleGrace is how long to keep waiting for network idle after the load
	// event before taking the DOM anyway. Zero waits until the navigation timeout.
	IdleGrace      time.Duration
	DisableSandbox bool
	WindowWidth    int
	WindowHeight   int
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
}

// Fetcher implements crawler.Fetcher with one shared browser process and an
// isolated browser context (separate cookies and cache) per fetch.
type Fetcher struct {
	cfg     Config
	limiter chan struct{}
	logger  *zap.Logger

	mu            sync.Mutex
	started       bool
	allocCancel   context.CancelFunc
	browser       context.Context
	browserCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher. The browser starts on first use.
func NewChromedp(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Fetcher{cfg: cfg, limiter: limiter, logger: logger}, nil
}

func (f *Fetcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if f.cfg.DisableSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if f.cfg.WindowWidth > 0 && f.cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(f.cfg.WindowWidth, f.cfg.WindowHeight))
	}
	if f.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(f.cfg.UserAgent))
	}
	if f.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ExecPath))
	}
	return opts
}

// Start launches the browser process if it is not running yet. A failed
// launch is not cached; the next call tries again.
func (f *Fetcher) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("browser start canceled: %w", err)
	}

	// The browser outlives any single request, so it hangs off the background context.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), f.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("launch browser: %w", err)
	}
	f.allocCancel = allocCancel
	f.browser = browserCtx
	f.browserCancel = browserCancel
	f.started = true
	f.logger.Info("headless browser started", zap.Int("max_parallel", f.cfg.MaxParallel))
	return nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return
	}
	f.browserCancel()
	f.allocCancel()
	f.started = false
	f.browser = nil
}

func (f *Fetcher) browserContext() (context.Context, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.browser, f.started
}

// Fetch navigates to url in a fresh browser context, waits for the network to
// go idle and returns the rendered DOM with the document's HTTP status.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crawler.FetchResult, error) {
	if err := f.Start(ctx); err != nil {
		return crawler.FetchResult{}, err
	}
	browser, ok := f.browserContext()
	if !ok {
		return crawler.FetchResult{}, errors.New("browser is closed")
	}
	if err := f.acquire(ctx); err != nil {
		return crawler.FetchResult{}, err
	}
	defer f.release()

	tabCtx, tabCancel := chromedp.NewContext(browser, chromedp.WithNewBrowserContext())
	defer tabCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()

	meta := &responseMeta{}
	idle := newIdleWatcher()
	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			meta.capture(e)
		case *page.EventLifecycleEvent:
			idle.observe(e.Name)
		}
	})

	start := time.Now()
	var html, finalURL string
	err := chromedp.Run(tabCtx,
		f.networkSetupAction(),
		chromedp.Navigate(url),
		idle.waitAction(f.cfg.IdleGrace),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.FetchResult{}, fmt.Errorf("render %s: %w", url, ctxErr)
		}
		if errors.Is(tabCtx.Err(), context.DeadlineExceeded) {
			return crawler.FetchResult{}, fmt.Errorf("render %s: %w", url, context.DeadlineExceeded)
		}
		return crawler.FetchResult{}, fmt.Errorf("chromedp run: %w", err)
	}

	status, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	return crawler.FetchResult{
		URL:        responseURL,
		StatusCode: status,
		HTML:       html,
		Duration:   time.Since(start),
	}, nil
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

// responseMeta keeps the first document response seen in a tab.
type responseMeta struct {
	mu     sync.Mutex
	status int
	url    string
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.Lock()
	status, url := m.status, m.url
	m.mu.Unlock()

	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = 200
	}
	return status, url
}

// idleWatcher tracks the page lifecycle. A new document ("init") resets it,
// so an idle signal left over from about:blank is not mistaken for ours.
type idleWatcher struct {
	mu     sync.Mutex
	idle   bool
	signal chan struct{}
}

func newIdleWatcher() *idleWatcher {
	return &idleWatcher{signal: make(chan struct{}, 1)}
}

func (w *idleWatcher) observe(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch name {
	case "init":
		w.idle = false
	case "networkIdle":
		w.idle = true
		select {
		case w.signal <- struct{}{}:
		default:
		}
	}
}

func (w *idleWatcher) isIdle() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.idle
}

// wait blocks until the network is idle, ctx ends or grace (if positive) elapses.
func (w *idleWatcher) wait(ctx context.Context, grace time.Duration) error {
	var timeout <-chan time.Time
	if grace > 0 {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		timeout = timer.C
	}
	for !w.isIdle() {
		select {
		case <-w.signal:
		case <-timeout:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("wait for network idle: %w", ctx.Err())
		}
	}
	return nil
}

func (w *idleWatcher) waitAction(grace time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		return w.wait(ctx, grace)
	})
}
