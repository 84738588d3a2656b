package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/site-scraper/internal/crawler"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", Timeout: time.Second})
	collector := f.buildCollector(context.Background(), time.Unix(0, 0), &crawler.FetchResult{}, new(error))
	if collector.UserAgent != "coverage-agent" {
		t.Fatalf("expected user agent override, got %q", collector.UserAgent)
	}
	if !collector.AllowURLRevisit || !collector.ParseHTTPErrorResponse || !collector.IgnoreRobotsTxt {
		t.Fatalf("unexpected collector flags: %+v", collector)
	}
}

func TestBuildCollectorBindsContextPerClone(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	type ctxKey struct{}
	first := context.WithValue(context.Background(), ctxKey{}, "first")
	second := context.WithValue(context.Background(), ctxKey{}, "second")

	a := f.buildCollector(first, time.Now(), &crawler.FetchResult{}, new(error))
	b := f.buildCollector(second, time.Now(), &crawler.FetchResult{}, new(error))
	if a.Context != first || b.Context != second {
		t.Fatal("expected each clone to carry its own context")
	}
	if f.baseCollector.Context == first || f.baseCollector.Context == second {
		t.Fatal("base collector context must not change per fetch")
	}
}

func TestNewDefaultsTimeout(t *testing.T) {
	t.Parallel()

	if got := New(Config{}).cfg.Timeout; got != defaultTimeout {
		t.Fatalf("expected default timeout, got %v", got)
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	var result crawler.FetchResult
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, time.Now(), &result, &fetchErr)
	if hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("<html>body</html>"),
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	if result.StatusCode != http.StatusCreated || result.HTML != "<html>body</html>" || result.URL != "https://example.com" {
		t.Fatalf("unexpected result: %+v", result)
	}

	hooks.onError(nil, errors.New("boom"))
	if fetchErr == nil || fetchErr.Error() != "boom" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}
}

func TestFetchAgainstServer(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing" {
			http.Error(w, "not here", http.StatusNotFound)
			return
		}
		if got := r.Header.Get("User-Agent"); got != "test-agent" {
			http.Error(w, "bad agent "+got, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><title>ok</title></html>"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "test-agent", Timeout: 5 * time.Second})
	ctx := context.Background()

	res, err := f.Fetch(ctx, srv.URL+"/page")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.StatusCode != http.StatusOK || !strings.Contains(res.HTML, "<title>ok</title>") {
		t.Fatalf("unexpected result: %+v", res)
	}

	// Revisiting the same URL must hit the server again.
	if _, err := f.Fetch(ctx, srv.URL+"/page"); err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 hits, got %d", hits.Load())
	}

	res, err = f.Fetch(ctx, srv.URL+"/missing")
	if err != nil {
		t.Fatalf("fetch missing: %v", err)
	}
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", res.StatusCode)
	}
}

func TestFetchCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	f := New(Config{Timeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, srv.URL)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestFetchConcurrentCancellationIsIsolated(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			select {
			case <-release:
			case <-r.Context().Done():
			}
			return
		}
		_, _ = w.Write([]byte("<html><body>" + r.URL.Path + "</body></html>"))
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	f := New(Config{Timeout: 5 * time.Second})

	slowCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	slowErr := make(chan error, 1)
	go func() {
		_, err := f.Fetch(slowCtx, srv.URL+"/slow")
		slowErr <- err
	}()

	const fetches = 8
	errs := make(chan error, fetches)
	for i := 0; i < fetches; i++ {
		path := "/page" + strconv.Itoa(i)
		go func() {
			res, err := f.Fetch(context.Background(), srv.URL+path)
			if err == nil && !strings.Contains(res.HTML, path) {
				err = fmt.Errorf("got body for wrong page: %q", res.HTML)
			}
			errs <- err
		}()
	}
	for i := 0; i < fetches; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent fetch: %v", err)
		}
	}
	if err := <-slowErr; !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded for slow page, got %v", err)
	}

	// The expired context of the slow fetch must not leak into later fetches.
	if _, err := f.Fetch(context.Background(), srv.URL+"/after"); err != nil {
		t.Fatalf("fetch after cancellation: %v", err)
	}
}

func TestFetchReportsRedirectTarget(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/docs", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/docs/", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/docs/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><a href="intro">Intro</a></body></html>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	res, err := New(Config{Timeout: 5 * time.Second}).Fetch(context.Background(), srv.URL+"/docs")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.URL != srv.URL+"/docs/" {
		t.Fatalf("expected final URL %s/docs/, got %s", srv.URL, res.URL)
	}
}

func TestFetchConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := New(Config{Timeout: time.Second})
	if _, err := f.Fetch(context.Background(), addr); err == nil {
		t.Fatal("expected error for closed server")
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
