package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if scraperPagesTotal == nil || scraperJobsTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObservePage(t *testing.T) {
	ObservePage("https://Observe.example/a", PageStatusScraped)
	ObservePage("https://observe.example/b", PageStatusScraped)
	ObservePage("https://observe.example/c", PageStatusFailed)

	if val := testutil.ToFloat64(scraperPagesTotal.WithLabelValues("observe.example", PageStatusScraped)); val != 2 {
		t.Errorf("Expected 2 scraped pages, got %f", val)
	}
	if val := testutil.ToFloat64(scraperPagesTotal.WithLabelValues("observe.example", PageStatusFailed)); val != 1 {
		t.Errorf("Expected 1 failed page, got %f", val)
	}
}

func TestObserveJob(t *testing.T) {
	ObserveJob("retry", "completed")
	if val := testutil.ToFloat64(scraperJobsTotal.WithLabelValues("retry", "completed")); val != 1 {
		t.Errorf("Expected 1 retry completion, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
