package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-scraper/internal/config"
)

func withConfig(t *testing.T, cfg config.Config, err error) {
	t.Helper()
	prev := loadConfig
	loadConfig = func(string) (config.Config, error) { return cfg, err }
	t.Cleanup(func() { loadConfig = prev })
}

func staticConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Server: config.ServerConfig{Port: 8000, RequestTimeoutSeconds: 5},
		Scraper: config.ScraperConfig{
			MaxConcurrentPages:   2,
			PageTimeoutSeconds:   5,
			MaxDepthDefault:      1,
			IncludeImagesDefault: true,
			MaxVisited:           20,
		},
		Fetcher: config.FetcherConfig{Mode: config.FetcherStatic},
		Jobs:    config.JobsConfig{Workers: 1, QueueDepth: 2},
		Storage: config.StorageConfig{OutputDir: filepath.Join(t.TempDir(), "out")},
		Logging: config.LoggingConfig{Level: "error"},
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["serve"])
	require.True(t, names["scrape"])
	require.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestConfigErrorStopsCommand(t *testing.T) {
	withConfig(t, config.Config{}, errors.New("bad config"))

	root := newRootCmd()
	root.SetArgs([]string{"scrape", "https://example.com"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	err := root.Execute()
	require.ErrorContains(t, err, "bad config")
}

func TestScrapeRequiresURL(t *testing.T) {
	withConfig(t, staticConfig(t), nil)

	root := newRootCmd()
	root.SetArgs([]string{"scrape"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	require.Error(t, root.Execute())
}

func TestScrapeCommandWritesReport(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`<html><head><title>Only page</title></head><body><p>Hello</p></body></html>`))
	}))
	t.Cleanup(site.Close)
	withConfig(t, staticConfig(t), nil)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs([]string{"scrape", site.URL, "--include-images=false"})
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	require.NoError(t, root.Execute())

	var report scrapeReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.Equal(t, "completed", report.Status)
	require.Equal(t, 1, report.TotalPagesScraped)
	require.Equal(t, 1, report.TotalURLs)
	require.NotEmpty(t, report.OutputDirectory)
}
