// Package local persists scrape artifacts to the local filesystem: one
// directory per job holding sitemap.json, pages.json, summary.json and the
// human-readable exports derived from them.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/crawler"
)

// Artifact file names inside a job directory.
const (
	SitemapFile    = "sitemap.json"
	PagesFile      = "pages.json"
	PagesCSVFile   = "pages.csv"
	SummaryFile    = "summary.json"
	SummaryMDFile  = "summary.md"
	PagesTextDir   = "pages"
	dirStampLayout = "20060102_150405"
)

// OutputFormats lists the formats written for every job.
var OutputFormats = []string{"json", "csv", "txt", "md"}

// Config captures the parameters for the local artifact store.
type Config struct {
	// BaseDir is the root directory where job directories are created.
	BaseDir string `mapstructure:"base_dir"`
	// Mirror, when set, receives a copy of every artifact written.
	Mirror crawler.BlobStore
	// MirrorPrefix is prepended to mirrored object paths.
	MirrorPrefix string
}

// ArtifactStore writes and reads job artifacts on the local filesystem.
type ArtifactStore struct {
	baseDir      string
	mirror       crawler.BlobStore
	mirrorPrefix string
	logger       *zap.Logger
}

// New creates a new local filesystem-backed artifact store.
func New(cfg Config, logger *zap.Logger) (*ArtifactStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	// Check if the directory exists and is writable.
	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactStore{
		baseDir:      filepath.Clean(cfg.BaseDir),
		mirror:       cfg.Mirror,
		mirrorPrefix: strings.Trim(cfg.MirrorPrefix, "/"),
		logger:       logger,
	}, nil
}

// BaseDir returns the root output directory.
func (s *ArtifactStore) BaseDir() string {
	return s.baseDir
}

// CreateJobDir makes a fresh directory named after the site and the time.
func (s *ArtifactStore) CreateJobDir(siteURL string, at time.Time) (string, error) {
	name := crawler.DirectoryName(siteURL) + "_" + at.UTC().Format(dirStampLayout)
	dir := filepath.Join(s.baseDir, name)
	for i := 2; ; i++ {
		err := os.Mkdir(dir, 0o750)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("create job directory: %w", err)
		}
		dir = filepath.Join(s.baseDir, fmt.Sprintf("%s_%d", name, i))
	}
}

// SaveJob writes every artifact for a job.
func (s *ArtifactStore) SaveJob(ctx context.Context, dir string, job crawler.Job, now time.Time) error {
	if job.Sitemap != nil {
		if err := s.SaveSitemap(ctx, dir, *job.Sitemap); err != nil {
			return err
		}
	}
	if err := s.SavePages(ctx, dir, job.Pages); err != nil {
		return err
	}
	return s.SaveSummary(ctx, dir, job, now)
}

// SaveSitemap writes sitemap.json.
func (s *ArtifactStore) SaveSitemap(ctx context.Context, dir string, sm crawler.Sitemap) error {
	return s.writeJSON(ctx, dir, SitemapFile, sm)
}

// SavePages writes pages.json and the exports derived from it (CSV and text files).
func (s *ArtifactStore) SavePages(ctx context.Context, dir string, pages []crawler.PageResult) error {
	if pages == nil {
		pages = []crawler.PageResult{}
	}
	if err := s.writeJSON(ctx, dir, PagesFile, pages); err != nil {
		return err
	}
	csvData, err := encodePagesCSV(pages)
	if err != nil {
		return err
	}
	if err := s.writeFile(ctx, dir, PagesCSVFile, "text/csv", csvData); err != nil {
		return err
	}
	return s.writePageTexts(ctx, dir, pages)
}

// SaveSummary writes summary.json and summary.md.
func (s *ArtifactStore) SaveSummary(ctx context.Context, dir string, job crawler.Job, now time.Time) error {
	summary := BuildSummary(job, now)
	if err := s.writeJSON(ctx, dir, SummaryFile, summary); err != nil {
		return err
	}
	md, err := renderSummaryMarkdown(summary, job.Pages)
	if err != nil {
		return err
	}
	return s.writeFile(ctx, dir, SummaryMDFile, "text/markdown", md)
}

// MergePages replaces or appends pages by URL in the persisted collection and
// returns the collection as re-read from disk.
func (s *ArtifactStore) MergePages(ctx context.Context, dir string, pages []crawler.PageResult) ([]crawler.PageResult, error) {
	existing, err := s.LoadPages(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	merged := MergeByURL(existing, pages)
	if err := s.SavePages(ctx, dir, merged); err != nil {
		return nil, err
	}
	return s.LoadPages(dir)
}

// MergeByURL returns existing with each incoming page replacing the entry
// with the same URL, or appended if there is none.
func MergeByURL(existing, incoming []crawler.PageResult) []crawler.PageResult {
	out := make([]crawler.PageResult, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing))
	for _, p := range existing {
		if i, dup := index[p.URL]; dup {
			out[i] = p
			continue
		}
		index[p.URL] = len(out)
		out = append(out, p)
	}
	for _, p := range incoming {
		if i, ok := index[p.URL]; ok {
			out[i] = p
			continue
		}
		index[p.URL] = len(out)
		out = append(out, p)
	}
	return out
}

// LoadPages reads pages.json.
func (s *ArtifactStore) LoadPages(dir string) ([]crawler.PageResult, error) {
	var pages []crawler.PageResult
	if err := s.readJSON(dir, PagesFile, &pages); err != nil {
		return nil, err
	}
	if pages == nil {
		pages = []crawler.PageResult{}
	}
	return pages, nil
}

// LoadSitemap reads sitemap.json.
func (s *ArtifactStore) LoadSitemap(dir string) (crawler.Sitemap, error) {
	var sm crawler.Sitemap
	if err := s.readJSON(dir, SitemapFile, &sm); err != nil {
		return crawler.Sitemap{}, err
	}
	return sm, nil
}

// LoadSummary reads summary.json.
func (s *ArtifactStore) LoadSummary(dir string) (Summary, error) {
	var summary Summary
	if err := s.readJSON(dir, SummaryFile, &summary); err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// Recovered is a completed job rebuilt from its artifact directory.
type Recovered struct {
	Dir     string
	Summary Summary
	Sitemap crawler.Sitemap
	Pages   []crawler.PageResult
}

// Scan finds job directories holding summary, sitemap and pages artifacts.
// Unreadable directories are logged and skipped.
func (s *ArtifactStore) Scan(ctx context.Context) ([]Recovered, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read output directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []Recovered
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("scan canceled: %w", err)
		}
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(s.baseDir, entry.Name())
		if !hasArtifactTriple(dir) {
			continue
		}
		rec, err := s.load(dir)
		if err != nil {
			s.logger.Warn("skipping unreadable job directory", zap.String("dir", dir), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *ArtifactStore) load(dir string) (Recovered, error) {
	summary, err := s.LoadSummary(dir)
	if err != nil {
		return Recovered{}, err
	}
	sm, err := s.LoadSitemap(dir)
	if err != nil {
		return Recovered{}, err
	}
	pages, err := s.LoadPages(dir)
	if err != nil {
		return Recovered{}, err
	}
	return Recovered{Dir: dir, Summary: summary, Sitemap: sm, Pages: pages}, nil
}

func hasArtifactTriple(dir string) bool {
	for _, name := range []string{SummaryFile, SitemapFile, PagesFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.IsDir() {
			return false
		}
	}
	return true
}

func (s *ArtifactStore) writeJSON(ctx context.Context, dir, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return s.writeFile(ctx, dir, name, "application/json", data)
}

func (s *ArtifactStore) readJSON(dir, name string, v any) error {
	full, err := s.within(dir, name)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(full) // #nosec G304 -- path is confined to the base directory.
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// writeFile replaces dir/name atomically and mirrors it when configured.
func (s *ArtifactStore) writeFile(ctx context.Context, dir, name, contentType string, data []byte) error {
	full, err := s.within(dir, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), "."+filepath.Base(full)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	s.mirrorFile(ctx, dir, name, contentType, data)
	return nil
}

func (s *ArtifactStore) mirrorFile(ctx context.Context, dir, name, contentType string, data []byte) {
	if s.mirror == nil {
		return
	}
	objectPath := path.Join(filepath.Base(dir), filepath.ToSlash(name))
	if s.mirrorPrefix != "" {
		objectPath = path.Join(s.mirrorPrefix, objectPath)
	}
	uri, err := s.mirror.PutObject(ctx, objectPath, contentType, bytes.NewReader(data))
	if err != nil {
		s.logger.Warn("artifact mirror failed", zap.String("path", objectPath), zap.Error(err))
		return
	}
	s.logger.Debug("artifact mirrored", zap.String("uri", uri))
}

// within resolves name inside dir and verifies dir is inside the base directory.
func (s *ArtifactStore) within(dir, name string) (string, error) {
	cleanDir := filepath.Clean(dir)
	if !strings.HasPrefix(cleanDir, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	full := filepath.Clean(filepath.Join(cleanDir, name))
	if !strings.HasPrefix(full, cleanDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}
