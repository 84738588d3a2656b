package crawler

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status ends a phase of work.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is the unit of work and its accumulated results.
type Job struct {
	ID                string       `json:"job_id"`
	Status            JobStatus    `json:"status"`
	URL               string       `json:"url"`
	MaxDepth          int          `json:"max_depth"`
	IncludeImages     bool         `json:"include_images"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
	OutputDir         string       `json:"output_directory,omitempty"`
	Message           string       `json:"message"`
	Sitemap           *Sitemap     `json:"sitemap,omitempty"`
	Pages             []PageResult `json:"pages"`
	FailedURLs        []FailedURL  `json:"failed_urls"`
	Errors            []string     `json:"errors"`
	TotalPagesScraped int          `json:"total_pages_scraped"`
}

// Clone returns a deep copy so readers never share slices with the writer.
func (j Job) Clone() Job {
	cp := j
	if j.Sitemap != nil {
		sm := j.Sitemap.Clone()
		cp.Sitemap = &sm
	}
	if j.Pages != nil {
		cp.Pages = make([]PageResult, len(j.Pages))
		for i, p := range j.Pages {
			cp.Pages[i] = p.Clone()
		}
	}
	cp.FailedURLs = append([]FailedURL(nil), j.FailedURLs...)
	cp.Errors = append([]string(nil), j.Errors...)
	return cp
}

// FailedURLSet returns the URLs currently recorded as failed.
func (j Job) FailedURLSet() map[string]struct{} {
	set := make(map[string]struct{}, len(j.FailedURLs))
	for _, f := range j.FailedURLs {
		set[f.URL] = struct{}{}
	}
	return set
}

// Sitemap is the discovered URL hierarchy of a site.
type Sitemap struct {
	TotalURLs int                 `json:"totalUrls"`
	BaseURL   string              `json:"baseUrl"`
	ScrapedAt time.Time           `json:"scrapedAt"`
	Hierarchy map[string][]string `json:"hierarchy"`
	URLs      []string            `json:"urls"`
}

// Clone returns a deep copy of the sitemap.
func (s Sitemap) Clone() Sitemap {
	cp := s
	cp.URLs = append([]string(nil), s.URLs...)
	if s.Hierarchy != nil {
		cp.Hierarchy = make(map[string][]string, len(s.Hierarchy))
		for k, v := range s.Hierarchy {
			cp.Hierarchy[k] = append([]string(nil), v...)
		}
	}
	return cp
}

// PageResult is the extracted content of one successfully fetched page.
type PageResult struct {
	URL       string            `json:"url"`
	Title     string            `json:"title,omitempty"`
	Metadata  map[string]string `json:"metadata"`
	Content   Blocks            `json:"content"`
	Images    []string          `json:"images"`
	ScrapedAt time.Time         `json:"scrapedAt"`
}

// Clone returns a deep copy of the page.
func (p PageResult) Clone() PageResult {
	cp := p
	if p.Metadata != nil {
		cp.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	cp.Content = append(Blocks(nil), p.Content...)
	cp.Images = append([]string(nil), p.Images...)
	return cp
}

// FailedURL records a URL that could not be fetched or extracted.
type FailedURL struct {
	URL        string    `json:"url"`
	Error      string    `json:"error"`
	Timestamp  time.Time `json:"timestamp"`
	RetryCount int       `json:"retryCount"`
}

// ContentBlock is one unit of a page's readable content: a TextBlock or an ImageBlock.
type ContentBlock interface {
	contentBlock()
}

// TextBlock is a run of visible text.
type TextBlock struct {
	Content string
}

// ImageBlock is an image placed at its document position.
type ImageBlock struct {
	URL   string
	Alt   string
	Title string
}

func (TextBlock) contentBlock()  {}
func (ImageBlock) contentBlock() {}

// Block type tags used on the wire.
const (
	BlockTypeText  = "text"
	BlockTypeImage = "image"
)

// Blocks is an ordered content sequence with a tagged JSON encoding.
type Blocks []ContentBlock

type blockEnvelope struct {
	Type    string  `json:"type"`
	Content string  `json:"content,omitempty"`
	URL     string  `json:"url,omitempty"`
	Alt     *string `json:"alt,omitempty"`
	Title   *string `json:"title,omitempty"`
}

// MarshalJSON encodes each block with its type tag.
func (b Blocks) MarshalJSON() ([]byte, error) {
	out := make([]blockEnvelope, 0, len(b))
	for _, block := range b {
		switch v := block.(type) {
		case TextBlock:
			out = append(out, blockEnvelope{Type: BlockTypeText, Content: v.Content})
		case ImageBlock:
			alt, title := v.Alt, v.Title
			out = append(out, blockEnvelope{Type: BlockTypeImage, URL: v.URL, Alt: &alt, Title: &title})
		default:
			return nil, fmt.Errorf("unknown content block %T", block)
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal blocks: %w", err)
	}
	return data, nil
}

// UnmarshalJSON decodes tagged blocks.
func (b *Blocks) UnmarshalJSON(data []byte) error {
	var raw []blockEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal blocks: %w", err)
	}
	out := make(Blocks, 0, len(raw))
	for _, env := range raw {
		switch env.Type {
		case BlockTypeText:
			out = append(out, TextBlock{Content: env.Content})
		case BlockTypeImage:
			img := ImageBlock{URL: env.URL}
			if env.Alt != nil {
				img.Alt = *env.Alt
			}
			if env.Title != nil {
				img.Title = *env.Title
			}
			out = append(out, img)
		default:
			return fmt.Errorf("unknown content block type %q", env.Type)
		}
	}
	*b = out
	return nil
}

// Text joins the text blocks with blank lines.
func (b Blocks) Text() string {
	var parts []string
	for _, block := range b {
		if t, ok := block.(TextBlock); ok {
			parts = append(parts, t.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// FetchResult is what a Fetcher returns for one page load. URL is the
// document's final address after redirects.
type FetchResult struct {
	URL        string
	StatusCode int
	HTML       string
	Duration   time.Duration
}

// BaseURL returns the address relative references in the document resolve
// against: the final document URL, or requested when the fetcher left it empty.
func (r FetchResult) BaseURL(requested string) string {
	if r.URL != "" {
		return r.URL
	}
	return requested
}

// Task is a unit of background work for the worker pool.
type Task struct {
	JobID string
	Kind  TaskKind
	URLs  []string
}

// TaskKind distinguishes a full scrape from a retry pass.
type TaskKind string

// Task kinds.
const (
	TaskScrape TaskKind = "scrape"
	TaskRetry  TaskKind = "retry"
)

// HistoryRecord is written once per terminal job phase.
type HistoryRecord struct {
	JobID        string
	URL          string
	Status       JobStatus
	Kind         TaskKind
	PagesScraped int
	FailedCount  int
	TotalURLs    int
	OutputDir    string
	Message      string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// IsSuccessStatus reports whether a page load counts as successful (2xx or 304).
func IsSuccessStatus(code int) bool {
	return (code >= 200 && code < 300) || code == 304
}
