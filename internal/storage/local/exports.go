package local

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"

	"github.com/JakeFAU/site-scraper/internal/crawler"
)

// MaxSummaryErrors caps the error list stored in summary.json.
const MaxSummaryErrors = 50

const maxSlugLength = 50

var slugUnsafe = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Summary is the job overview persisted as summary.json.
type Summary struct {
	Website             string              `json:"website"`
	ScrapedAt           time.Time           `json:"scrapedAt"`
	TotalURLsDiscovered int                 `json:"totalUrlsDiscovered"`
	PagesScraped        int                 `json:"pagesScraped"`
	TotalImagesFound    int                 `json:"totalImagesFound"`
	FailedURLsCount     int                 `json:"failedUrlsCount"`
	FailedURLs          []crawler.FailedURL `json:"failedUrls"`
	ErrorsCount         int                 `json:"errorsCount"`
	Errors              []string            `json:"errors"`
	MaxDepth            int                 `json:"maxDepth"`
	OutputFormats       []string            `json:"outputFormats"`
}

// BuildSummary derives the summary for a job's current state.
func BuildSummary(job crawler.Job, now time.Time) Summary {
	images := 0
	for _, p := range job.Pages {
		images += len(p.Images)
	}
	discovered := 0
	if job.Sitemap != nil {
		discovered = job.Sitemap.TotalURLs
	}
	errs := job.Errors
	if len(errs) > MaxSummaryErrors {
		errs = errs[:MaxSummaryErrors]
	}
	failed := job.FailedURLs
	if failed == nil {
		failed = []crawler.FailedURL{}
	}
	return Summary{
		Website:             job.URL,
		ScrapedAt:           now,
		TotalURLsDiscovered: discovered,
		PagesScraped:        len(job.Pages),
		TotalImagesFound:    images,
		FailedURLsCount:     len(job.FailedURLs),
		FailedURLs:          append([]crawler.FailedURL{}, failed...),
		ErrorsCount:         len(job.Errors),
		Errors:              append([]string{}, errs...),
		MaxDepth:            job.MaxDepth,
		OutputFormats:       append([]string(nil), OutputFormats...),
	}
}

func encodePagesCSV(pages []crawler.PageResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{
		"url", "title", "description", "keywords", "author",
		"image_count", "content_block_count", "content", "image_urls",
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, p := range pages {
		row := []string{
			p.URL,
			p.Title,
			p.Metadata["description"],
			p.Metadata["keywords"],
			p.Metadata["author"],
			strconv.Itoa(len(p.Images)),
			strconv.Itoa(len(p.Content)),
			p.Content.Text(),
			strings.Join(p.Images, ";"),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// writePageTexts rewrites pages/NNNN_slug.txt for every page.
func (s *ArtifactStore) writePageTexts(ctx context.Context, dir string, pages []crawler.PageResult) error {
	textDir, err := s.within(dir, PagesTextDir)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(textDir); err != nil {
		return fmt.Errorf("clear page texts: %w", err)
	}
	for i, p := range pages {
		name := filepath.Join(PagesTextDir, fmt.Sprintf("%04d_%s.txt", i+1, slug(p.URL)))
		if err := s.writeFile(ctx, dir, name, "text/plain; charset=utf-8", []byte(pageText(p))); err != nil {
			return err
		}
	}
	return nil
}

func pageText(p crawler.PageResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", p.URL)
	if p.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", p.Title)
	}
	fmt.Fprintf(&b, "Scraped: %s\n\n", p.ScrapedAt.Format(time.RFC3339))
	for _, block := range p.Content {
		switch v := block.(type) {
		case crawler.TextBlock:
			b.WriteString(v.Content)
			b.WriteString("\n\n")
		case crawler.ImageBlock:
			if v.Alt != "" {
				fmt.Fprintf(&b, "[Image: %s] %s\n\n", v.Alt, v.URL)
			} else {
				fmt.Fprintf(&b, "[Image] %s\n\n", v.URL)
			}
		}
	}
	return b.String()
}

// slug turns a page URL's path into a short file-name fragment.
func slug(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
		if u.RawQuery != "" {
			p += "_" + u.RawQuery
		}
	}
	s := strings.Trim(slugUnsafe.ReplaceAllString(p, "_"), "_")
	if len(s) > maxSlugLength {
		s = strings.TrimRight(s[:maxSlugLength], "_")
	}
	if s == "" {
		return "index"
	}
	return strings.ToLower(s)
}

func renderSummaryMarkdown(summary Summary, pages []crawler.PageResult) ([]byte, error) {
	var buf bytes.Buffer
	md := markdown.NewMarkdown(&buf)

	md.H1("Scrape Summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Website", summary.Website},
			{"Scraped At", summary.ScrapedAt.Format("2006-01-02 15:04:05 MST")},
			{"URLs Discovered", strconv.Itoa(summary.TotalURLsDiscovered)},
			{"Pages Scraped", strconv.Itoa(summary.PagesScraped)},
			{"Images Found", strconv.Itoa(summary.TotalImagesFound)},
			{"Failed URLs", strconv.Itoa(summary.FailedURLsCount)},
			{"Errors", strconv.Itoa(summary.ErrorsCount)},
			{"Max Depth", strconv.Itoa(summary.MaxDepth)},
		},
	})
	md.PlainText("")

	if len(pages) > 0 {
		md.H2("Pages")
		items := make([]string, 0, len(pages))
		for _, p := range pages {
			title := p.Title
			if title == "" {
				title = p.URL
			}
			items = append(items, fmt.Sprintf("[%s](%s)", title, p.URL))
		}
		md.BulletList(items...)
		md.PlainText("")
	}

	if len(summary.FailedURLs) > 0 {
		md.H2("Failed URLs")
		rows := make([][]string, 0, len(summary.FailedURLs))
		for _, f := range summary.FailedURLs {
			rows = append(rows, []string{f.URL, f.Error, strconv.Itoa(f.RetryCount)})
		}
		md.Table(markdown.TableSet{
			Header: []string{"URL", "Error", "Retries"},
			Rows:   rows,
		})
		md.PlainText("")
	}

	if len(summary.Errors) > 0 {
		md.H2("Errors")
		md.BulletList(summary.Errors...)
		md.PlainText("")
	}

	if err := md.Build(); err != nil {
		return nil, fmt.Errorf("render summary markdown: %w", err)
	}
	return buf.Bytes(), nil
}
