// Package detector decides when a statically fetched page needs a browser to render.
package detector

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-scraper/internal/crawler"
)

const defaultMinTextLength = 200

// mountSelectors match the empty root elements client-side frameworks render into.
var mountSelectors = []string{
	"#__next",
	"#__nuxt",
	"#root",
	"#app",
	"[data-reactroot]",
	"[ng-app]",
	"[ng-version]",
}

// Heuristic promotes pages whose static markup carries little visible text
// but does carry scripts or a framework mount point.
type Heuristic struct {
	MinTextLength int
}

// NewHeuristic creates a new detector. minTextLength of zero selects the default.
func NewHeuristic(minTextLength int) *Heuristic {
	if minTextLength <= 0 {
		minTextLength = defaultMinTextLength
	}
	return &Heuristic{MinTextLength: minTextLength}
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(res crawler.FetchResult) bool {
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return false
	}
	if strings.TrimSpace(res.HTML) == "" {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.HTML))
	if err != nil {
		return false
	}

	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	textLength := utf8.RuneCountInString(strings.Join(strings.Fields(body.Text()), " "))
	if textLength >= h.MinTextLength {
		return false
	}

	for _, sel := range mountSelectors {
		if mount := doc.Find(sel).First(); mount.Length() > 0 && strings.TrimSpace(mount.Text()) == "" {
			return true
		}
	}
	return doc.Find("script").Length() > 0
}
