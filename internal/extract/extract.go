// Package extract turns page markup into metadata, links, image lists and an
// ordered sequence of content blocks. Every function here is pure: malformed
// markup produces partial or empty results, never an error.
package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Metadata keys produced by Metadata.
const (
	KeyTitle         = "title"
	KeyDescription   = "description"
	KeyKeywords      = "keywords"
	KeyAuthor        = "author"
	KeyOGTitle       = "og_title"
	KeyOGDescription = "og_description"
	KeyOGImage       = "og_image"
)

var namedMeta = map[string]string{
	"description": KeyDescription,
	"keywords":    KeyKeywords,
	"author":      KeyAuthor,
}

var propertyMeta = map[string]string{
	"og:title":       KeyOGTitle,
	"og:description": KeyOGDescription,
	"og:image":       KeyOGImage,
}

// Metadata reads the document title and the well-known meta tags.
// A key is present only when the corresponding tag exists.
func Metadata(markup string) map[string]string {
	out := map[string]string{}
	doc, err := parse(markup)
	if err != nil {
		return out
	}
	if title := doc.Find("title").First(); title.Length() > 0 {
		if text := strings.TrimSpace(title.Text()); text != "" {
			out[KeyTitle] = text
		}
	}
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content, _ := s.Attr("content")
		content = strings.TrimSpace(content)
		if name, ok := s.Attr("name"); ok {
			if key, known := namedMeta[strings.ToLower(strings.TrimSpace(name))]; known {
				if _, seen := out[key]; !seen {
					out[key] = content
				}
			}
		}
		if prop, ok := s.Attr("property"); ok {
			if key, known := propertyMeta[strings.ToLower(strings.TrimSpace(prop))]; known {
				if _, seen := out[key]; !seen {
					out[key] = content
				}
			}
		}
	})
	return out
}

// Links returns the absolute targets of every a[href] in document order.
// Relative references resolve against <base href> when present, else pageURL.
func Links(markup, pageURL string) []string {
	doc, err := parse(markup)
	if err != nil {
		return nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, rerr := base.Parse(strings.TrimSpace(href)); rerr == nil {
			base = resolved
		}
	}
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if abs := resolve(base, href); abs != "" {
			links = append(links, abs)
		}
	})
	return links
}

// ImageURLs collects img sources (src, falling back to data-src) resolved
// against baseURL, deduplicated in document order. limit <= 0 means no cap.
func ImageURLs(markup, baseURL string, limit int) []string {
	doc, err := parse(markup)
	if err != nil {
		return nil
	}
	base, _ := url.Parse(baseURL)
	seen := map[string]struct{}{}
	images := []string{}
	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src := imageSource(s.AttrOr("src", ""), s.AttrOr("data-src", ""))
		abs := resolve(base, src)
		if abs == "" {
			return true
		}
		if _, dup := seen[abs]; dup {
			return true
		}
		seen[abs] = struct{}{}
		images = append(images, abs)
		return limit <= 0 || len(images) < limit
	})
	return images
}

func parse(markup string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(markup))
}

func imageSource(src, dataSrc string) string {
	if s := strings.TrimSpace(src); s != "" {
		return s
	}
	return strings.TrimSpace(dataSrc)
}

// resolve returns ref as an absolute URL, or "" when it is empty or unparsable.
func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base == nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}
