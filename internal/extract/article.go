package extract

import (
	"fmt"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// Readability metadata keys.
const (
	KeySiteName = "site_name"
	KeyExcerpt  = "excerpt"
	KeyByline   = "byline"
)

// Article runs readability over the markup and returns the metadata it could
// infer. Keys are only present when readability found a non-empty value.
func Article(markup, pageURL string) (map[string]string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	article, err := readability.FromReader(strings.NewReader(markup), u)
	if err != nil {
		return nil, fmt.Errorf("readability: %w", err)
	}
	out := map[string]string{}
	put := func(key, value string) {
		if v := strings.TrimSpace(value); v != "" {
			out[key] = v
		}
	}
	put(KeySiteName, article.SiteName)
	put(KeyExcerpt, article.Excerpt)
	put(KeyByline, article.Byline)
	return out, nil
}

// MergeMetadata adds extra keys to base without overriding existing ones.
func MergeMetadata(base, extra map[string]string) map[string]string {
	if base == nil {
		base = map[string]string{}
	}
	for k, v := range extra {
		if _, exists := base[k]; !exists {
			base[k] = v
		}
	}
	return base
}
