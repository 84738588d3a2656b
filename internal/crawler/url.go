package crawler

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

// nonPageExtensions are path suffixes that never hold an HTML page.
var nonPageExtensions = map[string]struct{}{
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".odt": {}, ".ods": {}, ".rtf": {},
	".zip": {}, ".rar": {}, ".tar": {}, ".gz": {}, ".tgz": {}, ".7z": {}, ".bz2": {},
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".svg": {}, ".webp": {}, ".bmp": {}, ".ico": {}, ".tiff": {},
	".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".wmv": {}, ".flv": {}, ".wav": {}, ".ogg": {}, ".webm": {},
	".css": {}, ".js": {}, ".json": {}, ".xml": {}, ".csv": {}, ".txt": {}, ".rss": {}, ".atom": {},
	".exe": {}, ".dmg": {}, ".msi": {}, ".apk": {}, ".bin": {}, ".iso": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_.\-]`)

// NormalizeURL drops the fragment and any trailing slash of the path part.
// The query string is left untouched. Applying it twice yields the same result.
func NormalizeURL(rawURL string) string {
	u := rawURL
	if i := strings.IndexByte(u, '#'); i >= 0 {
		u = u[:i]
	}
	base, query, hasQuery := strings.Cut(u, "?")
	base = strings.TrimRight(base, "/")
	if hasQuery {
		return base + "?" + query
	}
	return base
}

// SameDomain reports whether both URLs have the identical host component.
func SameDomain(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Host != "" && ua.Host == ub.Host
}

// IsSyntacticallyValid reports whether the URL parses with both a scheme and a host.
func IsSyntacticallyValid(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

// IsCrawlableWebpage reports whether a discovered link plausibly points at an HTML page.
func IsCrawlableWebpage(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	_, blocked := nonPageExtensions[ext]
	return !blocked
}

// DirectoryName turns a site URL into a filesystem-safe label.
func DirectoryName(rawURL string) string {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.TrimPrefix(host, "www.")
	name := unsafeNameChars.ReplaceAllString(host, "_")
	if name == "" {
		return "site"
	}
	return name
}
