package crawler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://ex.com/":              "https://ex.com",
		"https://ex.com/a/#section":    "https://ex.com/a",
		"https://ex.com/a/?q=1#frag":   "https://ex.com/a?q=1",
		"https://ex.com/a?next=/b/":    "https://ex.com/a?next=/b/",
		"https://ex.com/a//":           "https://ex.com/a",
		"https://ex.com/path/page.htm": "https://ex.com/path/page.htm",
	}
	for in, want := range cases {
		got := NormalizeURL(in)
		require.Equal(t, want, got, in)
		require.Equal(t, got, NormalizeURL(got), "normalization must be idempotent for %s", in)
	}
}

func TestSameDomain(t *testing.T) {
	t.Parallel()

	require.True(t, SameDomain("https://ex.com/a", "http://ex.com/b?x=1"))
	require.False(t, SameDomain("https://ex.com/a", "https://other.com/a"))
	require.False(t, SameDomain("https://www.ex.com/a", "https://ex.com/a"))
	require.False(t, SameDomain("https://ex.com:8080/a", "https://ex.com/a"))
	require.False(t, SameDomain("/relative", "/relative"))
}

func TestIsSyntacticallyValid(t *testing.T) {
	t.Parallel()

	require.True(t, IsSyntacticallyValid("https://ex.com"))
	require.False(t, IsSyntacticallyValid("ex.com/page"))
	require.False(t, IsSyntacticallyValid("mailto:someone@ex.com"))
	require.False(t, IsSyntacticallyValid("://broken"))
}

func TestIsCrawlableWebpage(t *testing.T) {
	t.Parallel()

	require.True(t, IsCrawlableWebpage("https://ex.com/about"))
	require.True(t, IsCrawlableWebpage("https://ex.com/index.html"))
	require.True(t, IsCrawlableWebpage("http://ex.com/page.php?id=2"))
	require.False(t, IsCrawlableWebpage("https://ex.com/c.pdf"))
	require.False(t, IsCrawlableWebpage("https://ex.com/img/logo.PNG"))
	require.False(t, IsCrawlableWebpage("https://ex.com/files/archive.zip"))
	require.False(t, IsCrawlableWebpage("ftp://ex.com/page"))
	require.False(t, IsCrawlableWebpage("javascript:void(0)"))
}

func TestDirectoryName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ex.com", DirectoryName("https://www.ex.com/a"))
	require.Equal(t, "ex.com_8080", DirectoryName("http://ex.com:8080"))
	require.Equal(t, "site", DirectoryName(""))
}

func TestBlocksJSONEnvelope(t *testing.T) {
	t.Parallel()

	blocks := Blocks{
		TextBlock{Content: "Hello"},
		ImageBlock{URL: "https://ex.com/x.png", Alt: "x"},
	}
	data, err := json.Marshal(blocks)
	require.NoError(t, err)
	require.JSONEq(t,
		`[{"type":"text","content":"Hello"},{"type":"image","url":"https://ex.com/x.png","alt":"x","title":""}]`,
		string(data))

	var decoded Blocks
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, blocks, decoded)

	require.Error(t, json.Unmarshal([]byte(`[{"type":"video"}]`), &decoded))
}

func TestJobCloneIsDeep(t *testing.T) {
	t.Parallel()

	job := Job{
		ID:         "job-1",
		Sitemap:    &Sitemap{URLs: []string{"https://ex.com"}, Hierarchy: map[string][]string{"https://ex.com": {}}},
		Pages:      []PageResult{{URL: "https://ex.com", Metadata: map[string]string{"title": "t"}}},
		FailedURLs: []FailedURL{{URL: "https://ex.com/b"}},
		Errors:     []string{"boom"},
	}
	cp := job.Clone()
	cp.Sitemap.URLs[0] = "changed"
	cp.Pages[0].Metadata["title"] = "changed"
	cp.FailedURLs[0].RetryCount = 3
	cp.Errors[0] = "changed"

	require.Equal(t, "https://ex.com", job.Sitemap.URLs[0])
	require.Equal(t, "t", job.Pages[0].Metadata["title"])
	require.Zero(t, job.FailedURLs[0].RetryCount)
	require.Equal(t, "boom", job.Errors[0])
}
