package scraper

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/blaulicht/pkg/article"
	"github.com/3leaps/blaulicht/pkg/httpx"
)

type fakeSite struct {
	name    string
	pages   map[int][]ListingEntry
	bodies  map[string]string
}

func (f *fakeSite) Name() string          { return f.name }
func (f *fakeSite) State() article.State  { return article.StateHessen }
func (f *fakeSite) ListingURL(page int) string {
	return "listing://" + f.name + "/" + string(rune('0'+page))
}

func (f *fakeSite) ParseListing(html string) ([]ListingEntry, error) {
	return f.pages[len(html)], nil
}

func (f *fakeSite) ParseArticle(html string, entry ListingEntry) (*article.Article, error) {
	body, ok := f.bodies[entry.URL]
	if !ok {
		return nil, nil
	}
	return &article.Article{Title: entry.Title, Body: body, PublishedAt: entry.Date, URL: entry.URL, City: entry.City}, nil
}

func newTestScraper(t *testing.T, site Site) *Scraper {
	t.Helper()
	cfg := Config{FetchConcurrency: 4, MaxRetries: 1, MaxBackoff: time.Second, MaxEmptyPages: 2, URLCacheDir: t.TempDir()}
	hc := httpx.New(httpx.DefaultConfig(), nil)
	s, err := New(site, cfg, hc, nil)
	require.NoError(t, err)
	return s
}

func TestScraperCacheDedupesAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{FetchConcurrency: 2, MaxRetries: 1, MaxBackoff: time.Second, MaxEmptyPages: 1, URLCacheDir: dir}
	hc := httpx.New(httpx.DefaultConfig(), nil)

	site := &fakeSite{name: "cache-site"}
	s, err := New(site, cfg, hc, nil)
	require.NoError(t, err)

	s.cache.Set("seen-url", time.Now().UTC().Format(time.RFC3339))
	require.NoError(t, s.cache.Flush(true))

	path := filepath.Join(dir, "scraped_urls_cache-site.json")
	reopened, err := New(site, cfg, hc, nil)
	require.NoError(t, err)
	_, seen := reopened.cache.Get("seen-url")
	assert.True(t, seen)
	assert.FileExists(t, path)
}

func TestMeta_RecordsStopReason(t *testing.T) {
	site := &fakeSite{name: "m", pages: map[int][]ListingEntry{}, bodies: map[string]string{}}
	s := newTestScraper(t, site)

	_, meta, err := s.Run(context.Background(), nil, time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, meta.StopReason)
}
