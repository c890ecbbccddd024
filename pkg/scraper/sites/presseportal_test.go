package sites

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/blaulicht/pkg/article"
	"github.com/3leaps/blaulicht/pkg/scraper"
)

const sampleListingHTML = `
<html><body>
<article class="news">
  <a class="release-link" href="/blaulicht/bw/1234">Raub in der Innenstadt</a>
  <span class="city">Stuttgart</span>
  <time datetime="2026-03-01T10:00:00"></time>
</article>
</body></html>`

const sampleArticleHTML = `
<html><body>
<h1 class="article-title">Raub in der Innenstadt</h1>
<div class="sender-info"><span class="name">Polizeipräsidium Stuttgart</span></div>
<time class="article-date" datetime="2026-03-01T10:05:00"></time>
<div class="article-text">
  <p>Am Sonntagabend kam es zu einem Raub.</p>
  <p>Die Polizei sucht Zeugen.</p>
</div>
</body></html>`

func TestPresseportalParseListingExtractsEntries(t *testing.T) {
	site := NewPresseportalSite("presseportal_bw", article.StateBadenWuerttemberg, "bw", "")
	entries, err := site.ParseListing(sampleListingHTML)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Raub in der Innenstadt", entries[0].Title)
	assert.Equal(t, "Stuttgart", entries[0].City)
	assert.Equal(t, "https://www.presseportal.de/blaulicht/bw/1234", entries[0].URL)
	assert.False(t, entries[0].Date.IsZero())
}

func TestPresseportalParseArticleJoinsParagraphs(t *testing.T) {
	site := NewPresseportalSite("presseportal_bw", article.StateBadenWuerttemberg, "bw", "")
	entry := scraper.ListingEntry{URL: "https://www.presseportal.de/blaulicht/bw/1234", Title: "fallback"}
	a, err := site.ParseArticle(sampleArticleHTML, entry)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "Raub in der Innenstadt", a.Title)
	assert.Contains(t, a.Body, "Die Polizei sucht Zeugen.")
	assert.Equal(t, "Polizeipräsidium Stuttgart", a.SourceAgency)
}

func TestPresseportalParseArticleReturnsNilOnEmptyBody(t *testing.T) {
	site := NewPresseportalSite("presseportal_bw", article.StateBadenWuerttemberg, "bw", "")
	a, err := site.ParseArticle(`<html><body><h1 class="article-title">x</h1></body></html>`, scraper.ListingEntry{URL: "u"})
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestAllReturnsSixteenSites(t *testing.T) {
	sites := All()
	assert.Len(t, sites, 16)

	seen := map[string]bool{}
	for _, s := range sites {
		assert.False(t, seen[s.Name()], "duplicate site name %s", s.Name())
		seen[s.Name()] = true
	}
}
