// Package scraper implements the shared framework contract every
// site-specific scraper is built on: a semaphore-bounded async fetcher, a
// persistent URL cache, and a discovery -> parse -> emit pipeline with
// pagination and date-range filtering (spec §4.1).
package scraper

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	blerrors "github.com/3leaps/blaulicht/internal/errors"
	"github.com/3leaps/blaulicht/pkg/article"
	"github.com/3leaps/blaulicht/pkg/atomiccache"
	"github.com/3leaps/blaulicht/pkg/httpx"
	"github.com/3leaps/blaulicht/pkg/shutdown"
)

// ListingEntry is one row a site's listing parser extracts: enough to
// decide whether to fetch the article page, plus optional hints carried
// through to the final Article.
type ListingEntry struct {
	URL   string
	Title string
	Date  time.Time
	City  string
	Hints map[string]string
}

// Site is the pure, per-portal plug-in contract (spec §4.1): two stateless
// functions over already-fetched HTML.
type Site interface {
	// Name identifies the site for logging and cache/file naming.
	Name() string
	// State is the Bundesland this site's articles are tagged with.
	State() article.State
	// ListingURL returns the URL for page n (1-based) of the listing.
	ListingURL(page int) string
	// ParseListing extracts entries from one listing page's HTML.
	ParseListing(html string) ([]ListingEntry, error)
	// ParseArticle extracts the full article from one article page's HTML.
	// A nil Article with a nil error means "skip silently" (e.g. a
	// malformed or irrelevant page).
	ParseArticle(html string, entry ListingEntry) (*article.Article, error)
}

var feuerwehrSourcePattern = regexp.MustCompile(`(?i)\bFW[-\s]|Feuerwehr`)

// Config controls fetcher concurrency, retry, and stop conditions.
type Config struct {
	FetchConcurrency   int
	MaxRetries         int
	MaxBackoff         time.Duration
	MaxEmptyPages      int // consecutive empty/failed listing pages before halting discovery
	URLCacheDir        string
}

// DefaultConfig mirrors internal/config's scraper-relevant defaults.
func DefaultConfig() Config {
	return Config{FetchConcurrency: 16, MaxRetries: 5, MaxBackoff: 60 * time.Second, MaxEmptyPages: 3, URLCacheDir: "./cache"}
}

// Meta is the scrape run's sidecar summary (spec §4.1, §6: ".meta.json").
type Meta struct {
	Source         string    `json:"source"`
	ArticlesFound  int       `json:"articles_found"`
	PagesFetched   int       `json:"pages_fetched"`
	Errors         int       `json:"errors"`
	FeuerwehrDropped int     `json:"feuerwehr_dropped"`
	StopReason     string    `json:"stop_reason"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Scraper drives one Site through discovery, parse, and emit, with a
// persistent seen-URL cache and a bounded fetcher.
type Scraper struct {
	site   Site
	http   *httpx.Client
	cache  *atomiccache.Cache[string] // url -> ISO timestamp scraped
	cfg    Config
	logger *zap.Logger

	sem *semaphore.Weighted

	successCount atomic.Int64
	errorCount   atomic.Int64
	retryCount   atomic.Int64
	feuerwehrDropped atomic.Int64
}

// New opens (or creates) the site's URL cache and builds a Scraper.
func New(site Site, cfg Config, hc *httpx.Client, logger *zap.Logger) (*Scraper, error) {
	path := cfg.URLCacheDir + "/scraped_urls_" + site.Name() + ".json"
	cache, err := atomiccache.Open[string](path)
	if err != nil {
		return nil, blerrors.Wrap(blerrors.KindDisk, "scraper.New", "open url cache for %s: %w", site.Name(), err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		site:   site,
		http:   hc,
		cache:  cache,
		cfg:    cfg,
		logger: logger.Named("scraper").Named(site.Name()),
		sem:    semaphore.NewWeighted(int64(max1(cfg.FetchConcurrency))),
	}, nil
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// Run fetches and parses articles in [start, end], stopping early once a
// newest-first listing page is entirely older than start, or after
// MaxEmptyPages consecutive empty/failed pages (spec §4.1). On SIGINT the
// caller is responsible for cancelling ctx; Run flushes the URL cache
// before returning in every case, including error.
func (s *Scraper) Run(ctx context.Context, token *shutdown.Token, start, end time.Time) ([]article.Article, Meta, error) {
	meta := Meta{Source: s.site.Name(), StartedAt: time.Now().UTC()}
	defer func() {
		meta.CompletedAt = time.Now().UTC()
		meta.Errors = int(s.errorCount.Load())
		meta.FeuerwehrDropped = int(s.feuerwehrDropped.Load())
		_ = s.cache.Flush(true)
	}()

	var articles []article.Article
	var mu sync.Mutex

	emptyStreak := 0
	page := 1
	for {
		if token != nil && token.Triggered() {
			meta.StopReason = "shutdown"
			break
		}
		if ctx.Err() != nil {
			meta.StopReason = "cancelled"
			break
		}

		entries, err := s.fetchListing(ctx, page)
		meta.PagesFetched++
		if err != nil {
			s.errorCount.Add(1)
			emptyStreak++
			if emptyStreak >= s.cfg.MaxEmptyPages {
				meta.StopReason = "max_empty_pages"
				break
			}
			page++
			continue
		}

		if len(entries) == 0 {
			emptyStreak++
			if emptyStreak >= s.cfg.MaxEmptyPages {
				meta.StopReason = "max_empty_pages"
				break
			}
			page++
			continue
		}
		emptyStreak = 0

		// A listing is sorted newest-first; once every entry on a page
		// predates the window start, nothing on a later page can be newer.
		allBeforeStart := true
		var wg sync.WaitGroup
		for _, entry := range entries {
			if !entry.Date.IsZero() {
				if !entry.Date.Before(start) {
					allBeforeStart = false
				}
				if entry.Date.Before(start) || entry.Date.After(end) {
					continue
				}
			} else {
				allBeforeStart = false
			}

			if _, seen := s.cache.Get(entry.URL); seen {
				continue
			}
			if feuerwehrSourcePattern.MatchString(entry.Title) {
				s.feuerwehrDropped.Add(1)
				continue
			}

			if err := s.sem.Acquire(ctx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func(e ListingEntry) {
				defer wg.Done()
				defer s.sem.Release(1)

				a, err := s.fetchArticle(ctx, e)
				if err != nil {
					s.errorCount.Add(1)
					return
				}
				if a == nil {
					return
				}

				mu.Lock()
				articles = append(articles, *a)
				mu.Unlock()

				s.cache.Set(e.URL, time.Now().UTC().Format(time.RFC3339))
				s.successCount.Add(1)
			}(entry)
		}
		wg.Wait()

		if allBeforeStart {
			meta.StopReason = "before_start_date"
			break
		}

		page++
	}

	meta.ArticlesFound = len(articles)
	return articles, meta, nil
}

func (s *Scraper) fetchListing(ctx context.Context, page int) ([]ListingEntry, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	resp, err := s.http.Get(ctx, s.site.ListingURL(page), nil)
	if err != nil {
		return nil, err
	}
	body, err := httpx.ReadAndClose(resp)
	if err != nil {
		return nil, err
	}
	return s.site.ParseListing(string(body))
}

func (s *Scraper) fetchArticle(ctx context.Context, entry ListingEntry) (*article.Article, error) {
	resp, err := s.http.Get(ctx, entry.URL, nil)
	if err != nil {
		return nil, err
	}
	body, err := httpx.ReadAndClose(resp)
	if err != nil {
		return nil, err
	}
	a, err := s.site.ParseArticle(string(body), entry)
	if err != nil {
		return nil, blerrors.Wrap(blerrors.KindParse, "scraper.fetchArticle", "parse %s: %w", entry.URL, err)
	}
	if a != nil {
		a.State = s.site.State()
	}
	return a, nil
}

// Stats returns the fetcher's running counters.
func (s *Scraper) Stats() (success, errs, retries int64) {
	return s.successCount.Load(), s.errorCount.Load(), s.retryCount.Load()
}
