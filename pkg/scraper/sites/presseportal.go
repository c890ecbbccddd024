// Package sites holds the per-portal Site implementations. Most German
// police press releases are mirrored on presseportal.de under a
// per-Land "ressort" path, so presseportal.go implements the shared
// parsing logic once; state-specific files in this package configure it
// with their own ressort slug and Bundesland tag. A handful of states run
// their own portal software and get a dedicated ParseListing/ParseArticle.
package sites

import (
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/3leaps/blaulicht/pkg/article"
	"github.com/3leaps/blaulicht/pkg/scraper"
)

// PresseportalSite drives the presseportal.de listing/article markup for
// one Land's ressort.
type PresseportalSite struct {
	name       string
	state      article.State
	ressort    string
	baseURL    string
}

// NewPresseportalSite builds a Site for one Land's presseportal ressort.
// baseURL defaults to "https://www.presseportal.de" when empty.
func NewPresseportalSite(name string, state article.State, ressort, baseURL string) *PresseportalSite {
	if baseURL == "" {
		baseURL = "https://www.presseportal.de"
	}
	return &PresseportalSite{name: name, state: state, ressort: ressort, baseURL: baseURL}
}

func (s *PresseportalSite) Name() string        { return s.name }
func (s *PresseportalSite) State() article.State { return s.state }

func (s *PresseportalSite) ListingURL(page int) string {
	if page <= 1 {
		return s.baseURL + "/blaulicht/" + s.ressort
	}
	return s.baseURL + "/blaulicht/" + s.ressort + "/" + strconv.Itoa(page)
}

func (s *PresseportalSite) ParseListing(html string) ([]scraper.ListingEntry, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var entries []scraper.ListingEntry
	doc.Find("article.news").Each(func(i int, sel *goquery.Selection) {
		link := sel.Find("a.release-link").First()
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return
		}
		if !strings.HasPrefix(href, "http") {
			href = s.baseURL + href
		}

		title := strings.TrimSpace(link.Text())
		city := strings.TrimSpace(sel.Find(".city").First().Text())
		dateAttr, _ := sel.Find("time").Attr("datetime")
		date := parsePresseportalTime(dateAttr)

		entries = append(entries, scraper.ListingEntry{
			URL:   href,
			Title: title,
			City:  city,
			Date:  date,
		})
	})
	return entries, nil
}

func (s *PresseportalSite) ParseArticle(html string, entry scraper.ListingEntry) (*article.Article, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(doc.Find("h1.article-title").First().Text())
	if title == "" {
		title = entry.Title
	}

	var bodyParts []string
	doc.Find("div.article-text p").Each(func(i int, sel *goquery.Selection) {
		t := strings.TrimSpace(sel.Text())
		if t != "" {
			bodyParts = append(bodyParts, t)
		}
	})
	body := strings.Join(bodyParts, "\n\n")
	if body == "" {
		// Page may be a stub or redirect; nothing worth enriching.
		return nil, nil
	}

	agency := strings.TrimSpace(doc.Find("div.sender-info .name").First().Text())
	if agency == "" {
		agency = s.name
	}

	publishedAt := entry.Date
	if raw, ok := doc.Find("time.article-date").Attr("datetime"); ok {
		if t := parsePresseportalTime(raw); !t.IsZero() {
			publishedAt = t
		}
	}

	return &article.Article{
		Title:        title,
		Body:         body,
		PublishedAt:  publishedAt,
		City:         entry.City,
		SourceAgency: agency,
		URL:          entry.URL,
	}, nil
}

func parsePresseportalTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

