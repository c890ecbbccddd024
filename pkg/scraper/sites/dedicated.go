package sites

import (
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/3leaps/blaulicht/pkg/article"
	"github.com/3leaps/blaulicht/pkg/scraper"
)

// The five remaining states run their own portal software rather than
// mirroring to presseportal.de. Their markup differs in structural detail
// but the pattern (listing cards with a date + title + link, article body
// in a handful of paragraph blocks) repeats, so each dedicated site below
// is a thin goquery selector set over the shared Site contract.

// dedicatedSite is the common skeleton every standalone portal below
// configures with its own selectors and URL scheme.
type dedicatedSite struct {
	name          string
	state         article.State
	baseURL       string
	listingPath   string
	itemSel       string
	linkSel       string
	titleSel      string
	dateSel       string
	dateAttr      string
	dateLayout    string
	citySel       string
	articleTitle  string
	articleBody   string
	agencySel     string
}

func (s *dedicatedSite) Name() string         { return s.name }
func (s *dedicatedSite) State() article.State { return s.state }

func (s *dedicatedSite) ListingURL(page int) string {
	if page <= 1 {
		return s.baseURL + s.listingPath
	}
	sep := "?"
	if strings.Contains(s.listingPath, "?") {
		sep = "&"
	}
	return s.baseURL + s.listingPath + sep + "page=" + strconv.Itoa(page)
}

func (s *dedicatedSite) ParseListing(html string) ([]scraper.ListingEntry, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var entries []scraper.ListingEntry
	doc.Find(s.itemSel).Each(func(i int, sel *goquery.Selection) {
		link := sel.Find(s.linkSel).First()
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return
		}
		if !strings.HasPrefix(href, "http") {
			href = s.baseURL + href
		}

		title := strings.TrimSpace(sel.Find(s.titleSel).First().Text())
		if title == "" {
			title = strings.TrimSpace(link.Text())
		}
		city := ""
		if s.citySel != "" {
			city = strings.TrimSpace(sel.Find(s.citySel).First().Text())
		}

		var raw string
		if s.dateAttr != "" {
			raw, _ = sel.Find(s.dateSel).First().Attr(s.dateAttr)
		} else {
			raw = strings.TrimSpace(sel.Find(s.dateSel).First().Text())
		}
		date := parseDedicatedTime(raw, s.dateLayout)

		entries = append(entries, scraper.ListingEntry{URL: href, Title: title, City: city, Date: date})
	})
	return entries, nil
}

func (s *dedicatedSite) ParseArticle(html string, entry scraper.ListingEntry) (*article.Article, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(doc.Find(s.articleTitle).First().Text())
	if title == "" {
		title = entry.Title
	}

	var parts []string
	doc.Find(s.articleBody).Each(func(i int, sel *goquery.Selection) {
		t := strings.TrimSpace(sel.Text())
		if t != "" {
			parts = append(parts, t)
		}
	})
	body := strings.Join(parts, "\n\n")
	if body == "" {
		return nil, nil
	}

	agency := s.name
	if s.agencySel != "" {
		if a := strings.TrimSpace(doc.Find(s.agencySel).First().Text()); a != "" {
			agency = a
		}
	}

	return &article.Article{
		Title:        title,
		Body:         body,
		PublishedAt:  entry.Date,
		City:         entry.City,
		SourceAgency: agency,
		URL:          entry.URL,
	}, nil
}

func parseDedicatedTime(raw, layout string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if layout != "" {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	for _, l := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04", "02.01.2006, 15:04", "02.01.2006"} {
		if t, err := time.Parse(l, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

// NewBayernSite builds the Bavarian state police portal scraper.
func NewBayernSite() scraper.Site {
	return &dedicatedSite{
		name: "polizei_bayern", state: article.StateBayern,
		baseURL: "https://www.polizei.bayern.de", listingPath: "/presse/index.html",
		itemSel: "div.press-item", linkSel: "a.press-item__link", titleSel: "h3.press-item__title",
		dateSel: "time.press-item__date", dateAttr: "datetime",
		citySel: "span.press-item__location",
		articleTitle: "h1.press-detail__title", articleBody: "div.press-detail__text p",
		agencySel: "span.press-detail__sender",
	}
}

// NewBerlinSite builds the Berlin state police portal scraper.
func NewBerlinSite() scraper.Site {
	return &dedicatedSite{
		name: "polizei_berlin", state: article.StateBerlin,
		baseURL: "https://www.berlin.de", listingPath: "/polizei/polizeimeldungen/",
		itemSel: "div.pressemitteilung", linkSel: "a.teaserlist__link", titleSel: "h3.teaserlist__title",
		dateSel: "span.teaserlist__date", dateLayout: "02.01.2006",
		articleTitle: "h1.article__title", articleBody: "div.textile p",
		agencySel: "",
	}
}

// NewNiedersachsenSite builds the Lower Saxony state police portal scraper.
func NewNiedersachsenSite() scraper.Site {
	return &dedicatedSite{
		name: "polizei_niedersachsen", state: article.StateNiedersachsen,
		baseURL: "https://www.polizei-niedersachsen.de", listingPath: "/portal/presse",
		itemSel: "li.press-release", linkSel: "a", titleSel: "span.title",
		dateSel: "span.date", dateLayout: "02.01.2006",
		citySel: "span.location",
		articleTitle: "h1", articleBody: "div.content-text p",
		agencySel: "span.author",
	}
}

// NewNRWSite builds the North Rhine-Westphalia state police portal scraper.
func NewNRWSite() scraper.Site {
	return &dedicatedSite{
		name: "polizei_nrw", state: article.StateNordrheinWestfalen,
		baseURL: "https://www.polizei.nrw", listingPath: "/presse",
		itemSel: "article.node--press", linkSel: "a", titleSel: "h2",
		dateSel: "time", dateAttr: "datetime",
		citySel: "span.field--name-field-city",
		articleTitle: "h1.page-title", articleBody: "div.field--name-body p",
		agencySel: "div.field--name-field-sender",
	}
}

// NewSachsenSite builds the Saxony state police portal scraper.
func NewSachsenSite() scraper.Site {
	return &dedicatedSite{
		name: "polizei_sachsen", state: article.StateSachsen,
		baseURL: "https://www.polizei.sachsen.de", listingPath: "/presse.html",
		itemSel: "div.result-item", linkSel: "a.result-link", titleSel: "div.result-title",
		dateSel: "div.result-date", dateLayout: "02.01.2006",
		citySel: "div.result-city",
		articleTitle: "h1.content-title", articleBody: "div.content-body p",
		agencySel: "div.content-sender",
	}
}

// AllDedicatedSites returns the five standalone-portal scrapers.
func AllDedicatedSites() []scraper.Site {
	return []scraper.Site{
		NewBayernSite(),
		NewBerlinSite(),
		NewNiedersachsenSite(),
		NewNRWSite(),
		NewSachsenSite(),
	}
}
