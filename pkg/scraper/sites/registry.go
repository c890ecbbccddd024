package sites

import "github.com/3leaps/blaulicht/pkg/scraper"

// All returns the full set of 16 state scrapers: eleven presseportal
// ressorts plus the five dedicated portals.
func All() []scraper.Site {
	sites := make([]scraper.Site, 0, 16)
	for _, s := range NewPresseportalSites() {
		sites = append(sites, s)
	}
	sites = append(sites, AllDedicatedSites()...)
	return sites
}
