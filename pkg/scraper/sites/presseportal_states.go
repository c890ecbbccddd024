package sites

import "github.com/3leaps/blaulicht/pkg/article"

// presseportalRessorts maps the eleven states whose police press work is
// mirrored on presseportal.de to their ressort slug.
var presseportalRessorts = map[article.State]string{
	article.StateBadenWuerttemberg: "bw",
	article.StateBrandenburg:       "bb",
	article.StateBremen:            "hb",
	article.StateHamburg:           "hh",
	article.StateHessen:            "he",
	article.StateMecklenburgVorpom: "mv",
	article.StateRheinlandPfalz:    "rp",
	article.StateSaarland:          "sl",
	article.StateSachsenAnhalt:     "st",
	article.StateSchleswigHolstein: "sh",
	article.StateThueringen:        "th",
}

// NewPresseportalSites builds one PresseportalSite per ressort-backed
// state, named "presseportal_<ressort>"; that name is the scraper's
// Name() and cache-file suffix.
func NewPresseportalSites() []*PresseportalSite {
	sites := make([]*PresseportalSite, 0, len(presseportalRessorts))
	for state, ressort := range presseportalRessorts {
		sites = append(sites, NewPresseportalSite("presseportal_"+ressort, state, ressort, ""))
	}
	return sites
}
