// Package enrich implements the LLM enrichment engine (spec §4.3): it packs
// articles into batches, fans them out under a semaphore, classifies and
// extracts structured incidents, geocodes locations, and caches results so
// a re-run never re-asks the model about an already-seen article.
package enrich

import "github.com/3leaps/blaulicht/pkg/article"

// Classification is the LLM's top-level verdict for one extracted object.
type Classification string

const (
	ClassCrime     Classification = "crime"
	ClassUpdate    Classification = "update"
	ClassJunk      Classification = "junk"
	ClassFeuerwehr Classification = "feuerwehr"
)

// TimePrecision is the confidence the model has in an extracted
// incident-time.
type TimePrecision string

const (
	TimeExact       TimePrecision = "exact"
	TimeApproximate TimePrecision = "approximate"
	TimeUnknown     TimePrecision = "unknown"
)

// Location is the raw location the model extracted, before (or after)
// geocoding fills Lat/Lon/Precision.
type Location struct {
	Street       string  `json:"street,omitempty"`
	HouseNumber  string  `json:"house_number,omitempty"`
	District     string  `json:"district,omitempty"`
	City         string  `json:"city,omitempty"`
	LocationHint string  `json:"location_hint,omitempty"`
	CrossStreet  string  `json:"cross_street,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
	Lat          float64 `json:"lat,omitempty"`
	Lon          float64 `json:"lon,omitempty"`
	Precision    string  `json:"precision,omitempty"`
	Bundesland   string  `json:"bundesland,omitempty"`
}

// IncidentTime is the model's extracted date/time with its precision.
type IncidentTime struct {
	Date      string        `json:"date,omitempty"`
	Time      string        `json:"time,omitempty"`
	Precision TimePrecision `json:"precision,omitempty"`
}

// Crime is the PKS classification of an incident.
type Crime struct {
	PKSCode     string  `json:"pks_code,omitempty"`
	PKSCategory string  `json:"pks_category,omitempty"`
	SubType     string  `json:"sub_type,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
}

// Person carries the model's extracted details about a victim or suspect.
type Person struct {
	Count       int    `json:"count,omitempty"`
	Age         int    `json:"age,omitempty"`
	Gender      string `json:"gender,omitempty"`
	Origin      string `json:"origin,omitempty"`
	Description string `json:"description,omitempty"`
}

// Details carries the remaining incident-specific extracted fields.
type Details struct {
	WeaponType              string  `json:"weapon_type,omitempty"`
	DrugType                string  `json:"drug_type,omitempty"`
	Victim                  Person  `json:"victim,omitempty"`
	Suspect                 Person  `json:"suspect,omitempty"`
	Severity                string  `json:"severity,omitempty"`
	Motive                  string  `json:"motive,omitempty"`
	DamageAmount            float64 `json:"damage_amount,omitempty"`
	DamageEstimatePrecision string  `json:"damage_estimate_precision,omitempty"`
}

// Incident is one fully extracted incident bound to its source article.
type Incident struct {
	ArticleIndex   int            `json:"article_index"`
	ArticleURL     string         `json:"-"`
	Classification Classification `json:"classification"`
	Reason         string         `json:"reason,omitempty"`
	CleanTitle     string         `json:"clean_title,omitempty"`
	Location       Location       `json:"location,omitempty"`
	IncidentTime   IncidentTime   `json:"incident_time,omitempty"`
	Crime          Crime          `json:"crime,omitempty"`
	Details        Details        `json:"details,omitempty"`
	IsUpdate       bool           `json:"is_update,omitempty"`
}

// Removed is an article the engine dropped instead of enriching, tagged
// with why (spec §4.3: "removed articles with a _removal_reason tag").
type Removed struct {
	Article article.Article
	Reason  string
}
