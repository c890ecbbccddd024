// Package record transforms an enriched incident into the normalized
// Record schema persisted to the external store (spec §4.5, §3).
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/blaulicht/pkg/enrich"
	"github.com/3leaps/blaulicht/pkg/filter"
)

// Record is the normalized schema persisted to the external store.
type Record struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	CleanTitle      string    `json:"clean_title"`
	Summary         string    `json:"summary"`
	Body            string    `json:"body"`
	PublishedAt     time.Time `json:"published_at"`
	SourceURL       string    `json:"source_url"`
	SourceAgency    string    `json:"source_agency"`
	LocationText    string    `json:"location_text"`
	Latitude        *float64  `json:"latitude,omitempty"`
	Longitude       *float64  `json:"longitude,omitempty"`
	Precision       string    `json:"precision"`
	Categories      []string  `json:"categories"`
	WeaponType      *string   `json:"weapon_type,omitempty"`
	Confidence      float64   `json:"confidence"`
	IncidentDate    string    `json:"incident_date,omitempty"`
	IncidentTime    string    `json:"incident_time,omitempty"`
	IncidentPrec    string    `json:"incident_time_precision"`
	IncidentEndDate string    `json:"incident_end_date,omitempty"`
	IncidentEndTime string    `json:"incident_end_time,omitempty"`

	PKSCode    string `json:"pks_code,omitempty"`
	PKSSubType string `json:"pks_sub_type,omitempty"`

	VictimCount  *int    `json:"victim_count,omitempty"`
	VictimAge    *int    `json:"victim_age,omitempty"`
	VictimGender *string `json:"victim_gender,omitempty"`
	VictimOrigin *string `json:"victim_origin,omitempty"`

	SuspectCount  *int    `json:"suspect_count,omitempty"`
	SuspectAge    *int    `json:"suspect_age,omitempty"`
	SuspectGender *string `json:"suspect_gender,omitempty"`
	SuspectOrigin *string `json:"suspect_origin,omitempty"`

	Severity            *string  `json:"severity,omitempty"`
	Motive              *string  `json:"motive,omitempty"`
	DamageAmount        *float64 `json:"damage_amount,omitempty"`
	DamagePrecision     *string  `json:"damage_precision,omitempty"`

	IncidentGroupID string `json:"incident_group_id"`
	GroupRole       string `json:"group_role"`
	PipelineRun     string `json:"pipeline_run"`
	Classification  string `json:"classification"`
}

// allowedWeaponTypes, allowedSeverities and allowedMotives are the fixed
// enum domains enumerated values are normalized against; out-of-set input
// becomes null rather than being dropped (spec §4.5).
var allowedWeaponTypes = set("knife", "firearm", "blunt_object", "none", "unknown")
var allowedSeverities = set("minor", "moderate", "severe", "fatal", "unknown")
var allowedMotives = set("personal", "financial", "political", "jealousy", "unknown")
var allowedGenders = set("male", "female", "unknown")
var allowedDamagePrecisions = set("exact", "estimated", "unknown")

func set(vals ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		m[v] = struct{}{}
	}
	return m
}

// pksCategory maps a 4-digit PKS code to a domain category tag, falling
// back to a coarse German-category prefix match, then "other" (spec §4.5).
var pksCategory = map[string]string{
	"2200": "robbery",
	"2100": "murder_manslaughter",
	"4350": "assault",
	"4000": "theft",
	"6200": "fraud",
	"1110": "sexual_assault",
}

var pksCategoryPrefix = map[string]string{
	"22": "robbery",
	"21": "murder_manslaughter",
	"43": "assault",
	"40": "theft",
	"62": "fraud",
	"11": "sexual_assault",
}

func mapPKSCategory(code string) string {
	if cat, ok := pksCategory[code]; ok {
		return cat
	}
	if len(code) >= 2 {
		if cat, ok := pksCategoryPrefix[code[:2]]; ok {
			return cat
		}
	}
	return "other"
}

// DeterministicID computes the record ID (spec §3): truncated SHA-256 of
// url:published-at:location-text:pks-code:pipeline-run.
func DeterministicID(url string, publishedAt time.Time, locationText, pksCode, pipelineRun string) string {
	key := fmt.Sprintf("%s:%s:%s:%s:%s", url, publishedAt.UTC().Format(time.RFC3339), locationText, pksCode, pipelineRun)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:24]
}

func normalizeEnum(value string, allowed map[string]struct{}) *string {
	if value == "" {
		return nil
	}
	if _, ok := allowed[strings.ToLower(value)]; !ok {
		return nil
	}
	v := strings.ToLower(value)
	return &v
}

func nonNegativeInt(v int) *int {
	if v < 0 {
		return nil
	}
	return &v
}

// sanitizeTime fills a missing time with 00:00:00 and replaces a literal
// "unknown" with 00:00 (spec §4.5).
func sanitizeTime(t string) string {
	if t == "" || strings.EqualFold(t, "unknown") {
		return "00:00:00"
	}
	return t
}

// Transform converts one enrichment incident into a normalized Record,
// given its source article context, geocoded location, grouping
// assignment, and the pipeline-run tag.
func Transform(e enrich.Incident, g filter.Grouped, pipelineRun string) Record {
	locationText := buildLocationText(e)

	rec := Record{
		Title:           g.Article.Title,
		CleanTitle:      e.CleanTitle,
		Summary:         e.CleanTitle,
		Body:            g.Article.Body,
		PublishedAt:     g.Article.PublishedAt,
		SourceURL:       g.Article.URL,
		SourceAgency:    g.Article.SourceAgency,
		LocationText:    locationText,
		Precision:       e.Location.Precision,
		Categories:      []string{mapPKSCategory(e.Crime.PKSCode)},
		Confidence:      e.Crime.Confidence,
		IncidentDate:    e.IncidentTime.Date,
		IncidentTime:    sanitizeTime(e.IncidentTime.Time),
		IncidentPrec:    string(e.IncidentTime.Precision),
		PKSCode:         e.Crime.PKSCode,
		PKSSubType:      e.Crime.SubType,
		VictimCount:     nonNegativeInt(e.Details.Victim.Count),
		VictimAge:       nonNegativeInt(e.Details.Victim.Age),
		VictimGender:    normalizeEnum(e.Details.Victim.Gender, allowedGenders),
		VictimOrigin:    nonZeroString(e.Details.Victim.Origin),
		SuspectCount:    nonNegativeInt(e.Details.Suspect.Count),
		SuspectAge:      nonNegativeInt(e.Details.Suspect.Age),
		SuspectGender:   normalizeEnum(e.Details.Suspect.Gender, allowedGenders),
		SuspectOrigin:   nonZeroString(e.Details.Suspect.Origin),
		Severity:        normalizeEnum(e.Details.Severity, allowedSeverities),
		Motive:          normalizeEnum(e.Details.Motive, allowedMotives),
		DamagePrecision: normalizeEnum(e.Details.DamageEstimatePrecision, allowedDamagePrecisions),
		IncidentGroupID: g.GroupID,
		GroupRole:       string(g.Role),
		PipelineRun:     pipelineRun,
		Classification:  string(e.Classification),
	}

	if weapon := normalizeEnum(e.Details.WeaponType, allowedWeaponTypes); weapon != nil {
		rec.WeaponType = weapon
	}
	if e.Details.DamageAmount >= 0 {
		amt := e.Details.DamageAmount
		rec.DamageAmount = &amt
	}
	if (e.Location.Lat != 0 || e.Location.Lon != 0) && e.Location.Precision != "outside_germany" {
		lat, lon := e.Location.Lat, e.Location.Lon
		rec.Latitude = &lat
		rec.Longitude = &lon
	}

	rec.ID = DeterministicID(rec.SourceURL, rec.PublishedAt, rec.LocationText, rec.PKSCode, pipelineRun)
	return rec
}

func nonZeroString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func buildLocationText(e enrich.Incident) string {
	parts := []string{}
	if e.Location.Street != "" {
		parts = append(parts, strings.TrimSpace(e.Location.Street+" "+e.Location.HouseNumber))
	}
	if e.Location.District != "" {
		parts = append(parts, e.Location.District)
	}
	if e.Location.City != "" {
		parts = append(parts, e.Location.City)
	}
	return strings.Join(parts, ", ")
}

// Dedup removes records whose deterministic ID repeats within a batch
// (defensive: multi-incident splits can rarely collide), keeping the first
// occurrence.
func Dedup(records []Record) []Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}
