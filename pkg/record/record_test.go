package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/blaulicht/pkg/article"
	"github.com/3leaps/blaulicht/pkg/enrich"
	"github.com/3leaps/blaulicht/pkg/filter"
)

func baseIncident() enrich.Incident {
	return enrich.Incident{
		Classification: enrich.ClassCrime,
		CleanTitle:     "Raubueberfall in der Innenstadt",
		Location: enrich.Location{
			Street: "Hauptstrasse",
			City:   "Frankfurt am Main",
			Lat:    50.11,
			Lon:    8.68,
		},
		IncidentTime: enrich.IncidentTime{Date: "2026-03-01", Time: "23:15", Precision: enrich.TimeExact},
		Crime:        enrich.Crime{PKSCode: "2200"},
		Details: enrich.Details{
			WeaponType: "knife",
			Victim:     enrich.Person{Count: 1, Age: 34, Gender: "male"},
			Suspect:    enrich.Person{Count: 2, Gender: "unknown"},
			Severity:   "moderate",
			Motive:     "financial",
		},
	}
}

func baseGrouped() filter.Grouped {
	return filter.Grouped{
		Article: article.Article{
			Title:        "Raub in Frankfurt",
			Body:         "Es kam zu einem Raubueberfall.",
			PublishedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			SourceAgency: "Polizei Frankfurt",
			URL:          "https://example.org/a1",
		},
		GroupID: "grp-1",
		Role:    filter.RolePrimary,
	}
}

func TestTransformMapsPKSCodeToCategory(t *testing.T) {
	rec := Transform(baseIncident(), baseGrouped(), "run-1")

	assert.Equal(t, []string{"robbery"}, rec.Categories)
	assert.Equal(t, "2200", rec.PKSCode)
}

func TestTransformFallsBackToPrefixThenOther(t *testing.T) {
	inc := baseIncident()
	inc.Crime.PKSCode = "4399" // no exact match, "43" prefix matches assault
	rec := Transform(inc, baseGrouped(), "run-1")
	assert.Equal(t, []string{"assault"}, rec.Categories)

	inc.Crime.PKSCode = "9999"
	rec = Transform(inc, baseGrouped(), "run-1")
	assert.Equal(t, []string{"other"}, rec.Categories)
}

func TestTransformNormalizesEnumsRejectingOutOfSetValues(t *testing.T) {
	inc := baseIncident()
	inc.Details.Severity = "catastrophic" // not in allowedSeverities
	inc.Details.Motive = "revenge"        // not in allowedMotives
	inc.Details.WeaponType = "nunchaku"   // not in allowedWeaponTypes

	rec := Transform(inc, baseGrouped(), "run-1")

	assert.Nil(t, rec.Severity)
	assert.Nil(t, rec.Motive)
	assert.Nil(t, rec.WeaponType)
}

func TestTransformKeepsAllowedEnumValuesLowercased(t *testing.T) {
	inc := baseIncident()
	inc.Details.Severity = "MODERATE"

	rec := Transform(inc, baseGrouped(), "run-1")

	require.NotNil(t, rec.Severity)
	assert.Equal(t, "moderate", *rec.Severity)
}

func TestTransformSanitizesUnknownIncidentTime(t *testing.T) {
	inc := baseIncident()
	inc.IncidentTime.Time = "unknown"

	rec := Transform(inc, baseGrouped(), "run-1")

	assert.Equal(t, "00:00:00", rec.IncidentTime)
}

func TestTransformNullsCoordinatesWhenOutsideGermany(t *testing.T) {
	inc := baseIncident()
	inc.Location.Precision = "outside_germany"
	inc.Location.Lat = 47.37
	inc.Location.Lon = 8.54
	inc.Location.City = "Zuerich"

	rec := Transform(inc, baseGrouped(), "run-1")

	assert.Nil(t, rec.Latitude)
	assert.Nil(t, rec.Longitude)
	assert.Equal(t, "outside_germany", rec.Precision)
	assert.Contains(t, rec.LocationText, "Zuerich")
}

func TestTransformKeepsCoordinatesForPreciseMatch(t *testing.T) {
	inc := baseIncident()
	inc.Location.Precision = "rooftop"

	rec := Transform(inc, baseGrouped(), "run-1")

	require.NotNil(t, rec.Latitude)
	require.NotNil(t, rec.Longitude)
	assert.Equal(t, 50.11, *rec.Latitude)
	assert.Equal(t, 8.68, *rec.Longitude)
}

func TestTransformIsDeterministicAcrossRepeatedCalls(t *testing.T) {
	inc := baseIncident()
	g := baseGrouped()

	r1 := Transform(inc, g, "run-1")
	r2 := Transform(inc, g, "run-1")

	assert.Equal(t, r1.ID, r2.ID)
	assert.NotEmpty(t, r1.ID)
}

func TestTransformIDChangesWithPipelineRun(t *testing.T) {
	inc := baseIncident()
	g := baseGrouped()

	r1 := Transform(inc, g, "run-1")
	r2 := Transform(inc, g, "run-2")

	assert.NotEqual(t, r1.ID, r2.ID)
}

func TestDedupKeepsFirstOccurrence(t *testing.T) {
	inc := baseIncident()
	g := baseGrouped()
	r := Transform(inc, g, "run-1")

	dup := r
	dup.Body = "a different body but same deterministic key"

	out := Dedup([]Record{r, dup})

	require.Len(t, out, 1)
	assert.Equal(t, r.Body, out[0].Body)
}

func TestDedupKeepsDistinctRecords(t *testing.T) {
	g := baseGrouped()
	r1 := Transform(baseIncident(), g, "run-1")

	g2 := baseGrouped()
	g2.Article.URL = "https://example.org/a2"
	r2 := Transform(baseIncident(), g2, "run-1")

	out := Dedup([]Record{r1, r2})
	assert.Len(t, out, 2)
}
