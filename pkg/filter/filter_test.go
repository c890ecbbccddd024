package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/3leaps/blaulicht/pkg/article"
)

func TestApplyDropsFeuerwehr(t *testing.T) {
	a := article.Article{Title: "FW-Bremerhaven: Kleinbrand gelöscht", SourceAgency: "Feuerwehr Bremerhaven"}
	kept, removed := Apply([]article.Article{a})
	assert.Empty(t, kept)
	assert.Equal(t, "feuerwehr_source", removed[0].Reason)
}

func TestApplyDropsJunkTitleEvent(t *testing.T) {
	a := article.Article{Title: "POL-HH: Demo-Abschlussmeldung", Body: "Die Versammlung verlief friedlich."}
	kept, removed := Apply([]article.Article{a})
	assert.Empty(t, kept)
	assert.Contains(t, removed[0].Reason, "junk_title")
}

func TestApplyKeepsCrimeArticle(t *testing.T) {
	a := article.Article{
		Title: "POL-F: Raubüberfall in der Innenstadt",
		Body:  "In der Hauptstraße 12 in Frankfurt (Main) gegen 23:15 Uhr kam es zu einem Überfall.",
	}
	kept, removed := Apply([]article.Article{a})
	assert.Len(t, kept, 1)
	assert.Empty(t, removed)
}

func TestMissingPersonConservativeRule(t *testing.T) {
	// Bare missing-person notice: dropped.
	a := article.Article{Title: "Vermisstenfahndung: Wer kennt diese Person?"}
	kept, removed := Apply([]article.Article{a})
	assert.Empty(t, kept)
	assert.Contains(t, removed[0].Reason, "missing_person")

	// Missing-person language alongside crime context: kept.
	b := article.Article{Title: "Vermisst nach Straftat: Zeugen gesucht", Body: "Ein Tatverdächtiger wird gesucht."}
	kept2, removed2 := Apply([]article.Article{b})
	assert.Len(t, kept2, 1)
	assert.Empty(t, removed2)
}

func TestTokenizeLowercasesAndDropsStopwords(t *testing.T) {
	toks := Tokenize("Der Überfall auf die Bank in München")
	assert.NotContains(t, toks, "der")
	assert.NotContains(t, toks, "die")
	assert.Contains(t, toks, "überfall")
	assert.Contains(t, toks, "münchen")
}

func TestJaccardSimilarityIdenticalIsOne(t *testing.T) {
	sim := JaccardSimilarity("Raubüberfall in der Innenstadt", "Raubüberfall in der Innenstadt")
	assert.Equal(t, 1.0, sim)
}

func TestJaccardSimilarityDisjointIsZero(t *testing.T) {
	sim := JaccardSimilarity("Verkehrsunfall auf der Autobahn", "Einbruch in Juweliergeschäft")
	assert.Equal(t, 0.0, sim)
}

func TestStripTitleSuffixRemovesPMSerial(t *testing.T) {
	assert.Equal(t, "Einbruch in Juweliergeschäft", StripTitleSuffix("Einbruch in Juweliergeschäft - PM Nr. 123"))
}

func TestHasFollowUpMarker(t *testing.T) {
	assert.True(t, HasFollowUpMarker("Nachtrag: Raubüberfall in der Innenstadt"))
	assert.False(t, HasFollowUpMarker("Raubüberfall in der Innenstadt"))
}

func TestGroupDeterministicTitleSuffixLinksUpdates(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a1 := article.Article{URL: "u1", SourceAgency: "POL-F", Title: "Raubüberfall - PM Nr. 1", PublishedAt: t0}
	a2 := article.Article{URL: "u2", SourceAgency: "POL-F", Title: "Raubüberfall - PM Nr. 2", PublishedAt: t0.Add(time.Hour)}

	grouped := Group([]article.Article{a1, a2})
	assert.Equal(t, RolePrimary, grouped[0].Role)
	assert.Equal(t, RoleUpdate, grouped[1].Role)
	assert.Equal(t, grouped[0].GroupID, grouped[1].GroupID)
}

func TestGroupNachtragLinksToParent(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	parent := article.Article{URL: "u1", SourceAgency: "POL-F", Title: "Raubüberfall in der Innenstadt", PublishedAt: t0}
	followup := article.Article{URL: "u2", SourceAgency: "POL-F", Title: "Nachtrag: Raubüberfall in der Innenstadt", PublishedAt: t0.Add(2 * time.Hour)}

	grouped := Group([]article.Article{parent, followup})
	assert.Equal(t, RolePrimary, grouped[0].Role)
	assert.Equal(t, RoleFollowUp, grouped[1].Role)
	assert.Equal(t, grouped[0].GroupID, grouped[1].GroupID)
}

func TestGroupSoloFallbackAssignsUniqueGroup(t *testing.T) {
	a1 := article.Article{URL: "u1", Title: "Unfall auf der B3", PublishedAt: time.Now()}
	a2 := article.Article{URL: "u2", Title: "Brand in Lagerhalle", PublishedAt: time.Now()}

	grouped := Group([]article.Article{a1, a2})
	assert.Equal(t, RolePrimary, grouped[0].Role)
	assert.Equal(t, RolePrimary, grouped[1].Role)
	assert.NotEqual(t, grouped[0].GroupID, grouped[1].GroupID)
}

func TestGroupIsDeterministicAcrossRuns(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	articles := []article.Article{
		{URL: "u1", SourceAgency: "POL-F", Title: "Raub - PM Nr. 1", PublishedAt: t0},
		{URL: "u2", SourceAgency: "POL-F", Title: "Raub - PM Nr. 2", PublishedAt: t0.Add(time.Hour)},
		{URL: "u3", Title: "Unabhängiger Vorfall", PublishedAt: t0},
	}
	g1 := Group(articles)
	g2 := Group(articles)
	for i := range g1 {
		assert.Equal(t, g1[i].GroupID, g2[i].GroupID)
		assert.Equal(t, g1[i].Role, g2[i].Role)
	}
}
