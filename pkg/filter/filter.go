// Package filter implements the cheap, rule-based junk removal pass and the
// three-tier incident grouping that runs before any article reaches the LLM
// (spec §4.2).
package filter

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/3leaps/blaulicht/pkg/article"
)

// Removal carries a dropped article and the rule that dropped it.
type Removal struct {
	Article article.Article
	Reason  string
}

var feuerwehrPattern = regexp.MustCompile(`(?i)\bFW[-\s]|Feuerwehr`)

// junkTitlePatterns are rule-based title rejections: traffic advisories,
// statistics roundups, speed-trap announcements, career days, events.
var junkTitlePatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"traffic_advisory", regexp.MustCompile(`(?i)Verkehrsbehinderung|Verkehrshinweis|Straßensperrung`)},
	{"statistics_summary", regexp.MustCompile(`(?i)Jahresbilanz|Bilanz \d{4}|Statistik`)},
	{"speed_trap", regexp.MustCompile(`(?i)Geschwindigkeitsmessung|Blitzer|Tempokontrolle`)},
	{"career_day", regexp.MustCompile(`(?i)Berufsinfotag|Tag der offenen Tür|Einstellungstest`)},
	{"event_notice", regexp.MustCompile(`(?i)Veranstaltungshinweis|Demo-?Abschlussmeldung|Versammlung`)},
}

var junkBodyPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"missing_person_resolved", regexp.MustCompile(`(?i)Fahndung.{0,40}(aufgehoben|zurückgezogen|beendet)`)},
	{"press_office_hours", regexp.MustCompile(`(?i)Pressestelle.{0,40}(erreichbar|Sprechzeiten)`)},
}

var missingPersonLexeme = regexp.MustCompile(`(?i)vermisst|Vermisstenfahndung|Suche nach`)
var crimeContextLexeme = regexp.MustCompile(`(?i)Tatverdächtig|Straftat|Festnahme|Überfall|Raub|Körperverletzung`)

// IsFeuerwehr reports whether an article's source or title marks it as a
// fire-brigade release, excluded from this crime-focused pipeline.
func IsFeuerwehr(a article.Article) bool {
	return feuerwehrPattern.MatchString(a.SourceAgency) || feuerwehrPattern.MatchString(a.Title)
}

// isMissingPersonNotice applies the conservative missing-person rule: the
// title must carry a missing-person lexeme and must not carry a
// crime-context lexeme, so a public appeal tied to a crime is never dropped.
func isMissingPersonNotice(a article.Article) bool {
	return missingPersonLexeme.MatchString(a.Title) && !crimeContextLexeme.MatchString(a.Title)
}

// Apply runs the junk filter over articles, returning the kept articles and
// the removed ones with reasons.
func Apply(articles []article.Article) ([]article.Article, []Removal) {
	kept := make([]article.Article, 0, len(articles))
	removed := make([]Removal, 0)

	for _, a := range articles {
		if IsFeuerwehr(a) {
			removed = append(removed, Removal{Article: a, Reason: "feuerwehr_source"})
			continue
		}

		if isMissingPersonNotice(a) {
			removed = append(removed, Removal{Article: a, Reason: "junk_title:missing_person"})
			continue
		}

		if reason, ok := matchJunkTitle(a.Title); ok {
			removed = append(removed, Removal{Article: a, Reason: "junk_title:" + reason})
			continue
		}

		head := a.Body
		if len(head) > 500 {
			head = head[:500]
		}
		if reason, ok := matchJunkBody(head); ok {
			removed = append(removed, Removal{Article: a, Reason: "junk_body:" + reason})
			continue
		}

		kept = append(kept, a)
	}

	return kept, removed
}

func matchJunkTitle(title string) (string, bool) {
	for _, p := range junkTitlePatterns {
		if p.re.MatchString(title) {
			return p.name, true
		}
	}
	return "", false
}

func matchJunkBody(head string) (string, bool) {
	for _, p := range junkBodyPatterns {
		if p.re.MatchString(head) {
			return p.name, true
		}
	}
	return "", false
}

var lowerGerman = cases.Lower(language.German)

var letterRun = regexp.MustCompile(`[\p{L}]{3,}`)

var stopwords = map[string]struct{}{
	"der": {}, "die": {}, "das": {}, "und": {}, "mit": {}, "von": {},
	"nach": {}, "auf": {}, "fuer": {}, "für": {}, "ein": {}, "eine": {},
	"einer": {}, "einem": {}, "bei": {}, "aus": {}, "zur": {}, "zum": {},
	"dem": {}, "den": {}, "des": {},
}

// Tokenize lowercases text (German-aware casing via golang.org/x/text),
// keeps runs of 3+ letters including umlauts, and drops stopwords (spec
// §4.2 tokenization rule).
func Tokenize(text string) []string {
	lowered := lowerGerman.String(text)
	runs := letterRun.FindAllString(lowered, -1)
	out := make([]string, 0, len(runs))
	for _, w := range runs {
		if _, stop := stopwords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

// JaccardSimilarity computes token-set Jaccard similarity between two
// strings' tokenizations.
func JaccardSimilarity(a, b string) float64 {
	setA := toSet(Tokenize(a))
	setB := toSet(Tokenize(b))
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func toSet(toks []string) map[string]struct{} {
	s := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		s[t] = struct{}{}
	}
	return s
}

// nachtragMarkers are explicit follow-up title markers (spec §4.2 tier 1b).
var nachtragMarkers = regexp.MustCompile(`(?i)\bNachtrag\b|\bFolgemeldung\b|\bKorrektur\b|\bUpdate\b`)

// pmSuffix strips a trailing "PM Nr. N" (press-release serial) suffix so
// related articles share a base title.
var pmSuffix = regexp.MustCompile(`(?i)\s*-?\s*PM\s*Nr\.?\s*\d+\s*$`)

// StripTitleSuffix removes a trailing press-release serial suffix.
func StripTitleSuffix(title string) string {
	return strings.TrimSpace(pmSuffix.ReplaceAllString(title, ""))
}

// HasFollowUpMarker reports whether title carries an explicit follow-up
// marker (Nachtrag, Folgemeldung, Korrektur, Update).
func HasFollowUpMarker(title string) bool {
	return nachtragMarkers.MatchString(title)
}

// GroupID derives a deterministic 12-hex-digit group id from a seed string
// (the primary article's URL for a solo group, or a stable key for a
// deterministic tier-1 cluster).
func GroupID(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:12]
}
