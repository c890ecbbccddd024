package filter

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/3leaps/blaulicht/pkg/article"
)

// GroupRole is a kept article's role within its incident group.
type GroupRole string

const (
	RolePrimary   GroupRole = "primary"
	RoleUpdate    GroupRole = "update"
	RoleFollowUp  GroupRole = "follow_up"
	RoleRelated   GroupRole = "related"
)

// Grouped is a kept article annotated with its incident group assignment.
type Grouped struct {
	Article article.Article
	GroupID string
	Role    GroupRole
}

var backReferenceURL = regexp.MustCompile(`https?://\S+`)

const jaccardThreshold = 0.5

// Group assigns every kept article an incident_group_id and a group_role,
// applying the three tiers in order: deterministic title-suffix linking,
// explicit follow-up markers, body back-references, then heuristic
// Jaccard-similarity bucketing, with a solo fallback (spec §4.2).
func Group(articles []article.Article) []Grouped {
	n := len(articles)
	out := make([]Grouped, n)
	assigned := make([]bool, n)

	// Tier 1a: shared base title (after stripping "PM Nr. N") within the
	// same source agency. Earliest publish time is primary, rest update.
	baseTitleBuckets := make(map[string][]int)
	for i, a := range articles {
		key := a.SourceAgency + "|" + StripTitleSuffix(a.Title)
		baseTitleBuckets[key] = append(baseTitleBuckets[key], i)
	}
	for _, idxs := range baseTitleBuckets {
		if len(idxs) < 2 {
			continue
		}
		sort.Slice(idxs, func(i, j int) bool {
			return articles[idxs[i]].PublishedAt.Before(articles[idxs[j]].PublishedAt)
		})
		gid := GroupID(articles[idxs[0]].URL)
		for pos, idx := range idxs {
			role := RoleUpdate
			if pos == 0 {
				role = RolePrimary
			}
			out[idx] = Grouped{Article: articles[idx], GroupID: gid, Role: role}
			assigned[idx] = true
		}
	}

	// Tier 1b: explicit follow-up markers, linked by matching stripped title
	// to an already-grouped (or about-to-be-grouped) parent.
	parentByTitle := make(map[string]int) // stripped title -> article index considered canonical parent
	for i, a := range articles {
		if _, seen := parentByTitle[StripTitleSuffix(a.Title)]; !seen && !HasFollowUpMarker(a.Title) {
			parentByTitle[StripTitleSuffix(a.Title)] = i
		}
	}
	for i, a := range articles {
		if assigned[i] || !HasFollowUpMarker(a.Title) {
			continue
		}
		stripped := strings.Trim(nachtragMarkers.ReplaceAllString(StripTitleSuffix(a.Title), ""), " :-")
		if parentIdx, ok := parentByTitle[stripped]; ok && parentIdx != i {
			if !assigned[parentIdx] {
				out[parentIdx] = Grouped{Article: articles[parentIdx], GroupID: GroupID(articles[parentIdx].URL), Role: RolePrimary}
				assigned[parentIdx] = true
			}
			out[i] = Grouped{Article: a, GroupID: groupIDOf(out, parentIdx, a), Role: RoleFollowUp}
			assigned[i] = true
		}
	}

	// Tier 1c: body back-references to other articles in the batch.
	urlIndex := make(map[string]int, n)
	for i, a := range articles {
		urlIndex[a.URL] = i
	}
	for i, a := range articles {
		if assigned[i] {
			continue
		}
		refs := backReferenceURL.FindAllString(a.Body, -1)
		for _, ref := range refs {
			if parentIdx, ok := urlIndex[ref]; ok && parentIdx != i {
				if !assigned[parentIdx] {
					out[parentIdx] = Grouped{Article: articles[parentIdx], GroupID: GroupID(articles[parentIdx].URL), Role: RolePrimary}
					assigned[parentIdx] = true
				}
				out[i] = Grouped{Article: a, GroupID: groupIDOf(out, parentIdx, a), Role: RoleFollowUp}
				assigned[i] = true
				break
			}
		}
	}

	// Tier 2: heuristic bucketing by (source-agency, city, ISO-week);
	// within a bucket, title Jaccard similarity >= 0.5 and publish dates
	// within 7 days merges into one group, earlier primary, later related.
	buckets := make(map[string][]int)
	for i, a := range articles {
		if assigned[i] {
			continue
		}
		year, week := a.PublishedAt.ISOWeek()
		key := weekBucketKey(a.SourceAgency, a.City, year, week)
		buckets[key] = append(buckets[key], i)
	}
	for _, idxs := range buckets {
		sort.Slice(idxs, func(i, j int) bool {
			return articles[idxs[i]].PublishedAt.Before(articles[idxs[j]].PublishedAt)
		})
		for bi := 0; bi < len(idxs); bi++ {
			i := idxs[bi]
			if assigned[i] {
				continue
			}
			for bj := bi + 1; bj < len(idxs); bj++ {
				j := idxs[bj]
				if assigned[j] {
					continue
				}
				if withinDays(articles[i].PublishedAt, articles[j].PublishedAt, 7) &&
					JaccardSimilarity(articles[i].Title, articles[j].Title) >= jaccardThreshold {
					if !assigned[i] {
						out[i] = Grouped{Article: articles[i], GroupID: GroupID(articles[i].URL), Role: RolePrimary}
						assigned[i] = true
					}
					out[j] = Grouped{Article: articles[j], GroupID: out[i].GroupID, Role: RoleRelated}
					assigned[j] = true
				}
			}
		}
	}

	// Solo fallback: unique group id derived from the article's own URL.
	for i, a := range articles {
		if !assigned[i] {
			out[i] = Grouped{Article: a, GroupID: GroupID(a.URL), Role: RolePrimary}
			assigned[i] = true
		}
	}

	return out
}

func groupIDOf(out []Grouped, parentIdx int, fallback article.Article) string {
	if out[parentIdx].GroupID != "" {
		return out[parentIdx].GroupID
	}
	return GroupID(fallback.URL)
}

func weekBucketKey(agency, city string, year, week int) string {
	return fmt.Sprintf("%s|%s|%d-W%02d", agency, city, year, week)
}

func withinDays(a, b time.Time, days int) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= time.Duration(days)*24*time.Hour
}
