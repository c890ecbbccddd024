package enrich

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// variantKind discriminates the tagged sum type stored under one cache key
// (spec §9 design note: "make the cached sentinel a first-class variant of
// the cached value sum type, not a magic single-element list").
type variantKind string

const (
	kindJunk       variantKind = "junk"
	kindFeuerwehr  variantKind = "feuerwehr"
	kindUpdateOnly variantKind = "update_only"
	kindIncident   variantKind = "incident"
)

// CachedVariant is one element of the list stored under an enrichment
// cache key. A junk/feuerwehr/update-only key always holds exactly one
// element; a full-extraction key holds one element per split incident.
type CachedVariant struct {
	Kind       variantKind
	Reason     string
	UpdateType string
	Incident   Incident
}

type taggedIncident struct {
	Classification string `json:"_classification"`
	Incident
}

// MarshalJSON writes the tagged discriminator alongside whichever fields
// the variant carries.
func (v CachedVariant) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case kindJunk, kindFeuerwehr:
		return json.Marshal(map[string]string{
			"_classification": string(v.Kind),
			"reason":          v.Reason,
		})
	case kindUpdateOnly:
		return json.Marshal(map[string]string{
			"_classification": string(v.Kind),
			"reason":          v.Reason,
			"type":            v.UpdateType,
		})
	default:
		return json.Marshal(taggedIncident{Classification: string(kindIncident), Incident: v.Incident})
	}
}

// UnmarshalJSON reads the discriminator when present and falls back to
// treating the payload as a full incident object when it is absent,
// tolerating cache entries written before the discriminator existed.
func (v *CachedVariant) UnmarshalJSON(data []byte) error {
	var probe struct {
		Discriminator string `json:"_classification"`
		Reason        string `json:"reason"`
		Type          string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	switch variantKind(probe.Discriminator) {
	case kindJunk:
		v.Kind, v.Reason = kindJunk, probe.Reason
		return nil
	case kindFeuerwehr:
		v.Kind, v.Reason = kindFeuerwehr, probe.Reason
		return nil
	case kindUpdateOnly:
		v.Kind, v.Reason, v.UpdateType = kindUpdateOnly, probe.Reason, probe.Type
		return nil
	default:
		var inc Incident
		if err := json.Unmarshal(data, &inc); err != nil {
			return err
		}
		v.Kind = kindIncident
		v.Incident = inc
		return nil
	}
}

// CacheKey derives the enrichment cache key for an article: truncated
// SHA-256 of url:body, 16 hex characters (spec §3, §8 platform-stable
// invariant).
func CacheKey(url, body string) string {
	sum := sha256.Sum256([]byte(url + ":" + body))
	return hex.EncodeToString(sum[:])[:16]
}
