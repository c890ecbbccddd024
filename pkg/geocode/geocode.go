// Package geocode resolves an address into coordinates, with a persistent
// cache and Germany bounding-box validation (spec §4.4).
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	blerrors "github.com/3leaps/blaulicht/internal/errors"
	"github.com/3leaps/blaulicht/pkg/atomiccache"
	"github.com/3leaps/blaulicht/pkg/httpx"
)

// Precision is the internal precision enum a lookup result carries.
type Precision string

const (
	PrecisionRooftop         Precision = "rooftop"
	PrecisionRange           Precision = "range"
	PrecisionCenter          Precision = "center"
	PrecisionApproximate     Precision = "approximate"
	PrecisionOutsideGermany  Precision = "outside_germany"
	PrecisionNone            Precision = "none"
	PrecisionCached          Precision = "cached"
)

// Germany's bounding box (spec §4.4).
const (
	minLat = 47.27
	maxLat = 55.06
	minLon = 5.87
	maxLon = 15.04
)

// Request is the geocoder input for one lookup.
type Request struct {
	Street      string
	HouseNumber string
	District    string
	City        string
	State       string
	LocationHint string
	CrossStreet string
}

// Result is a resolved (or negative) geocode outcome.
type Result struct {
	Lat       float64
	Lon       float64
	Precision Precision
	Found     bool
}

// cacheEntry is the on-disk shape: either a positive hit or a negative
// sentinel (found=false, no coordinates) meaning "looked up, found
// nothing" (spec §6).
type cacheEntry struct {
	Lat       float64   `json:"lat,omitempty"`
	Lon       float64   `json:"lon,omitempty"`
	Precision Precision `json:"precision,omitempty"`
	Found     bool      `json:"found"`
}

type providerResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
			LocationType string `json:"location_type"`
		} `json:"geometry"`
	} `json:"results"`
}

// Config configures a Geocoder.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	CachePath string
}

// Geocoder resolves addresses with an on-disk cache in front of an HTTP
// provider.
type Geocoder struct {
	http   *httpx.Client
	cache  *atomiccache.Cache[cacheEntry]
	cfg    Config
	apiKey string
	logger *zap.Logger
}

// New opens (or creates) the geocode cache at cfg.CachePath and builds a
// Geocoder.
func New(cfg Config, hc *httpx.Client, logger *zap.Logger) (*Geocoder, error) {
	cache, err := atomiccache.Open[cacheEntry](cfg.CachePath)
	if err != nil {
		return nil, blerrors.Wrap(blerrors.KindDisk, "geocode.New", "open geocode cache: %w", err)
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, blerrors.Wrap(blerrors.KindAuthConfig, "geocode.New", "environment variable %s is not set", cfg.APIKeyEnv)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Geocoder{http: hc, cache: cache, cfg: cfg, apiKey: key, logger: logger.Named("geocode")}, nil
}

// Address builds the canonical address string with the precedence
// cross-street > location-hint > bare street, then district, city, state,
// Germany.
func Address(req Request) string {
	var head string
	switch {
	case req.CrossStreet != "":
		head = req.CrossStreet
	case req.LocationHint != "":
		head = req.LocationHint
	case req.Street != "":
		head = strings.TrimSpace(req.Street + " " + req.HouseNumber)
	}

	parts := []string{}
	if head != "" {
		parts = append(parts, head)
	}
	if req.District != "" {
		parts = append(parts, req.District)
	}
	parts = append(parts, req.City, req.State, "Germany")
	return strings.Join(parts, ", ")
}

// withoutStreet returns a copy of req with street-level fields cleared, for
// the street-omitted fallback retry.
func withoutStreet(req Request) Request {
	req.Street = ""
	req.HouseNumber = ""
	req.CrossStreet = ""
	req.LocationHint = ""
	return req
}

// Lookup resolves req to coordinates, consulting and updating the cache,
// with the street-omitted fallback retry on a negative or out-of-Germany
// first attempt (spec §4.4).
func (g *Geocoder) Lookup(ctx context.Context, req Request) (Result, error) {
	addr := Address(req)
	if entry, ok := g.cache.Get(addr); ok {
		if !entry.Found {
			return Result{Found: false, Precision: PrecisionNone}, nil
		}
		return Result{Lat: entry.Lat, Lon: entry.Lon, Precision: PrecisionCached, Found: true}, nil
	}

	result, err := g.query(ctx, addr)
	if err != nil {
		return Result{}, err
	}

	needsFallback := !result.Found || result.Precision == PrecisionOutsideGermany
	if needsFallback && (req.Street != "" || req.CrossStreet != "" || req.LocationHint != "") {
		fallbackReq := withoutStreet(req)
		fallbackAddr := Address(fallbackReq)
		if fallbackAddr != addr {
			fbResult, err := g.query(ctx, fallbackAddr)
			if err == nil {
				g.store(fallbackAddr, fbResult)
				result = fbResult
			}
		}
	}

	g.store(addr, result)
	return result, nil
}

func (g *Geocoder) store(addr string, r Result) {
	g.cache.Set(addr, cacheEntry{Lat: r.Lat, Lon: r.Lon, Precision: r.Precision, Found: r.Found})
}

func (g *Geocoder) query(ctx context.Context, addr string) (Result, error) {
	url := fmt.Sprintf("%s?address=%s&key=%s", g.cfg.BaseURL, addr, g.apiKey)
	resp, err := g.http.Get(ctx, url, nil)
	if err != nil {
		return Result{}, err
	}
	body, err := httpx.ReadAndClose(resp)
	if err != nil {
		return Result{}, err
	}

	var parsed providerResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, blerrors.Wrap(blerrors.KindParse, "geocode.query", "parse provider response: %w", err)
	}
	if parsed.Status != "OK" || len(parsed.Results) == 0 {
		return Result{Found: false, Precision: PrecisionNone}, nil
	}

	loc := parsed.Results[0].Geometry.Location
	precision := mapPrecision(parsed.Results[0].Geometry.LocationType)

	if loc.Lat < minLat || loc.Lat > maxLat || loc.Lng < minLon || loc.Lng > maxLon {
		return Result{Lat: loc.Lat, Lon: loc.Lng, Precision: PrecisionOutsideGermany, Found: true}, nil
	}
	return Result{Lat: loc.Lat, Lon: loc.Lng, Precision: precision, Found: true}, nil
}

func mapPrecision(providerType string) Precision {
	switch providerType {
	case "ROOFTOP":
		return PrecisionRooftop
	case "RANGE_INTERPOLATED":
		return PrecisionRange
	case "GEOMETRIC_CENTER":
		return PrecisionCenter
	default:
		return PrecisionApproximate
	}
}

// Flush persists the geocode cache to disk if dirty.
func (g *Geocoder) Flush() error {
	if err := g.cache.Flush(false); err != nil {
		return blerrors.Wrap(blerrors.KindDisk, "geocode.Flush", "flush geocode cache: %w", err)
	}
	return nil
}
