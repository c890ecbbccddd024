package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/blaulicht/pkg/httpx"
)

func newTestGeocoder(t *testing.T, handler http.HandlerFunc) *Geocoder {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	t.Setenv("TEST_GEOCODE_KEY", "key-123")
	hc := httpx.New(httpx.DefaultConfig(), nil)
	g, err := New(Config{
		BaseURL:   srv.URL,
		APIKeyEnv: "TEST_GEOCODE_KEY",
		CachePath: filepath.Join(t.TempDir(), "geocode_cache.json"),
	}, hc, nil)
	require.NoError(t, err)
	return g
}

func TestAddressPrecedenceCrossStreetOverLocationHintOverStreet(t *testing.T) {
	addr := Address(Request{
		Street:       "Hauptstraße",
		HouseNumber:  "12",
		LocationHint: "near the station",
		CrossStreet:  "Bahnhofstraße",
		City:         "Frankfurt",
		State:        "Hessen",
	})
	assert.Contains(t, addr, "Bahnhofstraße")
	assert.NotContains(t, addr, "Hauptstraße")
}

func TestLookupCachesPositiveResult(t *testing.T) {
	var calls atomic.Int32
	g := newTestGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"status":"OK","results":[{"geometry":{"location":{"lat":50.11,"lng":8.68},"location_type":"ROOFTOP"}}]}`))
	})

	req := Request{Street: "Hauptstraße", City: "Frankfurt", State: "Hessen"}
	r1, err := g.Lookup(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, r1.Found)
	assert.InDelta(t, 50.11, r1.Lat, 0.001)
	assert.Equal(t, PrecisionRooftop, r1.Precision)

	r2, err := g.Lookup(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, PrecisionCached, r2.Precision)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLookupCachesNegativeSentinel(t *testing.T) {
	g := newTestGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
	})

	req := Request{City: "Nowhereville", State: "Bayern"}
	r, err := g.Lookup(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, r.Found)

	entry, ok := g.cache.Get(Address(req))
	require.True(t, ok)
	assert.False(t, entry.Found)
}

func TestLookupRetriesWithoutStreetWhenOutsideGermany(t *testing.T) {
	var calls atomic.Int32
	g := newTestGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			// A coordinate well south of Germany's bbox.
			w.Write([]byte(`{"status":"OK","results":[{"geometry":{"location":{"lat":40.1,"lng":7.59},"location_type":"ROOFTOP"}}]}`))
			return
		}
		w.Write([]byte(`{"status":"OK","results":[{"geometry":{"location":{"lat":40.1,"lng":7.59},"location_type":"APPROXIMATE"}}]}`))
	})

	req := Request{Street: "Marktgasse", City: "Basel", State: "Freiburg"}
	r, err := g.Lookup(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, PrecisionOutsideGermany, r.Precision)
}

func TestNewFailsWithoutAPIKey(t *testing.T) {
	t.Setenv("TEST_GEOCODE_KEY_UNSET", "")
	hc := httpx.New(httpx.DefaultConfig(), nil)
	_, err := New(Config{CachePath: filepath.Join(t.TempDir(), "cache.json"), APIKeyEnv: "TEST_GEOCODE_KEY_UNSET"}, hc, nil)
	require.Error(t, err)
}
