package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process-wide counters the live loop reports alongside
// its per-cycle health record. Metrics are optional instrumentation: the
// pipeline's correctness never depends on a scrape succeeding.
type Metrics struct {
	ArticlesScraped  prometheus.Counter
	ArticlesFiltered prometheus.Counter
	ArticlesEnriched prometheus.Counter
	Geocoded         prometheus.Counter
	RecordsPushed    prometheus.Counter
	CycleErrors      prometheus.Counter
}

// NewMetrics registers the pipeline's counters against a fresh registry.
func NewMetrics() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		ArticlesScraped:  factory.NewCounter(prometheus.CounterOpts{Name: "blaulicht_articles_scraped_total"}),
		ArticlesFiltered: factory.NewCounter(prometheus.CounterOpts{Name: "blaulicht_articles_filtered_total"}),
		ArticlesEnriched: factory.NewCounter(prometheus.CounterOpts{Name: "blaulicht_articles_enriched_total"}),
		Geocoded:         factory.NewCounter(prometheus.CounterOpts{Name: "blaulicht_geocode_lookups_total"}),
		RecordsPushed:    factory.NewCounter(prometheus.CounterOpts{Name: "blaulicht_records_pushed_total"}),
		CycleErrors:      factory.NewCounter(prometheus.CounterOpts{Name: "blaulicht_cycle_errors_total"}),
	}, reg
}

// ServeMetrics starts a best-effort /metrics HTTP endpoint on addr. It never
// blocks the caller: the listener runs in its own goroutine, and a listen
// or serve failure is discarded without being logged, matching the
// pipeline's posture that observability must never gate the core pipeline.
func ServeMetrics(addr string, reg *prometheus.Registry) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		_ = http.ListenAndServe(addr, mux) //nolint:gosec // ops-only, not internet facing
	}()
}
