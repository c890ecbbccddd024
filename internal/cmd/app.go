package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/blaulicht/internal/config"
	"github.com/3leaps/blaulicht/internal/observability"
	"github.com/3leaps/blaulicht/pkg/article"
	"github.com/3leaps/blaulicht/pkg/enrich"
	"github.com/3leaps/blaulicht/pkg/geocode"
	"github.com/3leaps/blaulicht/pkg/httpx"
	"github.com/3leaps/blaulicht/pkg/llmclient"
	"github.com/3leaps/blaulicht/pkg/orchestrator"
	"github.com/3leaps/blaulicht/pkg/preflight"
	"github.com/3leaps/blaulicht/pkg/scraper"
	"github.com/3leaps/blaulicht/pkg/scraper/sites"
	"github.com/3leaps/blaulicht/pkg/sink"
)

// app bundles the collaborators every chunk-processing subcommand needs,
// built once from the loaded config so each command doesn't repeat the
// wiring boilerplate, generalized from the teacher's per-command
// ad-hoc client construction in internal/cmd/crawl.go into one shared
// assembly step.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	http   *httpx.Client
}

func newApp() *app {
	return &app{cfg: cfg, logger: observability.CLILogger, http: httpx.New(httpx.Config{
		MaxRetries:     cfg.MaxRetries,
		MaxBackoff:     cfg.MaxBackoff,
		RequestTimeout: 30 * time.Second,
	}, observability.CLILogger)}
}

func (a *app) manifestPath() string {
	return filepath.Join(a.cfg.DataDir, "manifest.json")
}

// runPreflight fails fast before any real work starts (spec §1's "fail
// fast with a one-line message; exit 1" posture). lockPath is empty for
// batch commands, which hold no standing lock.
func (a *app) runPreflight(ctx context.Context, lockPath string) error {
	// GeocoderAPIKeyEnv is deliberately omitted: a missing geocoder key is
	// a soft degrade (newEngine runs enrichment without coordinates), not
	// a fail-fast condition, so it is not a hard preflight requirement.
	rec := preflight.Run(ctx, preflight.Spec{
		Mode:           preflight.ModeCheck,
		LLMAPIKeyEnv:   "PIPELINE_LLM_API_KEY",
		StoreAPIKeyEnv: "PIPELINE_STORE_API_KEY",
		CacheDir:       a.cfg.CacheDir,
		DataDir:        a.cfg.DataDir,
		LockPath:       lockPath,
	})
	if !rec.Passed() {
		for _, res := range rec.Results {
			if !res.Allowed {
				return fmt.Errorf("preflight check %s failed: %s", res.Capability, res.Detail)
			}
		}
	}
	return nil
}

func (a *app) newEngine() (*enrich.Engine, error) {
	if err := a.cfg.RequireLLM(); err != nil {
		return nil, err
	}
	llm, err := llmclient.New(llmclient.Config{
		BaseURL:   a.cfg.LLMBaseURL,
		APIKeyEnv: "PIPELINE_LLM_API_KEY",
		Model:     a.cfg.LLMModel,
	}, a.http, a.logger)
	if err != nil {
		return nil, err
	}

	var geocoder enrich.Geocoder
	if err := a.cfg.RequireGeocoder(); err == nil {
		g, err := geocode.New(geocode.Config{
			BaseURL:   a.cfg.GeocodeBaseURL,
			APIKeyEnv: "PIPELINE_GEOCODE_API_KEY",
			CachePath: filepath.Join(a.cfg.CacheDir, "geocode_cache.json"),
		}, a.http, a.logger)
		if err != nil {
			return nil, err
		}
		geocoder = g
	}

	return enrich.New(enrich.Config{
		BatchSize:         a.cfg.EnrichBatchSize,
		Concurrency:       a.cfg.EnrichConcurrency,
		CacheSaveInterval: a.cfg.CacheSaveInterval,
		CachePath:         filepath.Join(a.cfg.CacheDir, "enrichment_cache.json"),
		TokenUsageLogPath: filepath.Join(a.cfg.CacheDir, "token_usage.jsonl"),
	}, llm, geocoder, a.logger)
}

func (a *app) newSink() (*sink.Sink, error) {
	store := sink.NewHTTPStore(a.cfg.StoreDSN, a.cfg.StoreAPIKey, a.http)
	return sink.New(sink.Config{
		BatchSize:     a.cfg.SinkBatchSize,
		PushQueuePath: filepath.Join(a.cfg.CacheDir, "push_queue.json"),
	}, store, a.logger)
}

// chunkScraper adapts *scraper.Scraper to orchestrator.ChunkScraper.
type chunkScraper struct {
	*scraper.Scraper
	site scraper.Site
}

func (c *chunkScraper) State() article.State { return c.site.State() }

func (a *app) newScrapers() ([]orchestrator.ChunkScraper, error) {
	all := sites.All()
	out := make([]orchestrator.ChunkScraper, 0, len(all))
	for _, site := range all {
		s, err := scraper.New(site, scraper.Config{
			FetchConcurrency: a.cfg.FetchConcurrency,
			MaxRetries:       a.cfg.MaxRetries,
			MaxBackoff:       a.cfg.MaxBackoff,
			MaxEmptyPages:    3,
			URLCacheDir:      a.cfg.CacheDir,
		}, a.http, a.logger)
		if err != nil {
			return nil, fmt.Errorf("build scraper for %s: %w", site.Name(), err)
		}
		out = append(out, &chunkScraper{Scraper: s, site: site})
	}
	return out, nil
}

func (a *app) pipeline(scrapers []orchestrator.ChunkScraper, eng *enrich.Engine, snk *sink.Sink) orchestrator.Pipeline {
	return orchestrator.Pipeline{
		Scrapers:    scrapers,
		Enricher:    eng,
		Sink:        snk,
		PipelineRun: a.cfg.PipelineRun,
	}
}
