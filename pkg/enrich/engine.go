package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	blerrors "github.com/3leaps/blaulicht/internal/errors"
	"github.com/3leaps/blaulicht/pkg/article"
	"github.com/3leaps/blaulicht/pkg/atomiccache"
	"github.com/3leaps/blaulicht/pkg/geocode"
	"github.com/3leaps/blaulicht/pkg/llmclient"
	"github.com/3leaps/blaulicht/pkg/shutdown"
)

// Completer is the subset of llmclient.Client the engine depends on,
// narrowed for testability.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, llmclient.Usage, error)
}

// Geocoder is the subset of geocode.Geocoder the engine depends on.
type Geocoder interface {
	Lookup(ctx context.Context, req geocode.Request) (geocode.Result, error)
}

// Config controls batching, concurrency, and caching.
type Config struct {
	BatchSize         int
	Concurrency       int
	CacheSaveInterval int
	CachePath         string
	TokenUsageLogPath string
}

// DefaultConfig mirrors internal/config's defaults.
func DefaultConfig() Config {
	return Config{BatchSize: 6, Concurrency: 30, CacheSaveInterval: 500, CachePath: "./cache/enrichment_cache.json", TokenUsageLogPath: "./cache/token_usage.jsonl"}
}

// Engine is the LLM enrichment engine (spec §4.3, "the heart of the
// system"): semaphore-bounded concurrent fan-out over batches, persistent
// result caching, and cooperative shutdown.
type Engine struct {
	llm      Completer
	geocoder Geocoder
	cache    *atomiccache.Cache[[]CachedVariant]
	cfg      Config
	logger   *zap.Logger

	mu               sync.Mutex
	sinceLastFlush   int
	usageLog         *os.File

	permanentErrors int64
	permanentMu     sync.Mutex
}

// New opens the engine's enrichment cache and token-usage log.
func New(cfg Config, llm Completer, geocoder Geocoder, logger *zap.Logger) (*Engine, error) {
	cache, err := atomiccache.Open[[]CachedVariant](cfg.CachePath)
	if err != nil {
		return nil, blerrors.Wrap(blerrors.KindDisk, "enrich.New", "open enrichment cache: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	usageLog, err := os.OpenFile(cfg.TokenUsageLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, blerrors.Wrap(blerrors.KindDisk, "enrich.New", "open token usage log: %w", err)
	}
	return &Engine{llm: llm, geocoder: geocoder, cache: cache, cfg: cfg, logger: logger.Named("enrich"), usageLog: usageLog}, nil
}

// Close releases the token-usage log file handle.
func (e *Engine) Close() error {
	return e.usageLog.Close()
}

// PermanentErrors returns the number of batches that failed permanently
// (no retry warranted) since the engine was created.
func (e *Engine) PermanentErrors() int64 {
	e.permanentMu.Lock()
	defer e.permanentMu.Unlock()
	return e.permanentErrors
}

func (e *Engine) incPermanentErrors() {
	e.permanentMu.Lock()
	e.permanentErrors++
	e.permanentMu.Unlock()
}

// EnrichAll classifies and extracts every article, resolving cached
// articles in-process and fanning the rest out under a semaphore of size
// cfg.Concurrency (spec §4.3.2). token, if non-nil, is consulted before
// each new batch starts; once triggered no new batch is launched but
// in-flight batches run to completion.
func (e *Engine) EnrichAll(ctx context.Context, token *shutdown.Token, articles []article.Article) ([]Incident, []Removed, error) {
	var enriched []Incident
	var removed []Removed
	var resultMu sync.Mutex

	var uncached []article.Article
	for _, a := range articles {
		key := CacheKey(a.URL, a.Body)
		if variants, ok := e.cache.Get(key); ok {
			enr, rem := e.resolveCached(a, variants)
			enriched = append(enriched, enr...)
			removed = append(removed, rem...)
			continue
		}
		uncached = append(uncached, a)
	}

	batches := packBatches(uncached, e.cfg.BatchSize)

	sem := semaphore.NewWeighted(int64(max(1, e.cfg.Concurrency)))
	var wg sync.WaitGroup

	for _, batch := range batches {
		if token != nil && token.Triggered() {
			e.logger.Info("shutdown requested, skipping remaining batches", zap.Int("skipped_articles", len(batch)))
			break
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(batch []article.Article) {
			defer wg.Done()
			defer sem.Release(1)

			enr, rem := e.processBatch(ctx, batch)

			resultMu.Lock()
			enriched = append(enriched, enr...)
			removed = append(removed, rem...)
			n := len(batch)
			resultMu.Unlock()

			e.maybeFlush(n)
		}(batch)
	}

	wg.Wait()

	// Final synchronous flush guarantees no partial cache write is visible
	// after shutdown (spec §8 boundary behavior).
	if err := e.cache.Flush(true); err != nil {
		return enriched, removed, blerrors.Wrap(blerrors.KindDisk, "enrich.EnrichAll", "flush enrichment cache: %w", err)
	}
	return enriched, removed, nil
}

func (e *Engine) resolveCached(a article.Article, variants []CachedVariant) ([]Incident, []Removed) {
	if len(variants) == 0 {
		return nil, nil
	}
	switch variants[0].Kind {
	case kindJunk, kindFeuerwehr:
		return nil, []Removed{{Article: a, Reason: "llm:" + string(variants[0].Kind)}}
	case kindUpdateOnly:
		return nil, []Removed{{Article: a, Reason: "llm:update"}}
	default:
		out := make([]Incident, 0, len(variants))
		for _, v := range variants {
			inc := v.Incident
			inc.ArticleURL = a.URL
			out = append(out, inc)
		}
		return out, nil
	}
}

// packBatches splits articles into consecutive groups of size at most n.
func packBatches(articles []article.Article, n int) [][]article.Article {
	if n <= 0 {
		n = 1
	}
	var out [][]article.Article
	for i := 0; i < len(articles); i += n {
		end := i + n
		if end > len(articles) {
			end = len(articles)
		}
		out = append(out, articles[i:end])
	}
	return out
}

// processBatch sends one batch to the model and post-processes the result
// per article (spec §4.3.3). A permanent API error yields an empty result
// for the whole batch without touching the cache.
func (e *Engine) processBatch(ctx context.Context, batch []article.Article) ([]Incident, []Removed) {
	prompt := buildPrompt(batch)

	start := time.Now()
	content, usage, err := e.llm.Complete(ctx, prompt)
	latency := time.Since(start)
	if err != nil {
		e.incPermanentErrors()
		e.logger.Warn("batch enrichment call failed permanently", zap.Int("batch_size", len(batch)), zap.Error(err))
		return nil, nil
	}

	e.logUsage(usage, len(batch), latency)

	objects, err := parseResponse(content)
	if err != nil {
		e.logger.Warn("could not parse model response", zap.Error(err))
		return nil, nil
	}

	byIndex := make(map[int][]Incident)
	for _, obj := range objects {
		byIndex[obj.ArticleIndex] = append(byIndex[obj.ArticleIndex], obj)
	}

	var enriched []Incident
	var removed []Removed
	for i, a := range batch {
		objs := byIndex[i]
		if len(objs) == 0 {
			continue // empty enrichment, no cache entry
		}

		first := objs[0]
		if first.Classification == ClassJunk || first.Classification == ClassFeuerwehr {
			reason := first.Reason
			if reason == "" {
				reason = string(first.Classification)
			}
			e.cache.Set(CacheKey(a.URL, a.Body), []CachedVariant{{Kind: variantKind(first.Classification), Reason: reason}})
			removed = append(removed, Removed{Article: a, Reason: "llm:" + string(first.Classification)})
			continue
		}

		if first.Classification == ClassUpdate && first.Location.City == "" && first.Crime.PKSCode == "" {
			e.cache.Set(CacheKey(a.URL, a.Body), []CachedVariant{{Kind: kindUpdateOnly, Reason: first.Reason, UpdateType: "update"}})
			removed = append(removed, Removed{Article: a, Reason: "llm:update"})
			continue
		}

		variants := make([]CachedVariant, 0, len(objs))
		for _, obj := range objs {
			geocoded := e.geocodeIncident(ctx, obj)
			geocoded.ArticleURL = a.URL
			enriched = append(enriched, geocoded)
			variants = append(variants, CachedVariant{Kind: kindIncident, Incident: geocoded})
		}
		e.cache.Set(CacheKey(a.URL, a.Body), variants)
	}

	return enriched, removed
}

func (e *Engine) geocodeIncident(ctx context.Context, obj Incident) Incident {
	if e.geocoder == nil {
		return obj
	}
	res, err := e.geocoder.Lookup(ctx, geocode.Request{
		Street:       obj.Location.Street,
		HouseNumber:  obj.Location.HouseNumber,
		District:     obj.Location.District,
		City:         obj.Location.City,
		State:        obj.Location.Bundesland,
		LocationHint: obj.Location.LocationHint,
		CrossStreet:  obj.Location.CrossStreet,
	})
	if err != nil {
		e.logger.Warn("geocode lookup failed", zap.Error(err))
		return obj
	}
	if res.Found && res.Precision != geocode.PrecisionOutsideGermany {
		obj.Location.Lat = res.Lat
		obj.Location.Lon = res.Lon
	}
	obj.Location.Precision = string(res.Precision)
	return obj
}

func (e *Engine) maybeFlush(articlesProcessed int) {
	e.mu.Lock()
	e.sinceLastFlush += articlesProcessed
	due := e.cfg.CacheSaveInterval > 0 && e.sinceLastFlush >= e.cfg.CacheSaveInterval
	if due {
		e.sinceLastFlush = 0
	}
	e.mu.Unlock()

	if due {
		if err := e.cache.Flush(false); err != nil {
			e.logger.Warn("periodic cache flush failed", zap.Error(err))
		}
	}
}

type tokenUsageRecord struct {
	Timestamp        string `json:"timestamp"`
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	BatchSize        int    `json:"batch_size"`
	LatencyMS        int64  `json:"latency_ms"`
}

// logUsage appends one JSON line per successful call, fire-and-forget
// (spec §4.3.4).
func (e *Engine) logUsage(u llmclient.Usage, batchSize int, latency time.Duration) {
	rec := tokenUsageRecord{
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		BatchSize:        batchSize,
		LatencyMS:        latency.Milliseconds(),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = e.usageLog.Write(append(b, '\n'))
}

// buildPrompt packs a batch of articles into a single classification
// prompt. The prompt text itself is a collaborator contract (spec §1): the
// engine only needs the model to return a JSON array keyed by article
// index.
func buildPrompt(batch []article.Article) string {
	var sb strings.Builder
	sb.WriteString("Classify and extract structured incident data for each article below. ")
	sb.WriteString("Return a JSON array; each object must include \"article_index\" matching the article's position below.\n\n")
	for i, a := range batch {
		fmt.Fprintf(&sb, "[%d] %s\n%s\n\n", i, a.Title, a.Body)
	}
	return sb.String()
}

// parseResponse parses the model's JSON array of per-incident objects.
func parseResponse(content string) ([]Incident, error) {
	var objects []Incident
	if err := json.Unmarshal([]byte(content), &objects); err != nil {
		return nil, blerrors.Wrap(blerrors.KindParse, "enrich.parseResponse", "parse model output: %w", err)
	}
	return objects, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
