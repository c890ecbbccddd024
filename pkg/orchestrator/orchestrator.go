// Package orchestrator drives chunks through scrape -> filter -> enrich ->
// sink (spec §4.8). Two implementations share one contract: the sequential
// orchestrator processes chunks one at a time end to end; the parallel
// orchestrator runs several chunks end to end at once under one bounded
// worker pool. Both are
// shutdown-token aware, checking between chunks and after each subtask,
// mirroring the teacher's batch-pool task submission around one
// subprocess-equivalent per unit of work (pkg/crawler.Crawler).
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/blaulicht/pkg/article"
	"github.com/3leaps/blaulicht/pkg/enrich"
	"github.com/3leaps/blaulicht/pkg/filter"
	"github.com/3leaps/blaulicht/pkg/manifest"
	"github.com/3leaps/blaulicht/pkg/record"
	"github.com/3leaps/blaulicht/pkg/scraper"
	"github.com/3leaps/blaulicht/pkg/shutdown"
	"github.com/3leaps/blaulicht/pkg/sink"
)

// Orchestrator runs every pending/in-progress chunk in the given manifest
// to completion or failure.
type Orchestrator interface {
	Run(ctx context.Context, token *shutdown.Token, m *manifest.Manifest) error
}

// ChunkScraper fetches one state's articles for a chunk's date range. A
// thin adapter lets both orchestrators drive *scraper.Scraper without
// depending on its concrete type.
type ChunkScraper interface {
	Run(ctx context.Context, token *shutdown.Token, start, end time.Time) ([]article.Article, scraper.Meta, error)
	State() article.State
}

// Pipeline bundles the collaborators one chunk is run through.
type Pipeline struct {
	Scrapers   []ChunkScraper
	Enricher   *enrich.Engine
	Sink       *sink.Sink
	PipelineRun string
}

// RetryBackoff is the sequential orchestrator's fixed retry ladder (spec
// §4.8: "Retries a failed chunk up to 3 times with 60s/300s/900s backoff").
var RetryBackoff = []time.Duration{60 * time.Second, 5 * time.Minute, 15 * time.Minute}

// runChunk executes one chunk's full scrape -> filter -> enrich -> sink
// pipeline, resuming from CompletedStates and writing results back into
// the chunk via mutate callbacks. It is shared by both orchestrators.
func runChunk(ctx context.Context, token *shutdown.Token, m *manifest.Manifest, chunk *manifest.Chunk, p Pipeline, logger *zap.Logger) error {
	remaining := make(map[article.State]ChunkScraper, len(p.Scrapers))
	for _, s := range p.Scrapers {
		if !chunk.HasCompletedState(s.State()) {
			remaining[s.State()] = s
		}
	}

	var articles []article.Article
	for state, sc := range remaining {
		if token != nil && token.Triggered() {
			return nil
		}

		fetched, meta, err := sc.Run(ctx, token, chunk.StartDate, chunk.EndDate)
		if err != nil {
			return fmt.Errorf("scrape %s: %w", state, err)
		}
		articles = append(articles, fetched...)

		_ = m.UpdateStatus(chunk.ID, manifest.StatusInProgress, func(c *manifest.Chunk) {
			c.MarkStateCompleted(state)
			c.ArticlesCount += meta.ArticlesFound
		})
		logger.Info("state scraped", zap.String("chunk", chunk.ID), zap.String("state", string(state)), zap.Int("articles", meta.ArticlesFound))
	}

	if token != nil && token.Triggered() {
		return nil
	}

	kept, removed := filter.Apply(articles)
	logger.Info("pre-filter applied", zap.String("chunk", chunk.ID), zap.Int("kept", len(kept)), zap.Int("removed", len(removed)))

	grouped := filter.Group(kept)
	groupedArticles := make([]article.Article, len(grouped))
	for i, g := range grouped {
		groupedArticles[i] = g.Article
	}

	if token != nil && token.Triggered() {
		return nil
	}

	incidents, _, err := p.Enricher.EnrichAll(ctx, token, groupedArticles)
	if err != nil {
		return fmt.Errorf("enrich: %w", err)
	}

	byURL := make(map[string]filter.Grouped, len(grouped))
	for _, g := range grouped {
		byURL[g.Article.URL] = g
	}

	records := make([]record.Record, 0, len(incidents))
	for _, inc := range incidents {
		g, ok := byURL[inc.ArticleURL]
		if !ok {
			continue
		}
		records = append(records, record.Transform(inc, g, p.PipelineRun))
	}
	records = record.Dedup(records)

	_ = m.UpdateStatus(chunk.ID, manifest.StatusInProgress, func(c *manifest.Chunk) {
		c.EnrichedCount = len(records)
	})

	if token != nil && token.Triggered() {
		return nil
	}

	if err := p.Sink.Push(ctx, sink.ModeBatch, records); err != nil {
		return fmt.Errorf("sink: %w", err)
	}

	return nil
}
