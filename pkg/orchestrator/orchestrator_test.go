package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/blaulicht/pkg/article"
	"github.com/3leaps/blaulicht/pkg/enrich"
	"github.com/3leaps/blaulicht/pkg/geocode"
	"github.com/3leaps/blaulicht/pkg/llmclient"
	"github.com/3leaps/blaulicht/pkg/manifest"
	"github.com/3leaps/blaulicht/pkg/record"
	"github.com/3leaps/blaulicht/pkg/scraper"
	"github.com/3leaps/blaulicht/pkg/shutdown"
	"github.com/3leaps/blaulicht/pkg/sink"
)

type fakeChunkScraper struct {
	state    article.State
	articles []article.Article
	err      error
}

func (f *fakeChunkScraper) State() article.State { return f.state }

func (f *fakeChunkScraper) Run(ctx context.Context, token *shutdown.Token, start, end time.Time) ([]article.Article, scraper.Meta, error) {
	return f.articles, scraper.Meta{ArticlesFound: len(f.articles)}, f.err
}

type fakeCompleter struct{}

func (fakeCompleter) Complete(ctx context.Context, prompt string) (string, llmclient.Usage, error) {
	return `[]`, llmclient.Usage{}, nil
}

type fakeGeocoder struct{}

func (fakeGeocoder) Lookup(ctx context.Context, req geocode.Request) (geocode.Result, error) {
	return geocode.Result{Found: true, Precision: geocode.PrecisionRooftop}, nil
}

type fakeStore struct {
	pushed int
}

func (f *fakeStore) UpsertBatch(ctx context.Context, records []record.Record) error {
	f.pushed += len(records)
	return nil
}

func newTestManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.json")
	cfg := manifest.Config{
		StartDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
		States:    []article.State{article.StateHessen},
		CreatedAt: time.Now().UTC(),
	}
	m, err := manifest.GetOrCreate(path, cfg)
	require.NoError(t, err)
	return m
}

func newTestPipeline(t *testing.T, scrapers []ChunkScraper) (Pipeline, *fakeStore) {
	t.Helper()
	eng, err := enrich.New(enrich.Config{
		BatchSize: 5, Concurrency: 2, CacheSaveInterval: 100,
		CachePath:         filepath.Join(t.TempDir(), "enrichment_cache.json"),
		TokenUsageLogPath: filepath.Join(t.TempDir(), "token_usage.jsonl"),
	}, fakeCompleter{}, fakeGeocoder{}, nil)
	require.NoError(t, err)

	store := &fakeStore{}
	snk, err := sink.New(sink.Config{BatchSize: 10, PushQueuePath: filepath.Join(t.TempDir(), "push_queue.json")}, store, nil)
	require.NoError(t, err)

	return Pipeline{Scrapers: scrapers, Enricher: eng, Sink: snk, PipelineRun: "test-run"}, store
}

func TestSequentialRunCompletesChunk(t *testing.T) {
	m := newTestManifest(t)
	pipeline, _ := newTestPipeline(t, []ChunkScraper{
		&fakeChunkScraper{state: article.StateHessen},
	})

	seq := NewSequential(pipeline, nil)
	require.NoError(t, seq.Run(context.Background(), nil, m))

	summary := m.Summary()
	assert.Equal(t, 0, summary.Pending)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 1, summary.Completed)
}

func TestSequentialRunMarksChunkFailedOnScrapeError(t *testing.T) {
	m := newTestManifest(t)
	pipeline, _ := newTestPipeline(t, []ChunkScraper{
		&fakeChunkScraper{state: article.StateHessen, err: assertErr{}},
	})

	seq := NewSequential(pipeline, nil)
	origBackoff := RetryBackoff
	RetryBackoff = []time.Duration{time.Millisecond, time.Millisecond}
	defer func() { RetryBackoff = origBackoff }()

	require.NoError(t, seq.Run(context.Background(), nil, m))

	summary := m.Summary()
	assert.Equal(t, 1, summary.Failed)
}

type assertErr struct{}

func (assertErr) Error() string { return "simulated scrape failure" }

func TestParallelRunCompletesAllChunks(t *testing.T) {
	m := newTestManifest(t)
	pipeline, _ := newTestPipeline(t, []ChunkScraper{
		&fakeChunkScraper{state: article.StateHessen},
	})

	par := NewParallel(pipeline, DefaultParallelConfig(), nil)
	require.NoError(t, par.Run(context.Background(), nil, m))

	summary := m.Summary()
	assert.Equal(t, 0, summary.Pending)
	assert.Equal(t, summary.Total, summary.Completed)
}

func TestRetryBackoffHasThreeSteps(t *testing.T) {
	assert.Len(t, RetryBackoff, 3)
	assert.Equal(t, 60*time.Second, RetryBackoff[0])
	assert.Equal(t, 15*time.Minute, RetryBackoff[2])
}

func TestSequentialRunWithNoPendingChunksIsNoop(t *testing.T) {
	m := newTestManifest(t)
	for _, id := range m.SortedChunkIDs() {
		require.NoError(t, m.UpdateStatus(id, manifest.StatusCompleted, nil))
	}

	seq := NewSequential(Pipeline{}, nil)
	assert.NoError(t, seq.Run(context.Background(), nil, m))
}

func TestSequentialRunStopsOnTriggeredShutdownToken(t *testing.T) {
	m := newTestManifest(t)
	pipeline, _ := newTestPipeline(t, []ChunkScraper{
		&fakeChunkScraper{state: article.StateHessen},
	})

	token := shutdown.New()
	token.Trigger()

	seq := NewSequential(pipeline, nil)
	require.NoError(t, seq.Run(context.Background(), token, m))

	summary := m.Summary()
	assert.Equal(t, summary.Total, summary.Pending)
}
