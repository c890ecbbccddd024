package liveloop

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/blaulicht/pkg/article"
	"github.com/3leaps/blaulicht/pkg/enrich"
	"github.com/3leaps/blaulicht/pkg/geocode"
	"github.com/3leaps/blaulicht/pkg/llmclient"
	"github.com/3leaps/blaulicht/pkg/record"
	"github.com/3leaps/blaulicht/pkg/sink"
)

type fakePoller struct {
	name     string
	articles []article.Article
	err      error
	calls    int
}

func (f *fakePoller) Name() string { return f.name }
func (f *fakePoller) PollSince(ctx context.Context, since time.Time) ([]article.Article, error) {
	f.calls++
	return f.articles, f.err
}

type fakeCompleter struct{}

func (fakeCompleter) Complete(ctx context.Context, prompt string) (string, llmclient.Usage, error) {
	return `[]`, llmclient.Usage{}, nil
}

type fakeGeocoder struct{}

func (fakeGeocoder) Lookup(ctx context.Context, req geocode.Request) (geocode.Result, error) {
	return geocode.Result{Found: true, Precision: geocode.PrecisionRooftop}, nil
}

type fakeStore struct{ pushed int }

func (f *fakeStore) UpsertBatch(ctx context.Context, records []record.Record) error {
	f.pushed += len(records)
	return nil
}

type fakeHealth struct {
	records []CycleResult
}

func (f *fakeHealth) WriteHealthRecord(ctx context.Context, result CycleResult) error {
	f.records = append(f.records, result)
	return nil
}

func newTestLoop(t *testing.T, pollers []SourcePoller) (*Loop, *fakeHealth) {
	t.Helper()
	eng, err := enrich.New(enrich.Config{
		BatchSize: 5, Concurrency: 2, CacheSaveInterval: 100,
		CachePath:         filepath.Join(t.TempDir(), "enrichment_cache.json"),
		TokenUsageLogPath: filepath.Join(t.TempDir(), "token_usage.jsonl"),
	}, fakeCompleter{}, fakeGeocoder{}, nil)
	require.NoError(t, err)

	snk, err := sink.New(sink.Config{BatchSize: 10, PushQueuePath: filepath.Join(t.TempDir(), "push_queue.json")}, &fakeStore{}, nil)
	require.NoError(t, err)

	health := &fakeHealth{}
	cfg := Config{
		PollInterval:       time.Minute,
		ArticleCapPerCycle: 50,
		LockPath:           filepath.Join(t.TempDir(), "liveloop.lock"),
		PollStatePath:      filepath.Join(t.TempDir(), "poll_state.json"),
		PipelineRun:        "live-test",
	}
	loop, err := New(cfg, pollers, eng, snk, health, nil)
	require.NoError(t, err)
	return loop, health
}

func TestRunOnceWritesHealthRecord(t *testing.T) {
	poller := &fakePoller{name: "hessen"}
	loop, health := newTestLoop(t, []SourcePoller{poller})

	result := loop.RunOnce(context.Background(), nil)
	assert.Equal(t, 1, result.SourcesPolled)
	require.Len(t, health.records, 1)
}

func TestRunOnceIsolatesSourceFailures(t *testing.T) {
	bad := &fakePoller{name: "bad", err: assertErr{}}
	good := &fakePoller{name: "good"}
	loop, _ := newTestLoop(t, []SourcePoller{bad, good})

	result := loop.RunOnce(context.Background(), nil)
	assert.Equal(t, 2, result.SourcesPolled)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 1, good.calls)
	assert.Equal(t, 1, bad.calls)
}

type assertErr struct{}

func (assertErr) Error() string { return "simulated poll failure" }

func TestBackoffMultiplierThresholds(t *testing.T) {
	assert.Equal(t, 1, backoffMultiplier(0))
	assert.Equal(t, 1, backoffMultiplier(2))
	assert.Equal(t, 2, backoffMultiplier(3))
	assert.Equal(t, 2, backoffMultiplier(5))
	assert.Equal(t, 4, backoffMultiplier(6))
	assert.Equal(t, 4, backoffMultiplier(10))
}

func TestLockPreventsSecondInstance(t *testing.T) {
	poller := &fakePoller{name: "hessen"}
	loop1, _ := newTestLoop(t, []SourcePoller{poller})

	acquired, err := loop1.Lock()
	require.NoError(t, err)
	assert.True(t, acquired)
	defer loop1.Unlock()

	cfg := Config{LockPath: loop1.cfg.LockPath}
	loop2 := &Loop{cfg: cfg, lock: flock.New(cfg.LockPath)}
	acquired2, err := loop2.Lock()
	require.NoError(t, err)
	assert.False(t, acquired2)
}

func TestPollStatePersistsConsecutiveFailures(t *testing.T) {
	bad := &fakePoller{name: "bad", err: assertErr{}}
	loop, _ := newTestLoop(t, []SourcePoller{bad})

	loop.RunOnce(context.Background(), nil)
	st, ok := loop.state.Get("bad")
	require.True(t, ok)
	assert.Equal(t, 1, st.ConsecutiveFailures)

	loop.RunOnce(context.Background(), nil)
	st, ok = loop.state.Get("bad")
	require.True(t, ok)
	assert.Equal(t, 2, st.ConsecutiveFailures)
}
