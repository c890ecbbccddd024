// Package liveloop implements the live-loop poller (spec §4.9): a 24-hour
// delta-polling cycle across all 16 sources, with per-source backoff, a
// single-instance file lock, and a deferred push-queue drained at the
// start of every cycle.
package liveloop

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	blerrors "github.com/3leaps/blaulicht/internal/errors"
	"github.com/3leaps/blaulicht/pkg/article"
	"github.com/3leaps/blaulicht/pkg/atomiccache"
	"github.com/3leaps/blaulicht/pkg/enrich"
	"github.com/3leaps/blaulicht/pkg/filter"
	"github.com/3leaps/blaulicht/pkg/record"
	"github.com/3leaps/blaulicht/pkg/shutdown"
	"github.com/3leaps/blaulicht/pkg/sink"
)

// SourcePoller fetches one source's articles published since `since`.
type SourcePoller interface {
	Name() string
	PollSince(ctx context.Context, since time.Time) ([]article.Article, error)
}

// Config controls the cycle's cadence, caps, and file locations.
type Config struct {
	PollInterval      time.Duration
	ArticleCapPerCycle int
	LockPath          string
	PollStatePath     string
	PipelineRun       string
}

// DefaultConfig matches spec §4.9/§5's defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:       15 * time.Minute,
		ArticleCapPerCycle: 50,
		LockPath:           "./cache/liveloop.lock",
		PollStatePath:      "./cache/poll_state.json",
	}
}

// PollState is the per-source backoff bookkeeping persisted across cycles
// (spec §6: "<cache>/poll_state.json").
type PollState struct {
	LastSuccessAt      time.Time `json:"last_success_at"`
	LastArticlesCount  int       `json:"last_articles_count"`
	ConsecutiveFailures int      `json:"consecutive_failures"`
	LastError          string    `json:"last_error,omitempty"`
}

// backoffMultiplier implements spec §4.9: "On N=3 consecutive failures the
// source is skipped with multiplier 2, on N=6 with multiplier 4."
func backoffMultiplier(consecutiveFailures int) int {
	switch {
	case consecutiveFailures >= 6:
		return 4
	case consecutiveFailures >= 3:
		return 2
	default:
		return 1
	}
}

// CycleResult is the end-of-cycle health record (spec §4.9: "a single row
// {started_at, duration_s, sources_polled, totals, errors}").
type CycleResult struct {
	StartedAt     time.Time `json:"started_at"`
	DurationS     float64   `json:"duration_s"`
	SourcesPolled int       `json:"sources_polled"`
	TotalArticles int       `json:"total_articles"`
	TotalEnriched int       `json:"total_enriched"`
	Errors        int       `json:"errors"`
}

// HealthSink accepts one CycleResult row per completed cycle. The external
// store is the same collaborator the batch Sink pushes records to; a
// health record is a degenerate one-row "table" written best-effort.
type HealthSink interface {
	WriteHealthRecord(ctx context.Context, result CycleResult) error
}

// Loop drives the live-poll cycle.
type Loop struct {
	pollers  []SourcePoller
	enricher *enrich.Engine
	sink     *sink.Sink
	health   HealthSink
	cfg      Config
	state    *atomiccache.Cache[PollState]
	lock     *flock.Flock
	logger   *zap.Logger
}

// New opens the poll-state cache and prepares the single-instance lock
// (not yet acquired, call Lock before Run).
func New(cfg Config, pollers []SourcePoller, enricher *enrich.Engine, snk *sink.Sink, health HealthSink, logger *zap.Logger) (*Loop, error) {
	state, err := atomiccache.Open[PollState](cfg.PollStatePath)
	if err != nil {
		return nil, blerrors.Wrap(blerrors.KindDisk, "liveloop.New", "open poll state: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		pollers:  pollers,
		enricher: enricher,
		sink:     snk,
		health:   health,
		cfg:      cfg,
		state:    state,
		lock:     flock.New(cfg.LockPath),
		logger:   logger.Named("liveloop"),
	}, nil
}

// Lock acquires the single-instance advisory lock and drops a PID sidecar
// file next to it for operator visibility (the advisory lock itself, not
// the PID, is what flock enforces, an OS file lock is automatically
// released if this process dies, unlike the teacher's jobregistry
// signal-0 liveness probe, which exists only because that registry has no
// underlying OS lock to rely on). Returns false if another instance
// already holds the lock.
func (l *Loop) Lock() (bool, error) {
	ok, err := l.lock.TryLock()
	if err != nil {
		return false, blerrors.Wrap(blerrors.KindConcurrency, "liveloop.Lock", "acquire lock: %w", err)
	}
	if !ok {
		return false, nil
	}
	_ = os.WriteFile(l.cfg.LockPath+".pid", []byte(strconv.Itoa(os.Getpid())), 0o644)
	return true, nil
}

// Unlock releases the single-instance lock.
func (l *Loop) Unlock() error {
	return l.lock.Unlock()
}

// Run drives the daemon loop: poll -> filter -> enrich -> sink -> health
// record, sleeping cfg.PollInterval between cycles, until token fires.
// Run does not acquire the lock; callers call Lock first.
func (l *Loop) Run(ctx context.Context, token *shutdown.Token) error {
	for {
		if token != nil && token.Triggered() {
			return nil
		}

		result := l.RunOnce(ctx, token)
		l.logger.Info("cycle complete",
			zap.Int("sources_polled", result.SourcesPolled),
			zap.Int("total_articles", result.TotalArticles),
			zap.Int("errors", result.Errors))

		select {
		case <-time.After(l.cfg.PollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
		if token != nil {
			select {
			case <-token.Done():
				return nil
			default:
			}
		}
	}
}

// RunOnce executes exactly one cycle: drain the deferred push queue, poll
// every source not currently backed off, filter, enrich, push, write a
// health record. Errors from individual sources are isolated, a failing
// source increments its own backoff counter and does not block others.
func (l *Loop) RunOnce(ctx context.Context, token *shutdown.Token) CycleResult {
	started := time.Now().UTC()
	result := CycleResult{StartedAt: started}

	if drained, remaining, err := l.sink.DrainQueue(ctx); err != nil {
		l.logger.Warn("push queue drain failed", zap.Error(err))
	} else if drained > 0 || remaining > 0 {
		l.logger.Info("push queue drained", zap.Int("drained", drained), zap.Int("remaining", remaining))
	}

	since := started.Add(-24 * time.Hour)

	var allRecords []record.Record
	for _, poller := range l.pollers {
		if token != nil && token.Triggered() {
			break
		}

		st, _ := l.state.Get(poller.Name())
		mult := backoffMultiplier(st.ConsecutiveFailures)
		if mult > 1 && !l.shouldPollDespiteBackoff(poller.Name(), st, mult) {
			l.logger.Info("source skipped due to backoff", zap.String("source", poller.Name()), zap.Int("consecutive_failures", st.ConsecutiveFailures))
			continue
		}

		articles, err := poller.PollSince(ctx, since)
		result.SourcesPolled++
		if err != nil {
			result.Errors++
			st.ConsecutiveFailures++
			st.LastError = err.Error()
			l.state.Set(poller.Name(), st)
			l.logger.Warn("poll failed", zap.String("source", poller.Name()), zap.Error(err))
			continue
		}

		if len(articles) > l.cfg.ArticleCapPerCycle {
			articles = articles[:l.cfg.ArticleCapPerCycle]
		}

		st.ConsecutiveFailures = 0
		st.LastError = ""
		st.LastSuccessAt = time.Now().UTC()
		st.LastArticlesCount = len(articles)
		l.state.Set(poller.Name(), st)

		result.TotalArticles += len(articles)

		records, err := l.enrichAndTransform(ctx, token, articles)
		if err != nil {
			result.Errors++
			l.logger.Warn("enrich failed", zap.String("source", poller.Name()), zap.Error(err))
			continue
		}
		allRecords = append(allRecords, records...)
	}
	_ = l.state.Flush(true)

	if len(allRecords) > 0 {
		if err := l.sink.Push(ctx, sink.ModeLive, allRecords); err != nil {
			result.Errors++
			l.logger.Warn("push failed", zap.Error(err))
		}
		result.TotalEnriched = len(allRecords)
	}

	result.DurationS = time.Since(started).Seconds()

	if l.health != nil {
		if err := l.health.WriteHealthRecord(ctx, result); err != nil {
			l.logger.Warn("health record write failed", zap.Error(err))
		}
	}

	return result
}

// shouldPollDespiteBackoff implements the skip-with-multiplier rule: a
// backed-off source is polled again once mult*PollInterval has elapsed
// since its last attempt, approximated here via LastSuccessAt (the last
// time we *did* attempt useful work).
func (l *Loop) shouldPollDespiteBackoff(name string, st PollState, mult int) bool {
	if st.LastSuccessAt.IsZero() {
		return true
	}
	return time.Since(st.LastSuccessAt) >= time.Duration(mult)*l.cfg.PollInterval
}

func (l *Loop) enrichAndTransform(ctx context.Context, token *shutdown.Token, articles []article.Article) ([]record.Record, error) {
	kept, _ := filter.Apply(articles)
	grouped := filter.Group(kept)

	groupedArticles := make([]article.Article, len(grouped))
	for i, g := range grouped {
		groupedArticles[i] = g.Article
	}

	incidents, _, err := l.enricher.EnrichAll(ctx, token, groupedArticles)
	if err != nil {
		return nil, err
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
		records = append(records, record.Transform(inc, g, l.cfg.PipelineRun))
	}
	return record.Dedup(records), nil
}
