package orchestrator

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/3leaps/blaulicht/pkg/manifest"
	"github.com/3leaps/blaulicht/pkg/shutdown"
)

// ParallelConfig holds the parallel orchestrator's worker counts.
// Parallel.Run bounds all chunk work by EnrichWorkers alone; it does not
// read ScrapeWorkers, and there are no separate scrape/filter/enrich pools.
type ParallelConfig struct {
	ScrapeWorkers int
	EnrichWorkers int
}

// DefaultParallelConfig matches the spec's recommended pool sizes.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{ScrapeWorkers: 8, EnrichWorkers: 4}
}

// Parallel runs every pending/in-progress chunk concurrently, each chunk
// going through its full scrape -> filter -> enrich -> sink pipeline in one
// worker, with at most EnrichWorkers chunks in flight. Chunks do not wait
// for each other between stages: there is no per-phase barrier.
type Parallel struct {
	Pipeline Pipeline
	Config   ParallelConfig
	Logger   *zap.Logger
}

// NewParallel builds a Parallel orchestrator over the given pipeline.
func NewParallel(p Pipeline, cfg ParallelConfig, logger *zap.Logger) *Parallel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parallel{Pipeline: p, Config: cfg, Logger: logger.Named("orchestrator").Named("parallel")}
}

// Run drains PendingAndInProgress chunks through the full per-chunk
// pipeline, bounding concurrency with a single semaphore sized to
// EnrichWorkers, the LLM call inside runChunk is the pipeline's most
// expensive step, so it governs overall fan-out even though scrape itself
// could run wider.
func (p *Parallel) Run(ctx context.Context, token *shutdown.Token, m *manifest.Manifest) error {
	chunks := m.PendingAndInProgress()
	if len(chunks) == 0 {
		return nil
	}

	sem := semaphore.NewWeighted(int64(maxInt(1, p.Config.EnrichWorkers)))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var combined error

	for _, chunk := range chunks {
		if token != nil && token.Triggered() {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(c *manifest.Chunk) {
			defer wg.Done()
			defer sem.Release(1)

			_ = m.UpdateStatus(c.ID, manifest.StatusInProgress, nil)
			err := runChunk(ctx, token, m, c, p.Pipeline, p.Logger)
			if err != nil {
				_ = m.UpdateStatus(c.ID, manifest.StatusFailed, func(ch *manifest.Chunk) {
					ch.Retries++
					ch.Error = err.Error()
				})
				mu.Lock()
				combined = multierr.Append(combined, err)
				mu.Unlock()
				p.Logger.Warn("chunk failed", zap.String("chunk", c.ID), zap.Error(err))
				return
			}

			_ = m.UpdateStatus(c.ID, manifest.StatusCompleted, nil)
			p.Logger.Info("chunk completed", zap.String("chunk", c.ID))
		}(chunk)
	}
	wg.Wait()

	return combined
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
