package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/blaulicht/pkg/manifest"
	"github.com/3leaps/blaulicht/pkg/shutdown"
)

// Sequential processes chunks one at a time, each chunk running its full
// scrape -> filter -> enrich -> sink pipeline before the next chunk
// starts. Useful for first-time runs and debugging (spec §4.8).
type Sequential struct {
	Pipeline Pipeline
	Logger   *zap.Logger
}

// NewSequential builds a Sequential orchestrator over the given pipeline.
func NewSequential(p Pipeline, logger *zap.Logger) *Sequential {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequential{Pipeline: p, Logger: logger.Named("orchestrator").Named("sequential")}
}

// Run drives every pending/in-progress chunk to completion, retrying a
// failed chunk up to len(RetryBackoff) times with the fixed backoff
// ladder before leaving it failed.
func (s *Sequential) Run(ctx context.Context, token *shutdown.Token, m *manifest.Manifest) error {
	for {
		if token != nil && token.Triggered() {
			return nil
		}
		chunk := m.NextPending()
		if chunk == nil {
			break
		}

		if err := s.runWithRetry(ctx, token, m, chunk); err != nil {
			s.Logger.Warn("chunk failed after retries", zap.String("chunk", chunk.ID), zap.Error(err))
		}
	}
	return nil
}

func (s *Sequential) runWithRetry(ctx context.Context, token *shutdown.Token, m *manifest.Manifest, chunk *manifest.Chunk) error {
	var lastErr error
	for attempt := 0; attempt <= len(RetryBackoff); attempt++ {
		if token != nil && token.Triggered() {
			return nil
		}

		_ = m.UpdateStatus(chunk.ID, manifest.StatusInProgress, nil)
		err := runChunk(ctx, token, m, chunk, s.Pipeline, s.Logger)
		if err == nil {
			_ = m.UpdateStatus(chunk.ID, manifest.StatusCompleted, nil)
			s.Logger.Info("chunk completed", zap.String("chunk", chunk.ID))
			return nil
		}

		lastErr = err
		_ = m.UpdateStatus(chunk.ID, manifest.StatusFailed, func(c *manifest.Chunk) {
			c.Retries++
			c.Error = err.Error()
		})

		if attempt >= len(RetryBackoff) {
			break
		}

		s.Logger.Warn("chunk attempt failed, retrying", zap.String("chunk", chunk.ID), zap.Int("attempt", attempt+1), zap.Duration("backoff", RetryBackoff[attempt]), zap.Error(err))
		select {
		case <-time.After(RetryBackoff[attempt]):
		case <-ctx.Done():
			return ctx.Err()
		}
		_ = m.UpdateStatus(chunk.ID, manifest.StatusPending, nil)
	}
	return lastErr
}
