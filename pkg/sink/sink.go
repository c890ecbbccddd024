// Package sink implements the batched upsert to the external record store
// (spec §4.6): idempotent-by-ID batches sent over HTTP, with a deferred
// on-disk push queue for rows that fail in live mode.
package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	blerrors "github.com/3leaps/blaulicht/internal/errors"
	"github.com/3leaps/blaulicht/pkg/atomiccache"
	"github.com/3leaps/blaulicht/pkg/httpx"
	"github.com/3leaps/blaulicht/pkg/record"
)

// Store is the external table-oriented store's contract: idempotent
// batched upsert by primary key (spec §6 "External HTTP dependencies").
// The core never talks to a concrete database driver, the store's DSN is
// opaque configuration used only to construct this client.
type Store interface {
	UpsertBatch(ctx context.Context, records []record.Record) error
}

// Config controls batch sizing and the deferred push-queue location.
type Config struct {
	BatchSize     int
	PushQueuePath string
}

// DefaultConfig matches spec §4.6's 200-500 default batch-size range.
func DefaultConfig() Config {
	return Config{BatchSize: 300, PushQueuePath: "./cache/push_queue.json"}
}

// Mode selects the failure-handling contract: batch runs mark the chunk
// failed on a sink error; live runs defer the rows to the push queue
// instead (spec §4.6, §4.9).
type Mode int

const (
	ModeBatch Mode = iota
	ModeLive
)

// Sink drives batched upserts against a Store, with a persistent deferred
// queue used in live mode.
type Sink struct {
	store     Store
	cfg       Config
	queue     *atomiccache.Cache[record.Record]
	logger    *zap.Logger
}

// New opens the sink's deferred push-queue cache and binds it to store.
func New(cfg Config, store Store, logger *zap.Logger) (*Sink, error) {
	queue, err := atomiccache.Open[record.Record](cfg.PushQueuePath)
	if err != nil {
		return nil, blerrors.Wrap(blerrors.KindDisk, "sink.New", "open push queue: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{store: store, cfg: cfg, queue: queue, logger: logger.Named("sink")}, nil
}

// Push upserts records in batches of cfg.BatchSize. In ModeLive, a failed
// batch is appended to the deferred push queue and Push returns nil for
// that batch (the caller's chunk is not marked failed); in ModeBatch, the
// first batch error is returned to the caller so the chunk can be marked
// failed (spec §4.6).
func (s *Sink) Push(ctx context.Context, mode Mode, records []record.Record) error {
	batches := packBatches(records, s.cfg.BatchSize)
	for i, batch := range batches {
		if err := s.store.UpsertBatch(ctx, batch); err != nil {
			if mode == ModeLive {
				s.logger.Warn("batch upsert failed, deferring to push queue",
					zap.Int("batch", i), zap.Int("size", len(batch)), zap.Error(err))
				s.enqueue(batch)
				continue
			}
			return blerrors.Wrap(blerrors.KindTransientRemote, "sink.Push", "upsert batch %d/%d: %w", i+1, len(batches), err)
		}
	}
	return nil
}

func (s *Sink) enqueue(batch []record.Record) {
	for _, r := range batch {
		s.queue.Set(r.ID, r)
	}
	_ = s.queue.Flush(true)
}

// DrainQueue re-attempts every deferred row and removes it from the queue
// on success, preserving any still-failing rows for the next cycle (spec
// §4.9 "the next cycle drains the queue before starting new work"). Push
// is idempotent by ID so rows pushed once then re-queued converge to the
// same store state (spec §8).
func (s *Sink) DrainQueue(ctx context.Context) (drained int, remaining int, err error) {
	snapshot := s.queue.Snapshot()
	if len(snapshot) == 0 {
		return 0, 0, nil
	}

	records := make([]record.Record, 0, len(snapshot))
	for _, r := range snapshot {
		records = append(records, r)
	}

	batches := packBatches(records, s.cfg.BatchSize)
	for _, batch := range batches {
		if uerr := s.store.UpsertBatch(ctx, batch); uerr != nil {
			s.logger.Warn("push queue batch still failing", zap.Int("size", len(batch)), zap.Error(uerr))
			remaining += len(batch)
			continue
		}
		for _, r := range batch {
			s.queue.Delete(r.ID)
			drained++
		}
	}
	_ = s.queue.Flush(true)
	return drained, remaining, nil
}

// QueueDepth reports the number of rows currently deferred.
func (s *Sink) QueueDepth() int {
	return s.queue.Len()
}

func packBatches(records []record.Record, size int) [][]record.Record {
	if size <= 0 {
		size = DefaultConfig().BatchSize
	}
	var batches [][]record.Record
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	return batches
}

// HTTPStore is the default Store implementation: POSTs a JSON array of
// records to a single upsert endpoint, following the OpenAI-compatible
// client's request/response shape conventions used elsewhere in this tree
// (pkg/llmclient), bearer auth, one POST per batch, non-2xx mapped
// through httpx's classification.
type HTTPStore struct {
	http     *httpx.Client
	endpoint string
	apiKey   string
}

// NewHTTPStore builds a Store backed by an HTTP upsert endpoint. apiKey is
// the store's bearer token itself; when empty, no Authorization header is
// sent.
func NewHTTPStore(endpoint string, apiKey string, hc *httpx.Client) *HTTPStore {
	return &HTTPStore{http: hc, endpoint: endpoint, apiKey: apiKey}
}

func (h *HTTPStore) UpsertBatch(ctx context.Context, records []record.Record) error {
	body, err := json.Marshal(map[string]any{"records": records})
	if err != nil {
		return blerrors.Wrap(blerrors.KindParse, "sink.HTTPStore.UpsertBatch", "marshal batch: %w", err)
	}

	headers := map[string]string{}
	if h.apiKey != "" {
		headers["Authorization"] = "Bearer " + h.apiKey
	}

	resp, err := h.http.PostJSON(ctx, h.endpoint, body, headers)
	if err != nil {
		return err
	}
	respBody, err := httpx.ReadAndClose(resp)
	if err != nil {
		return err
	}
	if len(respBody) > 0 {
		var ack struct {
			Upserted int `json:"upserted"`
		}
		if jsonErr := json.Unmarshal(respBody, &ack); jsonErr == nil && ack.Upserted < len(records) {
			return fmt.Errorf("store acknowledged %d/%d records", ack.Upserted, len(records))
		}
	}
	return nil
}
