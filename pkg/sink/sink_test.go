package sink

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/blaulicht/pkg/record"
)

type fakeStore struct {
	mu       sync.Mutex
	batches  [][]record.Record
	failIDs  map[string]bool
}

func (f *fakeStore) UpsertBatch(ctx context.Context, records []record.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range records {
		if f.failIDs[r.ID] {
			return errors.New("simulated store failure")
		}
	}
	f.batches = append(f.batches, records)
	return nil
}

func newTestSink(t *testing.T, store Store) *Sink {
	t.Helper()
	cfg := Config{BatchSize: 2, PushQueuePath: filepath.Join(t.TempDir(), "push_queue.json")}
	s, err := New(cfg, store, nil)
	require.NoError(t, err)
	return s
}

func TestPushBatchModeReturnsErrorOnFailure(t *testing.T) {
	store := &fakeStore{failIDs: map[string]bool{"r1": true}}
	s := newTestSink(t, store)

	records := []record.Record{{ID: "r1"}, {ID: "r2"}}
	err := s.Push(context.Background(), ModeBatch, records)
	assert.Error(t, err)
	assert.Equal(t, 0, s.QueueDepth())
}

func TestPushLiveModeDefersFailedBatchToQueue(t *testing.T) {
	store := &fakeStore{failIDs: map[string]bool{"r1": true}}
	s := newTestSink(t, store)

	records := []record.Record{{ID: "r1"}, {ID: "r2"}}
	err := s.Push(context.Background(), ModeLive, records)
	require.NoError(t, err)
	assert.Equal(t, 2, s.QueueDepth())
}

func TestDrainQueueRemovesSucceedingRows(t *testing.T) {
	store := &fakeStore{failIDs: map[string]bool{}}
	s := newTestSink(t, store)

	s.enqueue([]record.Record{{ID: "a"}, {ID: "b"}})

	drained, remaining, err := s.DrainQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, drained)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, 0, s.QueueDepth())
}

func TestDrainQueueKeepsStillFailingRows(t *testing.T) {
	store := &fakeStore{failIDs: map[string]bool{"bad": true}}
	s := newTestSink(t, store)

	s.enqueue([]record.Record{{ID: "bad"}})

	drained, remaining, err := s.DrainQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, drained)
	assert.Equal(t, 1, remaining)
	assert.Equal(t, 1, s.QueueDepth())
}

func TestPushIsIdempotentAfterRequeue(t *testing.T) {
	store := &fakeStore{failIDs: map[string]bool{}}
	s := newTestSink(t, store)

	records := []record.Record{{ID: "x"}}
	require.NoError(t, s.Push(context.Background(), ModeLive, records))
	s.enqueue(records)
	drained, _, err := s.DrainQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, drained)

	total := 0
	for _, b := range store.batches {
		total += len(b)
	}
	assert.GreaterOrEqual(t, total, 1)
}
