// Package manifest implements the chunk manifest (spec §3, §4.7, §8): the
// single authoritative, atomically-written JSON document describing every
// (state × month) unit of batch work.
//
// The manifest is mutated only through the methods on *Manifest, and every
// mutation that should be durable is followed by an explicit Save() call;
// the orchestrator never holds two copies of manifest state, mirroring the
// teacher's job registry Store, which is the file this package's atomic
// write is grounded on (pkg/jobregistry/store.go's tempfile+rename Write).
package manifest

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/3leaps/blaulicht/pkg/article"
)

// ChunkStatus is the lifecycle state of one manifest chunk.
type ChunkStatus string

const (
	StatusPending    ChunkStatus = "pending"
	StatusInProgress ChunkStatus = "in_progress"
	StatusCompleted  ChunkStatus = "completed"
	StatusFailed     ChunkStatus = "failed"
)

// germanMonth maps a calendar month to the fixed German month name used in
// chunk data file names (spec §6: "German month names are fixed
// (januar...dezember)").
var germanMonth = [...]string{
	"januar", "februar", "maerz", "april", "mai", "juni",
	"juli", "august", "september", "oktober", "november", "dezember",
}

// GermanMonthName returns the fixed German name for a time.Month.
func GermanMonthName(m time.Month) string {
	return germanMonth[m-1]
}

// Chunk is one (state × month) unit of batch work.
type Chunk struct {
	ID        string      `json:"id"` // "YYYY-MM"
	YearMonth string      `json:"year_month"`
	StartDate time.Time   `json:"start_date"`
	EndDate   time.Time   `json:"end_date"`
	Status    ChunkStatus `json:"status"`

	// CompletedStates lists the states already scraped for this chunk,
	// letting a crashed mid-chunk scrape resume without rescraping
	// finished states.
	CompletedStates []article.State `json:"bundeslaender_completed,omitempty"`

	ArticlesCount int    `json:"articles_count"`
	EnrichedCount int    `json:"enriched_count"`
	Retries       int    `json:"retries"`
	Error         string `json:"error,omitempty"`

	RawFile      string `json:"raw_file,omitempty"`
	EnrichedFile string `json:"enriched_file,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// HasCompletedState reports whether state is already marked done for this
// chunk.
func (c *Chunk) HasCompletedState(s article.State) bool {
	for _, done := range c.CompletedStates {
		if done == s {
			return true
		}
	}
	return false
}

// MarkStateCompleted appends s to CompletedStates if not already present.
func (c *Chunk) MarkStateCompleted(s article.State) {
	if c.HasCompletedState(s) {
		return
	}
	c.CompletedStates = append(c.CompletedStates, s)
}

// RemainingStates returns the states in all not yet in CompletedStates.
func (c *Chunk) RemainingStates(all []article.State) []article.State {
	out := make([]article.State, 0, len(all))
	for _, s := range all {
		if !c.HasCompletedState(s) {
			out = append(out, s)
		}
	}
	return out
}

// Config is the manifest-wide run configuration, fixed at creation time.
type Config struct {
	StartDate time.Time       `json:"start_date"`
	EndDate   time.Time       `json:"end_date"`
	States    []article.State `json:"states"`
	CreatedAt time.Time       `json:"created_at"`
	PipelineRun string        `json:"pipeline_run,omitempty"`
}

// Statistics is a rolling summary maintained alongside the per-chunk map.
type Statistics struct {
	TotalArticles   int `json:"total_articles"`
	TotalEnriched   int `json:"total_enriched"`
	ChunksCompleted int `json:"chunks_completed"`
	ChunksFailed    int `json:"chunks_failed"`
}

// Manifest is the whole batch run's persisted state.
type Manifest struct {
	Config     Config             `json:"config"`
	Statistics Statistics         `json:"statistics"`
	Chunks     map[string]*Chunk  `json:"chunks"`

	path string
	mu   sync.Mutex
}

// Summary is a read-only view used by the `status`/`list` CLI commands.
type Summary struct {
	Total      int
	Pending    int
	InProgress int
	Completed  int
	Failed     int
	Statistics Statistics
}

// Summary computes chunk-status counts without mutating the manifest.
func (m *Manifest) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summary{Statistics: m.Statistics}
	for _, c := range m.Chunks {
		s.Total++
		switch c.Status {
		case StatusPending:
			s.Pending++
		case StatusInProgress:
			s.InProgress++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// SortedChunkIDs returns chunk IDs ("YYYY-MM") in chronological order.
func (m *Manifest) SortedChunkIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.Chunks))
	for id := range m.Chunks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns a copy-free pointer to the chunk with the given id.
func (m *Manifest) Get(id string) (*Chunk, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Chunks[id]
	return c, ok
}

// NextPending returns the chronologically earliest chunk in status
// Pending, or nil if none remain.
func (m *Manifest) NextPending() *Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *Chunk
	for _, id := range sortedKeys(m.Chunks) {
		c := m.Chunks[id]
		if c.Status == StatusPending {
			best = c
			break
		}
	}
	return best
}

// PendingAndInProgress returns all chunks not yet in a terminal state, in
// chronological order, the work list the parallel orchestrator drains
// per phase.
func (m *Manifest) PendingAndInProgress() []*Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Chunk
	for _, id := range sortedKeys(m.Chunks) {
		c := m.Chunks[id]
		if c.Status == StatusPending || c.Status == StatusInProgress {
			out = append(out, c)
		}
	}
	return out
}

// Failed returns all chunks currently in status Failed.
func (m *Manifest) Failed() []*Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Chunk
	for _, id := range sortedKeys(m.Chunks) {
		if c := m.Chunks[id]; c.Status == StatusFailed {
			out = append(out, c)
		}
	}
	return out
}

// UpdateStatus transitions chunk id to status and lets mutate adjust any
// other fields (counts, error, timestamps) under the manifest's lock. It
// also rolls the change into Statistics. Callers must still call Save()
// for durability, UpdateStatus only mutates memory.
func (m *Manifest) UpdateStatus(id string, status ChunkStatus, mutate func(*Chunk)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.Chunks[id]
	if !ok {
		return fmt.Errorf("chunk %s not found", id)
	}

	prevArticles, prevEnriched := c.ArticlesCount, c.EnrichedCount
	prevStatus := c.Status

	c.Status = status
	now := time.Now().UTC()
	switch status {
	case StatusInProgress:
		if c.StartedAt == nil {
			c.StartedAt = &now
		}
	case StatusCompleted, StatusFailed:
		c.CompletedAt = &now
	}

	if mutate != nil {
		mutate(c)
	}

	m.Statistics.TotalArticles += c.ArticlesCount - prevArticles
	m.Statistics.TotalEnriched += c.EnrichedCount - prevEnriched
	if prevStatus != StatusCompleted && status == StatusCompleted {
		m.Statistics.ChunksCompleted++
	}
	if prevStatus != StatusFailed && status == StatusFailed {
		m.Statistics.ChunksFailed++
	}
	if prevStatus == StatusFailed && status != StatusFailed {
		m.Statistics.ChunksFailed--
	}
	if prevStatus == StatusCompleted && status != StatusCompleted {
		m.Statistics.ChunksCompleted--
	}

	return nil
}

// ResetInProgress transitions every in_progress chunk back to pending,
// for crash recovery, per spec §3 Chunk lifecycle.
func (m *Manifest) ResetInProgress() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Chunks {
		if c.Status == StatusInProgress {
			c.Status = StatusPending
			c.StartedAt = nil
			n++
		}
	}
	return n
}

// ResetFailed transitions every failed chunk back to pending and zeroes
// its retry counter, backing the `reset --failed` CLI command.
func (m *Manifest) ResetFailed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Chunks {
		if c.Status == StatusFailed {
			c.Status = StatusPending
			c.Retries = 0
			c.Error = ""
			c.StartedAt = nil
			c.CompletedAt = nil
			m.Statistics.ChunksFailed--
			n++
		}
	}
	return n
}

// ResetAll discards all progress and returns every chunk to pending,
// backing `reset --all --confirm`.
func (m *Manifest) ResetAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Chunks {
		c.Status = StatusPending
		c.Retries = 0
		c.Error = ""
		c.StartedAt = nil
		c.CompletedAt = nil
		c.CompletedStates = nil
		c.ArticlesCount = 0
		c.EnrichedCount = 0
		n++
	}
	m.Statistics = Statistics{}
	return n
}

func sortedKeys(m map[string]*Chunk) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
