package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/3leaps/blaulicht/pkg/article"
	"github.com/3leaps/blaulicht/pkg/atomiccache"
)

// Load reads a manifest from path. The returned Manifest's path field is
// set so a later Save() knows where to write.
func Load(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if m.Chunks == nil {
		m.Chunks = make(map[string]*Chunk)
	}
	m.path = path
	return &m, nil
}

// Save atomically persists the manifest to its path using tempfile +
// fsync + rename, so a reader at any wall-clock instant sees either the
// old or the new fully-valid document, never a partial one (spec §3, §8
// universal invariant).
func (m *Manifest) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.path == "" {
		return fmt.Errorf("manifest has no backing path; load or create it first")
	}
	return atomiccache.WriteAtomic(m.path, m)
}

// Path returns the manifest's backing file path.
func (m *Manifest) Path() string { return m.path }

// GetOrCreate loads the manifest at path if it exists; otherwise it builds
// a fresh manifest spanning cfg's date range and all configured states,
// with one Chunk per calendar month, and saves it.
func GetOrCreate(path string, cfg Config) (*Manifest, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat manifest %s: %w", path, err)
	}

	if len(cfg.States) == 0 {
		cfg.States = article.AllStates
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}

	m := &Manifest{
		Config: cfg,
		Chunks: make(map[string]*Chunk),
		path:   path,
	}

	for _, ym := range monthRange(cfg.StartDate, cfg.EndDate) {
		id := ym.Format("2006-01")
		start := ym
		end := lastDayOfMonth(ym)
		if start.Before(cfg.StartDate) {
			start = cfg.StartDate
		}
		if end.After(cfg.EndDate) {
			end = cfg.EndDate
		}
		m.Chunks[id] = &Chunk{
			ID:        id,
			YearMonth: id,
			StartDate: start,
			EndDate:   end,
			Status:    StatusPending,
		}
	}

	if err := m.Save(); err != nil {
		return nil, err
	}
	return m, nil
}

// monthRange returns the first-of-month timestamp for every calendar month
// touching [start, end].
func monthRange(start, end time.Time) []time.Time {
	if end.Before(start) {
		return nil
	}
	cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	stop := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	var out []time.Time
	for !cur.After(stop) {
		out = append(out, cur)
		cur = cur.AddDate(0, 1, 0)
	}
	return out
}

func lastDayOfMonth(firstOfMonth time.Time) time.Time {
	return firstOfMonth.AddDate(0, 1, -1)
}

// WeekRange derives a [start, end] date range for ISO year/week, backing
// the `week --year --week` CLI command.
func WeekRange(year, week int) (time.Time, time.Time) {
	// ISO week 1 is the week containing the year's first Thursday, so
	// Jan 4 always falls in week 1; walk back to that week's Monday.
	jan4 := time.Date(year, 1, 4, 0, 0, 0, 0, time.UTC)
	offsetFromMonday := (int(jan4.Weekday()) + 6) % 7
	monday := jan4.AddDate(0, 0, -offsetFromMonday)
	start := monday.AddDate(0, 0, (week-1)*7)
	end := start.AddDate(0, 0, 6)
	return start, end
}
