// Package atomiccache provides a generic, on-disk JSON map with atomic
// writes, used as the shared implementation behind every long-lived cache
// described in spec §6: the enrichment cache, the geocode cache, each
// scraper's URL cache, poll state, and the deferred push queue.
//
// Every disk write follows the same contract the teacher's job registry
// store used for job.json: marshal under a snapshot of the in-memory map,
// write to a tempfile in the same directory, fsync, then rename over the
// target. Reads take the shared side of a read-write mutex, so concurrent
// reads do not block each other but do wait while a write holds the lock;
// writes take the exclusive side, and snapshots hold the shared side, so a
// flush never observes a torn map.
package atomiccache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Cache is a mutex-guarded map[string]V backed by a single JSON file.
// The zero value is not usable; construct with Open or New.
type Cache[V any] struct {
	path string

	mu   sync.RWMutex
	data map[string]V
	dirty bool
}

// New returns an empty Cache that will persist to path on Flush/Save.
func New[V any](path string) *Cache[V] {
	return &Cache[V]{path: path, data: make(map[string]V)}
}

// Open loads an existing cache file, or returns an empty Cache if the file
// does not yet exist. A corrupt file is a disk-class error: the caller
// decides whether to abort or start fresh.
func Open[V any](path string) (*Cache[V], error) {
	c := New[V](path)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	if len(b) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(b, &c.data); err != nil {
		return nil, fmt.Errorf("parse cache %s: %w", path, err)
	}
	return c, nil
}

// Path returns the backing file path.
func (c *Cache[V]) Path() string { return c.path }

// Get returns the value for key and whether it was present.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

// Set stores value under key. Marks the cache dirty; does not write to
// disk until Flush is called.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	c.dirty = true
}

// Delete removes key, if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data[key]; ok {
		delete(c.data, key)
		c.dirty = true
	}
}

// Len returns the number of entries currently held.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Snapshot returns a shallow copy of the current map, safe to range over
// without holding the cache's lock.
func (c *Cache[V]) Snapshot() map[string]V {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]V, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

// Dirty reports whether entries have been set/deleted since the last
// successful Flush.
func (c *Cache[V]) Dirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirty
}

// Flush snapshots the map under the lock, then writes it to disk outside
// the lock via tempfile + fsync + rename. A no-op if nothing changed since
// the last flush, unless force is true.
func (c *Cache[V]) Flush(force bool) error {
	c.mu.Lock()
	if !c.dirty && !force {
		c.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]V, len(c.data))
	for k, v := range c.data {
		snapshot[k] = v
	}
	c.mu.Unlock()

	if err := writeAtomic(c.path, snapshot); err != nil {
		return err
	}

	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
	return nil
}

// writeAtomic marshals v to JSON and writes it to path using the
// tempfile-in-same-dir + fsync + rename pattern so a reader never observes
// a partially written file, even across a crash.
func writeAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir %s: %w", dir, err)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsync temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename cache file into place: %w", err)
	}
	return nil
}

// WriteAtomic exposes the tempfile+fsync+rename helper for callers that
// persist a single JSON document rather than a key/value map (the chunk
// manifest, the push queue array).
func WriteAtomic(path string, v any) error {
	return writeAtomic(path, v)
}
