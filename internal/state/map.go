// Package state holds per-key mutable state behind a sharded map.
//
// Each shard has its own RWMutex guarding key membership. Each entry has its
// own Mutex guarding its value, so updates to different keys never contend
// and updates to the same key are serialized.
package state

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

const defaultShards = 64

// Entry is one key's value. Access the value only through Update or Snapshot.
type Entry[V any] struct {
	mu      sync.Mutex
	v       V
	touched atomic.Int64
	evicted bool // guarded by mu
}

// Update runs fn with exclusive access to the value. It returns false without
// running fn when the entry has been evicted; the caller should fetch or
// create the key's entry again.
func (e *Entry[V]) Update(fn func(v *V)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return false
	}
	fn(&e.v)
	e.touched.Store(time.Now().UnixNano())
	return true
}

// Snapshot returns a copy of the value. V should be a value type, or the
// caller must clone reference fields.
func (e *Entry[V]) Snapshot() V {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.v
}

// View runs fn with exclusive access to the value without marking the entry
// as touched. fn must not retain reference fields of v.
func (e *Entry[V]) View(fn func(v V)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.v)
}

// LastTouched is when the entry was created or last updated.
func (e *Entry[V]) LastTouched() time.Time {
	return time.Unix(0, e.touched.Load())
}

type shard[V any] struct {
	mu      sync.RWMutex
	entries map[string]*Entry[V]
}

// Map is a concurrent map from string keys to lockable entries.
type Map[V any] struct {
	shards []*shard[V]
}

// New returns a map with n shards (64 when n <= 0).
func New[V any](n int) *Map[V] {
	if n <= 0 {
		n = defaultShards
	}
	m := &Map[V]{shards: make([]*shard[V], n)}
	for i := range m.shards {
		m.shards[i] = &shard[V]{entries: make(map[string]*Entry[V])}
	}
	return m
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	return m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

// Get returns the entry for key, if present.
func (m *Map[V]) Get(key string) (*Entry[V], bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	return e, ok
}

// GetOrInsertWith returns the entry for key, creating it from init when
// absent. inserted reports whether this call created it. init runs under the
// shard lock and must not touch the map.
func (m *Map[V]) GetOrInsertWith(key string, init func() V) (e *Entry[V], inserted bool) {
	if e, ok := m.Get(key); ok {
		return e, false
	}

	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e, false
	}
	e = &Entry[V]{v: init()}
	e.touched.Store(time.Now().UnixNano())
	s.entries[key] = e
	return e, true
}

// Delete removes key.
func (m *Map[V]) Delete(key string) {
	s := m.shardFor(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Len counts entries across all shards.
func (m *Map[V]) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Range calls fn for each entry until fn returns false. Entries added or
// removed concurrently may or may not be visited.
func (m *Map[V]) Range(fn func(key string, e *Entry[V]) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		keys := make([]string, 0, len(s.entries))
		entries := make([]*Entry[V], 0, len(s.entries))
		for k, e := range s.entries {
			keys = append(keys, k)
			entries = append(entries, e)
		}
		s.mu.RUnlock()

		for i := range keys {
			if !fn(keys[i], entries[i]) {
				return
			}
		}
	}
}

// EvictIdle removes entries not touched since cutoff and returns how many
// were removed. An entry whose lock is held is busy and is kept. Removed
// entries are marked so a caller still holding one sees Update fail.
func (m *Map[V]) EvictIdle(cutoff time.Time) int {
	c := cutoff.UnixNano()
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			if e.touched.Load() >= c || !e.mu.TryLock() {
				continue
			}
			if e.touched.Load() < c {
				e.evicted = true
				delete(s.entries, k)
				removed++
			}
			e.mu.Unlock()
		}
		s.mu.Unlock()
	}
	return removed
}

// Sweep evicts entries idle for longer than ttl every interval until ctx is
// done. It returns ctx.Err().
func (m *Map[V]) Sweep(ctx context.Context, interval, ttl time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if n := m.EvictIdle(now.Add(-ttl)); n > 0 {
				logger.Info("state_evicted", "count", n, "remaining", m.Len())
			}
		}
	}
}
