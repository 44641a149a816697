package cmap

import (
	"hash/maphash"
	"sync"
)

// DefaultShardCount is the shard count used by New.
const DefaultShardCount = 16

// Map is a concurrent map split into shards.
type Map[K comparable, V any] struct {
	shards []*shard[K, V]
	mask   uint64
	seed   maphash.Seed
}

type shard[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

// New creates a map with DefaultShardCount shards.
func New[K comparable, V any]() *Map[K, V] {
	return NewWithShards[K, V](DefaultShardCount)
}

// NewWithShards creates a map with n shards. An n that is not a positive
// power of two falls back to DefaultShardCount.
func NewWithShards[K comparable, V any](n int) *Map[K, V] {
	if n <= 0 || n&(n-1) != 0 {
		n = DefaultShardCount
	}
	m := &Map[K, V]{
		shards: make([]*shard[K, V], n),
		mask:   uint64(n - 1),
		seed:   maphash.MakeSeed(),
	}
	for i := range m.shards {
		m.shards[i] = &shard[K, V]{items: make(map[K]V)}
	}
	return m
}

func (m *Map[K, V]) shardFor(key K) *shard[K, V] {
	return m.shards[maphash.Comparable(m.seed, key)&m.mask]
}

// Get returns the value stored under key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// Set stores value under key.
func (m *Map[K, V]) Set(key K, value V) {
	s := m.shardFor(key)
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
}

// GetOrSet returns the value stored under key, storing value first when
// the key is absent. loaded reports whether the value was already there.
func (m *Map[K, V]) GetOrSet(key K, value V) (actual V, loaded bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.items[key]; ok {
		return v, true
	}
	s.items[key] = value
	return value, false
}

// Delete removes key.
func (m *Map[K, V]) Delete(key K) {
	s := m.shardFor(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// DeleteIf removes key when its value satisfies pred, and reports whether
// it did.
func (m *Map[K, V]) DeleteIf(key K, pred func(V) bool) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if !ok || !pred(v) {
		return false
	}
	delete(s.items, key)
	return true
}

// Count returns the number of entries.
func (m *Map[K, V]) Count() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// Range calls fn for each entry until fn returns false. Shards are locked
// one at a time, so the view is not a snapshot; fn must not modify m.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		for k, v := range s.items {
			if !fn(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Values returns a copy of all values.
func (m *Map[K, V]) Values() []V {
	out := make([]V, 0, m.Count())
	m.Range(func(_ K, v V) bool {
		out = append(out, v)
		return true
	})
	return out
}
