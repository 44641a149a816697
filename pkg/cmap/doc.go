// Package cmap provides a sharded concurrent map.
//
// Keys are spread over a power-of-two number of shards, each guarded by
// its own RWMutex, so lookups of unrelated keys do not contend.
//
//	m := cmap.New[string, *Session]()
//	m.Set(id, s)
//	s, ok := m.Get(id)
package cmap
