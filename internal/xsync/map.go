// Package xsync holds small concurrency-safe containers.
package xsync

import "sync"

// Map is a concurrency-safe map guarded by a read-write mutex.
type Map[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]V
}

// NewMap returns an empty Map.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{data: make(map[K]V)}
}

// Set stores v under k, replacing any previous value.
func (s *Map[K, V]) Set(k K, v V) {
	s.mu.Lock()
	s.data[k] = v
	s.mu.Unlock()
}

// Get returns the value stored under k.
func (s *Map[K, V]) Get(k K) (V, bool) {
	s.mu.RLock()
	v, ok := s.data[k]
	s.mu.RUnlock()
	return v, ok
}

// LoadAndDelete removes k and returns the value it held.
func (s *Map[K, V]) LoadAndDelete(k K) (V, bool) {
	s.mu.Lock()
	v, ok := s.data[k]
	delete(s.data, k)
	s.mu.Unlock()
	return v, ok
}

// Len returns the number of entries.
func (s *Map[K, V]) Len() int {
	s.mu.RLock()
	l := len(s.data)
	s.mu.RUnlock()
	return l
}

// Drain removes every entry and returns them.
func (s *Map[K, V]) Drain() map[K]V {
	s.mu.Lock()
	data := s.data
	s.data = make(map[K]V)
	s.mu.Unlock()
	return data
}
