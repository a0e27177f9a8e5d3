package flight

import "sync"

// Set tracks keys whose refresh worker is currently running.
type Set[K comparable] struct {
	mu   sync.Mutex
	keys map[K]struct{}
}

// NewSet returns an empty set.
func NewSet[K comparable]() *Set[K] {
	return &Set[K]{keys: make(map[K]struct{})}
}

// TryAdd inserts key if absent and reports whether it did.
func (s *Set[K]) TryAdd(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

// Release removes key.
func (s *Set[K]) Release(key K) {
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
}

func (s *Set[K]) Contains(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok
}

func (s *Set[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
