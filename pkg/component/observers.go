package component

import "sync"

// ObserverSet is a concurrency-safe set of Receivers with identity
// semantics. Every method is atomic with respect to every other method on
// the same set; Each holds the lock for the whole iteration, so no receiver
// can be added or removed while a pass is in progress.
//
// Receivers are map keys, so implementations must be comparable (pointer
// receivers are). The loader rejects components that are not.
type ObserverSet struct {
	mu        sync.Mutex
	receivers map[Receiver]struct{}
}

// NewObserverSet creates an empty set.
func NewObserverSet() *ObserverSet {
	return &ObserverSet{receivers: make(map[Receiver]struct{})}
}

// Add inserts r. It returns false when r was already present.
func (s *ObserverSet) Add(r Receiver) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.receivers[r]; exists {
		return false
	}
	s.receivers[r] = struct{}{}
	return true
}

// Remove deletes r. It returns false when r was absent.
func (s *ObserverSet) Remove(r Receiver) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.receivers[r]; !exists {
		return false
	}
	delete(s.receivers, r)
	return true
}

// Clear empties the set and returns how many receivers were removed.
func (s *ObserverSet) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.receivers)
	s.receivers = make(map[Receiver]struct{})
	return n
}

// Contains reports whether r is in the set.
func (s *ObserverSet) Contains(r Receiver) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.receivers[r]
	return ok
}

// Len returns the number of receivers.
func (s *ObserverSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.receivers)
}

// Snapshot returns a copy of the current members in unspecified order.
func (s *ObserverSet) Snapshot() []Receiver {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Receiver, 0, len(s.receivers))
	for r := range s.receivers {
		out = append(out, r)
	}
	return out
}

// Each calls fn for every member while holding the set's lock. fn must not
// call back into the same set.
func (s *ObserverSet) Each(fn func(Receiver)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for r := range s.receivers {
		fn(r)
	}
}
