// Package observe provides single-writer reactive state holders: one
// producer updates the value, any number of readers poll or subscribe.
package observe

import "sync"

// State holds the last completed observation of a value. Writers call Set,
// readers call Get or Subscribe. Subscriber channels have a one-slot buffer
// and latest-value-wins delivery, so a slow reader never blocks the writer.
type State[T any] struct {
	mu    sync.Mutex
	value T
	subs  map[int]chan T
	next  int
}

// NewState creates a holder with an initial value.
func NewState[T any](initial T) *State[T] {
	return &State[T]{
		value: initial,
		subs:  make(map[int]chan T),
	}
}

// Get returns the current value.
func (s *State[T]) Get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set publishes a new value to all subscribers.
func (s *State[T]) Set(value T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.value = value
	for _, ch := range s.subs {
		// Drop the stale pending value so the channel always carries the latest.
		select {
		case <-ch:
		default:
		}
		ch <- value
	}
}

// Subscribe registers a reader. The returned channel immediately carries the
// current value. Cancel releases the subscription.
func (s *State[T]) Subscribe() (updates <-chan T, cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++

	ch := make(chan T, 1)
	ch <- s.value
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}
