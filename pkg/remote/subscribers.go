// Copyright 2024-2026 Aiku AI

package remote

import "sync"

// Subscribers is a registry of event callbacks shared by Platform
// implementations. The zero value is ready to use. Thread-safe.
type Subscribers struct {
	mu   sync.RWMutex
	next uint64
	fns  map[uint64]func(Event)
}

// Subscribe adds fn and returns a func that removes it. Calling the returned
// func more than once is a no-op.
func (s *Subscribers) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[uint64]func(Event))
	}
	s.next++
	id := s.next
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

// Emit calls every subscriber synchronously.
func (s *Subscribers) Emit(evt Event) {
	s.mu.RLock()
	fns := make([]func(Event), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(evt)
	}
}

// Len returns the number of active subscribers.
func (s *Subscribers) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fns)
}
