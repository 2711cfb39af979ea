// Copyright 2024-2026 Aiku AI

package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Handler receives a trigger and its payload.
type Handler func(ctx context.Context, kind Kind, data any)

// Subscription is the handle returned by Bus.Subscribe.
type Subscription struct {
	bus  *Bus
	id   uint64
	mask Kind
	fn   Handler
	once sync.Once

	mu       sync.Mutex
	queue    []delivery
	draining bool
	released bool
}

type delivery struct {
	kind Kind
	data any
}

// Release stops delivery to the subscription. A delivery already running is
// not interrupted; queued ones are discarded. Safe to call more than once.
func (s *Subscription) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()

		s.mu.Lock()
		s.released = true
		s.mu.Unlock()
	})
}

// enqueue appends d to the subscription's queue and starts a drainer if none
// is running. The caller has already counted d on the bus wait group.
func (s *Subscription) enqueue(d delivery) {
	s.mu.Lock()
	s.queue = append(s.queue, d)
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()
	go s.drain()
}

// drain delivers queued triggers one at a time in publish order.
func (s *Subscription) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		d := s.queue[0]
		s.queue[0] = delivery{}
		s.queue = s.queue[1:]
		released := s.released
		s.mu.Unlock()

		if !released {
			s.fn(s.bus.ctx, d.kind, d.data)
		}
		s.bus.wg.Done()
	}
}

// Bus fans triggers out to subscribers whose mask overlaps the trigger. Every
// subscription has its own queue drained by one goroutine, so a slow module
// never blocks another and each module sees triggers in publish order.
// Thread-safe.
type Bus struct {
	ctx    context.Context
	mu     sync.RWMutex
	next   uint64
	subs   map[uint64]*Subscription
	closed bool
	wg     sync.WaitGroup
	log    zerolog.Logger
}

// NewBus creates a bus whose deliveries run under ctx.
func NewBus(ctx context.Context, log zerolog.Logger) *Bus {
	return &Bus{
		ctx:  ctx,
		subs: make(map[uint64]*Subscription),
		log:  log.With().Str("component", "bus").Logger(),
	}
}

// Subscribe registers fn for every trigger overlapping mask.
func (b *Bus) Subscribe(mask Kind, fn Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	sub := &Subscription{bus: b, id: b.next, mask: mask, fn: fn}
	b.subs[sub.id] = sub
	return sub
}

// Publish queues kind for every matching subscriber and returns the number of
// deliveries queued. Nothing is queued once the bus is closed or its context
// is done.
func (b *Bus) Publish(kind Kind, data any) int {
	b.mu.RLock()
	if b.closed || b.ctx.Err() != nil {
		b.mu.RUnlock()
		return 0
	}
	matched := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.mask.Overlaps(kind) {
			matched = append(matched, sub)
		}
	}
	b.wg.Add(len(matched))
	b.mu.RUnlock()

	if len(matched) == 0 {
		b.log.Trace().Stringer("kind", kind).Msg("No subscribers for trigger")
		return 0
	}
	for _, sub := range matched {
		sub.enqueue(delivery{kind: kind, data: data})
	}
	return len(matched)
}

// Wait blocks until every queued delivery has returned. Publishing
// concurrently with Wait is only allowed after Close.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// Close stops accepting triggers and waits for the queued ones to finish.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
