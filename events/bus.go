// Package events provides the typed publish/subscribe bus connecting the
// network, timers and the consensus tasks. Publishing delivers an event to
// every currently subscribed task whose filter matches. The relative order
// of events from a single publisher is preserved per subscriber; no
// ordering exists across publishers. Publishers never block: a subscriber
// that falls behind has its oldest undelivered events dropped.
package events

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/atomic"
)

var ErrSubscriptionCancelled = errors.New("subscription cancelled")

// Filter selects the subset of events a subscription receives. A nil
// filter receives everything.
type Filter[E any] func(E) bool

// Bus is a multi-producer multi-consumer broadcast channel over events of
// type E.
type Bus[E any] struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription[E]
	nextID uint64

	dropped atomic.Uint64
}

func NewBus[E any]() *Bus[E] {
	return &Bus[E]{
		subs: make(map[uint64]*Subscription[E]),
	}
}

// Publish delivers the event to all matching subscriptions. It never
// blocks on slow consumers.
func (b *Bus[E]) Publish(event E) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.filter != nil && !sub.filter(event) {
			continue
		}
		if sub.enqueue(event) {
			b.dropped.Inc()
		}
	}
}

// Subscribe registers a new subscription with the given buffer capacity.
// Events published before Subscribe returns are not delivered.
func (b *Bus[E]) Subscribe(capacity int, filter Filter[E]) *Subscription[E] {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	sub := &Subscription[E]{
		bus:    b,
		filter: filter,
		ch:     make(chan E, capacity),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	sub.id = b.nextID
	b.nextID++
	b.subs[sub.id] = sub
	return sub
}

// Dropped returns the number of events discarded because a subscriber's
// queue overflowed.
func (b *Bus[E]) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Bus[E]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

const defaultCapacity = 128

// Subscription is one task's filtered view of the bus.
type Subscription[E any] struct {
	id     uint64
	bus    *Bus[E]
	filter Filter[E]

	mu        sync.Mutex
	ch        chan E
	cancelled atomic.Bool
}

// Next blocks until the next matching event, the context is done, or the
// subscription is cancelled.
func (s *Subscription[E]) Next(ctx context.Context) (E, error) {
	var zero E
	if s.cancelled.Load() {
		return zero, ErrSubscriptionCancelled
	}
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case event, ok := <-s.ch:
		if !ok {
			return zero, ErrSubscriptionCancelled
		}
		return event, nil
	}
}

// Cancel tears the subscription down. No events are delivered after Cancel
// returns, and publishers are never blocked by a cancelled subscription.
// Cancel is idempotent.
func (s *Subscription[E]) Cancel() {
	if s.cancelled.Swap(true) {
		return
	}
	s.bus.remove(s.id)
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.ch)
}

// enqueue delivers the event without blocking, dropping the oldest queued
// event on overflow. Returns true if an event was dropped.
func (s *Subscription[E]) enqueue(event E) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled.Load() {
		return false
	}
	for {
		select {
		case s.ch <- event:
			return dropped
		default:
		}
		select {
		case <-s.ch:
			dropped = true
		default:
		}
	}
}
