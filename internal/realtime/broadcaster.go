// Package realtime fans committed events out to live per-tenant subscribers.
package realtime

import (
	"context"
	"log"
	"sync"

	"event-pulse/internal/event/domain"
	"event-pulse/internal/observability"
)

// defaultBufferSize is each subscriber's channel capacity. A subscriber whose
// buffer is full when a broadcast arrives is dropped rather than allowed to
// stall delivery to its tenant's other subscribers.
const defaultBufferSize = 16

// Subscription is one live subscriber's handle. The transport layer reads
// Events and calls Close when the connection ends; after Close (or after the
// broadcaster drops the subscriber) the channel is closed and the handle is
// terminal. A new Subscribe call creates a fresh subscriber.
type Subscription struct {
	tenantID string
	id       uint64
	ch       chan *domain.Event
	b        *Broadcaster

	mu     sync.Mutex
	closed bool
}

// Events returns the channel the broadcaster pushes to. Closed when the
// subscription ends.
func (s *Subscription) Events() <-chan *domain.Event {
	return s.ch
}

// Close unregisters the subscriber and closes its channel. Safe to call more
// than once and concurrently with broadcasts.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()
	s.b.remove(s.tenantID, s.id)
}

// push attempts a non-blocking delivery. Returns false only when the buffer is
// full; a push to an already-closed subscription is a silent no-op.
func (s *Subscription) push(e *domain.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

// Broadcaster owns the per-tenant subscriber registry and retains the most
// recently broadcast event per tenant (the last value only, not a history).
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[string]map[uint64]*Subscription
	last    map[string]*domain.Event
	nextID  uint64
	bufSize int
	metrics *observability.Metrics
}

// NewBroadcaster returns an empty broadcaster. metrics may be nil.
func NewBroadcaster(metrics *observability.Metrics) *Broadcaster {
	return &Broadcaster{
		subs:    make(map[string]map[uint64]*Subscription),
		last:    make(map[string]*domain.Event),
		bufSize: defaultBufferSize,
		metrics: metrics,
	}
}

// Subscribe registers a new subscriber for the tenant.
func (b *Broadcaster) Subscribe(tenantID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &Subscription{
		tenantID: tenantID,
		id:       b.nextID,
		ch:       make(chan *domain.Event, b.bufSize),
		b:        b,
	}
	if b.subs[tenantID] == nil {
		b.subs[tenantID] = make(map[uint64]*Subscription)
	}
	b.subs[tenantID][s.id] = s
	return s
}

// Broadcast delivers the event to every subscriber currently registered under
// tenantID. Subscribers of other tenants never observe it. The push is
// non-blocking: a subscriber that cannot keep up is dropped and its channel
// closed rather than blocking the broadcaster.
func (b *Broadcaster) Broadcast(tenantID string, e *domain.Event) {
	if e == nil {
		return
	}
	b.mu.Lock()
	b.last[tenantID] = e
	targets := make([]*Subscription, 0, len(b.subs[tenantID]))
	for _, s := range b.subs[tenantID] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		if !s.push(e) {
			log.Printf("realtime: dropping slow subscriber %d of tenant %s", s.id, tenantID)
			b.metrics.BroadcastDropped(context.Background())
			s.Close()
		}
	}
}

// LastEvent returns the most recently broadcast event for the tenant, or nil.
func (b *Broadcaster) LastEvent(tenantID string) *domain.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last[tenantID]
}

// SubscriberCount returns the number of live subscribers for the tenant.
func (b *Broadcaster) SubscriberCount(tenantID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[tenantID])
}

func (b *Broadcaster) remove(tenantID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.subs[tenantID]; ok {
		delete(m, id)
		if len(m) == 0 {
			delete(b.subs, tenantID)
		}
	}
}
