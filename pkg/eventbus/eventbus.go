// Package eventbus provides a synchronous in-process tap on dispatcher
// lifecycle events (message received, deduped, handler failed, …).
// Observers subscribe; the dispatcher publishes. For production this can
// be swapped for an async/distributed implementation behind the same
// shape.
package eventbus

import (
	"sync"
	"time"
)

// Type classifies lifecycle events.
type Type string

const (
	MessageReceived     Type = "message.received"
	MessageSelfDropped  Type = "message.self_dropped"
	MessageDeduped      Type = "message.deduped"
	MessageRouted       Type = "message.routed"
	HandlerFailed       Type = "handler.failed"
	SubscriptionChanged Type = "subscription.changed"
	JobEnqueued         Type = "job.enqueued"
	JobDropped          Type = "job.dropped"
)

// Event is one lifecycle occurrence.
type Event struct {
	Type     Type
	Adapter  string
	ThreadID string
	At       time.Time
	Data     any
}

// Handler processes an event. Handlers run synchronously on the
// publisher's goroutine and should be fast and non-blocking.
type Handler func(Event)

// Bus dispatches events to registered handlers, typed handlers first,
// then global ones, in registration order.
type Bus struct {
	handlers    map[Type][]Handler
	allHandlers []Handler
	mu          sync.RWMutex
	closed      bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[Type][]Handler)}
}

// Publish dispatches an event to all matching handlers.
func (b *Bus) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, h := range b.handlers[event.Type] {
		h(event)
	}
	for _, h := range b.allHandlers {
		h(event)
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers a handler that receives every event.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allHandlers = append(b.allHandlers, h)
}

// Close stops delivery; Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
