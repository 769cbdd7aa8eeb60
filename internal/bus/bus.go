// Package bus provides the process-wide publish/subscribe channel that turns
// internal state transitions into the live event stream. Delivery is
// synchronous and in registration order; there is no buffering or replay, so
// a subscriber that is not listening at publish time misses the event.
package bus

import "sync"

// Event types published during review execution.
const (
	EventRunStarted    = "run_started"
	EventTaskStarted   = "task_started"
	EventTaskProgress  = "task_progress"
	EventTaskCompleted = "task_completed"
	EventTaskFailed    = "task_failed"
)

// Event is an ephemeral notification of a state change.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Handler receives published events. Handlers must not panic; the bus does
// not isolate handler failures.
type Handler func(Event)

type subscriber struct {
	id int64
	fn Handler
}

// Bus is constructed explicitly and injected into components that publish or
// subscribe; there is no package-level singleton.
type Bus struct {
	mu   sync.Mutex
	subs []subscriber
	next int64
}

// New creates an event bus with no subscribers.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a handler and returns an unsubscribe function. The
// returned function is idempotent and safe to call from within a handler
// during delivery.
func (b *Bus) Subscribe(fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	id := b.next
	b.subs = append(b.subs, subscriber{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the event to every currently registered subscriber in
// registration order and returns once all handlers have run. Subscriptions
// are snapshotted before delivery so a handler may unsubscribe itself (or
// others) without corrupting iteration.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	snapshot := make([]subscriber, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	for _, s := range snapshot {
		s.fn(event)
	}
}

// SubscriberCount reports the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
