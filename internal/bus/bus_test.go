package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := New()

	var first, second []string
	b.Subscribe(func(ev Event) { first = append(first, ev.Type) })
	b.Subscribe(func(ev Event) { second = append(second, ev.Type) })

	b.Publish(Event{Type: EventRunStarted})
	b.Publish(Event{Type: EventTaskCompleted})

	assert.Equal(t, []string{EventRunStarted, EventTaskCompleted}, first)
	assert.Equal(t, []string{EventRunStarted, EventTaskCompleted}, second)
}

func TestPublishOrderMatchesRegistration(t *testing.T) {
	b := New()

	var order []int
	b.Subscribe(func(Event) { order = append(order, 1) })
	b.Subscribe(func(Event) { order = append(order, 2) })
	b.Subscribe(func(Event) { order = append(order, 3) })

	b.Publish(Event{Type: EventTaskProgress})

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()

	var count int
	unsubscribe := b.Subscribe(func(Event) { count++ })

	b.Publish(Event{Type: EventTaskStarted})
	unsubscribe()
	b.Publish(Event{Type: EventTaskStarted})

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()

	unsubA := b.Subscribe(func(Event) {})
	b.Subscribe(func(Event) {})

	unsubA()
	unsubA()

	assert.Equal(t, 1, b.SubscriberCount())
}

func TestSubscriberMayUnsubscribeItselfDuringDelivery(t *testing.T) {
	b := New()

	var calls int
	var unsubscribe func()
	unsubscribe = b.Subscribe(func(Event) {
		calls++
		unsubscribe()
	})
	var after int
	b.Subscribe(func(Event) { after++ })

	b.Publish(Event{Type: EventTaskFailed})
	b.Publish(Event{Type: EventTaskFailed})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, after)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	b := New()
	b.Publish(Event{Type: EventRunStarted, Data: map[string]interface{}{"runId": "r1"}})
	assert.Equal(t, 0, b.SubscriberCount())
}
