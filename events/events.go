package events

import (
	"reflect"
	"sync"
)

// EventHandler receives published events. A returned error stops the publication and is returned to the publisher.
type EventHandler[T any] func(T) error

// subscription is a registered handler. The id lets an unsubscribe find its own entry.
type subscription struct {
	id      uint64
	handler any
}

var (
	// globalEventHandlers maps event types to the handlers invoked whenever any emitter publishes that type.
	globalEventHandlers = make(map[reflect.Type][]subscription)
	// globalEventHandlersLock guards globalEventHandlers and nextSubscriptionID.
	globalEventHandlersLock sync.Mutex
	nextSubscriptionID      uint64
)

// SubscribeAny registers a handler called for every event of type T published by any emitter. The returned function
// removes it again.
func SubscribeAny[T any](callback EventHandler[T]) (unsubscribe func()) {
	eventType := reflect.TypeOf((*T)(nil)).Elem()

	globalEventHandlersLock.Lock()
	defer globalEventHandlersLock.Unlock()
	nextSubscriptionID++
	id := nextSubscriptionID
	globalEventHandlers[eventType] = append(globalEventHandlers[eventType], subscription{id: id, handler: callback})

	return func() {
		globalEventHandlersLock.Lock()
		defer globalEventHandlersLock.Unlock()
		globalEventHandlers[eventType] = removeSubscription(globalEventHandlers[eventType], id)
	}
}

// EventEmitter publishes events of one type to its own subscribers and to the global ones.
type EventEmitter[T any] struct {
	lock          sync.Mutex
	nextID        uint64
	subscriptions []subscription
}

// Subscribe registers a handler on this emitter. The returned function removes it again.
func (e *EventEmitter[T]) Subscribe(callback EventHandler[T]) (unsubscribe func()) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.nextID++
	id := e.nextID
	e.subscriptions = append(e.subscriptions, subscription{id: id, handler: callback})

	return func() {
		e.lock.Lock()
		defer e.lock.Unlock()
		e.subscriptions = removeSubscription(e.subscriptions, id)
	}
}

// Publish calls the emitter's handlers in subscription order, then the global handlers for T. The first error
// returned by a handler is returned and no further handler is called.
func (e *EventEmitter[T]) Publish(event T) error {
	e.lock.Lock()
	local := append([]subscription(nil), e.subscriptions...)
	e.lock.Unlock()

	globalEventHandlersLock.Lock()
	global := append([]subscription(nil), globalEventHandlers[reflect.TypeOf((*T)(nil)).Elem()]...)
	globalEventHandlersLock.Unlock()

	for _, handlers := range [][]subscription{local, global} {
		for _, s := range handlers {
			if err := s.handler.(EventHandler[T])(event); err != nil {
				return err
			}
		}
	}
	return nil
}

func removeSubscription(subscriptions []subscription, id uint64) []subscription {
	for i, s := range subscriptions {
		if s.id == id {
			return append(subscriptions[:i:i], subscriptions[i+1:]...)
		}
	}
	return subscriptions
}
