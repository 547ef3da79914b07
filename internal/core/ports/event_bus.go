package ports

import "AtmSP/internal/core/domain"

// SubscriptionID identifies a registered handler. IDs increase monotonically
// and are never reused by the same bus.
type SubscriptionID uint64

// EventHandler is a function that handles one published event
type EventHandler func(event domain.Event)

// EventBus defines the interface for our in-process pub/sub system
type EventBus interface {
	// Subscribe registers a handler for every event and returns its id.
	Subscribe(handler EventHandler) SubscriptionID

	// Unsubscribe removes the handler. Unknown ids are ignored.
	Unsubscribe(id SubscriptionID)

	// Publish delivers the event to every handler registered when the call
	// begins, in registration order, on the caller's goroutine.
	Publish(event domain.Event)
}
