package eventbus

import (
	"AtmSP/internal/core/domain"
	"AtmSP/internal/core/ports"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

type subscription struct {
	id      ports.SubscriptionID
	handler ports.EventHandler
}

// inMemoryEventBus implements the ports.EventBus interface
type inMemoryEventBus struct {
	log    zerolog.Logger
	mu     sync.Mutex
	nextID ports.SubscriptionID
	subs   []subscription
}

// NewInMemoryEventBus creates a new, empty event bus
func NewInMemoryEventBus(baseLogger *zerolog.Logger) ports.EventBus {
	return &inMemoryEventBus{
		log: baseLogger.With().Str("component", "in_memory_bus").Logger(),
	}
}

// Subscribe registers a handler for every event
func (b *inMemoryEventBus) Subscribe(handler ports.EventHandler) ports.SubscriptionID {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, handler: handler})
	b.mu.Unlock()

	b.log.Debug().Uint64("subscription_id", uint64(id)).Msg("New handler subscribed")
	return id
}

// Unsubscribe removes a handler; unknown ids are ignored
func (b *inMemoryEventBus) Unsubscribe(id ports.SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			// Copy instead of shifting in place: snapshots taken by
			// in-flight publishes may still share the old backing array.
			next := make([]subscription, 0, len(b.subs)-1)
			next = append(next, b.subs[:i]...)
			b.subs = append(next, b.subs[i+1:]...)
			b.log.Debug().Uint64("subscription_id", uint64(id)).Msg("Handler unsubscribed")
			return
		}
	}
}

// Publish sends an event to the handlers registered when the call begins.
// The lock is held only while taking the snapshot, so handlers are free to
// subscribe, unsubscribe or publish themselves.
func (b *inMemoryEventBus) Publish(event domain.Event) {
	b.mu.Lock()
	snapshot := b.subs[:len(b.subs):len(b.subs)]
	b.mu.Unlock()

	for _, s := range snapshot {
		b.invoke(s, event)
	}
}

// invoke runs one handler; a panicking handler is logged and skipped.
func (b *inMemoryEventBus) invoke(s subscription, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Err(fmt.Errorf("handler panic: %v", r)).
				Uint64("subscription_id", uint64(s.id)).
				Str("event", string(event.Kind())).
				Msg("Event handler failed")
		}
	}()
	s.handler(event)
}
