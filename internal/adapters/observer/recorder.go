package observer

import (
	"AtmSP/internal/core/domain"
	"AtmSP/internal/core/ports"
	"context"
	"sync"
)

// Recorder keeps every event it sees, in arrival order.
type Recorder struct {
	mu      sync.Mutex
	events  []domain.Event
	changed chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{changed: make(chan struct{})}
}

// Attach subscribes the recorder to bus.
func (r *Recorder) Attach(bus ports.EventBus) ports.SubscriptionID {
	return bus.Subscribe(r.Handle)
}

func (r *Recorder) Handle(e domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func (r *Recorder) Kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]domain.EventKind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind()
	}
	return kinds
}

func (r *Recorder) Count(kind domain.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked(kind)
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// WaitFor blocks until at least n events of kind were recorded or ctx ends.
func (r *Recorder) WaitFor(ctx context.Context, kind domain.EventKind, n int) error {
	for {
		r.mu.Lock()
		if r.countLocked(kind) >= n {
			r.mu.Unlock()
			return nil
		}
		changed := r.changed
		r.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Recorder) countLocked(kind domain.EventKind) int {
	n := 0
	for _, e := range r.events {
		if e.Kind() == kind {
			n++
		}
	}
	return n
}
