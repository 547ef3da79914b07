package command

import (
	"context"
	"sync"
)

// Future is the deferred result of one Execute call. It resolves exactly once.
type Future struct {
	once  sync.Once
	done  chan struct{}
	reply Reply
}

// NewFuture returns an unresolved future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a future that already holds reply.
func Resolved(reply Reply) *Future {
	f := NewFuture()
	f.Resolve(reply)
	return f
}

// Resolve sets the reply. Only the first call has any effect; it reports
// whether this call was the one that resolved the future.
func (f *Future) Resolve(reply Reply) bool {
	resolved := false
	f.once.Do(func() {
		f.reply = reply
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the reply is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the reply is available or ctx ends.
func (f *Future) Wait(ctx context.Context) (Reply, error) {
	select {
	case <-f.done:
		return f.reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns the reply without blocking.
func (f *Future) Get() (Reply, bool) {
	select {
	case <-f.done:
		return f.reply, true
	default:
		return nil, false
	}
}
