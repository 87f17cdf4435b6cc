package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelled is the cause attached to a request cancelled through
// InFlightRegistry.Cancel.
var ErrCancelled = errors.New("visualization cancelled by client")

// InFlightRegistry lets a client cancel a visualize request that is still
// executing, addressed by its request ID. Cancelling kills a local
// script's process group or aborts the remote call. Safe for concurrent
// use.
type InFlightRegistry struct {
	mu      sync.Mutex
	entries map[string]context.CancelCauseFunc
}

// NewInFlightRegistry returns an empty registry.
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{entries: make(map[string]context.CancelCauseFunc)}
}

// Track derives a cancellable context for request id. The returned
// release func must be called when the request finishes. When id is empty
// or already tracked the context is still cancellable by release but
// cannot be reached through Cancel.
func (r *InFlightRegistry) Track(ctx context.Context, id string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	if id == "" {
		return ctx, func() { cancel(nil) }
	}

	r.mu.Lock()
	_, taken := r.entries[id]
	if !taken {
		r.entries[id] = cancel
	}
	r.mu.Unlock()

	return ctx, func() {
		if !taken {
			r.mu.Lock()
			delete(r.entries, id)
			r.mu.Unlock()
		}
		cancel(nil)
	}
}

// Cancel cancels the tracked request with ErrCancelled as cause. It
// returns false when id is not in flight.
func (r *InFlightRegistry) Cancel(id string) bool {
	r.mu.Lock()
	cancel, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if ok {
		cancel(ErrCancelled)
	}
	return ok
}

// Len returns the number of tracked requests.
func (r *InFlightRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
