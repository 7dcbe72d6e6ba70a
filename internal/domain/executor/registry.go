package executor

import (
	"context"
	"sync"
)

type entry struct {
	cancel context.CancelFunc
}

// Registry tracks the cancellation handle of every in-flight execution so an
// abort, or channel loss, can reach the goroutine that owns the request.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*entry)}
}

// Register installs the cancel handle for a request identifier and returns a
// release func that removes exactly this handle, never a successor registered
// under the same id. Registration must run synchronously at execution entry,
// before any suspension point, so an abort arriving right after dispatch
// still finds its target. A stale handle under the same identifier is
// cancelled; the newest execution owns the id.
func (r *Registry) Register(id string, cancel context.CancelFunc) func() {
	h := &entry{cancel: cancel}

	r.mu.Lock()
	prev := r.handles[id]
	r.handles[id] = h
	r.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}

	return func() {
		r.mu.Lock()
		if r.handles[id] == h {
			delete(r.handles, id)
		}
		r.mu.Unlock()
	}
}

// Cancel signals the execution for id and reports whether one was in flight.
// The handle stays registered; the owning execution removes it on exit.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	h, ok := r.handles[id]
	r.mu.Unlock()

	if ok {
		h.cancel()
	}
	return ok
}

// CancelAll signals every in-flight execution and returns how many there
// were. Called when the orchestrator channel drops.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	handles := make([]*entry, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	return len(handles)
}

// Active returns the number of executions currently registered.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
