package mtslogic

import (
	"sync"
)

// Registry pairs waiting consumers with producers by an integer id.
//
// A handler that cannot answer yet parks its Responder under an id with
// Block. A later handler, usually serving another connection, takes it
// back with Peek and answers it directly. Each parked responder is
// delivered at most once. Ids are chosen by the application; parking a
// second responder under a busy id replaces the first one.
type Registry struct {
	mu      sync.Mutex
	waiting map[int64]*Responder
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{waiting: make(map[int64]*Responder)}
}

// Block parks r under id. It returns the responder previously parked
// under id, if any, so the caller can cancel it.
func (reg *Registry) Block(id int64, r *Responder) (displaced *Responder) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	displaced = reg.waiting[id]
	reg.waiting[id] = r
	if displaced == r {
		return nil
	}
	return displaced
}

// Peek removes and returns the responder parked under id.
// It never blocks; ok is false when nobody waits on id.
func (reg *Registry) Peek(id int64) (r *Responder, ok bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok = reg.waiting[id]
	if ok {
		delete(reg.waiting, id)
	}
	return r, ok
}

// Len returns the number of parked responders.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.waiting)
}

// purge drops every responder bound to p. Their caller is gone.
func (reg *Registry) purge(p peer) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	n := 0
	for id, r := range reg.waiting {
		if r.to == p {
			delete(reg.waiting, id)
			n++
		}
	}
	return n
}

// drain removes and returns every parked responder.
func (reg *Registry) drain() []*Responder {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	out := make([]*Responder, 0, len(reg.waiting))
	for id, r := range reg.waiting {
		out = append(out, r)
		delete(reg.waiting, id)
	}
	return out
}
