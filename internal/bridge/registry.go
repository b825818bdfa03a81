package bridge

import (
	"context"
	"sync"
)

// Outcome is what a request resolves to.
type Outcome struct {
	Value string
	Err   error
}

// slot tracks one request. It is pending until delivered, then resolved until
// taken. done is closed exactly once, on delivery.
type slot struct {
	done     chan struct{}
	outcome  Outcome
	resolved bool
}

// Registry correlates request ids with their outcomes. The UI loop delivers,
// engine goroutines register, wait and take. It is the only state shared
// between the two sides.
type Registry struct {
	mu    sync.Mutex
	slots map[int64]*slot
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		slots: make(map[int64]*slot),
	}
}

// RegisterPending opens the window during which a result for id is accepted.
func (r *Registry) RegisterPending(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.slots[id]; exists {
		return ErrDuplicateID
	}
	r.slots[id] = &slot{done: make(chan struct{})}
	return nil
}

// Store records value for id. It returns false, and records nothing, when id
// is not pending.
func (r *Registry) Store(id int64, value string) bool {
	return r.deliver(id, Outcome{Value: value})
}

// Fail resolves id with err. Same acceptance rules as Store.
func (r *Registry) Fail(id int64, err error) bool {
	return r.deliver(id, Outcome{Err: err})
}

func (r *Registry) deliver(id int64, outcome Outcome) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok || s.resolved {
		return false
	}
	s.outcome = outcome
	s.resolved = true
	close(s.done)
	return true
}

// Take removes and returns the outcome for id if it has been delivered.
func (r *Registry) Take(id int64) (Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok || !s.resolved {
		return Outcome{}, false
	}
	delete(r.slots, id)
	return s.outcome, true
}

// Abandon removes id if it is still pending. A resolved id is left for Take.
func (r *Registry) Abandon(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok || s.resolved {
		return false
	}
	delete(r.slots, id)
	return true
}

// Wait blocks until id is resolved or ctx is done, then removes the entry.
// If the outcome lands in the same instant the context ends, the outcome wins.
// On context expiry the id is abandoned and ctx.Err() is returned.
func (r *Registry) Wait(ctx context.Context, id int64) (Outcome, error) {
	r.mu.Lock()
	s, ok := r.slots[id]
	r.mu.Unlock()
	if !ok {
		return Outcome{}, ErrUnknownID
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.slots[id] != s {
			return Outcome{}, ErrUnknownID
		}
		delete(r.slots, id)
		if s.resolved {
			return s.outcome, nil
		}
		return Outcome{}, ctx.Err()
	}

	if outcome, ok := r.Take(id); ok {
		return outcome, nil
	}
	// Someone else took it; only the owner of id should wait on it.
	return Outcome{}, ErrUnknownID
}

// FailAll resolves every pending request with err and returns how many it hit.
func (r *Registry) FailAll(err error) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range r.slots {
		if s.resolved {
			continue
		}
		s.outcome = Outcome{Err: err}
		s.resolved = true
		close(s.done)
		n++
	}
	return n
}

// Pending returns the number of requests still waiting for delivery.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range r.slots {
		if !s.resolved {
			n++
		}
	}
	return n
}

// Len returns the number of tracked ids, pending or resolved.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}
