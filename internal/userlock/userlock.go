// Package userlock serializes work per user. Evaluations for one user run
// one at a time; different users never contend.
package userlock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Registry hands out per-user mutexes and drops them once unused.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*entry
}

func New() *Registry {
	return &Registry{locks: make(map[string]*entry)}
}

// Lock blocks until userID's lock is held and returns its release func.
func (r *Registry) Lock(userID string) (unlock func()) {
	r.mu.Lock()
	e, ok := r.locks[userID]
	if !ok {
		e = &entry{}
		r.locks[userID] = e
	}
	e.refs++
	r.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		r.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(r.locks, userID)
		}
		r.mu.Unlock()
	}
}
