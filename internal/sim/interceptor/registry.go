package interceptor

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Registry holds the interceptors of one pipeline. Mutations rebuild and
// republish a sorted chain; Execute captures the chain once, so in-flight
// calls are not affected by concurrent Register or Unregister.
type Registry[C, R any] struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]Interceptor[C, R]
	chain atomic.Pointer[[]Interceptor[C, R]]
}

func NewRegistry[C, R any]() *Registry[C, R] {
	r := &Registry[C, R]{byID: map[uuid.UUID]Interceptor[C, R]{}}
	r.chain.Store(&[]Interceptor[C, R]{})
	return r
}

// Register adds ic, replacing any interceptor with the same id. It reports
// whether one was replaced.
func (r *Registry[C, R]) Register(ic Interceptor[C, R]) bool {
	if ic == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := ic.ID()
	_, replaced := r.byID[id]
	r.byID[id] = ic
	r.rebuild()
	return replaced
}

func (r *Registry[C, R]) Unregister(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	r.rebuild()
	return true
}

func (r *Registry[C, R]) Get(id uuid.UUID) (Interceptor[C, R], bool) {
	for _, ic := range *r.chain.Load() {
		if ic.ID() == id {
			return ic, true
		}
	}
	return nil, false
}

func (r *Registry[C, R]) Len() int      { return len(*r.chain.Load()) }
func (r *Registry[C, R]) IsEmpty() bool { return r.Len() == 0 }

// Snapshot returns a copy of the current chain in execution order.
func (r *Registry[C, R]) Snapshot() []Interceptor[C, R] {
	cur := *r.chain.Load()
	out := make([]Interceptor[C, R], len(cur))
	copy(out, cur)
	return out
}

// Execute runs c through the current chain and then terminal.
func (r *Registry[C, R]) Execute(c C, terminal Terminal[C, R]) (R, error) {
	chain := *r.chain.Load()
	if len(chain) == 0 {
		return terminal(c)
	}
	return cursor[C, R]{chain: chain, terminal: terminal}.Proceed(c)
}

// rebuild must be called with mu held.
func (r *Registry[C, R]) rebuild() {
	next := make([]Interceptor[C, R], 0, len(r.byID))
	for _, ic := range r.byID {
		next = append(next, ic)
	}
	sort.Slice(next, func(i, j int) bool {
		if pi, pj := next[i].Priority(), next[j].Priority(); pi != pj {
			return pi > pj
		}
		return next[i].ID().String() < next[j].ID().String()
	})
	r.chain.Store(&next)
}
