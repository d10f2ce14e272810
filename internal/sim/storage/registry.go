package storage

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const DefaultCapacity int64 = 100_000

// Registry maps storage ids (anchor ids) to their ledgers.
type Registry struct {
	ledgers         sync.Map // uuid.UUID -> *Storage
	n               atomic.Int64
	defaultCapacity int64
	limits          Limits
}

func NewRegistry() *Registry {
	return NewRegistryWithLimits(DefaultCapacity, DefaultLimits())
}

// NewRegistryWithLimits applies limits to every ledger the registry creates.
func NewRegistryWithLimits(defaultCapacity int64, limits Limits) *Registry {
	if defaultCapacity <= 0 {
		defaultCapacity = DefaultCapacity
	}
	return &Registry{defaultCapacity: defaultCapacity, limits: limits}
}

// GetOrCreate returns the ledger for id, creating one with capacity when
// absent. A non-positive capacity falls back to the registry default.
func (r *Registry) GetOrCreate(id uuid.UUID, capacity int64) *Storage {
	if v, ok := r.ledgers.Load(id); ok {
		return v.(*Storage)
	}
	if capacity <= 0 {
		capacity = r.defaultCapacity
	}
	v, loaded := r.ledgers.LoadOrStore(id, NewWithLimits(capacity, r.limits))
	if !loaded {
		r.n.Add(1)
	}
	return v.(*Storage)
}

func (r *Registry) Get(id uuid.UUID) (*Storage, bool) {
	v, ok := r.ledgers.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Storage), true
}

// Register installs s under id, replacing any previous ledger.
func (r *Registry) Register(id uuid.UUID, s *Storage) {
	if s == nil {
		return
	}
	if _, loaded := r.ledgers.Swap(id, s); !loaded {
		r.n.Add(1)
	}
}

func (r *Registry) Unregister(id uuid.UUID) (*Storage, bool) {
	v, ok := r.ledgers.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	r.n.Add(-1)
	return v.(*Storage), true
}

func (r *Registry) Exists(id uuid.UUID) bool {
	_, ok := r.ledgers.Load(id)
	return ok
}

func (r *Registry) Range(fn func(id uuid.UUID, s *Storage) bool) {
	r.ledgers.Range(func(k, v any) bool { return fn(k.(uuid.UUID), v.(*Storage)) })
}

func (r *Registry) Len() int { return int(r.n.Load()) }

func (r *Registry) Clear() {
	r.ledgers.Range(func(k, _ any) bool {
		if _, ok := r.ledgers.LoadAndDelete(k); ok {
			r.n.Add(-1)
		}
		return true
	})
}
