package anchor

import (
	"github.com/google/uuid"

	"voidstorage.ai/internal/sim/position"
	"voidstorage.ai/internal/sim/spatial"
)

const shardCount = 64

// Registry holds at most one anchor per block position.
type Registry struct {
	ix *spatial.Index[*Anchor]
}

func NewRegistry() *Registry {
	return &Registry{ix: spatial.New[*Anchor](shardCount)}
}

// Register places a. It returns the anchor it displaced from the same
// position, if any.
func (r *Registry) Register(a *Anchor) (evicted *Anchor) {
	if a == nil {
		return nil
	}
	_, evicted = r.ix.Put(a)
	return evicted
}

func (r *Registry) Unregister(id uuid.UUID) (*Anchor, bool) { return r.ix.Delete(id) }

// Update replaces an already registered anchor.
func (r *Registry) Update(a *Anchor) bool {
	if a == nil {
		return false
	}
	_, _, ok := r.ix.Replace(a)
	return ok
}

func (r *Registry) Get(id uuid.UUID) (*Anchor, bool)  { return r.ix.Get(id) }
func (r *Registry) At(p position.Pos) (*Anchor, bool) { return r.ix.AtPos(p) }
func (r *Registry) AtKey(key int64) (*Anchor, bool)   { return r.ix.At(key) }
func (r *Registry) All() []*Anchor                    { return r.ix.All() }
func (r *Registry) Len() int                          { return r.ix.Len() }
func (r *Registry) Clear()                            { r.ix.Clear() }

func (r *Registry) Exists(id uuid.UUID) bool {
	_, ok := r.ix.Get(id)
	return ok
}
