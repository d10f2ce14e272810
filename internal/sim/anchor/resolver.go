package anchor

import (
	"math"

	"github.com/google/uuid"

	"voidstorage.ai/internal/sim/position"
	"voidstorage.ai/internal/sim/storage"
)

// Resolver finds the ledger a caller at some position can reach: the one
// owned by the nearest anchor whose access range covers the position.
type Resolver struct {
	anchors *Registry
	ledgers *storage.Registry
}

func NewResolver(anchors *Registry, ledgers *storage.Registry) *Resolver {
	return &Resolver{anchors: anchors, ledgers: ledgers}
}

func (r *Resolver) Anchors() *Registry { return r.anchors }

func (r *Resolver) Nearest(p position.Pos) (*Anchor, bool) {
	var nearest *Anchor
	best := math.MaxFloat64
	for _, a := range r.anchors.All() {
		d := a.Pos.DistanceTo(p)
		if d <= float64(a.AccessRange) && d < best {
			nearest, best = a, d
		}
	}
	return nearest, nearest != nil
}

// Resolve returns the anchor id and ledger for a caller at p. The caller id
// is accepted for resolvers that scope storage per player; this one is
// position based only.
func (r *Resolver) Resolve(_ uuid.UUID, p position.Pos) (uuid.UUID, *storage.Storage, bool) {
	a, ok := r.Nearest(p)
	if !ok {
		return uuid.Nil, nil, false
	}
	s, ok := r.ledgers.Get(a.ID)
	if !ok {
		return uuid.Nil, nil, false
	}
	return a.ID, s, true
}
