package transfer

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"voidstorage.ai/internal/sim/position"
	"voidstorage.ai/internal/sim/spatial"
)

const (
	positionShards = 16
	ownerShards    = 16
)

type ownerShard struct {
	mu     sync.RWMutex
	seq    atomic.Uint64
	groups sync.Map // anchor uuid.UUID -> []uuid.UUID, never mutated after Store
}

// Registry indexes transfers by id, by position and by owning anchor.
//
// The owner groups are reconciled against the position index under the
// owner shard lock, and reads re-check every grouped id against the index,
// so a transfer is reported under an anchor only while it is registered to
// that anchor.
type Registry struct {
	ix     *spatial.Index[*Transfer]
	owners [ownerShards]ownerShard
}

func NewRegistry() *Registry {
	return &Registry{ix: spatial.New[*Transfer](positionShards)}
}

// Register places t and returns a transfer it displaced from the same
// position, if any.
func (r *Registry) Register(t *Transfer) (evicted *Transfer) {
	if t == nil {
		return nil
	}
	prev, evicted := r.ix.Put(t)
	r.afterPut(t, prev, evicted)
	return evicted
}

// Update replaces an already registered transfer.
func (r *Registry) Update(t *Transfer) bool {
	if t == nil {
		return false
	}
	prev, evicted, ok := r.ix.Replace(t)
	if !ok {
		return false
	}
	r.afterPut(t, prev, evicted)
	return true
}

func (r *Registry) afterPut(t, prev, evicted *Transfer) {
	r.syncGroup(t.AnchorID, t.ID)
	if prev != nil && prev.AnchorID != t.AnchorID {
		r.syncGroup(prev.AnchorID, prev.ID)
	}
	if evicted != nil {
		r.syncGroup(evicted.AnchorID, evicted.ID)
	}
}

func (r *Registry) Unregister(id uuid.UUID) (*Transfer, bool) {
	old, ok := r.ix.Delete(id)
	if ok {
		r.syncGroup(old.AnchorID, id)
	}
	return old, ok
}

// UnregisterByAnchor removes every transfer owned by anchorID and returns
// how many were removed.
func (r *Registry) UnregisterByAnchor(anchorID uuid.UUID) int {
	sh := r.owner(anchorID)
	sh.mu.Lock()
	sh.seq.Add(1)
	v, _ := sh.groups.LoadAndDelete(anchorID)
	sh.seq.Add(1)
	sh.mu.Unlock()

	ids, _ := v.([]uuid.UUID)
	owned := func(t *Transfer) bool { return t.AnchorID == anchorID }
	n := 0
	for _, id := range ids {
		if _, ok := r.ix.DeleteIf(id, owned); ok {
			n++
		}
		// An Update between LoadAndDelete and DeleteIf may have put id
		// back into the group.
		r.syncGroup(anchorID, id)
	}
	return n
}

// ByAnchor lists the transfers currently owned by anchorID.
func (r *Registry) ByAnchor(anchorID uuid.UUID) []*Transfer {
	ids := r.groupIDs(anchorID)
	out := make([]*Transfer, 0, len(ids))
	for _, id := range ids {
		if t, ok := r.ix.Get(id); ok && t.AnchorID == anchorID {
			out = append(out, t)
		}
	}
	return out
}

func (r *Registry) ByMode(m Mode) []*Transfer {
	var out []*Transfer
	r.ix.Range(func(t *Transfer) bool {
		if t.Mode == m {
			out = append(out, t)
		}
		return true
	})
	return out
}

func (r *Registry) Get(id uuid.UUID) (*Transfer, bool)  { return r.ix.Get(id) }
func (r *Registry) At(p position.Pos) (*Transfer, bool) { return r.ix.AtPos(p) }
func (r *Registry) AtKey(key int64) (*Transfer, bool)   { return r.ix.At(key) }
func (r *Registry) All() []*Transfer                    { return r.ix.All() }
func (r *Registry) Len() int                            { return r.ix.Len() }

func (r *Registry) Clear() {
	for i := range r.owners {
		sh := &r.owners[i]
		sh.mu.Lock()
		sh.seq.Add(1)
		sh.groups.Clear()
		sh.seq.Add(1)
		sh.mu.Unlock()
	}
	r.ix.Clear()
}

func (r *Registry) owner(anchorID uuid.UUID) *ownerShard {
	return &r.owners[int(anchorID[0]^anchorID[15])&(ownerShards-1)]
}

func (r *Registry) groupIDs(anchorID uuid.UUID) []uuid.UUID {
	sh := r.owner(anchorID)
	if seq := sh.seq.Load(); seq&1 == 0 {
		v, _ := sh.groups.Load(anchorID)
		if sh.seq.Load() == seq {
			ids, _ := v.([]uuid.UUID)
			return ids
		}
	}
	sh.mu.RLock()
	v, _ := sh.groups.Load(anchorID)
	sh.mu.RUnlock()
	ids, _ := v.([]uuid.UUID)
	return ids
}

// syncGroup makes id's membership in anchorID's group match the index.
func (r *Registry) syncGroup(anchorID, id uuid.UUID) {
	sh := r.owner(anchorID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	t, ok := r.ix.Get(id)
	member := ok && t.AnchorID == anchorID

	var cur []uuid.UUID
	if v, ok := sh.groups.Load(anchorID); ok {
		cur = v.([]uuid.UUID)
	}
	at := -1
	for i, gid := range cur {
		if gid == id {
			at = i
			break
		}
	}
	if member == (at >= 0) {
		return
	}

	sh.seq.Add(1)
	defer sh.seq.Add(1)
	if member {
		next := make([]uuid.UUID, len(cur), len(cur)+1)
		copy(next, cur)
		sh.groups.Store(anchorID, append(next, id))
		return
	}
	if len(cur) == 1 {
		sh.groups.Delete(anchorID)
		return
	}
	next := make([]uuid.UUID, 0, len(cur)-1)
	next = append(next, cur[:at]...)
	next = append(next, cur[at+1:]...)
	sh.groups.Store(anchorID, next)
}
