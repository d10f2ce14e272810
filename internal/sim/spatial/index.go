package spatial

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"voidstorage.ai/internal/sim/position"
)

// Entity is anything with a stable id and a block position. Implementations
// are pointers to immutable values; updates replace the pointer.
type Entity interface {
	comparable
	EntityID() uuid.UUID
	Position() position.Pos
}

type shard struct {
	mu  sync.RWMutex
	seq atomic.Uint64 // odd while a write is in progress
	pos sync.Map      // int64 -> E
}

func (s *shard) lock() {
	s.mu.Lock()
	s.seq.Add(1)
}

func (s *shard) unlock() {
	s.seq.Add(1)
	s.mu.Unlock()
}

// Index keeps entities addressable by id and by packed position.
//
// The id map is lock-free. Position keys are spread over shards by chunk;
// every mutation of an entity happens under the lock of the shard that holds
// its current position, so id and position maps agree once a write is done.
// Position reads are optimistic and fall back to the shard read lock when a
// write raced them.
type Index[E Entity] struct {
	byID   sync.Map // uuid.UUID -> E
	shards []*shard
	mask   int
	n      atomic.Int64
}

// New creates an index with shardCount rounded up to a power of two.
func New[E Entity](shardCount int) *Index[E] {
	size := 1
	for size < shardCount {
		size <<= 1
	}
	ix := &Index[E]{shards: make([]*shard, size), mask: size - 1}
	for i := range ix.shards {
		ix.shards[i] = &shard{}
	}
	return ix
}

func (ix *Index[E]) ShardCount() int { return len(ix.shards) }

// ShardIndex hashes the chunk of p, so a whole chunk shares one shard.
func (ix *Index[E]) ShardIndex(p position.Pos) int {
	h := (p.ChunkX()*31 + p.ChunkZ()) & 0x7fffffff
	return int(h) & ix.mask
}

func (ix *Index[E]) Get(id uuid.UUID) (E, bool) {
	var zero E
	v, ok := ix.byID.Load(id)
	if !ok {
		return zero, false
	}
	return v.(E), true
}

// At returns the entity occupying key.
func (ix *Index[E]) At(key int64) (E, bool) {
	sh := ix.shards[ix.ShardIndex(position.Decode(key))]
	if seq := sh.seq.Load(); seq&1 == 0 {
		v, ok := sh.pos.Load(key)
		if sh.seq.Load() == seq {
			return cast[E](v, ok)
		}
	}
	sh.mu.RLock()
	v, ok := sh.pos.Load(key)
	sh.mu.RUnlock()
	return cast[E](v, ok)
}

func (ix *Index[E]) AtPos(p position.Pos) (E, bool) { return ix.At(p.Key()) }

// Put inserts or moves e. prev is the entity previously stored under e's id
// and evicted is a different entity that occupied e's position; both are the
// zero value when absent.
func (ix *Index[E]) Put(e E) (prev, evicted E) {
	prev, evicted, _ = ix.put(e, false)
	return prev, evicted
}

// Replace is Put restricted to ids that are already present.
func (ix *Index[E]) Replace(e E) (prev, evicted E, ok bool) {
	return ix.put(e, true)
}

func (ix *Index[E]) put(e E, mustExist bool) (prev, evicted E, ok bool) {
	var zero E
	id := e.EntityID()
	key := e.Position().Key()
	to := ix.ShardIndex(e.Position())

	for {
		var old E
		had := false
		if v, loaded := ix.byID.Load(id); loaded {
			old, had = v.(E), true
		}
		if mustExist && !had {
			return zero, zero, false
		}
		from := to
		if had {
			from = ix.ShardIndex(old.Position())
		}

		unlock := ix.lockPair(from, to)
		var claimed bool
		if had {
			claimed = ix.byID.CompareAndSwap(id, old, e)
		} else {
			_, loaded := ix.byID.LoadOrStore(id, e)
			claimed = !loaded
		}
		if !claimed {
			unlock()
			continue
		}

		dst := ix.shards[to]
		if v, occupied := dst.pos.Load(key); occupied {
			if occ := v.(E); occ.EntityID() != id {
				if ix.byID.CompareAndDelete(occ.EntityID(), occ) {
					ix.n.Add(-1)
				}
				evicted = occ
			}
		}
		dst.pos.Store(key, e)
		if had {
			if oldKey := old.Position().Key(); oldKey != key {
				ix.shards[from].pos.CompareAndDelete(oldKey, old)
			}
			prev = old
		} else {
			ix.n.Add(1)
		}
		unlock()
		return prev, evicted, true
	}
}

func (ix *Index[E]) Delete(id uuid.UUID) (E, bool) {
	return ix.DeleteIf(id, nil)
}

// DeleteIf removes id only when match is nil or reports true for the stored
// entity at the moment of removal.
func (ix *Index[E]) DeleteIf(id uuid.UUID, match func(E) bool) (E, bool) {
	var zero E
	for {
		v, ok := ix.byID.Load(id)
		if !ok {
			return zero, false
		}
		old := v.(E)
		sh := ix.shards[ix.ShardIndex(old.Position())]
		sh.lock()
		if cur, ok := ix.byID.Load(id); !ok || cur.(E) != old {
			sh.unlock()
			continue
		}
		if match != nil && !match(old) {
			sh.unlock()
			return zero, false
		}
		ix.byID.Delete(id)
		sh.pos.CompareAndDelete(old.Position().Key(), old)
		ix.n.Add(-1)
		sh.unlock()
		return old, true
	}
}

func (ix *Index[E]) All() []E {
	out := make([]E, 0, ix.Len())
	ix.byID.Range(func(_, v any) bool {
		out = append(out, v.(E))
		return true
	})
	return out
}

func (ix *Index[E]) Range(fn func(E) bool) {
	ix.byID.Range(func(_, v any) bool { return fn(v.(E)) })
}

func (ix *Index[E]) Len() int { return int(ix.n.Load()) }

func (ix *Index[E]) Clear() {
	for _, sh := range ix.shards {
		sh.lock()
	}
	for _, sh := range ix.shards {
		sh.pos.Clear()
	}
	ix.byID.Clear()
	ix.n.Store(0)
	for i := len(ix.shards) - 1; i >= 0; i-- {
		ix.shards[i].unlock()
	}
}

// lockPair write-locks shards a and b in index order.
func (ix *Index[E]) lockPair(a, b int) func() {
	if a == b {
		ix.shards[a].lock()
		return ix.shards[a].unlock
	}
	if a > b {
		a, b = b, a
	}
	first, second := ix.shards[a], ix.shards[b]
	first.lock()
	second.lock()
	return func() {
		second.unlock()
		first.unlock()
	}
}

func cast[E any](v any, ok bool) (E, bool) {
	if !ok {
		var zero E
		return zero, false
	}
	return v.(E), true
}
