// Package memworld is an in-memory host: worlds made of named blocks,
// slotted containers and player inventories. The server runs on it and the
// network tests drive it directly.
package memworld

import (
	"sort"
	"sync"

	"voidstorage.ai/internal/sim/adapter"
	"voidstorage.ai/internal/sim/position"
)

const BlockChest = "Chest"

type chunkKey struct{ x, z int32 }

type World struct {
	id string

	mu         sync.RWMutex
	blocks     map[position.Pos]string
	containers map[position.Pos]*Container
	unloaded   map[chunkKey]bool
}

func NewWorld(id string) *World {
	return &World{
		id:         id,
		blocks:     map[position.Pos]string{},
		containers: map[position.Pos]*Container{},
		unloaded:   map[chunkKey]bool{},
	}
}

func (w *World) ID() string { return w.id }

func (w *World) BlockAt(p position.Pos) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.blocks[p]
}

func (w *World) ChunkLoaded(p position.Pos) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return !w.unloaded[chunkKey{p.ChunkX(), p.ChunkZ()}]
}

// SetChunkLoaded marks the chunk containing p as loaded or not.
func (w *World) SetChunkLoaded(p position.Pos, loaded bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	k := chunkKey{p.ChunkX(), p.ChunkZ()}
	if loaded {
		delete(w.unloaded, k)
	} else {
		w.unloaded[k] = true
	}
}

func (w *World) HasContainerAt(p position.Pos) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.containers[p]
	return ok
}

func (w *World) PlaceBlock(p position.Pos, blockType string) bool {
	if blockType == "" {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.blocks[p] = blockType
	return true
}

func (w *World) BreakBlock(p position.Pos) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.blocks[p]; !ok {
		return false
	}
	delete(w.blocks, p)
	delete(w.containers, p)
	return true
}

func (w *World) ContainerAt(p position.Pos) (adapter.Container, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, ok := w.containers[p]
	if !ok {
		return nil, false
	}
	return c, true
}

// PlaceContainer puts a chest with the given slot count at p.
func (w *World) PlaceContainer(p position.Pos, slots int) *Container {
	c := NewContainer(slots, DefaultStackSize)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.blocks[p] = BlockChest
	w.containers[p] = c
	return c
}

// Universe is the set of loaded worlds.
type Universe struct {
	mu     sync.RWMutex
	worlds map[string]*World
}

func NewUniverse(worlds ...*World) *Universe {
	u := &Universe{worlds: map[string]*World{}}
	for _, w := range worlds {
		u.worlds[w.ID()] = w
	}
	return u
}

func (u *Universe) Add(w *World) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.worlds[w.ID()] = w
}

func (u *Universe) Remove(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.worlds, id)
}

func (u *Universe) World(id string) (*World, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	w, ok := u.worlds[id]
	return w, ok
}

// ActiveWorlds returns the worlds ordered by id.
func (u *Universe) ActiveWorlds() []adapter.World {
	u.mu.RLock()
	ids := make([]string, 0, len(u.worlds))
	for id := range u.worlds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]adapter.World, 0, len(ids))
	for _, id := range ids {
		out = append(out, u.worlds[id])
	}
	u.mu.RUnlock()
	return out
}
