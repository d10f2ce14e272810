package memworld

import (
	"sync"

	"voidstorage.ai/internal/sim/adapter"
)

const DefaultStackSize int64 = 64

type Container struct {
	mu        sync.Mutex
	slots     []adapter.Slot
	stackSize int64
}

func NewContainer(slots int, stackSize int64) *Container {
	if stackSize <= 0 {
		stackSize = DefaultStackSize
	}
	c := &Container{slots: make([]adapter.Slot, slots), stackSize: stackSize}
	for i := range c.slots {
		c.slots[i].Index = i
	}
	return c
}

func (c *Container) Capacity() int { return len(c.slots) }

func (c *Container) Slot(index int) (adapter.Slot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.slots) || c.slots[index].IsEmpty() {
		return adapter.Slot{}, false
	}
	return c.slots[index], true
}

func (c *Container) Slots() []adapter.Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []adapter.Slot
	for _, s := range c.slots {
		if !s.IsEmpty() {
			out = append(out, s)
		}
	}
	return out
}

func (c *Container) RemoveFromSlot(index int, n int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 || index < 0 || index >= len(c.slots) || c.slots[index].IsEmpty() {
		return 0
	}
	s := &c.slots[index]
	take := min(n, s.Quantity)
	s.Quantity -= take
	if s.Quantity == 0 {
		s.ItemID = ""
	}
	return take
}

func (c *Container) AddItem(itemID string, n int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if itemID == "" || n <= 0 {
		return n
	}
	left := n
	for i := range c.slots {
		if left == 0 {
			break
		}
		s := &c.slots[i]
		if s.ItemID == itemID && s.Quantity < c.stackSize {
			put := min(left, c.stackSize-s.Quantity)
			s.Quantity += put
			left -= put
		}
	}
	for i := range c.slots {
		if left == 0 {
			break
		}
		s := &c.slots[i]
		if s.IsEmpty() {
			put := min(left, c.stackSize)
			s.ItemID, s.Quantity = itemID, put
			left -= put
		}
	}
	return left
}

func (c *Container) HasSpaceFor(itemID string, n int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	var room int64
	for _, s := range c.slots {
		switch {
		case s.IsEmpty():
			room += c.stackSize
		case s.ItemID == itemID:
			room += c.stackSize - s.Quantity
		}
		if room >= n {
			return true
		}
	}
	return false
}

// Count totals itemID across all slots.
func (c *Container) Count(itemID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, s := range c.slots {
		if s.ItemID == itemID {
			n += s.Quantity
		}
	}
	return n
}
