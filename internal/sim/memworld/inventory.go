package memworld

import (
	"maps"
	"sync"
)

// Inventory is a player inventory with one held item. Tagged items keep
// their tags only while held.
type Inventory struct {
	mu       sync.Mutex
	items    map[string]int64
	hand     string
	handTags map[string]string
}

func NewInventory() *Inventory {
	return &Inventory{items: map[string]int64{}}
}

// Hold puts itemID in the caller's hand, adding one if none is carried.
func (inv *Inventory) Hold(itemID string, tags map[string]string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.items[itemID] == 0 {
		inv.items[itemID] = 1
	}
	inv.hand = itemID
	inv.handTags = maps.Clone(tags)
}

func (inv *Inventory) ItemInHand() (string, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.hand, inv.hand != ""
}

func (inv *Inventory) Tag(key string) (string, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	v, ok := inv.handTags[key]
	return v, ok
}

func (inv *Inventory) ConsumeInHand() bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.hand == "" {
		return false
	}
	inv.items[inv.hand]--
	if inv.items[inv.hand] <= 0 {
		delete(inv.items, inv.hand)
		inv.hand, inv.handTags = "", nil
	}
	return true
}

func (inv *Inventory) Give(itemID string, n int64) bool {
	if itemID == "" || n <= 0 {
		return false
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.items[itemID] += n
	return true
}

// GiveTagged adds the item and puts it in hand with its tags.
func (inv *Inventory) GiveTagged(itemID string, n int64, tags map[string]string) bool {
	if !inv.Give(itemID, n) {
		return false
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.hand == "" {
		inv.hand = itemID
		inv.handTags = maps.Clone(tags)
	}
	return true
}

func (inv *Inventory) Take(itemID string, n int64) int64 {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	have := inv.items[itemID]
	take := min(have, max(n, 0))
	if take == 0 {
		return 0
	}
	inv.items[itemID] = have - take
	if inv.items[itemID] == 0 {
		delete(inv.items, itemID)
		if inv.hand == itemID {
			inv.hand, inv.handTags = "", nil
		}
	}
	return take
}

func (inv *Inventory) Count(itemID string) int64 {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.items[itemID]
}

func (inv *Inventory) Items() map[string]int64 {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return maps.Clone(inv.items)
}
