// Package adapter declares the host surfaces the storage core works against.
// The core never reaches a host world, container or inventory except through
// these interfaces.
package adapter

import (
	"github.com/google/uuid"

	"voidstorage.ai/internal/sim/position"
)

type Slot struct {
	Index    int    `json:"index"`
	ItemID   string `json:"item_id"`
	Quantity int64  `json:"quantity"`
}

func (s Slot) IsEmpty() bool { return s.ItemID == "" || s.Quantity <= 0 }

type Container interface {
	// Capacity is the number of slots.
	Capacity() int
	Slot(index int) (Slot, bool)
	// Slots lists the non-empty slots.
	Slots() []Slot
	// RemoveFromSlot removes up to n items and returns the amount removed.
	RemoveFromSlot(index int, n int64) int64
	// AddItem returns the amount that did not fit.
	AddItem(itemID string, n int64) int64
	HasSpaceFor(itemID string, n int64) bool
}

type World interface {
	ID() string
	BlockAt(p position.Pos) string
	ChunkLoaded(p position.Pos) bool
	HasContainerAt(p position.Pos) bool
	PlaceBlock(p position.Pos, blockType string) bool
	BreakBlock(p position.Pos) bool
	ContainerAt(p position.Pos) (Container, bool)
}

type Inventory interface {
	ItemInHand() (string, bool)
	// Tag reads a string tag from the item in hand.
	Tag(key string) (string, bool)
	ConsumeInHand() bool
	Give(itemID string, n int64) bool
	GiveTagged(itemID string, n int64, tags map[string]string) bool
	// Take removes up to n of itemID and returns the amount removed.
	Take(itemID string, n int64) int64
	Count(itemID string) int64
}

// Args carries the request payload of an interaction. Handlers read only the
// fields they need.
type Args struct {
	ItemID   string `json:"item_id,omitempty"`
	Quantity int64  `json:"quantity,omitempty"`
	Query    string `json:"query,omitempty"`
	Action   string `json:"action,omitempty"`
}

type InteractionContext interface {
	CallerID() uuid.UUID
	// FirstRun is false for repeated host callbacks of one interaction.
	FirstRun() bool
	TargetBlock() (position.Pos, bool)
	CallerPosition() (position.Pos, bool)
	World() World
	Inventory() Inventory
	Args() Args
}

// WorldSource lists the worlds mechanics tick over.
type WorldSource interface {
	ActiveWorlds() []World
}
