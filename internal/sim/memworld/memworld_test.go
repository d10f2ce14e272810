package memworld

import (
	"testing"

	"voidstorage.ai/internal/sim/position"
)

func TestContainerStacks(t *testing.T) {
	c := NewContainer(2, 10)
	if left := c.AddItem("ore", 15); left != 0 {
		t.Fatalf("left=%d", left)
	}
	if left := c.AddItem("coal", 3); left != 3 {
		t.Fatalf("full container accepted coal, left=%d", left)
	}
	if !c.HasSpaceFor("ore", 5) || c.HasSpaceFor("ore", 6) {
		t.Fatalf("space check wrong")
	}
	slots := c.Slots()
	if len(slots) != 2 || slots[0].Quantity != 10 || slots[1].Quantity != 5 {
		t.Fatalf("slots=%v", slots)
	}
	if got := c.RemoveFromSlot(1, 100); got != 5 {
		t.Fatalf("removed=%d", got)
	}
	if _, ok := c.Slot(1); ok {
		t.Fatalf("emptied slot still reported")
	}
	if c.Count("ore") != 10 {
		t.Fatalf("count=%d", c.Count("ore"))
	}
}

func TestWorldBlocksAndChunks(t *testing.T) {
	w := NewWorld("overworld")
	p := position.Of(20, 64, -20)
	w.PlaceContainer(p, 9)
	if !w.HasContainerAt(p) || w.BlockAt(p) != BlockChest {
		t.Fatalf("container not placed")
	}
	w.SetChunkLoaded(p, false)
	if w.ChunkLoaded(p) || !w.ChunkLoaded(position.Of(0, 0, 0)) {
		t.Fatalf("chunk load state wrong")
	}
	if !w.BreakBlock(p) || w.HasContainerAt(p) || w.BreakBlock(p) {
		t.Fatalf("break block")
	}
}

func TestInventoryHandAndTags(t *testing.T) {
	inv := NewInventory()
	inv.Hold("Void_Essence", map[string]string{"k": "v"})
	if v, ok := inv.Tag("k"); !ok || v != "v" {
		t.Fatalf("tag=%q", v)
	}
	if !inv.ConsumeInHand() {
		t.Fatalf("consume failed")
	}
	if _, ok := inv.ItemInHand(); ok {
		t.Fatalf("hand should be empty")
	}
	inv.Give("ore", 5)
	if got := inv.Take("ore", 9); got != 5 || inv.Count("ore") != 0 {
		t.Fatalf("take=%d", got)
	}
}

func TestUniverseOrdersWorlds(t *testing.T) {
	u := NewUniverse(NewWorld("b"), NewWorld("a"))
	ws := u.ActiveWorlds()
	if len(ws) != 2 || ws[0].ID() != "a" {
		t.Fatalf("worlds=%v", ws)
	}
	u.Remove("a")
	if _, ok := u.World("a"); ok || len(u.ActiveWorlds()) != 1 {
		t.Fatalf("remove failed")
	}
}
