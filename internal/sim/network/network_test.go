package network

import (
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"

	"voidstorage.ai/internal/sim/adapter"
	"voidstorage.ai/internal/sim/anchor"
	"voidstorage.ai/internal/sim/dispatch"
	"voidstorage.ai/internal/sim/memworld"
	"voidstorage.ai/internal/sim/orphan"
	"voidstorage.ai/internal/sim/position"
	"voidstorage.ai/internal/sim/result"
	"voidstorage.ai/internal/sim/storage"
	"voidstorage.ai/internal/sim/transfer"
)

type fixture struct {
	svc   *Service
	world *memworld.World
	now   time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{world: memworld.NewWorld("overworld"), now: time.UnixMilli(1_700_000_000_000)}
	cfg.Logger = log.New(io.Discard, "", 0)
	cfg.Now = func() time.Time { return f.now }
	f.svc = NewService(cfg, anchor.NewRegistry(), transfer.NewRegistry(), storage.NewRegistry(), orphan.NewRegistry(cfg.Logger))
	return f
}

func (f *fixture) interact(target *position.Pos, inv *memworld.Inventory, args adapter.Args) *memworld.Interaction {
	caller := position.Of(0, 65, 3)
	ic := &memworld.Interaction{
		Caller:    uuid.New(),
		Target:    target,
		CallerPos: &caller,
		In:        f.world,
		Payload:   args,
	}
	if inv != nil {
		ic.Inv = inv
	}
	return ic
}

func must(t *testing.T, h dispatch.Handler, ic adapter.InteractionContext) dispatch.Result {
	t.Helper()
	res, err := h.Handle(ic)
	if err != nil {
		t.Fatalf("%T: %v", h, err)
	}
	return res
}

func ptr(p position.Pos) *position.Pos { return &p }

func (f *fixture) placeAnchor(t *testing.T, ground position.Pos) *anchor.Anchor {
	t.Helper()
	inv := memworld.NewInventory()
	inv.Hold(Qualified(BlockAnchorCore), nil)
	if res := must(t, &AnchorHandler{svc: f.svc}, f.interact(ptr(ground), inv, adapter.Args{})); !res.IsSuccess() {
		t.Fatalf("place anchor: %v", res)
	}
	a, ok := f.svc.anchors.At(ground.Above())
	if !ok {
		t.Fatalf("anchor not registered above %s", ground)
	}
	return a
}

func (f *fixture) placeTransfer(t *testing.T, chest position.Pos, mode transfer.Mode, filters ...string) *transfer.Transfer {
	t.Helper()
	if res := must(t, NewTransferHandler(f.svc, mode), f.interact(ptr(chest), memworld.NewInventory(), adapter.Args{})); !res.IsSuccess() {
		t.Fatalf("place transfer: %v", res)
	}
	cfg := &TransferConfigHandler{svc: f.svc}
	for _, item := range filters {
		if res := must(t, cfg, f.interact(ptr(chest.Above()), nil, adapter.Args{Action: ActionAddFilter, ItemID: item})); !res.IsSuccess() {
			t.Fatalf("add filter %s: %v", item, res)
		}
	}
	tr, _ := f.svc.transfers.At(chest.Above())
	return tr
}

func TestAnchorPlacement(t *testing.T) {
	f := newFixture(t, Config{AnchorCapacity: 500})
	ground := position.Of(0, 64, 0)
	inv := memworld.NewInventory()
	inv.Hold(Qualified(BlockAnchorCore), nil)

	h := &AnchorHandler{svc: f.svc}
	if res := must(t, h, f.interact(ptr(ground), inv, adapter.Args{})); !res.IsSuccess() {
		t.Fatalf("got=%v", res)
	}
	a, ok := f.svc.anchors.At(ground.Above())
	if !ok {
		t.Fatalf("anchor missing")
	}
	if got := f.world.BlockAt(a.Pos); got != "voidstorage:Anomaly_Core" {
		t.Fatalf("core block=%q", got)
	}
	ledger, ok := f.svc.ledgers.Get(a.ID)
	if !ok || ledger.Capacity() != 500 {
		t.Fatalf("ledger=%v ok=%v", ledger, ok)
	}
	if _, held := inv.ItemInHand(); held {
		t.Fatalf("hand item not consumed")
	}
	if res := must(t, h, f.interact(ptr(ground), memworld.NewInventory(), adapter.Args{})); res.Reason != "Anchor already exists" {
		t.Fatalf("second placement=%v", res)
	}
	if res := must(t, h, f.interact(nil, inv, adapter.Args{})); !res.IsSkipped() {
		t.Fatalf("no target=%v", res)
	}
}

func TestAccessOpensNearestStorage(t *testing.T) {
	f := newFixture(t, Config{})
	h := &AccessHandler{svc: f.svc}
	if res := must(t, h, f.interact(nil, nil, adapter.Args{})); res.Reason != "Window opener not initialized" {
		t.Fatalf("without opener=%v", res)
	}

	var opened uuid.UUID
	f.svc.SetWindowOpener(func(_, id uuid.UUID, _ *storage.Storage) error {
		opened = id
		return nil
	})
	if res := must(t, h, f.interact(nil, nil, adapter.Args{})); res.Reason != "No storage available" {
		t.Fatalf("without anchors=%v", res)
	}

	near := f.placeAnchor(t, position.Of(0, 64, 0))
	f.placeAnchor(t, position.Of(400, 64, 0))
	if res := must(t, h, f.interact(nil, nil, adapter.Args{})); !res.IsSuccess() || opened != near.ID {
		t.Fatalf("got=%v opened=%s want=%s", res, opened, near.ID)
	}

	f.svc.SetWindowOpener(func(uuid.UUID, uuid.UUID, *storage.Storage) error { return errors.New("session closed") })
	if res := must(t, h, f.interact(nil, nil, adapter.Args{})); res.Reason != "session closed" {
		t.Fatalf("opener error=%v", res)
	}
}

func TestTransferPlacementGuards(t *testing.T) {
	f := newFixture(t, Config{})
	chest := position.Of(2, 64, 0)
	h := NewTransferHandler(f.svc, transfer.Input)

	if res := must(t, h, f.interact(ptr(chest), nil, adapter.Args{})); res.Reason != "No container below" {
		t.Fatalf("no container=%v", res)
	}
	f.world.PlaceContainer(chest, 9)
	if res := must(t, h, f.interact(ptr(chest), nil, adapter.Args{})); res.Reason != "No anchor in range" {
		t.Fatalf("no anchor=%v", res)
	}
	a := f.placeAnchor(t, position.Of(0, 64, 0))
	tr := f.placeTransfer(t, chest, transfer.Input)
	if tr == nil || tr.AnchorID != a.ID || tr.Pos != chest.Above() {
		t.Fatalf("transfer=%v", tr)
	}
	if got := f.world.BlockAt(chest.Above()); got != "voidstorage:Sigil_Absorption" {
		t.Fatalf("sigil block=%q", got)
	}
	if res := must(t, h, f.interact(ptr(chest), nil, adapter.Args{})); res.Reason != "Transfer already exists" {
		t.Fatalf("duplicate=%v", res)
	}
	if h.ID() != InputTransferHandlerID || NewTransferHandler(f.svc, transfer.Output).ID() != OutputTransferHandlerID {
		t.Fatalf("transfer handler ids")
	}
}

func TestTransferConfigActions(t *testing.T) {
	f := newFixture(t, Config{})
	chest := position.Of(2, 64, 0)
	f.world.PlaceContainer(chest, 9)
	f.placeAnchor(t, position.Of(0, 64, 0))
	f.placeTransfer(t, chest, transfer.Output, "ore", "voidstorage:gem")

	at := chest.Above()
	tr, _ := f.svc.transfers.At(at)
	if got := tr.Filters(); len(got) != 2 || got[0] != "gem" || got[1] != "ore" {
		t.Fatalf("filters=%v", got)
	}

	h := &TransferConfigHandler{svc: f.svc}
	steps := []struct {
		args adapter.Args
		want string
	}{
		{adapter.Args{Action: ActionRemoveFilter, ItemID: "gem"}, ""},
		{adapter.Args{Action: ActionToggleMode}, ""},
		{adapter.Args{Action: "explode"}, "Unknown action: explode"},
	}
	for _, s := range steps {
		res := must(t, h, f.interact(ptr(at), nil, s.args))
		if res.Reason != s.want {
			t.Fatalf("%+v => %v", s.args, res)
		}
	}
	tr, _ = f.svc.transfers.At(at)
	if tr.FilterMode != transfer.Blacklist || tr.HasFilter("gem") || !tr.HasFilter("ore") {
		t.Fatalf("transfer=%v filters=%v", tr, tr.Filters())
	}
	if res := must(t, h, f.interact(ptr(at), nil, adapter.Args{Action: ActionAddFilter, ItemID: "9bad"})); !res.IsFailed() {
		t.Fatalf("bad filter=%v", res)
	}
	if res := must(t, h, f.interact(ptr(chest), nil, adapter.Args{Action: ActionClearFilters})); !res.IsSuccess() {
		t.Fatalf("clear via container target=%v", res)
	}
	if tr, _ = f.svc.transfers.At(at); len(tr.Filters()) != 0 {
		t.Fatalf("filters not cleared: %v", tr.Filters())
	}
	if res := must(t, h, f.interact(ptr(position.Of(50, 0, 50)), nil, adapter.Args{Action: ActionClearFilters})); res.Reason != "No transfer at position" {
		t.Fatalf("missing transfer=%v", res)
	}
}

func TestInputTransferConservesItems(t *testing.T) {
	f := newFixture(t, Config{})
	chest := position.Of(2, 64, 0)
	c := f.world.PlaceContainer(chest, 9)
	c.AddItem("ore", 100)
	c.AddItem("dirt", 10)
	a := f.placeAnchor(t, position.Of(0, 64, 0))
	f.placeTransfer(t, chest, transfer.Input, "ore")
	ledger, _ := f.svc.ledgers.Get(a.ID)

	m := NewTransferMechanic(f.svc, TransferConfig{})
	if err := m.Tick(f.world); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := ledger.Quantity("ore"); got != 64 {
		t.Fatalf("after one tick ledger=%d want=64", got)
	}
	if got := c.Count("ore") + ledger.Quantity("ore"); got != 100 {
		t.Fatalf("ore total=%d want=100", got)
	}
	_ = m.Tick(f.world)
	if ledger.Quantity("ore") != 100 || c.Count("ore") != 0 || c.Count("dirt") != 10 {
		t.Fatalf("ledger=%d chest ore=%d dirt=%d", ledger.Quantity("ore"), c.Count("ore"), c.Count("dirt"))
	}
}

func TestInputTransferStopsAtLedgerCapacity(t *testing.T) {
	f := newFixture(t, Config{AnchorCapacity: 50})
	chest := position.Of(2, 64, 0)
	c := f.world.PlaceContainer(chest, 9)
	c.AddItem("ore", 100)
	a := f.placeAnchor(t, position.Of(0, 64, 0))
	f.placeTransfer(t, chest, transfer.Input, "ore")
	ledger, _ := f.svc.ledgers.Get(a.ID)

	m := NewTransferMechanic(f.svc, TransferConfig{})
	for i := 0; i < 4; i++ {
		_ = m.Tick(f.world)
	}
	if ledger.TotalItems() != 50 || c.Count("ore") != 50 {
		t.Fatalf("ledger=%d chest=%d", ledger.TotalItems(), c.Count("ore"))
	}
}

func TestOutputTransferPushesLargestFirst(t *testing.T) {
	f := newFixture(t, Config{})
	chest := position.Of(2, 64, 0)
	c := f.world.PlaceContainer(chest, 1)
	a := f.placeAnchor(t, position.Of(0, 64, 0))
	f.placeTransfer(t, chest, transfer.Output, "ore", "gem")
	ledger, _ := f.svc.ledgers.Get(a.ID)
	_, _ = ledger.Deposit("ore", 100)
	_, _ = ledger.Deposit("gem", 5)
	_, _ = ledger.Deposit("dirt", 500)

	m := NewTransferMechanic(f.svc, TransferConfig{})
	_ = m.Tick(f.world)
	if c.Count("ore") != 64 || ledger.Quantity("ore") != 36 {
		t.Fatalf("chest ore=%d ledger ore=%d", c.Count("ore"), ledger.Quantity("ore"))
	}
	// The single slot is full: nothing else fits and nothing is lost.
	_ = m.Tick(f.world)
	if c.Count("gem") != 0 || ledger.Quantity("gem") != 5 || ledger.Quantity("ore") != 36 || ledger.Quantity("dirt") != 500 {
		t.Fatalf("ledger=%v chest gem=%d", ledger.ItemsMap(), c.Count("gem"))
	}
}

func TestTransferSkipsUnloadedChunks(t *testing.T) {
	f := newFixture(t, Config{})
	chest := position.Of(2, 64, 0)
	c := f.world.PlaceContainer(chest, 9)
	c.AddItem("ore", 10)
	a := f.placeAnchor(t, position.Of(0, 64, 0))
	f.placeTransfer(t, chest, transfer.Input, "ore")
	f.world.SetChunkLoaded(chest, false)

	_ = NewTransferMechanic(f.svc, TransferConfig{}).Tick(f.world)
	ledger, _ := f.svc.ledgers.Get(a.ID)
	if ledger.TotalItems() != 0 || c.Count("ore") != 10 {
		t.Fatalf("moved items in an unloaded chunk")
	}
}

func TestMechanicsIgnoreOtherWorlds(t *testing.T) {
	f := newFixture(t, Config{World: "overworld"})
	a := f.placeAnchor(t, position.Of(0, 64, 0))
	other := memworld.NewWorld("nether")
	_ = NewVerifyMechanic(f.svc, VerifyConfig{}).Tick(other)
	if !f.svc.anchors.Exists(a.ID) {
		t.Fatalf("verify in another world removed the anchor")
	}
}

func TestBreakAnchorOrphansAndRelinks(t *testing.T) {
	f := newFixture(t, Config{})
	chest := position.Of(2, 64, 0)
	f.world.PlaceContainer(chest, 9)
	a := f.placeAnchor(t, position.Of(0, 64, 0))
	f.placeTransfer(t, chest, transfer.Input, "ore")
	ledger, _ := f.svc.ledgers.Get(a.ID)
	_, _ = ledger.Deposit("ore", 42)

	inv := memworld.NewInventory()
	res := must(t, &BreakAnchorHandler{svc: f.svc}, f.interact(ptr(a.Pos), inv, adapter.Args{}))
	if !res.IsSuccess() {
		t.Fatalf("break=%v", res)
	}
	if f.svc.anchors.Exists(a.ID) || f.svc.transfers.Len() != 0 {
		t.Fatalf("anchor or transfers left: anchors=%d transfers=%d", f.svc.anchors.Len(), f.svc.transfers.Len())
	}
	if !f.svc.ledgers.Exists(a.ID) || !f.svc.orphans.IsOrphaned(a.ID) {
		t.Fatalf("ledger should survive as an orphan")
	}
	if f.world.BlockAt(a.Pos) != "" {
		t.Fatalf("core block not broken")
	}
	essence := Qualified(ItemEssence)
	if inv.Count(essence) != 1 {
		t.Fatalf("essence not given: %v", inv.Items())
	}
	if tag, _ := inv.Tag(orphan.TagStorageID); tag != a.ID.String() {
		t.Fatalf("essence tag=%q", tag)
	}

	// The held essence relinks the same ledger somewhere else.
	ground := position.Of(30, 64, 30)
	h := &AnchorHandler{svc: f.svc}
	if res := must(t, h, f.interact(ptr(ground), inv, adapter.Args{})); !res.IsSuccess() {
		t.Fatalf("relink=%v", res)
	}
	relinked, ok := f.svc.anchors.At(ground.Above())
	if !ok || relinked.ID != a.ID {
		t.Fatalf("relinked=%v", relinked)
	}
	if f.svc.orphans.IsOrphaned(a.ID) || inv.Count(essence) != 0 {
		t.Fatalf("orphan not reclaimed or essence not consumed")
	}
	if l, _ := f.svc.ledgers.Get(a.ID); l.Quantity("ore") != 42 {
		t.Fatalf("relinked ledger lost items")
	}
}

func TestEssenceForMissingLedgerFails(t *testing.T) {
	f := newFixture(t, Config{})
	inv := memworld.NewInventory()
	inv.Hold(Qualified(ItemEssence), map[string]string{orphan.TagStorageID: uuid.NewString()})
	res := must(t, &AnchorHandler{svc: f.svc}, f.interact(ptr(position.Of(0, 64, 0)), inv, adapter.Args{}))
	if res.Reason != "Void Essence links to non-existent storage" {
		t.Fatalf("got=%v", res)
	}
	if f.svc.anchors.Len() != 0 || inv.Count(Qualified(ItemEssence)) != 1 {
		t.Fatalf("failed placement changed state")
	}
}

func TestBreakWithoutInventoryStillOrphans(t *testing.T) {
	f := newFixture(t, Config{})
	a := f.placeAnchor(t, position.Of(0, 64, 0))
	f.svc.BreakAnchor(f.world, a, nil)
	if !f.svc.orphans.IsOrphaned(a.ID) {
		t.Fatalf("not orphaned")
	}

	f.now = f.now.Add(orphan.DefaultRetention + time.Hour)
	if n := f.svc.CleanupOrphans(); n != 1 {
		t.Fatalf("cleaned=%d want=1", n)
	}
	if f.svc.ledgers.Exists(a.ID) {
		t.Fatalf("expired ledger still registered")
	}
}

func TestVerifyDropsVanishedStructures(t *testing.T) {
	f := newFixture(t, Config{})
	chestA, chestB := position.Of(2, 64, 0), position.Of(4, 64, 0)
	f.world.PlaceContainer(chestA, 9)
	f.world.PlaceContainer(chestB, 9)
	a := f.placeAnchor(t, position.Of(0, 64, 0))
	f.placeTransfer(t, chestA, transfer.Input)
	kept := f.placeTransfer(t, chestB, transfer.Output)
	m := NewVerifyMechanic(f.svc, VerifyConfig{})

	f.world.BreakBlock(chestA.Above())
	_ = m.Tick(f.world)
	if _, ok := f.svc.transfers.At(chestA.Above()); ok {
		t.Fatalf("transfer without block kept")
	}
	if _, ok := f.svc.transfers.Get(kept.ID); !ok || !f.svc.anchors.Exists(a.ID) {
		t.Fatalf("intact structures removed")
	}

	f.world.BreakBlock(a.Pos)
	f.world.SetChunkLoaded(a.Pos, false)
	_ = m.Tick(f.world)
	if !f.svc.anchors.Exists(a.ID) {
		t.Fatalf("anchor in unloaded chunk removed")
	}
	f.world.SetChunkLoaded(a.Pos, true)
	_ = m.Tick(f.world)
	if f.svc.anchors.Exists(a.ID) || f.svc.ledgers.Exists(a.ID) || f.svc.transfers.Len() != 0 {
		t.Fatalf("anchor=%v ledger=%v transfers=%d", f.svc.anchors.Exists(a.ID), f.svc.ledgers.Exists(a.ID), f.svc.transfers.Len())
	}
}

func TestDepositWithdrawHandlers(t *testing.T) {
	f := newFixture(t, Config{AnchorCapacity: 100})
	a := f.placeAnchor(t, position.Of(0, 64, 0))
	ledger, _ := f.svc.ledgers.Get(a.ID)
	inv := memworld.NewInventory()
	inv.Give("ore", 150)

	dep := &DepositHandler{svc: f.svc}
	if res := must(t, dep, f.interact(nil, inv, adapter.Args{ItemID: "ore", Quantity: 60})); !res.IsSuccess() {
		t.Fatalf("deposit=%v", res)
	}
	if res := must(t, dep, f.interact(nil, inv, adapter.Args{ItemID: "ore"})); !res.IsFailed() {
		t.Fatalf("over-capacity deposit=%v", res)
	}
	if ledger.Quantity("ore") != 60 || inv.Count("ore") != 90 {
		t.Fatalf("ledger=%d inv=%d", ledger.Quantity("ore"), inv.Count("ore"))
	}

	wd := &WithdrawHandler{svc: f.svc}
	if res := must(t, wd, f.interact(nil, inv, adapter.Args{ItemID: "voidstorage:ore", Quantity: 500})); !res.IsSuccess() {
		t.Fatalf("withdraw=%v", res)
	}
	if ledger.Quantity("ore") != 0 || inv.Count("ore") != 150 {
		t.Fatalf("ledger=%d inv=%d", ledger.Quantity("ore"), inv.Count("ore"))
	}
	if res := must(t, wd, f.interact(nil, inv, adapter.Args{ItemID: "ore", Quantity: 1})); res.Reason != "Item not in storage" {
		t.Fatalf("empty withdraw=%v", res)
	}
	if res := must(t, wd, f.interact(nil, inv, adapter.Args{ItemID: "", Quantity: 1})); !res.IsFailed() {
		t.Fatalf("invalid item=%v", res)
	}
}

func TestHandlersThroughDispatch(t *testing.T) {
	f := newFixture(t, Config{})
	reg := dispatch.NewRegistry(dispatch.Config{Logger: log.New(io.Discard, "", 0)})
	for _, h := range f.svc.Handlers() {
		reg.Register(h)
	}
	if len(reg.All()) != 8 {
		t.Fatalf("handlers=%d want=8", len(reg.All()))
	}
	inv := memworld.NewInventory()
	inv.Hold(Qualified(BlockAnchorCore), nil)
	if res := reg.Dispatch(AnchorHandlerID, f.interact(ptr(position.Of(0, 64, 0)), inv, adapter.Args{})); !res.IsSuccess() {
		t.Fatalf("dispatch anchor=%v", res)
	}
	st := f.svc.Stats()
	if st.Anchors != 1 || st.Ledgers != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestEssenceCannotTakeOverAnchoredLedger(t *testing.T) {
	f := newFixture(t, Config{})
	live := f.placeAnchor(t, position.Of(0, 64, 0))

	inv := memworld.NewInventory()
	inv.Hold(Qualified(ItemEssence), map[string]string{orphan.TagStorageID: live.ID.String()})
	res := must(t, &AnchorHandler{svc: f.svc}, f.interact(ptr(position.Of(500, 63, 500)), inv, adapter.Args{}))
	if res.IsSuccess() || res.Reason != "Void Essence links to a storage that is still anchored" {
		t.Fatalf("got=%v", res)
	}
	got, ok := f.svc.anchors.Get(live.ID)
	if !ok || got.Pos != live.Pos || f.svc.anchors.Len() != 1 {
		t.Fatalf("live anchor moved: %v", got)
	}
	if _, ok := f.svc.anchors.At(position.Of(500, 64, 500)); ok {
		t.Fatalf("forged anchor registered")
	}
	if f.world.BlockAt(position.Of(500, 64, 500)) != "" || inv.Count(Qualified(ItemEssence)) != 1 {
		t.Fatalf("refused placement changed state")
	}
}

func TestEssenceForActiveUnanchoredLedgerFails(t *testing.T) {
	f := newFixture(t, Config{})
	id := uuid.New()
	f.svc.ledgers.GetOrCreate(id, 100)

	_, err := f.svc.PlaceAnchor(f.world, position.Of(0, 65, 0), &id)
	if !result.Is(err, result.KindPolicy) || err.Error() != "Void Essence links to a storage that is not orphaned" {
		t.Fatalf("err=%v", err)
	}
	if f.svc.anchors.Len() != 0 || f.world.BlockAt(position.Of(0, 65, 0)) != "" {
		t.Fatalf("refused placement changed state")
	}
}

func TestEssenceRelinksOnlyOnce(t *testing.T) {
	f := newFixture(t, Config{})
	a := f.placeAnchor(t, position.Of(0, 64, 0))
	f.svc.BreakAnchor(f.world, a, nil)

	if _, err := f.svc.PlaceAnchor(f.world, position.Of(10, 65, 10), &a.ID); err != nil {
		t.Fatalf("first relink: %v", err)
	}
	// A copied essence is worthless once the ledger is anchored again.
	if _, err := f.svc.PlaceAnchor(f.world, position.Of(20, 65, 20), &a.ID); err == nil {
		t.Fatalf("second relink accepted")
	}
	if got, _ := f.svc.anchors.Get(a.ID); got.Pos != position.Of(10, 65, 10) {
		t.Fatalf("anchor at %s", got.Pos)
	}
}
