package network

import (
	"time"

	"github.com/google/uuid"

	"voidstorage.ai/internal/sim/adapter"
	"voidstorage.ai/internal/sim/storage"
	"voidstorage.ai/internal/sim/transfer"
	"voidstorage.ai/internal/sim/validation"
)

type TransferConfig struct {
	Interval     time.Duration // default 500ms
	Delay        time.Duration // default 1s; negative starts at once
	ItemsPerTick int64         // per transfer; default 64
}

func (c TransferConfig) withDefaults() TransferConfig {
	if c.Interval <= 0 {
		c.Interval = 500 * time.Millisecond
	}
	if c.Delay < 0 {
		c.Delay = 0
	} else if c.Delay == 0 {
		c.Delay = time.Second
	}
	if c.ItemsPerTick <= 0 {
		c.ItemsPerTick = 64
	}
	return c
}

// TransferMechanic moves items between each transfer's container and its
// anchor's ledger. Inputs pull from the container, outputs push into it.
type TransferMechanic struct {
	svc *Service
	cfg TransferConfig
}

func NewTransferMechanic(s *Service, cfg TransferConfig) *TransferMechanic {
	return &TransferMechanic{svc: s, cfg: cfg.withDefaults()}
}

func (m *TransferMechanic) ID() uuid.UUID               { return TransferMechanicID }
func (m *TransferMechanic) Name() string                { return "transfer" }
func (m *TransferMechanic) Interval() time.Duration     { return m.cfg.Interval }
func (m *TransferMechanic) InitialDelay() time.Duration { return m.cfg.Delay }

func (m *TransferMechanic) Tick(w adapter.World) error {
	if !m.svc.Owns(w) {
		return nil
	}
	for _, t := range m.svc.transfers.All() {
		if !w.ChunkLoaded(t.Pos) {
			continue
		}
		c, ok := w.ContainerAt(t.TargetPos())
		if !ok {
			continue
		}
		ledger, ok := m.svc.ledgers.Get(t.AnchorID)
		if !ok {
			continue
		}
		if t.Mode == transfer.Input {
			m.pull(t, c, ledger)
		} else {
			m.push(t, c, ledger)
		}
	}
	return nil
}

// pull moves accepted slots into the ledger. Items the ledger refuses go
// back into the container.
func (m *TransferMechanic) pull(t *transfer.Transfer, c adapter.Container, ledger *storage.Storage) int64 {
	var moved int64
	for _, slot := range c.Slots() {
		remaining := ledger.RemainingCapacity()
		if moved >= m.cfg.ItemsPerTick || remaining <= 0 {
			break
		}
		if slot.IsEmpty() || !t.Accepts(slot.ItemID) {
			continue
		}
		n := min(slot.Quantity, m.cfg.ItemsPerTick-moved, remaining)
		removed := c.RemoveFromSlot(slot.Index, n)
		if removed <= 0 {
			continue
		}
		if _, err := ledger.Deposit(slot.ItemID, removed); err != nil {
			if left := c.AddItem(slot.ItemID, removed); left > 0 {
				m.svc.cfg.Logger.Printf("ERROR transfer %s lost %d %s: %v", t.ID, left, slot.ItemID, err)
			}
			continue
		}
		moved += removed
	}
	return moved
}

// push moves accepted ledger items into the container, largest stacks
// first. Whatever the container does not take goes back to the ledger.
func (m *TransferMechanic) push(t *transfer.Transfer, c adapter.Container, ledger *storage.Storage) int64 {
	if ledger.UniqueItemCount() == 0 {
		return 0
	}
	var moved int64
	for _, it := range ledger.ItemsSorted() {
		if moved >= m.cfg.ItemsPerTick {
			break
		}
		if !t.Accepts(it.ItemID) {
			continue
		}
		n := min(it.Quantity, m.cfg.ItemsPerTick-moved)
		if !c.HasSpaceFor(it.ItemID, n) {
			if !c.HasSpaceFor(it.ItemID, 1) {
				continue
			}
			n = 1
		}
		got, err := ledger.Withdraw(it.ItemID, n)
		if err != nil || got == 0 {
			continue
		}
		left := c.AddItem(it.ItemID, got)
		if left > 0 {
			if _, err := ledger.Deposit(it.ItemID, left); err != nil {
				m.svc.cfg.Logger.Printf("ERROR transfer %s lost %d %s: %v", t.ID, left, it.ItemID, err)
			}
		}
		moved += got - left
	}
	return moved
}

type VerifyConfig struct {
	Interval time.Duration // default 1s
	Delay    time.Duration // default 2s
}

// VerifyMechanic drops anchors and transfers whose blocks are gone from a
// loaded chunk. A vanished anchor takes its ledger and transfers with it.
type VerifyMechanic struct {
	svc *Service
	cfg VerifyConfig
}

func NewVerifyMechanic(s *Service, cfg VerifyConfig) *VerifyMechanic {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 2 * time.Second
	}
	return &VerifyMechanic{svc: s, cfg: cfg}
}

func (m *VerifyMechanic) ID() uuid.UUID               { return VerifyMechanicID }
func (m *VerifyMechanic) Name() string                { return "verify" }
func (m *VerifyMechanic) Interval() time.Duration     { return m.cfg.Interval }
func (m *VerifyMechanic) InitialDelay() time.Duration { return m.cfg.Delay }

func (m *VerifyMechanic) Tick(w adapter.World) error {
	if !m.svc.Owns(w) {
		return nil
	}
	for _, a := range m.svc.anchors.All() {
		if !w.ChunkLoaded(a.Pos) || validation.StripNamespace(w.BlockAt(a.Pos)) == BlockAnchorCore {
			continue
		}
		n := m.svc.RemoveAnchor(a)
		m.svc.cfg.Logger.Printf("WARN anchor %s at %s lost its core block; removed with %d transfers", a.ID, a.Pos, n)
	}
	for _, t := range m.svc.transfers.All() {
		if !w.ChunkLoaded(t.Pos) {
			continue
		}
		switch validation.StripNamespace(w.BlockAt(t.Pos)) {
		case BlockInputTransfer, BlockOutputTransfer:
			continue
		}
		if _, ok := m.svc.transfers.Unregister(t.ID); ok {
			m.svc.cfg.Logger.Printf("WARN transfer %s at %s lost its block; removed", t.ID, t.Pos)
		}
	}
	return nil
}
