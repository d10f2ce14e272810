package codec

import (
	"fmt"
	"log"

	"github.com/google/uuid"

	"voidstorage.ai/internal/sim/anchor"
	"voidstorage.ai/internal/sim/position"
	"voidstorage.ai/internal/sim/storage"
)

// AnchorDoc is an anchor together with the contents of its ledger.
type AnchorDoc struct {
	ID              string           `json:"id"`
	Pos             [3]int           `json:"pos"`
	StorageCapacity string           `json:"storage_capacity"`
	AccessRange     int              `json:"access_range"`
	CreatedAt       int64            `json:"created_at"`
	Items           map[string]int64 `json:"items,omitempty"`
}

type AnchorCodec struct {
	Ledgers *storage.Registry
	Logger  *log.Logger
}

func (c AnchorCodec) Encode(a *anchor.Anchor) (AnchorDoc, error) {
	d := AnchorDoc{
		ID:              a.ID.String(),
		Pos:             a.Pos.Array(),
		StorageCapacity: FormatCapacity(a.StorageCapacity),
		AccessRange:     a.AccessRange,
		CreatedAt:       a.CreatedAt,
	}
	if l, ok := c.Ledgers.Get(a.ID); ok {
		d.Items = l.ItemsMap()
	}
	return d, nil
}

// Decode restores the anchor and its ledger.
func (c AnchorCodec) Decode(d AnchorDoc) (*anchor.Anchor, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("anchor id: %w", err)
	}
	capacity, err := ParseCapacity(d.StorageCapacity)
	if err != nil {
		return nil, fmt.Errorf("anchor %s: %w", id, err)
	}
	a, err := anchor.Restore(id, position.FromArray(d.Pos), capacity, d.AccessRange, d.CreatedAt)
	if err != nil {
		return nil, err
	}
	ledger := c.Ledgers.GetOrCreate(a.ID, a.StorageCapacity)
	restoreLedger(loggerOr(c.Logger), d.ID, ledger, d.Items)
	return a, nil
}
