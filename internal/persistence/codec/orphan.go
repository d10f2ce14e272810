package codec

import (
	"fmt"
	"log"

	"github.com/google/uuid"

	"voidstorage.ai/internal/sim/orphan"
	"voidstorage.ai/internal/sim/storage"
)

// OrphanDoc carries the orphaned ledger's contents as well, since no
// anchor document does once the anchor is broken.
type OrphanDoc struct {
	StorageID  string           `json:"storage_id"`
	OrphanedAt int64            `json:"orphaned_at"`
	Capacity   string           `json:"capacity,omitempty"`
	Items      map[string]int64 `json:"items,omitempty"`
}

type OrphanCodec struct {
	Ledgers *storage.Registry
	Logger  *log.Logger
}

func (c OrphanCodec) Encode(o orphan.Orphan) (OrphanDoc, error) {
	d := OrphanDoc{StorageID: o.StorageID.String(), OrphanedAt: o.OrphanedAt}
	if l, ok := c.Ledgers.Get(o.StorageID); ok {
		d.Capacity = FormatCapacity(l.Capacity())
		d.Items = l.ItemsMap()
	}
	return d, nil
}

func (c OrphanCodec) Decode(d OrphanDoc) (orphan.Orphan, error) {
	id, err := uuid.Parse(d.StorageID)
	if err != nil {
		return orphan.Orphan{}, fmt.Errorf("orphan storage id: %w", err)
	}
	if d.Capacity != "" {
		capacity, err := ParseCapacity(d.Capacity)
		if err != nil {
			return orphan.Orphan{}, fmt.Errorf("orphan %s: %w", id, err)
		}
		ledger := c.Ledgers.GetOrCreate(id, capacity)
		restoreLedger(loggerOr(c.Logger), d.StorageID, ledger, d.Items)
	}
	return orphan.Orphan{StorageID: id, OrphanedAt: d.OrphanedAt}, nil
}
