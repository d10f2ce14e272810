package storage

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// StoredItem is an immutable (item id, quantity) view of a ledger entry.
type StoredItem struct {
	ItemID   string `json:"item_id"`
	Quantity int64  `json:"quantity"`
}

func (s StoredItem) WithQuantity(q int64) StoredItem {
	if q < 0 {
		q = 0
	}
	return StoredItem{ItemID: s.ItemID, Quantity: q}
}

func (s StoredItem) Add(n int64) StoredItem { return s.WithQuantity(s.Quantity + n) }

// Subtract floors at zero.
func (s StoredItem) Subtract(n int64) StoredItem { return s.WithQuantity(s.Quantity - n) }

func (s StoredItem) IsEmpty() bool { return s.Quantity <= 0 }

func (s StoredItem) String() string {
	return fmt.Sprintf("%s x%s", s.ItemID, humanize.Comma(s.Quantity))
}
