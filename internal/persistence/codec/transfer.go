package codec

import (
	"fmt"

	"github.com/google/uuid"

	"voidstorage.ai/internal/sim/position"
	"voidstorage.ai/internal/sim/transfer"
)

type TransferDoc struct {
	ID         string   `json:"id"`
	AnchorID   string   `json:"anchor_id"`
	Mode       string   `json:"mode"`
	Pos        [3]int   `json:"pos"`
	Filters    []string `json:"filters,omitempty"`
	FilterMode string   `json:"filter_mode,omitempty"`
	CreatedAt  int64    `json:"created_at"`
}

type TransferCodec struct{}

func (TransferCodec) Encode(t *transfer.Transfer) (TransferDoc, error) {
	return TransferDoc{
		ID:         t.ID.String(),
		AnchorID:   t.AnchorID.String(),
		Mode:       t.Mode.String(),
		Pos:        t.Pos.Array(),
		Filters:    t.Filters(),
		FilterMode: t.FilterMode.String(),
		CreatedAt:  t.CreatedAt,
	}, nil
}

// Decode accepts documents without a filter mode as whitelists.
func (TransferCodec) Decode(d TransferDoc) (*transfer.Transfer, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("transfer id: %w", err)
	}
	anchorID, err := uuid.Parse(d.AnchorID)
	if err != nil {
		return nil, fmt.Errorf("transfer %s anchor id: %w", id, err)
	}
	mode, ok := transfer.ParseMode(d.Mode)
	if !ok {
		return nil, fmt.Errorf("transfer %s: unknown mode %q", id, d.Mode)
	}
	return transfer.Restore(id, anchorID, mode, position.FromArray(d.Pos), d.Filters,
		transfer.ParseFilterMode(d.FilterMode), d.CreatedAt)
}
