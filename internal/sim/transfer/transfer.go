package transfer

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"voidstorage.ai/internal/sim/position"
	"voidstorage.ai/internal/sim/result"
)

type Mode uint8

const (
	// Input pulls items from the container below into the network.
	Input Mode = iota
	// Output pushes items from the network into the container below.
	Output
)

func (m Mode) String() string {
	if m == Output {
		return "output"
	}
	return "input"
}

func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(s) {
	case "input":
		return Input, true
	case "output":
		return Output, true
	}
	return Input, false
}

type FilterMode uint8

const (
	Whitelist FilterMode = iota
	Blacklist
)

func (f FilterMode) String() string {
	if f == Blacklist {
		return "blacklist"
	}
	return "whitelist"
}

func (f FilterMode) Toggle() FilterMode {
	if f == Whitelist {
		return Blacklist
	}
	return Whitelist
}

// ParseFilterMode falls back to Whitelist for unknown names.
func ParseFilterMode(s string) FilterMode {
	if strings.EqualFold(s, "blacklist") {
		return Blacklist
	}
	return Whitelist
}

// Transfer moves items between the container directly below it and the
// ledger of its owning anchor. Values are immutable.
type Transfer struct {
	ID         uuid.UUID
	AnchorID   uuid.UUID
	Mode       Mode
	Pos        position.Pos
	FilterMode FilterMode
	CreatedAt  int64 // unix ms

	filters map[string]struct{}
}

func (t *Transfer) EntityID() uuid.UUID    { return t.ID }
func (t *Transfer) Position() position.Pos { return t.Pos }

func New(anchorID uuid.UUID, mode Mode, pos position.Pos) (*Transfer, error) {
	return Restore(uuid.New(), anchorID, mode, pos, nil, Whitelist, time.Now().UnixMilli())
}

func Restore(id, anchorID uuid.UUID, mode Mode, pos position.Pos, filters []string, fm FilterMode, createdAt int64) (*Transfer, error) {
	if id == uuid.Nil {
		return nil, result.Errorf(result.KindValidation, "transfer id is required")
	}
	if anchorID == uuid.Nil {
		return nil, result.Errorf(result.KindValidation, "anchorId is required")
	}
	t := &Transfer{ID: id, AnchorID: anchorID, Mode: mode, Pos: pos, FilterMode: fm, CreatedAt: createdAt}
	t.filters = toSet(filters)
	return t, nil
}

// TargetPos is the container position the transfer works on.
func (t *Transfer) TargetPos() position.Pos { return t.Pos.Below() }

// Accepts applies the item filter. An empty whitelist accepts nothing and an
// empty blacklist accepts everything.
func (t *Transfer) Accepts(itemID string) bool {
	_, listed := t.filters[itemID]
	if t.FilterMode == Whitelist {
		return listed
	}
	return !listed
}

// Filters returns the filter entries in sorted order.
func (t *Transfer) Filters() []string {
	out := make([]string, 0, len(t.filters))
	for f := range t.filters {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (t *Transfer) HasFilter(itemID string) bool {
	_, ok := t.filters[itemID]
	return ok
}

func (t *Transfer) WithFilters(filters []string) *Transfer {
	c := *t
	c.filters = toSet(filters)
	return &c
}

func (t *Transfer) WithFilter(itemID string) *Transfer {
	if t.HasFilter(itemID) {
		return t
	}
	return t.WithFilters(append(t.Filters(), itemID))
}

func (t *Transfer) WithoutFilter(itemID string) *Transfer {
	if !t.HasFilter(itemID) {
		return t
	}
	c := *t
	c.filters = make(map[string]struct{}, len(t.filters))
	for f := range t.filters {
		if f != itemID {
			c.filters[f] = struct{}{}
		}
	}
	return &c
}

func (t *Transfer) WithFilterMode(fm FilterMode) *Transfer {
	c := *t
	c.FilterMode = fm
	return &c
}

func (t *Transfer) String() string {
	return fmt.Sprintf("Transfer[id=%s, mode=%s, pos=%s]", t.ID, t.Mode, t.Pos)
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it != "" {
			set[it] = struct{}{}
		}
	}
	return set
}
