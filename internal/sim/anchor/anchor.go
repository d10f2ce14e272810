package anchor

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"voidstorage.ai/internal/sim/position"
	"voidstorage.ai/internal/sim/result"
)

const (
	DefaultStorageCapacity int64 = 1_000_000_000
	DefaultAccessRange           = math.MaxInt32
)

// Anchor is a placed access point to one storage ledger. The ledger shares
// the anchor id. Values are immutable; With* returns a modified copy.
type Anchor struct {
	ID              uuid.UUID
	Pos             position.Pos
	StorageCapacity int64
	AccessRange     int
	CreatedAt       int64 // unix ms
}

func (a *Anchor) EntityID() uuid.UUID    { return a.ID }
func (a *Anchor) Position() position.Pos { return a.Pos }

func New(pos position.Pos, capacity int64, accessRange int) (*Anchor, error) {
	return Restore(uuid.New(), pos, capacity, accessRange, time.Now().UnixMilli())
}

// NewWithID links a fresh anchor to an existing storage id, used when an
// essence restores an orphaned ledger.
func NewWithID(id uuid.UUID, pos position.Pos, capacity int64, accessRange int) (*Anchor, error) {
	return Restore(id, pos, capacity, accessRange, time.Now().UnixMilli())
}

func Restore(id uuid.UUID, pos position.Pos, capacity int64, accessRange int, createdAt int64) (*Anchor, error) {
	if id == uuid.Nil {
		return nil, result.Errorf(result.KindValidation, "anchor id is required")
	}
	if capacity <= 0 {
		return nil, result.Errorf(result.KindValidation, "storageCapacity must be positive, was %d", capacity)
	}
	if accessRange <= 0 {
		return nil, result.Errorf(result.KindValidation, "accessRange must be positive, was %d", accessRange)
	}
	return &Anchor{ID: id, Pos: pos, StorageCapacity: capacity, AccessRange: accessRange, CreatedAt: createdAt}, nil
}

func (a *Anchor) WithPos(p position.Pos) *Anchor {
	c := *a
	c.Pos = p
	return &c
}

func (a *Anchor) WithAccessRange(r int) *Anchor {
	if r <= 0 {
		return a
	}
	c := *a
	c.AccessRange = r
	return &c
}

// InRange reports whether p is within the anchor's access range.
func (a *Anchor) InRange(p position.Pos) bool {
	return a.Pos.DistanceTo(p) <= float64(a.AccessRange)
}

func (a *Anchor) String() string { return fmt.Sprintf("Anchor[id=%s, pos=%s]", a.ID, a.Pos) }
