package memworld

import (
	"github.com/google/uuid"

	"voidstorage.ai/internal/sim/adapter"
	"voidstorage.ai/internal/sim/position"
)

// Interaction is a plain-value interaction context.
type Interaction struct {
	Caller    uuid.UUID
	Repeat    bool // host re-delivery of the same interaction
	Target    *position.Pos
	CallerPos *position.Pos
	In        adapter.World
	Inv       adapter.Inventory
	Payload   adapter.Args
}

func (i *Interaction) CallerID() uuid.UUID { return i.Caller }
func (i *Interaction) FirstRun() bool      { return !i.Repeat }

func (i *Interaction) TargetBlock() (position.Pos, bool) {
	if i.Target == nil {
		return position.Pos{}, false
	}
	return *i.Target, true
}

func (i *Interaction) CallerPosition() (position.Pos, bool) {
	if i.CallerPos == nil {
		return position.Pos{}, false
	}
	return *i.CallerPos, true
}

func (i *Interaction) World() adapter.World         { return i.In }
func (i *Interaction) Inventory() adapter.Inventory { return i.Inv }
func (i *Interaction) Args() adapter.Args           { return i.Payload }
