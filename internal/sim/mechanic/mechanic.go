// Package mechanic runs periodic world mechanics on independent schedules.
package mechanic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"voidstorage.ai/internal/sim/adapter"
)

// Mechanic is a periodic task ticked once per active world.
type Mechanic interface {
	ID() uuid.UUID
	Interval() time.Duration
	Tick(w adapter.World) error
}

// Optional lifecycle hooks a Mechanic may implement.
type (
	Starter interface{ OnStart() }
	Stopper interface{ OnStop() }
	// Enabler is consulted before every tick.
	Enabler interface{ Enabled() bool }
	// Delayer overrides the initial delay, which defaults to the interval.
	Delayer interface{ InitialDelay() time.Duration }
)

// TickContext is the pooled value passed through the tick interceptor chain.
// It is only valid for the duration of one tick.
type TickContext struct {
	mech  Mechanic
	world adapter.World
	at    time.Time
	ctx   context.Context
}

func newTickContext() *TickContext { return &TickContext{} }

func (t *TickContext) set(ctx context.Context, m Mechanic, w adapter.World, at time.Time) *TickContext {
	t.ctx, t.mech, t.world, t.at = ctx, m, w, at
	return t
}

func (t *TickContext) reset() {
	t.ctx, t.mech, t.world, t.at = nil, nil, nil, time.Time{}
}

func (t *TickContext) Mechanic() Mechanic   { return t.mech }
func (t *TickContext) World() adapter.World { return t.world }
func (t *TickContext) At() time.Time        { return t.at }

func (t *TickContext) Context() context.Context {
	if t.ctx == nil {
		return context.Background()
	}
	return t.ctx
}

func (t *TickContext) SetContext(ctx context.Context) { t.ctx = ctx }

// MechanicKey names the mechanic for metrics and logs, preferring Name().
func (t *TickContext) MechanicKey() string {
	return keyOf(t.mech)
}

func (t *TickContext) String() string {
	w := "<none>"
	if t.world != nil {
		w = t.world.ID()
	}
	return fmt.Sprintf("tick mechanic=%s world=%s", t.MechanicKey(), w)
}

func keyOf(m Mechanic) string {
	if m == nil {
		return "<none>"
	}
	if n, ok := m.(interface{ Name() string }); ok {
		return n.Name()
	}
	return m.ID().String()
}
