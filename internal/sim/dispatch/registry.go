package dispatch

import (
	"context"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"voidstorage.ai/internal/sim/adapter"
	"voidstorage.ai/internal/sim/interceptor"
	"voidstorage.ai/internal/sim/pool"
	"voidstorage.ai/internal/sim/result"
)

// Handler serves one kind of interaction. Handle returns a non-nil error only
// for faults; expected outcomes are expressed as Skipped or Failed results.
type Handler interface {
	ID() uuid.UUID
	Priority() int
	Handle(ic adapter.InteractionContext) (Result, error)
}

type Config struct {
	Cooldown time.Duration // per caller; default 200ms
	PoolSize int           // default 64
	Logger   *log.Logger
	Now      func() time.Time
}

// Registry routes interactions to handlers through a shared interceptor
// chain.
type Registry struct {
	cfg          Config
	handlers     sync.Map // uuid.UUID -> Handler
	lastSeen     sync.Map // caller uuid.UUID -> *atomic.Int64 unix ms
	interceptors *interceptor.Registry[*Context, Result]
	contexts     *pool.Pool[*Context]
}

func NewRegistry(cfg Config) *Registry {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 200 * time.Millisecond
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		cfg:          cfg,
		interceptors: interceptor.NewRegistry[*Context, Result](),
		contexts:     pool.New(newContext, (*Context).reset, cfg.PoolSize),
	}
}

func (r *Registry) Interceptors() *interceptor.Registry[*Context, Result] { return r.interceptors }

// Register installs h, replacing any handler with the same id.
func (r *Registry) Register(h Handler) {
	if h == nil {
		return
	}
	r.handlers.Store(h.ID(), h)
}

func (r *Registry) Unregister(id uuid.UUID) bool {
	_, ok := r.handlers.LoadAndDelete(id)
	return ok
}

func (r *Registry) Get(id uuid.UUID) (Handler, bool) {
	v, ok := r.handlers.Load(id)
	if !ok {
		return nil, false
	}
	return v.(Handler), true
}

// All returns handlers by descending priority, ties by id.
func (r *Registry) All() []Handler {
	var out []Handler
	r.handlers.Range(func(_, v any) bool {
		out = append(out, v.(Handler))
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if pi, pj := out[i].Priority(), out[j].Priority(); pi != pj {
			return pi > pj
		}
		return out[i].ID().String() < out[j].ID().String()
	})
	return out
}

func (r *Registry) Dispatch(handlerID uuid.UUID, ic adapter.InteractionContext) Result {
	return r.DispatchContext(context.Background(), handlerID, ic)
}

func (r *Registry) DispatchContext(ctx context.Context, handlerID uuid.UUID, ic adapter.InteractionContext) Result {
	h, ok := r.Get(handlerID)
	if !ok {
		return Skipped("handler not found: " + handlerID.String())
	}
	return r.dispatch(ctx, h, ic)
}

// DispatchTo runs h directly, applying the same guards as Dispatch.
func (r *Registry) DispatchTo(h Handler, ic adapter.InteractionContext) Result {
	return r.dispatch(context.Background(), h, ic)
}

func (r *Registry) dispatch(ctx context.Context, h Handler, ic adapter.InteractionContext) Result {
	if ic == nil || !ic.FirstRun() {
		return Skipped("not first run")
	}
	caller := ic.CallerID()
	if caller == uuid.Nil {
		return Skipped("no caller")
	}
	if !r.admit(caller) {
		return Skipped("rate limited")
	}

	c := r.contexts.Acquire().set(ctx, h, ic, caller)
	defer r.contexts.Release(c)

	res, err := r.interceptors.Execute(c, invoke)
	if err != nil {
		r.cfg.Logger.Printf("WARN handler %s failed for %s: %v", c.HandlerKey(), caller, err)
		return Failed(err.Error())
	}
	return res
}

// invoke is the chain terminal. A panicking handler becomes a fault error
// here, inside the chain, so interceptors still account for it.
func invoke(c *Context) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = result.Errorf(result.KindFault, "handler %s panicked: %v", c.HandlerKey(), p)
		}
	}()
	return c.handler.Handle(c.ic)
}

// admit applies the per-caller cooldown.
func (r *Registry) admit(caller uuid.UUID) bool {
	now := r.cfg.Now().UnixMilli()
	v, ok := r.lastSeen.Load(caller)
	if !ok {
		fresh := new(atomic.Int64)
		fresh.Store(now)
		var loaded bool
		if v, loaded = r.lastSeen.LoadOrStore(caller, fresh); !loaded {
			return true
		}
	}
	last := v.(*atomic.Int64)
	cooldown := r.cfg.Cooldown.Milliseconds()
	for {
		prev := last.Load()
		if now-prev < cooldown {
			return false
		}
		if last.CompareAndSwap(prev, now) {
			return true
		}
	}
}

// Cleanup forgets callers idle for longer than olderThan and returns how many
// were dropped.
func (r *Registry) Cleanup(olderThan time.Duration) int {
	cutoff := r.cfg.Now().Add(-olderThan).UnixMilli()
	n := 0
	r.lastSeen.Range(func(k, v any) bool {
		if v.(*atomic.Int64).Load() < cutoff && r.lastSeen.CompareAndDelete(k, v) {
			n++
		}
		return true
	})
	return n
}

// PooledContexts reports idle contexts held by the pool.
func (r *Registry) PooledContexts() int { return r.contexts.Size() }
