package mechanic

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

var ErrStarted = result.Errorf(result.KindPolicy, "mechanic runner already started")

// Done is the (empty) result of a tick chain.
type Done struct{}

type Option func(*Runner)

// WithPoolSize bounds the tick context pool (default 32).
func WithPoolSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.poolSize = n
		}
	}
}

// WithNow replaces the clock stamped on tick contexts.
func WithNow(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

type entry struct {
	m Mechanic
	// cancel and done are set while the entry's loop runs.
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
	ticks   atomic.Uint64
	skipped atomic.Uint64
	faults  atomic.Uint64
}

// Stats counts what happened to one mechanic's ticks.
type Stats struct {
	Ticks   uint64 `json:"ticks"`
	Skipped uint64 `json:"skipped"`
	Faults  uint64 `json:"faults"`
}

// Runner schedules registered mechanics, each on its own goroutine. A tick
// that would overlap a still-running tick of the same mechanic is skipped.
type Runner struct {
	worlds       adapter.WorldSource
	logger       *log.Logger
	now          func() time.Time
	poolSize     int
	interceptors *interceptor.Registry[*TickContext, Done]
	ticks        *pool.Pool[*TickContext]

	mu      sync.Mutex
	entries map[uuid.UUID]*entry
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewRunner(worlds adapter.WorldSource, logger *log.Logger, opts ...Option) *Runner {
	if worlds == nil {
		panic("mechanic: nil world source")
	}
	if logger == nil {
		logger = log.Default()
	}
	r := &Runner{
		worlds:       worlds,
		logger:       logger,
		now:          time.Now,
		poolSize:     32,
		interceptors: interceptor.NewRegistry[*TickContext, Done](),
		entries:      map[uuid.UUID]*entry{},
	}
	for _, o := range opts {
		o(r)
	}
	r.ticks = pool.New(newTickContext, (*TickContext).reset, r.poolSize)
	return r
}

func (r *Runner) Interceptors() *interceptor.Registry[*TickContext, Done] { return r.interceptors }

// Register adds m, replacing a mechanic with the same id. Registration is
// closed once the runner has started.
func (r *Runner) Register(m Mechanic) error {
	if m == nil {
		return result.Errorf(result.KindValidation, "mechanic must not be nil")
	}
	if m.Interval() <= 0 {
		return result.Errorf(result.KindValidation, "mechanic %s: interval must be positive", keyOf(m))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrStarted
	}
	r.entries[m.ID()] = &entry{m: m}
	return nil
}

// Unregister removes the mechanic with id. On a running runner its loop is
// cancelled and Unregister waits for an in-flight tick before calling
// OnStop. It reports false if id was not registered.
func (r *Runner) Unregister(id uuid.UUID) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, id)
	live := r.started && !r.stopped
	r.mu.Unlock()

	if e.cancel == nil {
		return true
	}
	e.cancel()
	<-e.done
	if s, ok := e.m.(Stopper); ok && live {
		s.OnStop()
	}
	r.logger.Printf("mechanic %s unregistered", keyOf(e.m))
	return true
}

func (r *Runner) Get(id uuid.UUID) (Mechanic, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.m, true
}

func (r *Runner) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// All lists registered mechanics ordered by id.
func (r *Runner) All() []Mechanic {
	r.mu.Lock()
	out := make([]Mechanic, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.m)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID().String() < out[j].ID().String() })
	return out
}

func (r *Runner) Stats(id uuid.UUID) (Stats, bool) {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return Stats{}, false
	}
	return Stats{Ticks: e.ticks.Load(), Skipped: e.skipped.Load(), Faults: e.faults.Load()}, true
}

func (r *Runner) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// Start launches one loop per mechanic. It reports false if the runner was
// already started.
func (r *Runner) Start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return false
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(context.Background())
	for _, e := range r.entries {
		if s, ok := e.m.(Starter); ok {
			s.OnStart()
		}
		ctx, cancel := context.WithCancel(r.ctx)
		e.cancel, e.done = cancel, make(chan struct{})
		r.wg.Add(1)
		go r.loop(ctx, e)
	}
	r.logger.Printf("mechanic runner started: %d mechanics", len(r.entries))
	return true
}

// Stop cancels every schedule, waits for in-flight ticks and calls OnStop.
// It is safe to call more than once.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.cancel()
	r.mu.Unlock()

	r.wg.Wait()
	for _, m := range r.All() {
		if s, ok := m.(Stopper); ok {
			s.OnStop()
		}
	}
	r.logger.Printf("mechanic runner stopped")
}

// RunOnce ticks one mechanic now, outside its schedule. It reports false if
// the mechanic is unknown or a tick of it is already running.
func (r *Runner) RunOnce(id uuid.UUID) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	ctx := r.ctx
	r.mu.Unlock()
	if !ok {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return r.tick(ctx, e)
}

func (r *Runner) loop(ctx context.Context, e *entry) {
	defer r.wg.Done()
	defer close(e.done)

	interval := e.m.Interval()
	delay := interval
	if d, ok := e.m.(Delayer); ok && d.InitialDelay() >= 0 {
		delay = d.InitialDelay()
	}
	timer := time.NewTimer(delay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return
	case <-timer.C:
	}
	r.tick(ctx, e)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx, e)
		}
	}
}

// tick runs e over every active world while holding the mechanic's guard.
func (r *Runner) tick(ctx context.Context, e *entry) bool {
	if en, ok := e.m.(Enabler); ok && !en.Enabled() {
		return false
	}
	if !e.running.CompareAndSwap(false, true) {
		e.skipped.Add(1)
		return false
	}
	defer e.running.Store(false)

	e.ticks.Add(1)
	for _, w := range r.worlds.ActiveWorlds() {
		if ctx.Err() != nil {
			break
		}
		r.tickWorld(ctx, e, w)
	}
	return true
}

func (r *Runner) tickWorld(ctx context.Context, e *entry, w adapter.World) {
	tc := r.ticks.Acquire().set(ctx, e.m, w, r.now())
	defer r.ticks.Release(tc)

	if _, err := r.interceptors.Execute(tc, runTick); err != nil {
		e.faults.Add(1)
		r.logger.Printf("WARN mechanic %s tick in %s: %v", tc.MechanicKey(), w.ID(), err)
	}
}

// runTick is the chain terminal. A panicking mechanic becomes a fault error.
func runTick(tc *TickContext) (d Done, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = result.Errorf(result.KindFault, "mechanic %s panicked: %v", tc.MechanicKey(), p)
		}
	}()
	if err := tc.mech.Tick(tc.world); err != nil {
		return Done{}, err
	}
	return Done{}, nil
}

// PooledContexts reports idle tick contexts held by the pool.
func (r *Runner) PooledContexts() int { return r.ticks.Size() }
