package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"voidstorage.ai/internal/persistence/codec"
	"voidstorage.ai/internal/persistence/indexdb"
	persistlog "voidstorage.ai/internal/persistence/log"
	"voidstorage.ai/internal/persistence/mirror"
	"voidstorage.ai/internal/persistence/snapshot"
	"voidstorage.ai/internal/sim/adapter"
	"voidstorage.ai/internal/sim/anchor"
	"voidstorage.ai/internal/sim/dispatch"
	"voidstorage.ai/internal/sim/housekeeping"
	"voidstorage.ai/internal/sim/interceptor"
	"voidstorage.ai/internal/sim/mechanic"
	"voidstorage.ai/internal/sim/memworld"
	"voidstorage.ai/internal/sim/network"
	"voidstorage.ai/internal/sim/orphan"
	"voidstorage.ai/internal/sim/storage"
	"voidstorage.ai/internal/sim/transfer"
	"voidstorage.ai/internal/sim/tuning"
	"voidstorage.ai/internal/transport/ws"
)

const (
	snapshotFile       = "network.json.zst"
	orphanCleanupDelay = time.Hour
	containerSlots     = 27
)

type runtimeConfig struct {
	DataDir   string
	WorldID   string
	DisableDB bool
}

type (
	dispatchLimiter = interceptor.RateLimit[*dispatch.Context, dispatch.Result]
	dispatchMetrics = interceptor.Metrics[*dispatch.Context, dispatch.Result]
	dispatchBreaker = interceptor.CircuitBreaker[*dispatch.Context, dispatch.Result]
	tickMetrics     = interceptor.Metrics[*mechanic.TickContext, mechanic.Done]
)

// serverRuntime owns every long-lived component of one server process.
type serverRuntime struct {
	cfg    runtimeConfig
	logger *log.Logger
	tune   atomic.Pointer[tuning.Tuning]

	universe *memworld.Universe
	world    *memworld.World

	anchors   *anchor.Registry
	transfers *transfer.Registry
	ledgers   *storage.Registry
	orphans   *orphan.Registry
	svc       *network.Service

	dispatcher *dispatch.Registry
	limiter    atomic.Pointer[dispatchLimiter]
	metrics    *dispatchMetrics
	breaker    *dispatchBreaker

	runner      *mechanic.Runner
	tickMetrics *tickMetrics

	store  *snapshot.Store
	mirror *mirror.Mirror
	idx    *indexdb.SQLiteIndex
	audit  *persistlog.DispatchLogger
	ws     *ws.Server
	house  *housekeeping.Scheduler

	saves atomic.Uint64
}

func newRuntime(cfg runtimeConfig, tune tuning.Tuning, logger *log.Logger) (*serverRuntime, error) {
	if cfg.WorldID == "" {
		cfg.WorldID = "overworld"
	}
	r := &serverRuntime{cfg: cfg, logger: logger}
	r.tune.Store(&tune)

	r.world = memworld.NewWorld(cfg.WorldID)
	r.universe = memworld.NewUniverse(r.world)

	r.anchors = anchor.NewRegistry()
	r.transfers = transfer.NewRegistry()
	r.ledgers = storage.NewRegistryWithLimits(tune.Ledger.DefaultCapacity, storage.Limits{
		MaxUniqueItems:     tune.Ledger.MaxUniqueItems,
		MaxQuantityPerItem: tune.Ledger.MaxQuantityPerItem,
	})
	r.orphans = orphan.NewRegistry(logger)
	r.orphans.SetRetention(tune.Orphans.Retention())
	r.svc = network.NewService(network.Config{
		AnchorCapacity: tune.Anchors.StorageCapacity,
		AccessRange:    tune.Anchors.AccessRange,
		World:          cfg.WorldID,
		Logger:         logger,
	}, r.anchors, r.transfers, r.ledgers, r.orphans)

	r.dispatcher = dispatch.NewRegistry(dispatch.Config{
		Cooldown: tune.Dispatch.Cooldown(),
		PoolSize: tune.Dispatch.ContextPoolSize,
		Logger:   logger,
	})
	for _, h := range r.svc.Handlers() {
		r.dispatcher.Register(h)
	}

	r.audit = persistlog.NewDispatchLogger(cfg.DataDir)
	r.installDispatchInterceptors(tune)

	r.runner = mechanic.NewRunner(r.universe, logger, mechanic.WithPoolSize(tune.Mechanics.TickPoolSize))
	r.tickMetrics = interceptor.NewMetrics[*mechanic.TickContext, mechanic.Done]((*mechanic.TickContext).MechanicKey)
	r.runner.Interceptors().Register(r.tickMetrics)
	r.runner.Interceptors().Register(interceptor.NewLogging(interceptor.LoggingConfig[*mechanic.TickContext, mechanic.Done]{
		SlowThreshold: tune.Dispatch.SlowThreshold(),
		Describe:      (*mechanic.TickContext).String,
		Logger:        logger,
	}))
	if err := r.runner.Register(network.NewTransferMechanic(r.svc, network.TransferConfig{
		Interval:     tune.Mechanics.TransferInterval(),
		Delay:        startDelay(tune.Mechanics.TransferDelay()),
		ItemsPerTick: tune.Mechanics.ItemsPerTick,
	})); err != nil {
		return nil, err
	}
	if err := r.runner.Register(network.NewVerifyMechanic(r.svc, network.VerifyConfig{
		Interval: tune.Mechanics.VerifyInterval(),
		Delay:    tune.Mechanics.VerifyDelay(),
	})); err != nil {
		return nil, err
	}

	store, err := snapshot.NewStore(cfg.DataDir, snapshotFile, logger)
	if err != nil {
		return nil, err
	}
	r.store = store
	snapshot.Bind[*anchor.Anchor, codec.AnchorDoc](store, "anchors",
		codec.AnchorCodec{Ledgers: r.ledgers, Logger: logger},
		r.anchors.All,
		func(a *anchor.Anchor) { r.anchors.Register(a) })
	snapshot.Bind[*transfer.Transfer, codec.TransferDoc](store, "transfers",
		codec.TransferCodec{},
		r.transfers.All,
		func(t *transfer.Transfer) { r.transfers.Register(t) })
	snapshot.Bind[orphan.Orphan, codec.OrphanDoc](store, "orphaned",
		codec.OrphanCodec{Ledgers: r.ledgers, Logger: logger},
		r.orphans.All,
		r.orphans.Register)

	mcfg, err := mirror.ConfigFromEnv()
	if err != nil {
		_ = r.audit.Close()
		return nil, err
	}
	if r.mirror, err = mirror.New(mcfg, filepath.Join(cfg.DataDir, "mirror-staging"), logger); err != nil {
		_ = r.audit.Close()
		return nil, err
	}

	if !cfg.DisableDB {
		idx, err := indexdb.OpenSQLite(filepath.Join(cfg.DataDir, "index", "voidstorage.sqlite"))
		if err != nil {
			_ = r.audit.Close()
			r.mirror.Close()
			return nil, fmt.Errorf("open index: %w", err)
		}
		r.idx = idx
	}

	r.ws = ws.NewServer(ws.Config{
		Dispatcher: r.dispatcher,
		Network:    r.svc,
		Worlds: func(id string) (adapter.World, bool) {
			w, ok := r.universe.World(id)
			if !ok {
				return nil, false
			}
			return w, true
		},
		DefaultWorld: cfg.WorldID,
		Logger:       logger,
	})

	r.house = housekeeping.New(logger)
	r.house.Add(housekeeping.Task{Name: "caller-cleanup", Every: tune.Persistence.CallerCleanup(), Run: r.cleanupCallers})
	r.house.Add(housekeeping.Task{Name: "orphan-cleanup", Every: tune.Orphans.CleanupInterval(), Delay: orphanCleanupDelay, Run: r.cleanupOrphans})
	r.house.Add(housekeeping.Task{Name: "autosave", Every: tune.Persistence.Autosave(), Run: func(context.Context) error { return r.save() }})
	if r.idx != nil {
		r.house.Add(housekeeping.Task{Name: "metrics-flush", Every: tune.Persistence.MetricsFlush(), Run: r.flushMetrics})
	}
	return r, nil
}

// startDelay maps a configured zero delay to "start at once".
func startDelay(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}

func (r *serverRuntime) installDispatchInterceptors(tune tuning.Tuning) {
	ics := r.dispatcher.Interceptors()
	ics.Register(interceptor.NewLogging(interceptor.LoggingConfig[*dispatch.Context, dispatch.Result]{
		SlowThreshold: tune.Dispatch.SlowThreshold(),
		Verbose:       tune.Dispatch.Verbose,
		Describe:      (*dispatch.Context).String,
		Logger:        r.logger,
	}))
	ics.Register(interceptor.NewTracing[*dispatch.Context, dispatch.Result](interceptor.TracingConfig[*dispatch.Context]{
		SpanName: func(c *dispatch.Context) string { return "dispatch." + c.HandlerKey() },
		Attributes: func(c *dispatch.Context) []attribute.KeyValue {
			return []attribute.KeyValue{
				attribute.String("voidstorage.handler", c.HandlerKey()),
				attribute.String("voidstorage.caller", c.CallerID().String()),
			}
		},
	}))
	r.metrics = interceptor.NewMetrics[*dispatch.Context, dispatch.Result]((*dispatch.Context).HandlerKey)
	ics.Register(r.metrics)
	r.breaker = interceptor.NewCircuitBreaker(interceptor.BreakerConfig[*dispatch.Context, dispatch.Result]{
		Threshold:    tune.Dispatch.BreakerThreshold,
		ResetTimeout: tune.Dispatch.BreakerReset(),
		Fallback:     func(*dispatch.Context) dispatch.Result { return dispatch.Failed("Circuit breaker open") },
		Key:          (*dispatch.Context).HandlerKey,
		Logger:       r.logger,
	})
	ics.Register(r.breaker)
	r.installRateLimit(tune)
	ics.Register(dispatch.NewAuditInterceptor(r.audit, r.logger))
}

// installRateLimit replaces the rate limiter in place; calls already inside
// the chain keep the limiter they started with.
func (r *serverRuntime) installRateLimit(tune tuning.Tuning) {
	rl := interceptor.NewRateLimit(interceptor.RateLimitConfig[*dispatch.Context, dispatch.Result]{
		Max:      tune.Dispatch.RateLimitMax,
		Window:   tune.Dispatch.RateLimitWindow(),
		Key:      func(c *dispatch.Context) string { return c.CallerID().String() },
		Rejected: func(*dispatch.Context) dispatch.Result { return dispatch.Skipped("Rate limited") },
		Logger:   r.logger,
	})
	r.dispatcher.Interceptors().Register(rl)
	r.limiter.Store(rl)
}

// applyTuning takes a reloaded tuning. Only the rate limit and orphan
// retention change on a running server; everything else needs a restart.
func (r *serverRuntime) applyTuning(t tuning.Tuning) {
	prev := r.tune.Swap(&t)
	if prev == nil || prev.Dispatch.RateLimitMax != t.Dispatch.RateLimitMax || prev.Dispatch.RateLimitWindowMs != t.Dispatch.RateLimitWindowMs {
		r.installRateLimit(t)
		r.logger.Printf("tuning: rate limit now %d per %s", t.Dispatch.RateLimitMax, t.Dispatch.RateLimitWindow())
	}
	r.orphans.SetRetention(t.Orphans.Retention())
}

// restore loads the snapshot and puts the network's blocks back into the
// in-memory world, which keeps nothing across restarts.
func (r *serverRuntime) restore() error {
	h, err := r.store.Load()
	if err != nil {
		return err
	}
	for _, a := range r.anchors.All() {
		r.world.PlaceBlock(a.Pos, network.Qualified(network.BlockAnchorCore))
	}
	for _, t := range r.transfers.All() {
		block := network.BlockInputTransfer
		if t.Mode == transfer.Output {
			block = network.BlockOutputTransfer
		}
		r.world.PlaceBlock(t.Pos, network.Qualified(block))
		if below := t.Pos.Below(); !r.world.HasContainerAt(below) {
			r.world.PlaceContainer(below, containerSlots)
		}
	}
	r.logger.Printf("restored anchors=%d transfers=%d orphaned=%d skipped=%d",
		h.Counts["anchors"], h.Counts["transfers"], h.Counts["orphaned"], h.Skipped)
	return nil
}

func (r *serverRuntime) save() error {
	h, err := r.store.Save()
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	r.saves.Add(1)
	r.idx.RecordSnapshot(r.store.Path(), h)
	r.mirror.Snapshot(r.store.Path(), r.cfg.WorldID, time.UnixMilli(h.SavedAt))
	return nil
}

func (r *serverRuntime) cleanupCallers(context.Context) error {
	idle := r.tune.Load().Persistence.CallerIdle()
	n := r.dispatcher.Cleanup(idle)
	if rl := r.limiter.Load(); rl != nil {
		n += rl.Cleanup()
	}
	if n > 0 {
		r.logger.Printf("cleaned up %d idle caller entries", n)
	}
	return nil
}

func (r *serverRuntime) cleanupOrphans(context.Context) error {
	if n := r.svc.CleanupOrphans(); n > 0 {
		r.logger.Printf("cleaned up %d expired orphaned storages", n)
	}
	return nil
}

func (r *serverRuntime) flushMetrics(context.Context) error {
	r.idx.RecordMetrics(time.Now(), r.metrics.All())
	return nil
}

// run starts the mechanics and housekeeping and blocks until ctx is done.
func (r *serverRuntime) run(ctx context.Context) {
	r.runner.Start()
	r.house.Run(ctx)
}

// shutdown stops the mechanics, writes a final snapshot and closes sinks.
func (r *serverRuntime) shutdown() error {
	r.runner.Stop()
	err := r.save()
	r.mirror.Close()
	if cerr := r.audit.Close(); cerr != nil {
		r.logger.Printf("WARN close audit log: %v", cerr)
	}
	if r.idx != nil {
		if cerr := r.idx.Close(); cerr != nil {
			r.logger.Printf("WARN close index: %v", cerr)
		}
	}
	return err
}

func (r *serverRuntime) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/metrics", r.writeMetrics)
	mux.HandleFunc("/v1/stats", func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(struct {
			World    string                                  `json:"world"`
			Network  network.Stats                           `json:"network"`
			Dispatch map[string]interceptor.OperationMetrics `json:"dispatch"`
			Index    indexdb.Stats                           `json:"index"`
		}{
			World:    r.cfg.WorldID,
			Network:  r.svc.Stats(),
			Dispatch: r.metrics.All(),
			Index:    r.idx.Stats(),
		})
	})
	mux.HandleFunc("/v1/ws", r.ws.Handler())
	return mux
}

func (r *serverRuntime) writeMetrics(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	world := r.cfg.WorldID
	st := r.svc.Stats()

	gauge := func(name, help string, v int64) {
		fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
		fmt.Fprintf(rw, "# TYPE %s gauge\n", name)
		fmt.Fprintf(rw, "%s{world=%q} %d\n", name, world, v)
	}
	gauge("voidstorage_anchors", "Registered anchors.", int64(st.Anchors))
	gauge("voidstorage_transfers", "Registered transfers.", int64(st.Transfers))
	gauge("voidstorage_ledgers", "Live ledgers.", int64(st.Ledgers))
	gauge("voidstorage_orphaned_ledgers", "Ledgers waiting to be relinked.", int64(st.Orphans))
	gauge("voidstorage_items", "Items held across all ledgers.", st.Items)
	gauge("voidstorage_sessions", "Connected websocket sessions.", int64(r.ws.Sessions()))
	gauge("voidstorage_breaker_state", "Dispatch circuit breaker state (0 closed, 1 open, 2 half-open).", int64(r.breaker.State()))
	gauge("voidstorage_snapshots_saved", "Snapshots saved since start.", int64(r.saves.Load()))

	ops := r.metrics.All()
	keys := make([]string, 0, len(ops))
	for k := range ops {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(rw, "# HELP voidstorage_dispatch_total Dispatches by handler and outcome.\n")
	fmt.Fprintf(rw, "# TYPE voidstorage_dispatch_total counter\n")
	for _, k := range keys {
		m := ops[k]
		fmt.Fprintf(rw, "voidstorage_dispatch_total{world=%q,handler=%q,outcome=%q} %d\n", world, k, "ok", m.Successes())
		fmt.Fprintf(rw, "voidstorage_dispatch_total{world=%q,handler=%q,outcome=%q} %d\n", world, k, "error", m.Errors)
	}
	fmt.Fprintf(rw, "# HELP voidstorage_dispatch_latency_avg_ms Mean dispatch latency.\n")
	fmt.Fprintf(rw, "# TYPE voidstorage_dispatch_latency_avg_ms gauge\n")
	for _, k := range keys {
		fmt.Fprintf(rw, "voidstorage_dispatch_latency_avg_ms{world=%q,handler=%q} %.3f\n", world, k, float64(ops[k].AvgLatency().Microseconds())/1000)
	}

	fmt.Fprintf(rw, "# HELP voidstorage_mechanic_ticks_total Mechanic ticks by outcome.\n")
	fmt.Fprintf(rw, "# TYPE voidstorage_mechanic_ticks_total counter\n")
	for _, m := range r.runner.All() {
		s, _ := r.runner.Stats(m.ID())
		name := m.ID().String()
		if n, ok := m.(interface{ Name() string }); ok {
			name = n.Name()
		}
		fmt.Fprintf(rw, "voidstorage_mechanic_ticks_total{world=%q,mechanic=%q,outcome=%q} %d\n", world, name, "run", s.Ticks)
		fmt.Fprintf(rw, "voidstorage_mechanic_ticks_total{world=%q,mechanic=%q,outcome=%q} %d\n", world, name, "skipped", s.Skipped)
		fmt.Fprintf(rw, "voidstorage_mechanic_ticks_total{world=%q,mechanic=%q,outcome=%q} %d\n", world, name, "fault", s.Faults)
	}

	if ms := r.mirror.Stats(); ms.QueueCapacity > 0 {
		gauge("voidstorage_mirror_uploaded", "Snapshots copied to the mirror bucket.", int64(ms.UploadedTotal))
		gauge("voidstorage_mirror_failed", "Snapshot mirror uploads that failed.", int64(ms.FailedTotal))
	}
	if r.idx != nil {
		is := r.idx.Stats()
		gauge("voidstorage_index_queue_depth", "Index writer backlog.", int64(is.QueueDepth))
		gauge("voidstorage_index_dropped", "Index rows dropped under backpressure.", int64(is.DropSnapshotTotal+is.DropMetricsTotal))
	}
}
