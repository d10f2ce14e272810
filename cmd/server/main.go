package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"voidstorage.ai/internal/platform/otel"
	"voidstorage.ai/internal/sim/tuning"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "http listen address")
		worldID     = flag.String("world", "overworld", "id of the world the storage network lives in")
		configPath  = flag.String("config", "./configs/tuning.yaml", "path to tuning.yaml (missing file means defaults)")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		disableDB   = flag.Bool("disable_db", false, "disable the sqlite index (snapshot and metrics history)")
		watchConfig = flag.Bool("watch_config", true, "reload tuning.yaml when it changes")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfgPath := strings.TrimSpace(*configPath)
	tune, err := tuning.Load(cfgPath)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	shutdownTracing, err := otel.Setup(ctx, "voidstorage-server")
	if err != nil {
		logger.Printf("WARN tracing disabled: %v", err)
	}
	defer func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = shutdownTracing(ctx2)
	}()

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}
	rt, err := newRuntime(runtimeConfig{
		DataDir:   filepath.Clean(*dataDir),
		WorldID:   strings.TrimSpace(*worldID),
		DisableDB: *disableDB,
	}, tune, logger)
	if err != nil {
		logger.Fatalf("runtime: %v", err)
	}
	if err := rt.restore(); err != nil {
		logger.Fatalf("restore: %v", err)
	}

	if *watchConfig && cfgPath != "" {
		go func() {
			if err := tuning.Watch(ctx, cfgPath, logger, rt.applyTuning); err != nil {
				logger.Printf("WARN tuning watch: %v", err)
			}
		}()
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		rt.run(ctx)
	}()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           rt.mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s world=%s data=%s", *addr, *worldID, *dataDir)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		cancel()
		<-runDone
		_ = rt.shutdown()
		logger.Fatalf("ListenAndServe: %v", err)
	}

	<-runDone
	if err := rt.shutdown(); err != nil {
		logger.Printf("ERROR final snapshot: %v", err)
		os.Exit(1)
	}
	logger.Printf("stopped")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
