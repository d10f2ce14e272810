package interceptor

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"voidstorage.ai/internal/sim/result"
)

type BreakerState int32

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("BreakerState(%d)", int32(s))
	}
}

// ErrCircuitOpen is returned when the breaker rejects a call and no fallback
// is configured.
var ErrCircuitOpen = result.Errorf(result.KindPolicy, "circuit open")

type BreakerConfig[C, R any] struct {
	Threshold    int           // failures before opening; default 5
	ResetTimeout time.Duration // time spent open before a probe; default 30s
	Fallback     func(C) R     // value returned while rejecting
	Key          func(C) string
	Logger       *log.Logger
	Now          func() time.Time
}

// CircuitBreaker fails fast after Threshold failures. Once ResetTimeout has
// passed, the first caller to claim the half-open state runs as the probe;
// callers arriving while the probe is in flight get the fallback. A failure
// is a non-nil error or a panic from further down the chain.
type CircuitBreaker[C, R any] struct {
	cfg      BreakerConfig[C, R]
	state    atomic.Int32
	failures atomic.Int32
	openedAt atomic.Int64 // unix nanos
}

func NewCircuitBreaker[C, R any](cfg BreakerConfig[C, R]) *CircuitBreaker[C, R] {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.Key == nil {
		cfg.Key = func(c C) string { return fmt.Sprint(c) }
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker[C, R]{cfg: cfg}
}

func (b *CircuitBreaker[C, R]) ID() uuid.UUID { return CircuitBreakerID }
func (b *CircuitBreaker[C, R]) Priority() int { return CircuitBreakerPriority }

func (b *CircuitBreaker[C, R]) State() BreakerState { return BreakerState(b.state.Load()) }
func (b *CircuitBreaker[C, R]) Failures() int       { return int(b.failures.Load()) }

func (b *CircuitBreaker[C, R]) Intercept(c C, chain Chain[C, R]) (R, error) {
	switch b.State() {
	case Open:
		if b.cfg.Now().UnixNano()-b.openedAt.Load() < int64(b.cfg.ResetTimeout) {
			return b.reject(c)
		}
		if !b.state.CompareAndSwap(int32(Open), int32(HalfOpen)) {
			return b.reject(c)
		}
		b.cfg.Logger.Printf("circuit HALF_OPEN, probing with %s", b.cfg.Key(c))
		return observe(c, chain, b.afterProbe)
	case HalfOpen:
		return b.reject(c)
	}
	return observe(c, chain, b.afterClosed)
}

func (b *CircuitBreaker[C, R]) reject(c C) (R, error) {
	if b.cfg.Fallback != nil {
		return b.cfg.Fallback(c), nil
	}
	var zero R
	return zero, ErrCircuitOpen
}

func (b *CircuitBreaker[C, R]) afterClosed(failed bool) {
	if !failed {
		return
	}
	n := b.failures.Add(1)
	if int(n) < b.cfg.Threshold {
		return
	}
	b.openedAt.Store(b.cfg.Now().UnixNano())
	if b.state.CompareAndSwap(int32(Closed), int32(Open)) {
		b.cfg.Logger.Printf("WARN circuit OPEN after %d failures", n)
	}
}

func (b *CircuitBreaker[C, R]) afterProbe(failed bool) {
	if failed {
		b.failures.Add(1)
		b.openedAt.Store(b.cfg.Now().UnixNano())
		b.state.Store(int32(Open))
		b.cfg.Logger.Printf("WARN circuit OPEN again after failed probe")
		return
	}
	b.failures.Store(0)
	b.state.Store(int32(Closed))
	b.cfg.Logger.Printf("circuit CLOSED after successful probe")
}

// observe proceeds down the chain and reports whether the call failed. A
// panic is reported as a failure and keeps unwinding.
func observe[C, R any](c C, chain Chain[C, R], done func(failed bool)) (R, error) {
	finished := false
	defer func() {
		if !finished {
			done(true)
		}
	}()
	r, err := chain.Proceed(c)
	finished = true
	done(err != nil)
	return r, err
}
