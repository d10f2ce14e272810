package interceptor

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"voidstorage.ai/internal/sim/rates"
	"voidstorage.ai/internal/sim/result"
)

var ErrRateLimited = result.Errorf(result.KindPolicy, "rate limited")

type RateLimitConfig[C, R any] struct {
	Max      int           // default 5
	Window   time.Duration // default 1s
	Key      func(C) string
	Rejected func(C) R
	Logger   *log.Logger
	Now      func() time.Time
}

type window struct {
	start int64 // unix ms
	count int
}

// retired marks a slot that Cleanup is removing. A caller that finds it
// moves to a fresh slot, so no call is counted in a dropped window.
var retired = &window{}

// RateLimit admits at most Max calls per key in each fixed Window.
type RateLimit[C, R any] struct {
	cfg      RateLimitConfig[C, R]
	windowMs int64
	windows  sync.Map // string -> *atomic.Pointer[window]
}

func NewRateLimit[C, R any](cfg RateLimitConfig[C, R]) *RateLimit[C, R] {
	if cfg.Max <= 0 {
		cfg.Max = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
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
	return &RateLimit[C, R]{cfg: cfg, windowMs: cfg.Window.Milliseconds()}
}

func (rl *RateLimit[C, R]) ID() uuid.UUID { return RateLimitID }
func (rl *RateLimit[C, R]) Priority() int { return RateLimitPriority }

func (rl *RateLimit[C, R]) Intercept(c C, chain Chain[C, R]) (R, error) {
	key := rl.cfg.Key(c)
	if !rl.acquire(key) {
		if rl.cfg.Rejected != nil {
			return rl.cfg.Rejected(c), nil
		}
		var zero R
		return zero, ErrRateLimited
	}
	return chain.Proceed(c)
}

func (rl *RateLimit[C, R]) acquire(key string) bool {
	slot := rl.slot(key)
	now := rl.cfg.Now().UnixMilli()
	for {
		cur := slot.Load()
		if cur == retired {
			rl.windows.CompareAndDelete(key, slot)
			slot = rl.slot(key)
			continue
		}
		var start int64
		var count int
		if cur != nil {
			start, count = cur.start, cur.count
		}
		newStart, newCount, ok, retry := rates.Allow(now, start, count, rl.windowMs, rl.cfg.Max)
		if !ok {
			rl.cfg.Logger.Printf("rate limit exceeded for %s (%d/%d in %dms, retry in %dms)", key, count, rl.cfg.Max, rl.windowMs, retry)
			return false
		}
		if slot.CompareAndSwap(cur, &window{start: newStart, count: newCount}) {
			return true
		}
	}
}

func (rl *RateLimit[C, R]) slot(key string) *atomic.Pointer[window] {
	if v, ok := rl.windows.Load(key); ok {
		return v.(*atomic.Pointer[window])
	}
	v, _ := rl.windows.LoadOrStore(key, new(atomic.Pointer[window]))
	return v.(*atomic.Pointer[window])
}

// Count returns the calls admitted for key in its current window.
func (rl *RateLimit[C, R]) Count(key string) int {
	v, ok := rl.windows.Load(key)
	if !ok {
		return 0
	}
	cur := v.(*atomic.Pointer[window]).Load()
	if cur == nil || cur == retired || rl.cfg.Now().UnixMilli()-cur.start >= rl.windowMs {
		return 0
	}
	return cur.count
}

// Cleanup drops windows idle for more than two window lengths and returns
// how many were dropped.
func (rl *RateLimit[C, R]) Cleanup() int {
	now := rl.cfg.Now().UnixMilli()
	n := 0
	rl.windows.Range(func(k, v any) bool {
		slot := v.(*atomic.Pointer[window])
		cur := slot.Load()
		if cur == retired || (cur != nil && !rates.Stale(now, cur.start, rl.windowMs)) {
			return true
		}
		// Retire before deleting: an acquire that raced us fails its CAS
		// and retries on a fresh slot.
		if slot.CompareAndSwap(cur, retired) {
			rl.windows.CompareAndDelete(k, slot)
			n++
		}
		return true
	})
	return n
}

func (rl *RateLimit[C, R]) Keys() int {
	n := 0
	rl.windows.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
