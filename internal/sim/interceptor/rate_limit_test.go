package interceptor

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newLimiter(clk *clock) (*RateLimit[string, string], *Registry[string, string]) {
	rl := NewRateLimit(RateLimitConfig[string, string]{
		Max:      5,
		Window:   time.Second,
		Key:      func(c string) string { return c },
		Rejected: func(string) string { return "rejected" },
		Logger:   quiet,
		Now:      clk.Now,
	})
	reg := NewRegistry[string, string]()
	reg.Register(rl)
	return rl, reg
}

func TestRateLimitWindow(t *testing.T) {
	clk := &clock{now: time.UnixMilli(1_000_000)}
	rl, reg := newLimiter(clk)

	for i := 0; i < 5; i++ {
		if got, _ := reg.Execute("alice", echo); got != "done:alice" {
			t.Fatalf("call %d got=%q", i, got)
		}
	}
	calls := 0
	got, err := reg.Execute("alice", func(string) (string, error) {
		calls++
		return "", nil
	})
	if got != "rejected" || err != nil || calls != 0 {
		t.Fatalf("sixth got=%q err=%v calls=%d", got, err, calls)
	}
	if rl.Count("alice") != 5 {
		t.Fatalf("count=%d", rl.Count("alice"))
	}
	if got, _ := reg.Execute("bob", echo); got != "done:bob" {
		t.Fatalf("other key limited: %q", got)
	}

	clk.Advance(time.Second)
	if got, _ := reg.Execute("alice", echo); got != "done:alice" {
		t.Fatalf("after window got=%q", got)
	}
	if rl.Count("alice") != 1 {
		t.Fatalf("count=%d after reset", rl.Count("alice"))
	}
}

func TestRateLimitCleanup(t *testing.T) {
	clk := &clock{now: time.UnixMilli(1_000_000)}
	rl, reg := newLimiter(clk)
	reg.Execute("alice", echo)
	reg.Execute("bob", echo)
	clk.Advance(1500 * time.Millisecond)
	reg.Execute("bob", echo)

	clk.Advance(1000 * time.Millisecond)
	if n := rl.Cleanup(); n != 1 {
		t.Fatalf("cleaned=%d want=1", n)
	}
	if rl.Keys() != 1 {
		t.Fatalf("keys=%d", rl.Keys())
	}
}

func TestRateLimitDefaultRejection(t *testing.T) {
	rl := NewRateLimit(RateLimitConfig[string, string]{Max: 1, Logger: quiet})
	reg := NewRegistry[string, string]()
	reg.Register(rl)
	reg.Execute("k", echo)
	if _, err := reg.Execute("k", echo); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err=%v", err)
	}
}

func TestCleanupRetiresSlotUnderInflightAcquire(t *testing.T) {
	clk := &clock{now: time.UnixMilli(1_000_000)}
	rl, reg := newLimiter(clk)
	reg.Execute("alice", echo)
	clk.Advance(3 * time.Second)

	// An acquire that loaded the slot before Cleanup ran.
	slot := rl.slot("alice")
	seen := slot.Load()
	if n := rl.Cleanup(); n != 1 {
		t.Fatalf("cleaned=%d want=1", n)
	}
	if slot.CompareAndSwap(seen, &window{start: clk.Now().UnixMilli(), count: 1}) {
		t.Fatalf("in-flight acquire counted in a dropped window")
	}
	if rl.Keys() != 0 || rl.Count("alice") != 0 {
		t.Fatalf("keys=%d count=%d", rl.Keys(), rl.Count("alice"))
	}

	for i := 0; i < 5; i++ {
		if got, _ := reg.Execute("alice", echo); got != "done:alice" {
			t.Fatalf("call %d got=%q", i, got)
		}
	}
	if got, _ := reg.Execute("alice", echo); got != "rejected" {
		t.Fatalf("sixth call in fresh window got=%q", got)
	}
}

func TestCleanupRacingAcquireNeverExceedsMax(t *testing.T) {
	for round := 0; round < 500; round++ {
		clk := &clock{now: time.UnixMilli(1_000_000)}
		rl, reg := newLimiter(clk)
		for i := 0; i < 5; i++ {
			reg.Execute("alice", echo)
		}
		clk.Advance(3 * time.Second)

		var admitted atomic.Int64
		var wg sync.WaitGroup
		start := make(chan struct{})
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if got, _ := reg.Execute("alice", echo); got == "done:alice" {
					admitted.Add(1)
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			rl.Cleanup()
		}()
		close(start)
		wg.Wait()

		if n := admitted.Load(); n > 5 {
			t.Fatalf("round %d: admitted=%d in one window want<=5", round, n)
		}
	}
}
