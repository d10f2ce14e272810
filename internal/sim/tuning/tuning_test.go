package tuning

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	d := Defaults()
	if err := d.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if d.Dispatch.Cooldown() != 200*time.Millisecond || d.Mechanics.ItemsPerTick != 64 {
		t.Fatalf("defaults=%+v", d)
	}
	if d.Orphans.Retention() != 30*24*time.Hour {
		t.Fatalf("retention=%s", d.Orphans.Retention())
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	got, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != Defaults() {
		t.Fatalf("got=%+v", got)
	}
}

func TestLoadOverlaysYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	raw := []byte("dispatch:\n  cooldown_ms: 300\n  rate_limit_max: 9\nmechanics:\n  items_per_tick: 16\n")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("VOIDSTORAGE_DISPATCH_RATE_LIMIT_MAX", "12")
	t.Setenv("VOIDSTORAGE_ANCHORS_ACCESS_RANGE", "48")

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Dispatch.CooldownMs != 300 || got.Mechanics.ItemsPerTick != 16 {
		t.Fatalf("yaml not applied: %+v", got)
	}
	if got.Dispatch.RateLimitMax != 12 || got.Anchors.AccessRange != 48 {
		t.Fatalf("env not applied: %+v", got)
	}
	if got.Dispatch.SlowThresholdMs != 100 {
		t.Fatalf("untouched field lost its default: %d", got.Dispatch.SlowThresholdMs)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	_ = os.WriteFile(bad, []byte("dispatch: [unterminated"), 0o644)
	if _, err := Load(bad); err == nil {
		t.Fatalf("malformed yaml accepted")
	}
	slow := filepath.Join(dir, "slow.yaml")
	_ = os.WriteFile(slow, []byte("mechanics:\n  transfer_interval_ms: 1\n"), 0o644)
	if _, err := Load(slow); err == nil {
		t.Fatalf("1ms interval accepted")
	}
	t.Setenv("VOIDSTORAGE_DISPATCH_COOLDOWN_MS", "not-a-number")
	if _, err := Load(""); err == nil {
		t.Fatalf("bad env accepted")
	}
}

func TestNormalizeFillsZeroes(t *testing.T) {
	var tu Tuning
	tu.Mechanics.TransferDelayMs = -5
	tu.Normalize()
	d := Defaults()
	d.Mechanics.TransferDelayMs = 0
	d.Mechanics.VerifyDelayMs = 0
	if tu != d {
		t.Fatalf("normalized=%+v", tu)
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("dispatch:\n  cooldown_ms: 200\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan Tuning, 4)
	go func() {
		_ = Watch(ctx, path, log.New(io.Discard, "", 0), func(tu Tuning) { got <- tu })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("dispatch:\n  cooldown_ms: 750\n  rate_limit_window_ms: 1000\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	select {
	case tu := <-got:
		if tu.Dispatch.CooldownMs != 750 {
			t.Fatalf("cooldown=%d want=750", tu.Dispatch.CooldownMs)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload")
	}
}

func TestShippedConfigMatchesDefaults(t *testing.T) {
	got, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != Defaults() {
		t.Fatalf("configs/tuning.yaml drifted from Defaults():\n got=%+v\nwant=%+v", got, Defaults())
	}
}
