package tuning

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning is the server's runtime configuration. Durations are integer
// milliseconds (or seconds/hours where the field name says so).
type Tuning struct {
	Ledger      Ledger      `yaml:"ledger" envPrefix:"LEDGER_"`
	Anchors     Anchors     `yaml:"anchors" envPrefix:"ANCHORS_"`
	Dispatch    Dispatch    `yaml:"dispatch" envPrefix:"DISPATCH_"`
	Mechanics   Mechanics   `yaml:"mechanics" envPrefix:"MECHANICS_"`
	Orphans     Orphans     `yaml:"orphans" envPrefix:"ORPHANS_"`
	Persistence Persistence `yaml:"persistence" envPrefix:"PERSISTENCE_"`
}

type Ledger struct {
	DefaultCapacity    int64 `yaml:"default_capacity" env:"DEFAULT_CAPACITY"`
	MaxUniqueItems     int64 `yaml:"max_unique_items" env:"MAX_UNIQUE_ITEMS"`
	MaxQuantityPerItem int64 `yaml:"max_quantity_per_item" env:"MAX_QUANTITY_PER_ITEM"`
}

type Anchors struct {
	StorageCapacity int64 `yaml:"storage_capacity" env:"STORAGE_CAPACITY"`
	AccessRange     int   `yaml:"access_range" env:"ACCESS_RANGE"`
}

type Dispatch struct {
	CooldownMs        int  `yaml:"cooldown_ms" env:"COOLDOWN_MS"`
	ContextPoolSize   int  `yaml:"context_pool_size" env:"CONTEXT_POOL_SIZE"`
	SlowThresholdMs   int  `yaml:"slow_threshold_ms" env:"SLOW_THRESHOLD_MS"`
	Verbose           bool `yaml:"verbose" env:"VERBOSE"`
	RateLimitMax      int  `yaml:"rate_limit_max" env:"RATE_LIMIT_MAX"`
	RateLimitWindowMs int  `yaml:"rate_limit_window_ms" env:"RATE_LIMIT_WINDOW_MS"`
	BreakerThreshold  int  `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	BreakerResetMs    int  `yaml:"breaker_reset_ms" env:"BREAKER_RESET_MS"`
}

type Mechanics struct {
	TransferIntervalMs int   `yaml:"transfer_interval_ms" env:"TRANSFER_INTERVAL_MS"`
	TransferDelayMs    int   `yaml:"transfer_delay_ms" env:"TRANSFER_DELAY_MS"`
	ItemsPerTick       int64 `yaml:"items_per_tick" env:"ITEMS_PER_TICK"`
	VerifyIntervalMs   int   `yaml:"verify_interval_ms" env:"VERIFY_INTERVAL_MS"`
	VerifyDelayMs      int   `yaml:"verify_delay_ms" env:"VERIFY_DELAY_MS"`
	TickPoolSize       int   `yaml:"tick_pool_size" env:"TICK_POOL_SIZE"`
}

type Orphans struct {
	RetentionHours       int `yaml:"retention_hours" env:"RETENTION_HOURS"`
	CleanupIntervalHours int `yaml:"cleanup_interval_hours" env:"CLEANUP_INTERVAL_HOURS"`
}

type Persistence struct {
	AutosaveSeconds      int `yaml:"autosave_seconds" env:"AUTOSAVE_SECONDS"`
	MetricsFlushSeconds  int `yaml:"metrics_flush_seconds" env:"METRICS_FLUSH_SECONDS"`
	CallerCleanupSeconds int `yaml:"caller_cleanup_seconds" env:"CALLER_CLEANUP_SECONDS"`
	CallerIdleSeconds    int `yaml:"caller_idle_seconds" env:"CALLER_IDLE_SECONDS"`
}

func Defaults() Tuning {
	return Tuning{
		Ledger: Ledger{
			DefaultCapacity:    100_000,
			MaxUniqueItems:     10_000,
			MaxQuantityPerItem: 1_000_000_000,
		},
		Anchors: Anchors{
			StorageCapacity: 1_000_000_000,
			AccessRange:     math.MaxInt32,
		},
		Dispatch: Dispatch{
			CooldownMs:        200,
			ContextPoolSize:   64,
			SlowThresholdMs:   100,
			RateLimitMax:      5,
			RateLimitWindowMs: 1000,
			BreakerThreshold:  5,
			BreakerResetMs:    30_000,
		},
		Mechanics: Mechanics{
			TransferIntervalMs: 500,
			TransferDelayMs:    1000,
			ItemsPerTick:       64,
			VerifyIntervalMs:   1000,
			VerifyDelayMs:      2000,
			TickPoolSize:       32,
		},
		Orphans: Orphans{
			RetentionHours:       30 * 24,
			CleanupIntervalHours: 24,
		},
		Persistence: Persistence{
			AutosaveSeconds:      300,
			MetricsFlushSeconds:  60,
			CallerCleanupSeconds: 300,
			CallerIdleSeconds:    60,
		},
	}
}

// Load reads path over Defaults, then applies VOIDSTORAGE_* environment
// overrides. A missing file yields the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return t, err
		default:
			if t, err = Parse(raw); err != nil {
				return t, err
			}
		}
	}
	if err := ApplyEnv(&t); err != nil {
		return t, err
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Parse decodes raw YAML over Defaults without env overrides.
func Parse(raw []byte) (Tuning, error) {
	t := Defaults()
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize replaces zero values with defaults.
func (t *Tuning) Normalize() {
	d := Defaults()
	fill64 := func(v *int64, def int64) {
		if *v <= 0 {
			*v = def
		}
	}
	fill := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	fill64(&t.Ledger.DefaultCapacity, d.Ledger.DefaultCapacity)
	fill64(&t.Ledger.MaxUniqueItems, d.Ledger.MaxUniqueItems)
	fill64(&t.Ledger.MaxQuantityPerItem, d.Ledger.MaxQuantityPerItem)
	fill64(&t.Anchors.StorageCapacity, d.Anchors.StorageCapacity)
	fill(&t.Anchors.AccessRange, d.Anchors.AccessRange)
	fill(&t.Dispatch.CooldownMs, d.Dispatch.CooldownMs)
	fill(&t.Dispatch.ContextPoolSize, d.Dispatch.ContextPoolSize)
	fill(&t.Dispatch.SlowThresholdMs, d.Dispatch.SlowThresholdMs)
	fill(&t.Dispatch.RateLimitMax, d.Dispatch.RateLimitMax)
	fill(&t.Dispatch.RateLimitWindowMs, d.Dispatch.RateLimitWindowMs)
	fill(&t.Dispatch.BreakerThreshold, d.Dispatch.BreakerThreshold)
	fill(&t.Dispatch.BreakerResetMs, d.Dispatch.BreakerResetMs)
	fill(&t.Mechanics.TransferIntervalMs, d.Mechanics.TransferIntervalMs)
	fill64(&t.Mechanics.ItemsPerTick, d.Mechanics.ItemsPerTick)
	fill(&t.Mechanics.VerifyIntervalMs, d.Mechanics.VerifyIntervalMs)
	fill(&t.Mechanics.TickPoolSize, d.Mechanics.TickPoolSize)
	fill(&t.Orphans.RetentionHours, d.Orphans.RetentionHours)
	fill(&t.Orphans.CleanupIntervalHours, d.Orphans.CleanupIntervalHours)
	fill(&t.Persistence.AutosaveSeconds, d.Persistence.AutosaveSeconds)
	fill(&t.Persistence.MetricsFlushSeconds, d.Persistence.MetricsFlushSeconds)
	fill(&t.Persistence.CallerCleanupSeconds, d.Persistence.CallerCleanupSeconds)
	fill(&t.Persistence.CallerIdleSeconds, d.Persistence.CallerIdleSeconds)
	if t.Mechanics.TransferDelayMs < 0 {
		t.Mechanics.TransferDelayMs = 0
	}
	if t.Mechanics.VerifyDelayMs < 0 {
		t.Mechanics.VerifyDelayMs = 0
	}
}

func (t Tuning) Validate() error {
	if t.Ledger.MaxUniqueItems > 1_000_000 {
		return fmt.Errorf("ledger.max_unique_items %d exceeds 1000000", t.Ledger.MaxUniqueItems)
	}
	if t.Dispatch.ContextPoolSize > 4096 {
		return fmt.Errorf("dispatch.context_pool_size %d exceeds 4096", t.Dispatch.ContextPoolSize)
	}
	if t.Mechanics.TickPoolSize > 4096 {
		return fmt.Errorf("mechanics.tick_pool_size %d exceeds 4096", t.Mechanics.TickPoolSize)
	}
	if t.Mechanics.TransferIntervalMs < 10 || t.Mechanics.VerifyIntervalMs < 10 {
		return fmt.Errorf("mechanic intervals must be at least 10ms")
	}
	if t.Dispatch.RateLimitWindowMs < t.Dispatch.CooldownMs {
		return fmt.Errorf("dispatch.rate_limit_window_ms (%d) must not be shorter than cooldown_ms (%d)",
			t.Dispatch.RateLimitWindowMs, t.Dispatch.CooldownMs)
	}
	if t.Orphans.CleanupIntervalHours > t.Orphans.RetentionHours {
		return fmt.Errorf("orphans.cleanup_interval_hours exceeds retention_hours")
	}
	return nil
}

func ms(n int) time.Duration      { return time.Duration(n) * time.Millisecond }
func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
func hours(n int) time.Duration   { return time.Duration(n) * time.Hour }

func (d Dispatch) Cooldown() time.Duration        { return ms(d.CooldownMs) }
func (d Dispatch) SlowThreshold() time.Duration   { return ms(d.SlowThresholdMs) }
func (d Dispatch) RateLimitWindow() time.Duration { return ms(d.RateLimitWindowMs) }
func (d Dispatch) BreakerReset() time.Duration    { return ms(d.BreakerResetMs) }

func (m Mechanics) TransferInterval() time.Duration { return ms(m.TransferIntervalMs) }
func (m Mechanics) TransferDelay() time.Duration    { return ms(m.TransferDelayMs) }
func (m Mechanics) VerifyInterval() time.Duration   { return ms(m.VerifyIntervalMs) }
func (m Mechanics) VerifyDelay() time.Duration      { return ms(m.VerifyDelayMs) }

func (o Orphans) Retention() time.Duration       { return hours(o.RetentionHours) }
func (o Orphans) CleanupInterval() time.Duration { return hours(o.CleanupIntervalHours) }

func (p Persistence) Autosave() time.Duration      { return seconds(p.AutosaveSeconds) }
func (p Persistence) MetricsFlush() time.Duration  { return seconds(p.MetricsFlushSeconds) }
func (p Persistence) CallerCleanup() time.Duration { return seconds(p.CallerCleanupSeconds) }
func (p Persistence) CallerIdle() time.Duration    { return seconds(p.CallerIdleSeconds) }
