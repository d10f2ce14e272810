package interceptor

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// OperationMetrics is an immutable snapshot of one key's counters.
type OperationMetrics struct {
	Count        int64         `json:"count"`
	Errors       int64         `json:"errors"`
	MinLatency   time.Duration `json:"min_latency_ns"`
	MaxLatency   time.Duration `json:"max_latency_ns"`
	TotalLatency time.Duration `json:"total_latency_ns"`
}

func (m OperationMetrics) Successes() int64 { return m.Count - m.Errors }

func (m OperationMetrics) ErrorRate() float64 {
	if m.Count == 0 {
		return 0
	}
	return float64(m.Errors) / float64(m.Count)
}

func (m OperationMetrics) AvgLatency() time.Duration {
	if m.Count == 0 {
		return 0
	}
	return m.TotalLatency / time.Duration(m.Count)
}

func (m OperationMetrics) String() string {
	return fmt.Sprintf("count=%d, errors=%d (%.1f%%), latency=[min=%s, avg=%s, max=%s]",
		m.Count, m.Errors, m.ErrorRate()*100, m.MinLatency, m.AvgLatency(), m.MaxLatency)
}

type counters struct {
	count atomic.Int64
	errs  atomic.Int64
	total atomic.Int64
	min   atomic.Int64
	max   atomic.Int64
}

func newCounters() *counters {
	c := &counters{}
	c.min.Store(math.MaxInt64)
	return c
}

func (c *counters) record(d time.Duration, failed bool) {
	ns := int64(d)
	c.count.Add(1)
	if failed {
		c.errs.Add(1)
	}
	c.total.Add(ns)
	for {
		cur := c.min.Load()
		if ns >= cur || c.min.CompareAndSwap(cur, ns) {
			break
		}
	}
	for {
		cur := c.max.Load()
		if ns <= cur || c.max.CompareAndSwap(cur, ns) {
			break
		}
	}
}

func (c *counters) snapshot() OperationMetrics {
	m := OperationMetrics{
		Count:        c.count.Load(),
		Errors:       c.errs.Load(),
		TotalLatency: time.Duration(c.total.Load()),
		MaxLatency:   time.Duration(c.max.Load()),
	}
	if lo := c.min.Load(); lo != math.MaxInt64 {
		m.MinLatency = time.Duration(lo)
	}
	return m
}

// Metrics keeps per-key call counts, error counts and latency bounds.
type Metrics[C, R any] struct {
	key  func(C) string
	now  func() time.Time
	keys sync.Map // string -> *counters
}

func NewMetrics[C, R any](key func(C) string) *Metrics[C, R] {
	if key == nil {
		key = func(c C) string { return fmt.Sprint(c) }
	}
	return &Metrics[C, R]{key: key, now: time.Now}
}

func (m *Metrics[C, R]) ID() uuid.UUID { return MetricsID }
func (m *Metrics[C, R]) Priority() int { return MetricsPriority }

func (m *Metrics[C, R]) Intercept(c C, chain Chain[C, R]) (R, error) {
	ctr := m.counters(m.key(c))
	start := m.now()
	return observe(c, chain, func(failed bool) {
		ctr.record(m.now().Sub(start), failed)
	})
}

func (m *Metrics[C, R]) counters(key string) *counters {
	if v, ok := m.keys.Load(key); ok {
		return v.(*counters)
	}
	v, _ := m.keys.LoadOrStore(key, newCounters())
	return v.(*counters)
}

func (m *Metrics[C, R]) Snapshot(key string) (OperationMetrics, bool) {
	v, ok := m.keys.Load(key)
	if !ok {
		return OperationMetrics{}, false
	}
	return v.(*counters).snapshot(), true
}

func (m *Metrics[C, R]) All() map[string]OperationMetrics {
	out := map[string]OperationMetrics{}
	m.keys.Range(func(k, v any) bool {
		out[k.(string)] = v.(*counters).snapshot()
		return true
	})
	return out
}

// Keys returns the recorded keys in sorted order.
func (m *Metrics[C, R]) Keys() []string {
	var out []string
	m.keys.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}

func (m *Metrics[C, R]) Reset() { m.keys.Clear() }
