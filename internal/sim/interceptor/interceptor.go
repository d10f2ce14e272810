// Package interceptor runs operations through an ordered, copy-on-write chain
// of cross-cutting policies.
package interceptor

import (
	"github.com/google/uuid"
)

// Interceptor wraps one step of an operation. Implementations call
// chain.Proceed to continue, or return without calling it to short-circuit.
type Interceptor[C, R any] interface {
	ID() uuid.UUID
	// Priority orders the chain: higher runs first (outermost).
	Priority() int
	Intercept(c C, chain Chain[C, R]) (R, error)
}

type Chain[C, R any] interface {
	Proceed(c C) (R, error)
}

// Terminal is the operation at the end of the chain.
type Terminal[C, R any] func(c C) (R, error)

// Fixed ids of the built-in interceptors.
var (
	LoggingID        = uuid.MustParse("00000000-0000-0000-0003-000000000001")
	CircuitBreakerID = uuid.MustParse("00000000-0000-0000-0003-000000000002")
	RateLimitID      = uuid.MustParse("00000000-0000-0000-0003-000000000003")
	MetricsID        = uuid.MustParse("00000000-0000-0000-0003-000000000004")
	TracingID        = uuid.MustParse("00000000-0000-0000-0003-000000000005")
	AuditID          = uuid.MustParse("00000000-0000-0000-0003-000000000006")
)

const (
	LoggingPriority        = 1000
	TracingPriority        = 975
	MetricsPriority        = 950
	CircuitBreakerPriority = 900
	RateLimitPriority      = 800
	AuditPriority          = 700
)

// cursor is one position in a captured chain. It is immutable, so an
// interceptor may call Proceed more than once.
type cursor[C, R any] struct {
	chain    []Interceptor[C, R]
	at       int
	terminal Terminal[C, R]
}

func (k cursor[C, R]) Proceed(c C) (R, error) {
	if k.at >= len(k.chain) {
		return k.terminal(c)
	}
	next := k
	next.at++
	return k.chain[k.at].Intercept(c, next)
}
