package interceptor

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

type LoggingConfig[C, R any] struct {
	SlowThreshold  time.Duration // default 100ms
	Describe       func(C) string
	DescribeResult func(R) string
	// Verbose also logs calls that finished under the threshold.
	Verbose bool
	Logger  *log.Logger
}

// Logging times the rest of the chain and flags slow or failed calls.
type Logging[C, R any] struct {
	cfg LoggingConfig[C, R]
}

func NewLogging[C, R any](cfg LoggingConfig[C, R]) *Logging[C, R] {
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = 100 * time.Millisecond
	}
	if cfg.Describe == nil {
		cfg.Describe = func(c C) string { return fmt.Sprint(c) }
	}
	if cfg.DescribeResult == nil {
		cfg.DescribeResult = func(r R) string { return fmt.Sprint(r) }
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Logging[C, R]{cfg: cfg}
}

func (l *Logging[C, R]) ID() uuid.UUID { return LoggingID }
func (l *Logging[C, R]) Priority() int { return LoggingPriority }

func (l *Logging[C, R]) Intercept(c C, chain Chain[C, R]) (r R, err error) {
	desc := l.cfg.Describe(c)
	start := time.Now()
	finished := false
	defer func() {
		if !finished {
			l.cfg.Logger.Printf("ERROR %s panicked after %s", desc, time.Since(start).Round(time.Microsecond))
		}
	}()

	r, err = chain.Proceed(c)
	finished = true
	elapsed := time.Since(start)
	switch {
	case err != nil:
		l.cfg.Logger.Printf("ERROR %s failed after %s: %v", desc, elapsed.Round(time.Microsecond), err)
	case elapsed >= l.cfg.SlowThreshold:
		l.cfg.Logger.Printf("[SLOW] %s took %s (threshold: %s) -> %s", desc, elapsed.Round(time.Microsecond), l.cfg.SlowThreshold, l.cfg.DescribeResult(r))
	case l.cfg.Verbose:
		l.cfg.Logger.Printf("%s completed in %s -> %s", desc, elapsed.Round(time.Microsecond), l.cfg.DescribeResult(r))
	}
	return r, err
}
