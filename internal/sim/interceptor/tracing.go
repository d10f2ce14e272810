package interceptor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ContextCarrier is implemented by call contexts that carry a parent
// context.Context for span propagation.
type ContextCarrier interface {
	Context() context.Context
}

// ContextBinder is a ContextCarrier whose context can be swapped. Tracing
// binds its span's context for the rest of the chain and restores the
// previous one afterwards, so inner interceptors and the terminal see the
// span as their parent.
type ContextBinder interface {
	ContextCarrier
	SetContext(ctx context.Context)
}

type TracingConfig[C any] struct {
	// Tracer defaults to the global provider's "voidstorage" tracer.
	Tracer     trace.Tracer
	SpanName   func(C) string
	Attributes func(C) []attribute.KeyValue
}

// Tracing opens one span around the rest of the chain.
type Tracing[C, R any] struct {
	cfg TracingConfig[C]
}

func NewTracing[C, R any](cfg TracingConfig[C]) *Tracing[C, R] {
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("voidstorage")
	}
	if cfg.SpanName == nil {
		cfg.SpanName = func(c C) string { return fmt.Sprintf("%T", c) }
	}
	return &Tracing[C, R]{cfg: cfg}
}

func (t *Tracing[C, R]) ID() uuid.UUID { return TracingID }
func (t *Tracing[C, R]) Priority() int { return TracingPriority }

func (t *Tracing[C, R]) Intercept(c C, chain Chain[C, R]) (R, error) {
	parent := context.Background()
	if cc, ok := any(c).(ContextCarrier); ok {
		if ctx := cc.Context(); ctx != nil {
			parent = ctx
		}
	}
	var opts []trace.SpanStartOption
	if t.cfg.Attributes != nil {
		opts = append(opts, trace.WithAttributes(t.cfg.Attributes(c)...))
	}
	ctx, span := t.cfg.Tracer.Start(parent, t.cfg.SpanName(c), opts...)
	if b, ok := any(c).(ContextBinder); ok {
		prev := b.Context()
		b.SetContext(ctx)
		defer b.SetContext(prev)
	}
	finished := false
	defer func() {
		if !finished {
			span.SetStatus(codes.Error, "panic")
		}
		span.End()
	}()

	r, err := chain.Proceed(c)
	finished = true
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return r, err
}
