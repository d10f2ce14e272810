package dispatch

import (
	"log"
	"time"

	"github.com/google/uuid"

	"voidstorage.ai/internal/sim/interceptor"
)

// AuditEntry is one dispatched interaction as recorded by an AuditSink.
type AuditEntry struct {
	Time       time.Time `json:"time"`
	HandlerID  uuid.UUID `json:"handler_id"`
	Handler    string    `json:"handler"`
	CallerID   uuid.UUID `json:"caller_id"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationUS int64     `json:"duration_us"`
}

type AuditSink interface {
	WriteAudit(e AuditEntry) error
}

// Audit records every dispatch that reaches it, after the rest of the chain
// has run.
type Audit struct {
	sink   AuditSink
	logger *log.Logger
}

func NewAuditInterceptor(sink AuditSink, logger *log.Logger) *Audit {
	if logger == nil {
		logger = log.Default()
	}
	return &Audit{sink: sink, logger: logger}
}

func (a *Audit) ID() uuid.UUID { return interceptor.AuditID }
func (a *Audit) Priority() int { return interceptor.AuditPriority }

func (a *Audit) Intercept(c *Context, chain interceptor.Chain[*Context, Result]) (Result, error) {
	start := time.Now()
	res, err := chain.Proceed(c)
	if a.sink == nil {
		return res, err
	}
	e := AuditEntry{
		Time:       start.UTC(),
		HandlerID:  c.Handler().ID(),
		Handler:    c.HandlerKey(),
		CallerID:   c.CallerID(),
		Outcome:    res.Kind.String(),
		Reason:     res.Reason,
		DurationUS: time.Since(start).Microseconds(),
	}
	if err != nil {
		e.Outcome = KindFailed.String()
		e.Error = err.Error()
	}
	if werr := a.sink.WriteAudit(e); werr != nil {
		a.logger.Printf("audit write %s: %v", e.Handler, werr)
	}
	return res, err
}
