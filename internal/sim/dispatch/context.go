package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"voidstorage.ai/internal/sim/adapter"
)

// Context is the pooled per-dispatch scratch value that flows through the
// interceptor chain. It is only valid until the dispatch returns; interceptors
// must not retain it.
type Context struct {
	handler Handler
	ic      adapter.InteractionContext
	caller  uuid.UUID
	ctx     context.Context
}

func newContext() *Context { return &Context{} }

func (c *Context) set(ctx context.Context, h Handler, ic adapter.InteractionContext, caller uuid.UUID) *Context {
	c.ctx, c.handler, c.ic, c.caller = ctx, h, ic, caller
	return c
}

func (c *Context) reset() {
	c.ctx, c.handler, c.ic, c.caller = nil, nil, nil, uuid.Nil
}

func (c *Context) Handler() Handler                        { return c.handler }
func (c *Context) Interaction() adapter.InteractionContext { return c.ic }
func (c *Context) CallerID() uuid.UUID                     { return c.caller }

// Context returns the request context the dispatch was started with.
func (c *Context) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

func (c *Context) SetContext(ctx context.Context) { c.ctx = ctx }

// HandlerKey identifies the handler for per-operation metrics and logs.
func (c *Context) HandlerKey() string {
	if c.handler == nil {
		return "<none>"
	}
	if n, ok := c.handler.(interface{ Name() string }); ok {
		return n.Name()
	}
	return c.handler.ID().String()
}

func (c *Context) String() string {
	return fmt.Sprintf("dispatch handler=%s caller=%s", c.HandlerKey(), c.caller)
}
