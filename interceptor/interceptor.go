// Package interceptor provides the ordered request/response middleware
// chain wrapped around every transport call.
package interceptor

import (
	"context"
	"fmt"
	"sort"
)

// Context carries one call's request, response and metadata through the
// chain. It is threaded functionally: every stage returns a new value via
// the With helpers, so concurrent executions sharing a base context cannot
// observe each other's edits.
type Context struct {
	Request  any
	Response any
	Metadata map[string]any
	Ctx      context.Context // composed abort signal, may be nil
}

// NewContext creates the base context for one call.
func NewContext(ctx context.Context, request any) *Context {
	return &Context{
		Request:  request,
		Metadata: map[string]any{},
		Ctx:      ctx,
	}
}

func (c *Context) clone() *Context {
	meta := make(map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		meta[k] = v
	}
	return &Context{
		Request:  c.Request,
		Response: c.Response,
		Metadata: meta,
		Ctx:      c.Ctx,
	}
}

// WithRequest returns a copy carrying a replaced request.
func (c *Context) WithRequest(request any) *Context {
	out := c.clone()
	out.Request = request
	return out
}

// WithResponse returns a copy carrying a replaced response.
func (c *Context) WithResponse(response any) *Context {
	out := c.clone()
	out.Response = response
	return out
}

// WithMetadata returns a copy with one metadata entry added.
func (c *Context) WithMetadata(key string, value any) *Context {
	out := c.clone()
	out.Metadata[key] = value
	return out
}

// Func is one middleware stage. It must return a non-nil context; returning
// nil is a programming error reported as *Error.
type Func func(*Context) (*Context, error)

// Interceptor bundles the two stages of one middleware. Either stage may be
// nil. Lower priority runs earlier on the request side; the chain unwinds in
// exact reverse on the response side.
type Interceptor struct {
	Name       string
	Priority   int
	OnRequest  Func
	OnResponse Func
}

type registration struct {
	Interceptor
	seq int
}

// Chain is an ordered middleware pipeline. A Chain is owned by one client
// and configured up front; Execute methods do not mutate it.
type Chain struct {
	regs []registration
}

// NewChain creates an empty chain.
func NewChain() *Chain {
	return &Chain{}
}

// Use registers an interceptor. Registration order breaks priority ties:
// earlier registration runs earlier on the request side.
func (c *Chain) Use(i Interceptor) {
	c.regs = append(c.regs, registration{Interceptor: i, seq: len(c.regs)})
}

// ordered returns registrations in request order: ascending priority,
// registration order on ties.
func (c *Chain) ordered() []registration {
	out := make([]registration, len(c.regs))
	copy(out, c.regs)
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Priority < out[b].Priority
	})
	return out
}

// ExecuteRequest runs all request stages in order. The caller's context
// value is never mutated; the returned context is whatever the final stage
// produced. Any failure wraps into *Error and aborts the remaining chain,
// as does an already-aborted signal at entry.
func (c *Chain) ExecuteRequest(ctx *Context) (*Context, error) {
	if err := entryAborted(ctx); err != nil {
		return nil, err
	}
	cur := ctx
	for _, reg := range c.ordered() {
		if reg.OnRequest == nil {
			continue
		}
		next, err := c.apply(reg, "request", reg.OnRequest, cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// ExecuteResponse runs all response stages in exact reverse of the request
// order, so the last request-stage interceptor sees the response first.
func (c *Chain) ExecuteResponse(ctx *Context) (*Context, error) {
	if err := entryAborted(ctx); err != nil {
		return nil, err
	}
	ordered := c.ordered()
	cur := ctx
	for i := len(ordered) - 1; i >= 0; i-- {
		reg := ordered[i]
		if reg.OnResponse == nil {
			continue
		}
		next, err := c.apply(reg, "response", reg.OnResponse, cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func (c *Chain) apply(reg registration, stage string, fn Func, cur *Context) (*Context, error) {
	next, err := fn(cur)
	if err != nil {
		return nil, &Error{Name: reg.Name, Stage: stage, Cause: err}
	}
	if next == nil {
		return nil, &Error{
			Name:  reg.Name,
			Stage: stage,
			Cause: fmt.Errorf("interceptor returned a nil context"),
		}
	}
	return next, nil
}

func entryAborted(ctx *Context) error {
	if ctx.Ctx == nil || ctx.Ctx.Err() == nil {
		return nil
	}
	return &Error{Stage: "entry", Cause: context.Cause(ctx.Ctx)}
}
