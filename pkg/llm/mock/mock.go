// Package mock provides a test double for the llm.Completer interface.
//
// Use Completer in unit tests to verify that callers build correct Requests
// and to feed controlled responses without a live LLM backend. All fields are
// safe to set before calling any method; mutating them during a concurrent
// call is the caller's responsibility.
//
// Example:
//
//	c := &mock.Completer{
//	    Response: &llm.Response{Content: "Hello!"},
//	}
//	resp, err := c.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/fixer-ai/fixer/pkg/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the Request passed to Complete.
	Req llm.Request
}

// Completer is a mock implementation of llm.Completer.
// Zero values for response fields cause Complete to return zero values and
// nil errors. Set Err to inject an error.
type Completer struct {
	mu sync.Mutex

	// Response is returned by Complete. May be nil (returns nil, nil).
	Response *llm.Response

	// Responses, if non-empty, is consumed one entry per Complete call before
	// falling back to Response. Useful for multi-turn flows.
	Responses []*llm.Response

	// Err, if non-nil, is returned as the error from Complete.
	Err error

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

var _ llm.Completer = (*Completer)(nil)

// Complete implements llm.Completer.
func (c *Completer) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.CompleteCalls = append(c.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})

	if c.Err != nil {
		return nil, c.Err
	}
	if len(c.Responses) > 0 {
		resp := c.Responses[0]
		c.Responses = c.Responses[1:]
		return resp, nil
	}
	return c.Response, nil
}

// Calls returns a copy of all recorded Complete invocations.
func (c *Completer) Calls() []CompleteCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CompleteCall, len(c.CompleteCalls))
	copy(out, c.CompleteCalls)
	return out
}

// ResetCalls clears all recorded invocations.
func (c *Completer) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CompleteCalls = nil
}
