package resilience

import (
	"context"

	"github.com/fixer-ai/fixer/pkg/llm"
)

// Completer wraps an [llm.Completer] with a [CircuitBreaker]. After repeated
// backend failures every Complete call fails immediately with
// [ErrCircuitOpen] until the reset timeout elapses.
type Completer struct {
	inner   llm.Completer
	breaker *CircuitBreaker
}

var _ llm.Completer = (*Completer)(nil)

// NewCompleter wraps inner with a breaker built from cfg.
func NewCompleter(inner llm.Completer, cfg CircuitBreakerConfig) *Completer {
	return &Completer{
		inner:   inner,
		breaker: NewCircuitBreaker(cfg),
	}
}

// Complete implements [llm.Completer].
func (c *Completer) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	var resp *llm.Response
	err := c.breaker.Execute(func() error {
		var innerErr error
		resp, innerErr = c.inner.Complete(ctx, req)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// State exposes the breaker state for health reporting.
func (c *Completer) State() State {
	return c.breaker.State()
}

// Ready reports nil while the breaker admits calls. It backs the daemon's
// readiness probe: an open breaker means texts cannot be answered right now.
func (c *Completer) Ready(context.Context) error {
	if c.breaker.State() == StateOpen {
		return ErrCircuitOpen
	}
	return nil
}
