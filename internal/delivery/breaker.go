package delivery

import (
	"context"

	"github.com/0xlunar/sleepy-webhooks/internal/circuitbreaker"
)

// Poster is the single-endpoint delivery operation.
type Poster interface {
	Post(ctx context.Context, req Request) Result
}

// BreakerClient short-circuits endpoints whose breaker is open. A
// short-circuited call is reported as a failed attempt carrying
// circuitbreaker.ErrCircuitOpen; it is never retried.
type BreakerClient struct {
	next    Poster
	breaker *circuitbreaker.CircuitBreaker
}

func NewBreakerClient(next Poster, breaker *circuitbreaker.CircuitBreaker) *BreakerClient {
	return &BreakerClient{next: next, breaker: breaker}
}

func (c *BreakerClient) Post(ctx context.Context, req Request) Result {
	if err := c.breaker.Allow(req.URL); err != nil {
		return Result{Error: err}
	}

	result := c.next.Post(ctx, req)
	if result.Failed() {
		c.breaker.RecordFailure(req.URL)
	} else {
		c.breaker.RecordSuccess(req.URL)
	}
	return result
}
