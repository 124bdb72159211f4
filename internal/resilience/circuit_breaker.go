// Package resilience wraps sony/gobreaker around the replica-pool read
// path: the Store reads from the primary pool when the replica ping
// fails or the breaker itself is open after consecutive failures.
// Replica lag is not part of the trip decision.
package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

type Config struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	ReadyToTrip func(counts gobreaker.Counts) bool
}

func DefaultConfig(name string) Config {
	return Config{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.ConsecutiveFailures >= 3
		},
	}
}

type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

func New(cfg Config) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: cfg.ReadyToTrip,
	}
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn protected by the breaker; ctx cancellation short-circuits
// without counting against the breaker's failure tally.
func (c *CircuitBreaker) Execute(ctx context.Context, fn func() (any, error)) (any, error) {
	return c.cb.Execute(func() (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			return fn()
		}
	})
}

func (c *CircuitBreaker) State() gobreaker.State { return c.cb.State() }

func (c *CircuitBreaker) Name() string { return c.cb.Name() }

// StateString is a small convenience for health endpoints.
func (c *CircuitBreaker) StateString() string {
	return fmt.Sprintf("%s", c.cb.State())
}
