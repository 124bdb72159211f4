package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteReturnsFnResultOnSuccess(t *testing.T) {
	cb := New(DefaultConfig("test"))
	result, err := cb.Execute(context.Background(), func() (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestExecuteShortCircuitsOnCancelledContext(t *testing.T) {
	cb := New(DefaultConfig("test"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := cb.Execute(ctx, func() (any, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called, "fn must not run once ctx is already cancelled")
}

func TestDefaultConfigTripsAfterThreeConsecutiveFailuresOfFive(t *testing.T) {
	cfg := DefaultConfig("trip-test")
	assert.False(t, cfg.ReadyToTrip(gobreaker.Counts{Requests: 5, ConsecutiveFailures: 2}))
	assert.True(t, cfg.ReadyToTrip(gobreaker.Counts{Requests: 5, ConsecutiveFailures: 3}))
	assert.False(t, cfg.ReadyToTrip(gobreaker.Counts{Requests: 4, ConsecutiveFailures: 4}), "below the minimum request volume, the breaker must not trip")
}

func TestBreakerOpensAfterReadyToTripAndBlocksSubsequentCalls(t *testing.T) {
	cb := New(DefaultConfig("open-test"))
	failing := func() (any, error) { return nil, errors.New("downstream failure") }

	for i := 0; i < 5; i++ {
		_, _ = cb.Execute(context.Background(), failing)
	}

	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Execute(context.Background(), func() (any, error) { return "should not run", nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestNameIsPreserved(t *testing.T) {
	cb := New(DefaultConfig("replica-read"))
	assert.Equal(t, "replica-read", cb.Name())
}
