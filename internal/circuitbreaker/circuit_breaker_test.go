package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream 502")

func newTestBreaker(now *time.Time) *CircuitBreaker {
	cb := NewCircuitBreaker(&Config{
		Name:             "test",
		MinCalls:         4,
		FailureThreshold: 0.5,
		MaxConsecutive:   3,
		Timeout:          time.Minute,
		HalfOpenMaxCalls: 2,
	})
	cb.now = func() time.Time { return *now }
	return cb
}

func fail(ctx context.Context) error    { return errUpstream }
func succeed(ctx context.Context) error { return nil }

func trip(t *testing.T, cb *CircuitBreaker) {
	t.Helper()
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	require.Equal(t, StateOpen, cb.GetState())
}

func TestOpensOnConsecutiveFailures(t *testing.T) {
	now := time.Now()
	cb := newTestBreaker(&now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	}

	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
}

func TestHalfOpenRecovery(t *testing.T) {
	now := time.Now()
	cb := newTestBreaker(&now)
	ctx := context.Background()

	trip(t, cb)
	now = now.Add(2 * time.Minute)

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.GetState())

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := newTestBreaker(&now)
	ctx := context.Background()

	trip(t, cb)
	now = now.Add(2 * time.Minute)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestIsFailureFilter(t *testing.T) {
	now := time.Now()
	cb := newTestBreaker(&now)
	cb.cfg.IsFailure = func(err error) bool { return errors.Is(err, errUpstream) }
	ctx := context.Background()

	clientErr := errors.New("400 bad request")
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, func(ctx context.Context) error { return clientErr }), clientErr)
	}

	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 0, cb.GetStats().Failures)
}

func TestCancelledCallerDoesNotCount(t *testing.T) {
	now := time.Now()
	cb := newTestBreaker(&now)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	}

	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 0, cb.GetStats().Calls)
}
