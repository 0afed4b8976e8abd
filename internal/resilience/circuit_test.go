package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/resilience"
)

func TestBreakerTransitions(t *testing.T) {
	breaker := resilience.NewBreaker(resilience.BreakerConfig{Target: "orders-test", MinRequests: 2, FailureRatio: 0.5, OpenFor: 50 * time.Millisecond})
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)

	require.False(t, breaker.Allow(ctx), "breaker should open after threshold exceeded")
	require.Equal(t, resilience.Open, breaker.State())

	time.Sleep(60 * time.Millisecond)
	require.True(t, breaker.Allow(ctx), "breaker should admit one trial call after cool off")
	require.False(t, breaker.Allow(ctx), "only one trial call while half-open")
	breaker.Report(ctx, true)
	require.Equal(t, resilience.Closed, breaker.State())
	require.True(t, breaker.Allow(ctx))
}

func TestBreakerMetricsTransitions(t *testing.T) {
	breaker := resilience.NewBreaker(resilience.BreakerConfig{Target: "gateway-test", MinRequests: 1, OpenFor: 20 * time.Millisecond})
	ctx := context.Background()

	err := breaker.Execute(ctx, func(context.Context) error { return errors.New("boom") })
	require.Error(t, err)
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues("gateway-test")))

	require.ErrorIs(t, breaker.Execute(ctx, func(context.Context) error { return nil }), resilience.ErrOpenCircuit)

	require.Eventually(t, func() bool {
		return breaker.Execute(ctx, func(context.Context) error { return nil }) == nil
	}, 200*time.Millisecond, 5*time.Millisecond)

	require.Equal(t, 0.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues("gateway-test")))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerOpenedTotal.WithLabelValues("gateway-test")))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("gateway-test", "closed", "open")))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("gateway-test", "open", "half_open")))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("gateway-test", "half_open", "closed")))
}

func TestBackoffWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, resilience.Backoff(base, 1, 0))
	require.Equal(t, base*4, resilience.Backoff(base, 3, 0))

	d := resilience.Backoff(base, 2, 0.2)
	require.GreaterOrEqual(t, d, base*2-base*2/5)
	require.LessOrEqual(t, d, base*2+base*2/5)
}
