package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cloudpayments-webhook/internal/resilience"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

var errDown = errors.New("down")

func fail(context.Context) error { return errDown }
func ok(context.Context) error   { return nil }

func TestBreakerOpensAndRecovers(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	b := resilience.NewBreaker(2, 0.5, time.Minute, resilience.WithClock(c.now))
	ctx := context.Background()

	require.ErrorIs(t, b.Do(ctx, fail), errDown)
	require.ErrorIs(t, b.Do(ctx, fail), errDown)
	require.Equal(t, resilience.Open, b.State())

	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.False(t, called)

	c.t = c.t.Add(time.Minute)
	require.NoError(t, b.Do(ctx, ok))
	require.Equal(t, resilience.Closed, b.State())
}

func TestBreakerFailedTrialReopens(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	b := resilience.NewBreaker(1, 0.5, time.Second, resilience.WithClock(c.now))
	ctx := context.Background()

	require.Error(t, b.Do(ctx, fail))
	c.t = c.t.Add(2 * time.Second)
	require.ErrorIs(t, b.Do(ctx, fail), errDown)
	require.Equal(t, resilience.Open, b.State())
	require.ErrorIs(t, b.Do(ctx, ok), resilience.ErrOpenCircuit)
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	b := resilience.NewBreaker(1, 0.5, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Do(ctx, func(ctx context.Context) error { return ctx.Err() })
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, resilience.Closed, b.State())
}

func TestBreakerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := resilience.NewMetrics("cpw", reg)
	require.NoError(t, err)
	again, err := resilience.NewMetrics("cpw", reg)
	require.NoError(t, err)
	require.Same(t, m.State, again.State)

	c := &clock{t: time.Unix(1_700_000_000, 0)}
	b := resilience.NewBreaker(1, 0.5, time.Second,
		resilience.WithClock(c.now), resilience.WithTarget("forward"), resilience.WithMetrics(m))
	ctx := context.Background()

	require.Equal(t, 0.0, testutil.ToFloat64(m.State.WithLabelValues("forward")))
	require.Error(t, b.Do(ctx, fail))
	require.Equal(t, 1.0, testutil.ToFloat64(m.State.WithLabelValues("forward")))

	c.t = c.t.Add(time.Second)
	require.NoError(t, b.Do(ctx, ok))
	require.Equal(t, 0.0, testutil.ToFloat64(m.State.WithLabelValues("forward")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("forward", "closed", "open")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("forward", "open", "half_open")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("forward", "half_open", "closed")))
}
