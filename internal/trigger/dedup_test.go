package trigger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cloudpayments-webhook/internal/payment"
	"github.com/noah-isme/cloudpayments-webhook/internal/trigger"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestDedupSuppressesRedelivery(t *testing.T) {
	mr, client := newRedis(t)
	rec := &recorder{}
	d := trigger.Dedup{Next: rec, Redis: client, Prefix: "test", TTL: time.Hour}
	ctx := context.Background()
	ev := sampleEvent(payment.KindSuccess)

	require.NoError(t, d.OnPaymentSuccess(ctx, ev))
	require.NoError(t, d.OnPaymentSuccess(ctx, ev))
	require.Equal(t, []payment.EventKind{payment.KindSuccess}, rec.kinds)
	require.True(t, mr.Exists("test:success:tx-1"))
	require.Equal(t, time.Hour, mr.TTL("test:success:tx-1"))

	// a fail for the same transaction is a different fact
	require.NoError(t, d.OnPaymentFail(ctx, sampleEvent(payment.KindFail)))
	require.Equal(t, []payment.EventKind{payment.KindSuccess, payment.KindFail}, rec.kinds)
}

func TestDedupReleasesOnDownstreamError(t *testing.T) {
	mr, client := newRedis(t)
	rec := &recorder{err: errors.New("db down")}
	d := trigger.Dedup{Next: rec, Redis: client}
	ctx := context.Background()
	ev := sampleEvent(payment.KindSuccess)

	require.EqualError(t, d.OnPaymentSuccess(ctx, ev), "db down")
	require.False(t, mr.Exists(d.Key(ev)))

	rec.err = nil
	require.NoError(t, d.OnPaymentSuccess(ctx, ev))
	require.Len(t, rec.kinds, 2)
	require.True(t, mr.Exists(d.Key(ev)))
}

func TestDedupPassesChecksThrough(t *testing.T) {
	_, client := newRedis(t)
	rec := &recorder{}
	d := trigger.Dedup{Next: rec, Redis: client}
	ctx := context.Background()

	require.NoError(t, d.OnPaymentCheck(ctx, sampleEvent(payment.KindCheck)))
	require.NoError(t, d.OnPaymentCheck(ctx, sampleEvent(payment.KindCheck)))
	require.Len(t, rec.kinds, 2)
}

func TestDedupRedisFailureRejects(t *testing.T) {
	mr, client := newRedis(t)
	rec := &recorder{}
	d := trigger.Dedup{Next: rec, Redis: client}
	mr.Close()

	require.Error(t, d.OnPaymentSuccess(context.Background(), sampleEvent(payment.KindSuccess)))
	require.Empty(t, rec.kinds)
}

func TestDedupKeyDefaults(t *testing.T) {
	d := trigger.Dedup{}
	require.Equal(t, "payment:seen:fail:tx-1", d.Key(sampleEvent(payment.KindFail)))
	require.Error(t, d.OnPaymentFail(context.Background(), sampleEvent(payment.KindFail)))
}

type blockingTrigger struct {
	trigger.Funcs
	started chan struct{}
	finish  chan error
}

func newBlockingTrigger() *blockingTrigger {
	b := &blockingTrigger{started: make(chan struct{}, 1), finish: make(chan error)}
	b.Success = func(context.Context, payment.Event) error {
		b.started <- struct{}{}
		return <-b.finish
	}
	return b
}

func TestDedupRejectsRedeliveryWhileFirstIsRunning(t *testing.T) {
	mr, client := newRedis(t)
	slow := newBlockingTrigger()
	d := trigger.Dedup{Next: slow, Redis: client, TTL: time.Hour, Lease: time.Minute}
	ctx := context.Background()
	ev := sampleEvent(payment.KindSuccess)

	first := make(chan error, 1)
	go func() { first <- d.OnPaymentSuccess(ctx, ev) }()
	<-slow.started

	require.ErrorIs(t, d.OnPaymentSuccess(ctx, ev), trigger.ErrInFlight)

	slow.finish <- errors.New("merchant down")
	require.EqualError(t, <-first, "merchant down")
	require.False(t, mr.Exists(d.Key(ev)))

	// the gateway's next redelivery runs the trigger again
	second := make(chan error, 1)
	go func() { second <- d.OnPaymentSuccess(ctx, ev) }()
	<-slow.started
	slow.finish <- nil
	require.NoError(t, <-second)

	marker, err := mr.Get(d.Key(ev))
	require.NoError(t, err)
	require.Equal(t, "done", marker)
	require.Equal(t, time.Hour, mr.TTL(d.Key(ev)))

	require.NoError(t, d.OnPaymentSuccess(ctx, ev))
}

func TestDedupProcessingMarkerExpires(t *testing.T) {
	mr, client := newRedis(t)
	rec := &recorder{}
	d := trigger.Dedup{Next: rec, Redis: client, TTL: time.Hour, Lease: time.Minute}
	ev := sampleEvent(payment.KindFail)

	// a crashed delivery left its claim behind
	require.NoError(t, mr.Set(d.Key(ev), "processing:crashed"))
	mr.SetTTL(d.Key(ev), time.Minute)
	require.ErrorIs(t, d.OnPaymentFail(context.Background(), ev), trigger.ErrInFlight)
	require.Empty(t, rec.kinds)

	mr.FastForward(2 * time.Minute)
	require.NoError(t, d.OnPaymentFail(context.Background(), ev))
	require.Equal(t, []payment.EventKind{payment.KindFail}, rec.kinds)
}
