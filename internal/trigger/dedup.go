package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/cloudpayments-webhook/internal/obs"
	"github.com/noah-isme/cloudpayments-webhook/internal/payment"
)

const (
	defaultDedupPrefix = "payment:seen"
	defaultDedupTTL    = 72 * time.Hour
	defaultDedupLease  = 5 * time.Minute

	markerDone       = "done"
	markerProcessing = "processing:"
)

// ErrInFlight is returned for a redelivery that arrives while an earlier
// delivery of the same event is still running. The gateway retries it later.
var ErrInFlight = errors.New("dedup: event is still being processed")

// Dedup forwards each success or fail event to Next at most once per
// transaction id within TTL. While Next runs the key holds a processing
// marker that expires after Lease; only a completed event is acknowledged
// to redeliveries. Check events always pass through.
type Dedup struct {
	Next   payment.Triggers
	Redis  redis.Cmdable
	Prefix string
	TTL    time.Duration
	Lease  time.Duration
}

func (d Dedup) OnPaymentCheck(ctx context.Context, ev payment.Event) error {
	if d.Next == nil {
		return nil
	}
	return d.Next.OnPaymentCheck(ctx, ev)
}

func (d Dedup) OnPaymentSuccess(ctx context.Context, ev payment.Event) error {
	return d.once(ctx, ev)
}

func (d Dedup) OnPaymentFail(ctx context.Context, ev payment.Event) error {
	return d.once(ctx, ev)
}

// Key returns the redis key guarding ev.
func (d Dedup) Key(ev payment.Event) string {
	prefix := strings.TrimSpace(d.Prefix)
	if prefix == "" {
		prefix = defaultDedupPrefix
	}
	return fmt.Sprintf("%s:%s:%s", prefix, ev.Kind, ev.IdempotencyKey())
}

func (d Dedup) once(ctx context.Context, ev payment.Event) error {
	if d.Redis == nil {
		return errors.New("dedup: redis client not configured")
	}
	if ev.IdempotencyKey() == "" {
		return errors.New("dedup: event has no transaction id")
	}
	ttl := d.TTL
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	lease := d.Lease
	if lease <= 0 || lease > ttl {
		lease = min(defaultDedupLease, ttl)
	}

	key := d.Key(ev)
	claim := markerProcessing + uuid.NewString()
	ok, err := d.Redis.SetNX(ctx, key, claim, lease).Result()
	if err != nil {
		return fmt.Errorf("dedup: %w", err)
	}
	if !ok {
		return d.duplicate(ctx, key, ev)
	}
	if d.Next != nil {
		if err := payment.Invoke(ctx, d.Next, ev); err != nil {
			d.release(context.WithoutCancel(ctx), key, claim)
			return err
		}
	}
	return d.complete(context.WithoutCancel(ctx), key, claim, ttl)
}

// duplicate acknowledges a redelivery only when the first delivery finished.
func (d Dedup) duplicate(ctx context.Context, key string, ev payment.Event) error {
	marker, err := d.Redis.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// released or expired between SETNX and GET
		return ErrInFlight
	case err != nil:
		return fmt.Errorf("dedup: %w", err)
	case marker != markerDone:
		return ErrInFlight
	}
	if obs.PaymentTriggerDuplicatesTotal != nil {
		obs.PaymentTriggerDuplicatesTotal.WithLabelValues(ev.Provider, ev.Kind.String()).Inc()
	}
	return nil
}

// complete swaps our processing marker for the done marker with the full TTL.
// A lost lease means another delivery took over; that delivery finishes the key.
func (d Dedup) complete(ctx context.Context, key, claim string, ttl time.Duration) error {
	const script = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("set", KEYS[1], ARGV[2], "PX", ARGV[3])
else
  return 0
end`
	err := d.Redis.Eval(ctx, script, []string{key}, claim, markerDone, ttl.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("dedup: mark done: %w", err)
	}
	return nil
}

// release drops the marker so the gateway's redelivery is processed again,
// but only while it still holds our claim.
func (d Dedup) release(ctx context.Context, key, claim string) {
	const script = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`
	_ = d.Redis.Eval(ctx, script, []string{key}, claim).Err()
}
