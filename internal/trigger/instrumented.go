package trigger

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/cloudpayments-webhook/internal/obs"
	"github.com/noah-isme/cloudpayments-webhook/internal/payment"
)

const instrumentationName = "github.com/noah-isme/cloudpayments-webhook/internal/trigger"

// Instrumented wraps Next with a span, an OTel invocation counter and the
// Prometheus latency histogram.
type Instrumented struct {
	next        payment.Triggers
	tracer      trace.Tracer
	invocations metric.Int64Counter
}

// NewInstrumented uses the global tracer and meter providers.
func NewInstrumented(next payment.Triggers) (*Instrumented, error) {
	if next == nil {
		return nil, errors.New("trigger: instrumented trigger needs a downstream")
	}
	counter, err := otel.Meter(instrumentationName).Int64Counter(
		"payment.trigger.invocations",
		metric.WithDescription("Payment trigger invocations by kind and result."),
	)
	if err != nil {
		return nil, err
	}
	return &Instrumented{
		next:        next,
		tracer:      otel.Tracer(instrumentationName),
		invocations: counter,
	}, nil
}

func (i *Instrumented) OnPaymentCheck(ctx context.Context, ev payment.Event) error {
	return i.observe(ctx, ev)
}

func (i *Instrumented) OnPaymentSuccess(ctx context.Context, ev payment.Event) error {
	return i.observe(ctx, ev)
}

func (i *Instrumented) OnPaymentFail(ctx context.Context, ev payment.Event) error {
	return i.observe(ctx, ev)
}

func (i *Instrumented) observe(ctx context.Context, ev payment.Event) error {
	ctx, span := i.tracer.Start(ctx, "trigger."+ev.Kind.String(), trace.WithAttributes(
		attribute.String("payment.provider", ev.Provider),
		attribute.String("payment.kind", ev.Kind.String()),
		attribute.String("payment.transaction_id", ev.TransactionID),
		attribute.Bool("payment.test_mode", ev.TestMode),
	))
	defer span.End()

	start := time.Now()
	err := payment.Invoke(ctx, i.next, ev)
	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	i.invocations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", ev.Kind.String()),
		attribute.String("result", result),
	))
	if obs.PaymentTriggerDuration != nil {
		obs.PaymentTriggerDuration.WithLabelValues(ev.Provider, ev.Kind.String(), result).Observe(obs.DurationMillis(time.Since(start)))
	}
	return err
}
