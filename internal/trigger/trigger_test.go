package trigger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cloudpayments-webhook/internal/payment"
	"github.com/noah-isme/cloudpayments-webhook/internal/trigger"
)

func sampleEvent(kind payment.EventKind) payment.Event {
	return payment.Event{
		Kind:          kind,
		Provider:      "CloudPayments",
		Amount:        decimal.RequireFromString("99.90"),
		Currency:      "RUB",
		InvoiceID:     "inv-1",
		UserID:        12,
		TransactionID: "tx-1",
	}
}

type recorder struct {
	kinds []payment.EventKind
	err   error
}

func (r *recorder) OnPaymentCheck(_ context.Context, ev payment.Event) error {
	r.kinds = append(r.kinds, ev.Kind)
	return r.err
}

func (r *recorder) OnPaymentSuccess(_ context.Context, ev payment.Event) error {
	r.kinds = append(r.kinds, ev.Kind)
	return r.err
}

func (r *recorder) OnPaymentFail(_ context.Context, ev payment.Event) error {
	r.kinds = append(r.kinds, ev.Kind)
	return r.err
}

func TestFuncsNilAccepts(t *testing.T) {
	var got string
	f := trigger.Funcs{Success: func(_ context.Context, ev payment.Event) error {
		got = ev.TransactionID
		return nil
	}}
	ctx := context.Background()
	require.NoError(t, f.OnPaymentCheck(ctx, sampleEvent(payment.KindCheck)))
	require.NoError(t, f.OnPaymentFail(ctx, sampleEvent(payment.KindFail)))
	require.NoError(t, f.OnPaymentSuccess(ctx, sampleEvent(payment.KindSuccess)))
	require.Equal(t, "tx-1", got)
}

func TestChainStopsAtFirstError(t *testing.T) {
	first := &recorder{}
	failing := &recorder{err: errors.New("nope")}
	last := &recorder{}
	chain := trigger.Chain{first, nil, failing, last}

	err := chain.OnPaymentSuccess(context.Background(), sampleEvent(payment.KindSuccess))
	require.EqualError(t, err, "nope")
	require.Equal(t, []payment.EventKind{payment.KindSuccess}, first.kinds)
	require.Equal(t, []payment.EventKind{payment.KindSuccess}, failing.kinds)
	require.Empty(t, last.kinds)
}

func TestChainRoutesByKind(t *testing.T) {
	rec := &recorder{}
	chain := trigger.Chain{rec}
	ctx := context.Background()
	require.NoError(t, chain.OnPaymentCheck(ctx, sampleEvent(payment.KindCheck)))
	require.NoError(t, chain.OnPaymentFail(ctx, sampleEvent(payment.KindFail)))
	require.Equal(t, []payment.EventKind{payment.KindCheck, payment.KindFail}, rec.kinds)
}

func TestLoggingWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	l := trigger.Logging{Logger: zerolog.New(&buf)}
	require.NoError(t, l.OnPaymentFail(context.Background(), sampleEvent(payment.KindFail)))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "fail", line["kind"])
	require.Equal(t, "tx-1", line["transaction_id"])
	require.Equal(t, "99.9", line["amount"])
}

func TestChecksOnlyPassesChecksAndAcceptsResults(t *testing.T) {
	rec := &recorder{err: errors.New("not eligible")}
	c := trigger.ChecksOnly{Next: rec}
	ctx := context.Background()

	require.EqualError(t, c.OnPaymentCheck(ctx, sampleEvent(payment.KindCheck)), "not eligible")
	require.NoError(t, c.OnPaymentSuccess(ctx, sampleEvent(payment.KindSuccess)))
	require.NoError(t, c.OnPaymentFail(ctx, sampleEvent(payment.KindFail)))
	require.Equal(t, []payment.EventKind{payment.KindCheck}, rec.kinds)
}
