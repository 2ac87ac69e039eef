// Package trigger composes payment.Triggers implementations: plain funcs,
// sequential chains, logging, replay suppression and instrumentation.
package trigger

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/cloudpayments-webhook/internal/payment"
)

// Funcs adapts plain functions. A nil func accepts the event.
type Funcs struct {
	Check   func(ctx context.Context, ev payment.Event) error
	Success func(ctx context.Context, ev payment.Event) error
	Fail    func(ctx context.Context, ev payment.Event) error
}

func (f Funcs) OnPaymentCheck(ctx context.Context, ev payment.Event) error {
	return call(ctx, f.Check, ev)
}

func (f Funcs) OnPaymentSuccess(ctx context.Context, ev payment.Event) error {
	return call(ctx, f.Success, ev)
}

func (f Funcs) OnPaymentFail(ctx context.Context, ev payment.Event) error {
	return call(ctx, f.Fail, ev)
}

func call(ctx context.Context, fn func(context.Context, payment.Event) error, ev payment.Event) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, ev)
}

// Chain invokes each trigger in order and stops at the first error.
type Chain []payment.Triggers

func (c Chain) OnPaymentCheck(ctx context.Context, ev payment.Event) error {
	return c.each(ctx, ev)
}

func (c Chain) OnPaymentSuccess(ctx context.Context, ev payment.Event) error {
	return c.each(ctx, ev)
}

func (c Chain) OnPaymentFail(ctx context.Context, ev payment.Event) error {
	return c.each(ctx, ev)
}

func (c Chain) each(ctx context.Context, ev payment.Event) error {
	for _, t := range c {
		if t == nil {
			continue
		}
		if err := payment.Invoke(ctx, t, ev); err != nil {
			return err
		}
	}
	return nil
}

// Logging records every accepted event. It never rejects.
type Logging struct {
	Logger zerolog.Logger
}

func (l Logging) OnPaymentCheck(_ context.Context, ev payment.Event) error {
	l.log(ev)
	return nil
}

func (l Logging) OnPaymentSuccess(_ context.Context, ev payment.Event) error {
	l.log(ev)
	return nil
}

func (l Logging) OnPaymentFail(_ context.Context, ev payment.Event) error {
	l.log(ev)
	return nil
}

func (l Logging) log(ev payment.Event) {
	l.Logger.Info().
		Str("kind", ev.Kind.String()).
		Str("provider", ev.Provider).
		Str("transaction_id", ev.TransactionID).
		Str("invoice_id", ev.InvoiceID).
		Int64("user_id", ev.UserID).
		Str("amount", ev.Amount.String()).
		Str("currency", ev.Currency).
		Bool("test_mode", ev.TestMode).
		Msg("payment event")
}

// ChecksOnly hands check events to Next and accepts success and fail events
// without calling it. It keeps a synchronous eligibility answer in the
// request path when results are delivered elsewhere.
type ChecksOnly struct {
	Next payment.Triggers
}

func (c ChecksOnly) OnPaymentCheck(ctx context.Context, ev payment.Event) error {
	if c.Next == nil {
		return nil
	}
	return c.Next.OnPaymentCheck(ctx, ev)
}

func (ChecksOnly) OnPaymentSuccess(context.Context, payment.Event) error { return nil }

func (ChecksOnly) OnPaymentFail(context.Context, payment.Event) error { return nil }
