package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// EventKind is the intent carried by a normalised gateway notification.
type EventKind string

const (
	// KindCheck asks whether a payment may proceed before the gateway charges.
	KindCheck EventKind = "check"
	// KindSuccess reports that funds were captured or authorised.
	KindSuccess EventKind = "success"
	// KindFail reports a declined or cancelled payment.
	KindFail EventKind = "fail"
)

func (k EventKind) String() string { return string(k) }

// Event is the normalised form of a single inbound notification. It is built
// per request, handed to exactly one trigger call and then discarded.
type Event struct {
	Kind     EventKind `json:"kind"`
	Provider string    `json:"provider"`
	// Data holds every field the gateway sent, untouched.
	Data          map[string]any  `json:"data"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	InvoiceID     string          `json:"invoiceId"`
	UserID        int64           `json:"userId"`
	TransactionID string          `json:"transactionId"`
	TestMode      bool            `json:"testMode"`
	// Payload is the decoded embedded JSON field; nil when absent or undecodable.
	Payload any `json:"payload,omitempty"`
}

// IdempotencyKey identifies the payment attempt across duplicate deliveries.
func (e Event) IdempotencyKey() string {
	return e.TransactionID
}

// Triggers hands classified events to business logic outside the webhook.
// Returning an error rejects the event; the gateway will redeliver it.
type Triggers interface {
	OnPaymentCheck(ctx context.Context, ev Event) error
	OnPaymentSuccess(ctx context.Context, ev Event) error
	OnPaymentFail(ctx context.Context, ev Event) error
}

// Invoke dispatches ev to the trigger operation matching its kind.
func Invoke(ctx context.Context, t Triggers, ev Event) error {
	switch ev.Kind {
	case KindCheck:
		return t.OnPaymentCheck(ctx, ev)
	case KindSuccess:
		return t.OnPaymentSuccess(ctx, ev)
	case KindFail:
		return t.OnPaymentFail(ctx, ev)
	default:
		return ErrUnknownKind
	}
}
