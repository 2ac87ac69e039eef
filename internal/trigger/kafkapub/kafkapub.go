// Package kafkapub publishes payment events to a Kafka topic.
package kafkapub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/noah-isme/cloudpayments-webhook/internal/payment"
)

const (
	HeaderKind     = "kind"
	HeaderProvider = "provider"
)

// MessageWriter is the part of *kafka.Writer used here.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewWriter returns a synchronous writer that hashes keys so every event
// of a transaction lands on the same partition.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.ReferenceHash{},
		RequiredAcks:           kafka.RequireAll,
		BatchSize:              1,
		BatchTimeout:           10 * time.Millisecond,
		Async:                  false,
		AllowAutoTopicCreation: false,
	}
}

// Publisher writes one message per event keyed by transaction id.
type Publisher struct {
	Writer MessageWriter
}

func (p Publisher) OnPaymentCheck(ctx context.Context, ev payment.Event) error {
	return p.publish(ctx, ev)
}

func (p Publisher) OnPaymentSuccess(ctx context.Context, ev payment.Event) error {
	return p.publish(ctx, ev)
}

func (p Publisher) OnPaymentFail(ctx context.Context, ev payment.Event) error {
	return p.publish(ctx, ev)
}

func (p Publisher) publish(ctx context.Context, ev payment.Event) error {
	if p.Writer == nil {
		return errors.New("kafkapub: writer not configured")
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafkapub: encode event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.IdempotencyKey()),
		Value: value,
		Headers: []kafka.Header{
			{Key: HeaderKind, Value: []byte(ev.Kind.String())},
			{Key: HeaderProvider, Value: []byte(ev.Provider)},
		},
	}
	if err := p.Writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafkapub: write: %w", err)
	}
	return nil
}
