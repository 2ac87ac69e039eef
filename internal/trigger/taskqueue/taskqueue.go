// Package taskqueue moves accepted payment events onto asynq so slow business
// logic runs in the worker instead of inside the gateway request.
package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/cloudpayments-webhook/internal/payment"
)

// Task types.
const (
	TypePaymentCheck   = "payment:check"
	TypePaymentSuccess = "payment:success"
	TypePaymentFail    = "payment:fail"
)

// Enqueuer is the part of *asynq.Client used by Publisher.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Publisher enqueues success and fail events. Check events need an answer
// before the gateway charges, so they are accepted without enqueueing.
type Publisher struct {
	Client   Enqueuer
	Queue    string
	MaxRetry int
}

func (p Publisher) OnPaymentCheck(context.Context, payment.Event) error {
	return nil
}

func (p Publisher) OnPaymentSuccess(ctx context.Context, ev payment.Event) error {
	return p.enqueue(ctx, ev)
}

func (p Publisher) OnPaymentFail(ctx context.Context, ev payment.Event) error {
	return p.enqueue(ctx, ev)
}

// TaskID is the asynq task id for ev; asynq refuses a second task with it.
func TaskID(ev payment.Event) string {
	return fmt.Sprintf("%s:%s", ev.Kind, ev.IdempotencyKey())
}

func (p Publisher) enqueue(ctx context.Context, ev payment.Event) error {
	if p.Client == nil {
		return errors.New("taskqueue: client not configured")
	}
	typ, err := TypeFor(ev.Kind)
	if err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("taskqueue: encode event: %w", err)
	}

	opts := []asynq.Option{asynq.TaskID(TaskID(ev))}
	if q := strings.TrimSpace(p.Queue); q != "" {
		opts = append(opts, asynq.Queue(q))
	}
	if p.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(p.MaxRetry))
	}
	_, err = p.Client.EnqueueContext(ctx, asynq.NewTask(typ, body), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("taskqueue: enqueue %s: %w", typ, err)
	}
	return nil
}

// TypeFor maps an event kind onto its task type.
func TypeFor(kind payment.EventKind) (string, error) {
	switch kind {
	case payment.KindCheck:
		return TypePaymentCheck, nil
	case payment.KindSuccess:
		return TypePaymentSuccess, nil
	case payment.KindFail:
		return TypePaymentFail, nil
	default:
		return "", fmt.Errorf("taskqueue: %w: %q", payment.ErrUnknownKind, kind)
	}
}

// NewServeMux routes queued payment tasks to downstream. Undecodable
// payloads are archived without retry.
func NewServeMux(downstream payment.Triggers) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	h := handler{downstream: downstream}
	mux.HandleFunc(TypePaymentCheck, h.handle)
	mux.HandleFunc(TypePaymentSuccess, h.handle)
	mux.HandleFunc(TypePaymentFail, h.handle)
	return mux
}

type handler struct {
	downstream payment.Triggers
}

func (h handler) handle(ctx context.Context, task *asynq.Task) error {
	var ev payment.Event
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		return fmt.Errorf("taskqueue: decode %s: %v: %w", task.Type(), err, asynq.SkipRetry)
	}
	typ, err := TypeFor(ev.Kind)
	if err != nil || typ != task.Type() {
		return fmt.Errorf("taskqueue: task %s carries kind %q: %w", task.Type(), ev.Kind, asynq.SkipRetry)
	}
	return payment.Invoke(ctx, h.downstream, ev)
}
