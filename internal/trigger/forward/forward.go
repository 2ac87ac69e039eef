// Package forward delivers payment events to a merchant backend over HTTP.
package forward

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/cloudpayments-webhook/internal/payment"
	"github.com/noah-isme/cloudpayments-webhook/internal/resilience"
)

const (
	HeaderSignature      = "X-Signature"
	HeaderTimestamp      = "X-Timestamp"
	HeaderIdempotencyKey = "X-Idempotency-Key"
	HeaderEventKind      = "X-Event-Kind"
)

// ErrRejected is wrapped by errors for non-2xx merchant responses.
var ErrRejected = errors.New("forward: merchant rejected event")

// Trigger POSTs each event as JSON. The merchant's answer decides the
// gateway outcome, so a non-2xx response is an error.
type Trigger struct {
	URL     string
	Secret  string
	Client  *http.Client
	Breaker *resilience.Breaker
	Now     func() time.Time
}

// New validates target and builds a trigger with an instrumented client.
func New(target, secret string, timeout time.Duration, breaker *resilience.Breaker) (*Trigger, error) {
	if err := validateURL(target); err != nil {
		return nil, err
	}
	return &Trigger{
		URL:     target,
		Secret:  secret,
		Client:  NewClient(timeout),
		Breaker: breaker,
	}, nil
}

// NewClient returns an HTTP client with otelhttp transport.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func (t *Trigger) OnPaymentCheck(ctx context.Context, ev payment.Event) error {
	return t.send(ctx, ev)
}

func (t *Trigger) OnPaymentSuccess(ctx context.Context, ev payment.Event) error {
	return t.send(ctx, ev)
}

func (t *Trigger) OnPaymentFail(ctx context.Context, ev payment.Event) error {
	return t.send(ctx, ev)
}

func (t *Trigger) send(ctx context.Context, ev payment.Event) error {
	if t.Breaker == nil {
		return t.deliver(ctx, ev)
	}
	return t.Breaker.Do(ctx, func(ctx context.Context) error {
		return t.deliver(ctx, ev)
	})
}

func (t *Trigger) deliver(ctx context.Context, ev payment.Event) error {
	ctx, span := otel.Tracer("trigger.forward").Start(ctx, "forward.deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.kind", ev.Kind.String()),
		attribute.String("payment.transaction_id", ev.TransactionID),
	)

	body, err := json.Marshal(ev)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("forward: encode event: %w", err)
	}
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	ts := now().Unix()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "cloudpayments-webhook/1.0")
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderIdempotencyKey, ev.IdempotencyKey())
	req.Header.Set(HeaderEventKind, ev.Kind.String())
	req.Header.Set(HeaderSignature, ComputeSignature(t.Secret, ts, ev.Kind, body))

	client := t.Client
	if client == nil {
		client = NewClient(0)
	}
	resp, err := client.Do(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("forward: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(snippet))
		span.RecordError(err)
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// ComputeSignature is hex(HMAC-SHA256(secret, "<ts>.<kind>.<body>")).
func ComputeSignature(secret string, ts int64, kind payment.EventKind, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(kind))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("forward: invalid url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("forward: url must be http or https")
	}
	if parsed.Host == "" {
		return errors.New("forward: url must include host")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("forward: plain http only allowed for localhost")
		}
	}
	return nil
}
