package payment

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/cloudpayments-webhook/internal/common"
	"github.com/noah-isme/cloudpayments-webhook/internal/obs"
)

// DefaultMaxBodyBytes bounds notification bodies when Webhook.MaxBodyBytes is unset.
const DefaultMaxBodyBytes int64 = 1 << 20

var errBodyTooLarge = errors.New("payment: notification body too large")

// Webhook exposes gateway callbacks over HTTP for every registered provider.
type Webhook struct {
	Providers    Registry
	MaxBodyBytes int64
	Logger       zerolog.Logger
	// Sink receives the audit entry for bodies that never reach a provider.
	Sink Sink
}

// Routes mounts POST /{provider}/{endpoint} on r.
func (h Webhook) Routes(r chi.Router) {
	r.Post("/{provider}/{endpoint}", h.Handle)
}

// Handle reads the notification once, hands it to the provider and writes the
// acknowledgement. Only routing misses answer with anything other than the two
// gateway outcomes.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.Providers.Lookup(chi.URLParam(r, "provider"))
	if !ok {
		common.JSONError(w, http.StatusNotFound, "PROVIDER_NOT_SUPPORTED", "unknown payment provider")
		return
	}
	endpoint, ok := ParseEndpoint(chi.URLParam(r, "endpoint"))
	if !ok {
		common.JSONError(w, http.StatusNotFound, "ENDPOINT_NOT_SUPPORTED", "unknown notification endpoint")
		return
	}

	ctx, span := otel.Tracer("payment.Webhook").Start(r.Context(), "PaymentWebhook.Handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.provider", provider.Name()),
		attribute.String("payment.endpoint", string(endpoint)),
	)

	outcome := OutcomeUnsuccessful
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("payment: provider panic: %v", rec)
			span.RecordError(err)
			h.Logger.Error().Err(err).Str("provider", provider.Name()).Str("endpoint", string(endpoint)).Msg("payment notification panic")
			outcome = OutcomeUnsuccessful
			outcome.Write(w)
		}
		if outcome != OutcomeSuccess {
			span.SetStatus(codes.Error, outcome.String())
		}
		if obs.PaymentNotificationsTotal != nil {
			obs.PaymentNotificationsTotal.WithLabelValues(provider.Name(), string(endpoint), outcome.String()).Inc()
		}
	}()

	body, err := readBody(r.Body, h.maxBodyBytes())
	if err != nil {
		span.RecordError(err)
		h.Logger.Warn().Err(err).Str("provider", provider.Name()).Str("endpoint", string(endpoint)).Msg("read payment notification")
		h.sink().Record(ctx, Entry{
			Provider: provider.Name(),
			Endpoint: endpoint,
			Severity: SeverityAudit,
			Message:  "payment notification received",
			Data: map[string]any{
				"type":    string(endpoint),
				"headers": map[string][]string(r.Header),
				"body":    nil,
				"error":   err.Error(),
			},
		})
		outcome.Write(w)
		return
	}

	n := NewNotification(endpoint, r.WithContext(ctx), body)
	outcome = Process(ctx, provider, n)
	outcome.Write(w)
}

func (h Webhook) sink() Sink {
	if h.Sink == nil {
		return NopSink{}
	}
	return h.Sink
}

func (h Webhook) maxBodyBytes() int64 {
	if h.MaxBodyBytes <= 0 {
		return DefaultMaxBodyBytes
	}
	return h.MaxBodyBytes
}

func readBody(body io.Reader, max int64) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	buf, err := io.ReadAll(io.LimitReader(body, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) > max {
		return nil, errBodyTooLarge
	}
	return buf, nil
}
