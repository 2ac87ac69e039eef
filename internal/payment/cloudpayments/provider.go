package cloudpayments

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/cloudpayments-webhook/internal/obs"
	"github.com/noah-isme/cloudpayments-webhook/internal/payment"
)

// Provider implements payment.Provider for the CloudPayments gateway.
type Provider struct {
	name     string
	verifier Verifier
	decoder  Decoder
	triggers payment.Triggers
	sink     payment.Sink
}

var _ payment.Provider = (*Provider)(nil)

// New validates cfg and builds a provider that hands events to triggers.
// A nil sink discards diagnostics.
func New(cfg Config, triggers payment.Triggers, sink payment.Sink) (*Provider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if triggers == nil {
		return nil, errors.New("cloudpayments: triggers are required")
	}
	allowed, err := ParseAllowlist(cfg.AllowedIPs)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = payment.NopSink{}
	}
	name := cfg.name()
	return &Provider{
		name: name,
		verifier: Verifier{
			Secret:         []byte(cfg.APIKey),
			SkipValidation: cfg.SkipValidation,
			Allowed:        allowed,
		},
		decoder:  Decoder{Provider: name, Lenient: cfg.LenientAccountID},
		triggers: triggers,
		sink:     sink,
	}, nil
}

// Name implements payment.Provider.
func (p *Provider) Name() string { return p.name }

// route parameterises the shared pipeline per endpoint.
type route struct {
	endpoint payment.Endpoint
	// kind is fixed for check and fail; pay classifies the Status field.
	kind     payment.EventKind
	classify bool
	// check requests are expected to fail verification now and then and its
	// trigger errors are the only ones worth an error log.
	logVerifyFailure  bool
	logTriggerFailure bool
}

var (
	checkRoute = route{
		endpoint:          payment.EndpointCheck,
		kind:              payment.KindCheck,
		logVerifyFailure:  true,
		logTriggerFailure: true,
	}
	payRoute  = route{endpoint: payment.EndpointPay, classify: true}
	failRoute = route{endpoint: payment.EndpointFail, kind: payment.KindFail}
)

// ProcessCheck answers the pre-charge eligibility query.
func (p *Provider) ProcessCheck(ctx context.Context, n payment.Notification) payment.Outcome {
	return p.process(ctx, checkRoute, n)
}

// ProcessPaymentResult handles the pay notification and its Status.
func (p *Provider) ProcessPaymentResult(ctx context.Context, n payment.Notification) payment.Outcome {
	return p.process(ctx, payRoute, n)
}

// ProcessFail handles the explicit fail notification.
func (p *Provider) ProcessFail(ctx context.Context, n payment.Notification) payment.Outcome {
	return p.process(ctx, failRoute, n)
}

func (p *Provider) process(ctx context.Context, rt route, n payment.Notification) payment.Outcome {
	ctx, span := otel.Tracer("payment.cloudpayments").Start(ctx, "cloudpayments."+string(rt.endpoint))
	defer span.End()

	err := p.run(ctx, rt, n)
	if err != nil {
		kind := payment.KindOf(err)
		span.SetAttributes(attribute.String("payment.error_kind", kind))
		span.SetStatus(codes.Error, kind)
		if obs.PaymentNotificationErrorsTotal != nil {
			obs.PaymentNotificationErrorsTotal.WithLabelValues(p.name, string(rt.endpoint), kind).Inc()
		}
	}
	return payment.OutcomeFor(err)
}

func (p *Provider) run(ctx context.Context, rt route, n payment.Notification) error {
	p.record(ctx, rt, payment.SeverityAudit, "payment notification received", map[string]any{
		"type":    string(rt.endpoint),
		"headers": map[string][]string(n.Header),
		"body":    n.Fields,
	})

	if err := p.verifier.Verify(n); err != nil {
		if rt.logVerifyFailure {
			p.record(ctx, rt, payment.SeverityInfo, err.Error(), nil)
		}
		return err
	}

	ev, err := p.decoder.Decode(n.Fields)
	if err != nil {
		p.record(ctx, rt, payment.SeverityWarn, err.Error(), n.Fields)
		return err
	}

	ev.Kind = rt.kind
	if rt.classify {
		status := n.Field("Status")
		kind, err := Classify(status)
		if err != nil {
			p.record(ctx, rt, payment.SeverityError, "unknown payment status: "+status, map[string]any{"status": status})
			return err
		}
		ev.Kind = kind
	}

	if err := p.invoke(ctx, ev); err != nil {
		if rt.logTriggerFailure {
			p.record(ctx, rt, payment.SeverityError, err.Error(), n.Fields)
		}
		return err
	}
	return nil
}

// invoke runs the trigger once; a panic counts as a rejection.
func (p *Provider) invoke(ctx context.Context, ev payment.Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = payment.TriggerFailed(fmt.Errorf("trigger panic: %v", rec))
		}
	}()
	return payment.TriggerFailed(payment.Invoke(ctx, p.triggers, ev))
}

func (p *Provider) record(ctx context.Context, rt route, severity payment.Severity, message string, data map[string]any) {
	p.sink.Record(ctx, payment.Entry{
		Provider: p.name,
		Endpoint: rt.endpoint,
		Severity: severity,
		Message:  message,
		Data:     data,
	})
}
