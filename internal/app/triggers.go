package app

import (
	"github.com/noah-isme/cloudpayments-webhook/internal/payment"
	"github.com/noah-isme/cloudpayments-webhook/internal/payment/cloudpayments"
	"github.com/noah-isme/cloudpayments-webhook/internal/resilience"
	"github.com/noah-isme/cloudpayments-webhook/internal/trigger"
	"github.com/noah-isme/cloudpayments-webhook/internal/trigger/forward"
	"github.com/noah-isme/cloudpayments-webhook/internal/trigger/kafkapub"
	"github.com/noah-isme/cloudpayments-webhook/internal/trigger/pgstore"
	"github.com/noah-isme/cloudpayments-webhook/internal/trigger/taskqueue"
)

// Forward builds the merchant callback trigger, or nil when FORWARD_URL is unset.
func (d *Dependencies) Forward() (*forward.Trigger, error) {
	cfg := d.Config
	if cfg.ForwardURL == "" {
		return nil, nil
	}
	opts := []resilience.Option{
		resilience.WithTarget("forward"),
		resilience.WithLogger(d.Logger),
	}
	if cfg.EnablePrometheus {
		m, err := resilience.NewMetrics(cfg.MetricsNamespace, d.Registerer)
		if err != nil {
			return nil, err
		}
		opts = append(opts, resilience.WithMetrics(m))
	}
	breaker := resilience.NewBreaker(cfg.ForwardBreakerMinRequests, cfg.ForwardBreakerFailureRatio, cfg.ForwardBreakerOpenFor, opts...)
	return forward.New(cfg.ForwardURL, cfg.ForwardSecret, cfg.ForwardTimeout, breaker)
}

// Triggers composes the webhook side:
// Instrumented(Dedup(Chain{store, queue, forward, kafka, log})).
// With a task queue the merchant callback stays inline for check events only.
func (d *Dependencies) Triggers() (payment.Triggers, error) {
	var chain trigger.Chain
	if d.DB != nil {
		chain = append(chain, pgstore.New(d.DB))
	}
	if d.TaskClient != nil {
		chain = append(chain, taskqueue.Publisher{
			Client:   d.TaskClient,
			Queue:    d.Config.TaskQueueName,
			MaxRetry: d.Config.TaskQueueMaxRetry,
		})
	}
	fwd, err := d.Forward()
	if err != nil {
		return nil, err
	}
	switch {
	case fwd == nil:
	case d.TaskClient != nil:
		// results reach the merchant through the worker; checks cannot wait for it
		chain = append(chain, trigger.ChecksOnly{Next: fwd})
	default:
		chain = append(chain, fwd)
	}
	if d.Kafka != nil {
		chain = append(chain, kafkapub.Publisher{Writer: d.Kafka})
	}
	chain = append(chain, trigger.Logging{Logger: d.Logger.With().Str("component", "trigger").Logger()})

	var next payment.Triggers = chain
	if d.Redis != nil {
		next = trigger.Dedup{Next: chain, Redis: d.Redis, TTL: d.Config.DedupTTL}
	}
	return trigger.NewInstrumented(next)
}

// WorkerTriggers composes what the task queue worker runs for each task.
func (d *Dependencies) WorkerTriggers() (payment.Triggers, error) {
	var chain trigger.Chain
	fwd, err := d.Forward()
	if err != nil {
		return nil, err
	}
	if fwd != nil {
		chain = append(chain, fwd)
	}
	chain = append(chain, trigger.Logging{Logger: d.Logger.With().Str("component", "worker").Logger()})
	return trigger.NewInstrumented(chain)
}

// Provider builds the CloudPayments provider around triggers.
func (d *Dependencies) Provider(triggers payment.Triggers) (*cloudpayments.Provider, error) {
	cp := d.Config.CloudPayments
	return cloudpayments.New(cloudpayments.Config{
		PublicID:         cp.PublicID,
		APIKey:           cp.APIKey,
		SkipValidation:   !cp.ValidateRequest,
		AllowedIPs:       cp.AllowedIPs,
		LenientAccountID: !cp.StrictDecoding,
	}, triggers, d.AuditSink())
}

// AuditSink is the sink shared by the provider and the webhook handler.
func (d *Dependencies) AuditSink() payment.Sink {
	return payment.LogSink{Logger: d.Logger.With().Str("component", "payment").Logger()}
}
