package payment

import (
	"context"
	"strings"
)

// Endpoint names one of the gateway callback purposes.
type Endpoint string

const (
	EndpointCheck Endpoint = "check"
	EndpointPay   Endpoint = "pay"
	EndpointFail  Endpoint = "fail"
)

// ParseEndpoint maps a path segment onto an Endpoint.
func ParseEndpoint(s string) (Endpoint, bool) {
	switch Endpoint(strings.ToLower(strings.TrimSpace(s))) {
	case EndpointCheck:
		return EndpointCheck, true
	case EndpointPay:
		return EndpointPay, true
	case EndpointFail:
		return EndpointFail, true
	default:
		return "", false
	}
}

// Provider is implemented once per gateway integration. Every method always
// returns one of the two wire outcomes; failures never escape as errors.
type Provider interface {
	Name() string
	ProcessCheck(ctx context.Context, n Notification) Outcome
	ProcessPaymentResult(ctx context.Context, n Notification) Outcome
	ProcessFail(ctx context.Context, n Notification) Outcome
}

// Process routes n to the provider method matching its endpoint.
func Process(ctx context.Context, p Provider, n Notification) Outcome {
	switch n.Endpoint {
	case EndpointCheck:
		return p.ProcessCheck(ctx, n)
	case EndpointPay:
		return p.ProcessPaymentResult(ctx, n)
	case EndpointFail:
		return p.ProcessFail(ctx, n)
	default:
		return OutcomeUnsuccessful
	}
}

// Registry resolves providers by their lower-cased name.
type Registry map[string]Provider

// NewRegistry indexes providers by name.
func NewRegistry(providers ...Provider) Registry {
	reg := make(Registry, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		reg[strings.ToLower(p.Name())] = p
	}
	return reg
}

// Lookup returns the provider registered under name.
func (r Registry) Lookup(name string) (Provider, bool) {
	p, ok := r[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}
