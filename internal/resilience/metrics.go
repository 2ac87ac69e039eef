package resilience

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports breaker state (0 closed, 1 open, 2 half-open) and transitions.
type Metrics struct {
	State       *prometheus.GaugeVec
	Transitions *prometheus.CounterVec
}

// NewMetrics registers breaker collectors on reg, reusing existing ones.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	state := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "breaker_state",
		Help:      "Circuit breaker state: 0=closed, 1=open, 2=half-open.",
	}, []string{"target"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "breaker_transitions_total",
		Help:      "Circuit breaker state transitions.",
	}, []string{"target", "from", "to"})

	m := &Metrics{State: state, Transitions: transitions}
	if err := reg.Register(state); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		m.State = are.ExistingCollector.(*prometheus.GaugeVec)
	}
	if err := reg.Register(transitions); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		m.Transitions = are.ExistingCollector.(*prometheus.CounterVec)
	}
	return m, nil
}
