package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentNotificationsTotal counts webhook notifications by wire outcome.
	PaymentNotificationsTotal *prometheus.CounterVec
	// PaymentNotificationErrorsTotal counts pipeline failures by error kind.
	PaymentNotificationErrorsTotal *prometheus.CounterVec
	// PaymentTriggerDuration records trigger latency in milliseconds.
	PaymentTriggerDuration *prometheus.HistogramVec
	// PaymentTriggerDuplicatesTotal counts notifications suppressed as replays.
	PaymentTriggerDuplicatesTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics creates the payment collectors once per process.
// Later calls are no-ops even with a different registerer.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentNotificationsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_notifications_total",
			Help:      "Payment webhook notifications by provider, endpoint and outcome.",
		}, []string{"provider", "endpoint", "outcome"}))
		PaymentNotificationErrorsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_notification_errors_total",
			Help:      "Payment webhook pipeline failures by error kind.",
		}, []string{"provider", "endpoint", "kind"}))
		PaymentTriggerDuration = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_trigger_duration_ms",
			Help:      "Latency of payment trigger invocations in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"provider", "kind", "result"}))
		PaymentTriggerDuplicatesTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_trigger_duplicates_total",
			Help:      "Payment notifications skipped because they were already handled.",
		}, []string{"provider", "kind"}))
	})
}
