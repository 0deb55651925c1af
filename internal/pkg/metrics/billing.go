package metrics

import (
	"errors"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const maxLabelLen = 64

func sanitizeLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}

// BillingMetrics holds the counters for entitlement reconciliation.
type BillingMetrics struct {
	reconcileOutcomes *prometheus.CounterVec
	webhookEvents     *prometheus.CounterVec
	providerErrors    *prometheus.CounterVec
	emailDeliveries   *prometheus.CounterVec
}

var (
	billingInstance *BillingMetrics
	billingOnce     sync.Once
)

// Billing returns the process-wide billing metrics.
func Billing() *BillingMetrics {
	billingOnce.Do(func() {
		billingInstance = newBillingMetrics()
	})
	return billingInstance
}

func newBillingMetrics() *BillingMetrics {
	return &BillingMetrics{
		reconcileOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "platform",
				Subsystem: "billing",
				Name:      "reconcile_outcomes_total",
				Help:      "Reconciliation results by entry channel and outcome",
			},
			[]string{"channel", "outcome"},
		),
		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "platform",
				Subsystem: "billing",
				Name:      "webhook_events_total",
				Help:      "Webhook deliveries by event kind and handling status",
			},
			[]string{"kind", "status"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "platform",
				Subsystem: "billing",
				Name:      "provider_errors_total",
				Help:      "Failed billing provider calls by operation",
			},
			[]string{"operation"},
		),
		emailDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "platform",
				Subsystem: "billing",
				Name:      "email_deliveries_total",
				Help:      "Billing notifications by type and result (dispatched, dispatch_failed, sent, failed)",
			},
			[]string{"type", "result"},
		),
	}
}

// Register adds the billing collectors to reg. Registering twice is not an error.
func (m *BillingMetrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.reconcileOutcomes, m.webhookEvents, m.providerErrors, m.emailDeliveries} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

func (m *BillingMetrics) ObserveReconcile(channel, outcome string) {
	m.reconcileOutcomes.WithLabelValues(sanitizeLabel(channel), sanitizeLabel(outcome)).Inc()
}

func (m *BillingMetrics) ObserveWebhook(kind, status string) {
	m.webhookEvents.WithLabelValues(sanitizeLabel(kind), sanitizeLabel(status)).Inc()
}

func (m *BillingMetrics) ObserveProviderError(operation string) {
	m.providerErrors.WithLabelValues(sanitizeLabel(operation)).Inc()
}

func (m *BillingMetrics) ObserveEmail(emailType, result string) {
	m.emailDeliveries.WithLabelValues(sanitizeLabel(emailType), sanitizeLabel(result)).Inc()
}
