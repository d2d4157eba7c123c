package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stripebill/stripebill/pkg/invoicing"
)

// Metrics implements invoicing.Metrics using Prometheus.
type Metrics struct {
	webhookEventsTotal        *prometheus.CounterVec
	webhookProcessingDuration *prometheus.HistogramVec
	webhookErrorsTotal        *prometheus.CounterVec
	invoicesGeneratedTotal    *prometheus.CounterVec
	entitlementDeniedTotal    prometheus.Counter
	providerCallsTotal        *prometheus.CounterVec
	providerCallDuration      *prometheus.HistogramVec
}

// NewMetrics creates a new Prometheus metrics implementation for the
// webhook pipeline.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Total number of webhook events received from Stripe.",
		}, []string{"event_type", "status"}),

		webhookProcessingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "processing_duration_seconds",
			Help:      "Duration of webhook processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),

		webhookErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "errors_total",
			Help:      "Total number of webhook processing errors.",
		}, []string{"error_type"}),

		invoicesGeneratedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "invoicing",
			Name:      "invoices_total",
			Help:      "Total number of invoice records written, by final status.",
		}, []string{"provider", "status"}),

		entitlementDeniedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "invoicing",
			Name:      "entitlement_denied_total",
			Help:      "Total number of payments skipped by the free-quota check.",
		}),

		providerCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "api_calls_total",
			Help:      "Total number of API calls to invoicing providers.",
		}, []string{"provider", "endpoint", "status"}),

		providerCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "api_call_duration_seconds",
			Help:      "Duration of API calls to invoicing providers in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "endpoint"}),
	}
}

func (m *Metrics) RecordWebhookEvent(eventType, status string) {
	m.webhookEventsTotal.WithLabelValues(eventType, status).Inc()
}

func (m *Metrics) RecordWebhookProcessingDuration(eventType string, duration time.Duration) {
	m.webhookProcessingDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *Metrics) RecordWebhookError(errorType string) {
	m.webhookErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) RecordInvoiceGenerated(provider string, status invoicing.InvoiceStatus) {
	m.invoicesGeneratedTotal.WithLabelValues(provider, string(status)).Inc()
}

func (m *Metrics) RecordEntitlementDenied() {
	m.entitlementDeniedTotal.Inc()
}

func (m *Metrics) RecordProviderCall(provider, endpoint, status string) {
	m.providerCallsTotal.WithLabelValues(provider, endpoint, status).Inc()
}

func (m *Metrics) RecordProviderCallDuration(provider, endpoint string, duration time.Duration) {
	m.providerCallDuration.WithLabelValues(provider, endpoint).Observe(duration.Seconds())
}

// DefaultMetrics returns a Metrics implementation using the default
// Prometheus registerer.
func DefaultMetrics(namespace string) invoicing.Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
