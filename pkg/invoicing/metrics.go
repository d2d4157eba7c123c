package invoicing

import "time"

// Metrics defines the interface for tracking pipeline operations.
// All methods are optional - callers should fall back to NoopMetrics.
type Metrics interface {
	// RecordWebhookEvent records a processed webhook event.
	// status: "success" or "error"
	RecordWebhookEvent(eventType, status string)

	// RecordWebhookProcessingDuration records how long a webhook took.
	RecordWebhookProcessingDuration(eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: e.g. "auth_failed", "invalid_payload", "tenant_not_found"
	RecordWebhookError(errorType string)

	// RecordInvoiceGenerated records an invoice outcome by final status.
	RecordInvoiceGenerated(provider string, status InvoiceStatus)

	// RecordEntitlementDenied records a payment skipped by the free-quota
	// check.
	RecordEntitlementDenied()

	// RecordProviderCall records an API call to the invoicing provider.
	// status: "ok", "rejected", or "unavailable"
	RecordProviderCall(provider, endpoint, status string)

	// RecordProviderCallDuration records how long a provider call took.
	RecordProviderCallDuration(provider, endpoint string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _ string)                              {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_ string, _ time.Duration)   {}
func (n *NoopMetrics) RecordWebhookError(_ string)                                 {}
func (n *NoopMetrics) RecordInvoiceGenerated(_ string, _ InvoiceStatus)            {}
func (n *NoopMetrics) RecordEntitlementDenied()                                    {}
func (n *NoopMetrics) RecordProviderCall(_, _, _ string)                           {}
func (n *NoopMetrics) RecordProviderCallDuration(_, _ string, _ time.Duration)     {}
