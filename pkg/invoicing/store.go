package invoicing

import (
	"context"
	"time"
)

// Store defines the persistence interface for tenants and invoices.
// All methods use concrete types from this package to avoid import cycles.
type Store interface {
	// GetTenant retrieves a tenant by id.
	// Returns ErrTenantNotFound if no tenant matches.
	GetTenant(ctx context.Context, id string) (*Tenant, error)

	// GetTenantByWebhookToken resolves a tenant by its opaque webhook
	// token. Matching is exact and case-sensitive.
	GetTenantByWebhookToken(ctx context.Context, token string) (*Tenant, error)

	// GetTenantByStripeAccount resolves a tenant by its connected Stripe
	// account id. Matching is exact and case-sensitive.
	GetTenantByStripeAccount(ctx context.Context, accountID string) (*Tenant, error)

	// SetWebhookToken stores a lazily generated webhook token.
	SetWebhookToken(ctx context.Context, tenantID, token string) error

	// UpdateSettings applies a partial settings update and returns the
	// updated tenant snapshot.
	UpdateSettings(ctx context.Context, tenantID string, upd *SettingsUpdate) (*Tenant, error)

	// ActivateSubscription records a completed subscription checkout.
	ActivateSubscription(ctx context.Context, tenantID, customerID, subscriptionID string) error

	// UpdateSubscriptionByCustomer applies a subscription lifecycle change
	// to the tenant owning the given Stripe customer id. Zero-valued
	// fields (empty PriceID, nil PeriodEnd) are left untouched. A missing
	// tenant is not an error: ids may reference accounts this system
	// never saw.
	UpdateSubscriptionByCustomer(ctx context.Context, customerID string, upd *SubscriptionUpdate) error

	// ClearSubscriptionByCustomer cancels the subscription: status becomes
	// canceled, subscription id and period end are cleared.
	ClearSubscriptionByCustomer(ctx context.Context, customerID string) error

	// CreateInvoice persists one invoice row. The caller assigns the id.
	CreateInvoice(ctx context.Context, inv *Invoice) error

	// UpdateInvoiceEmailResult records the best-effort email outcome.
	// On success the status advances to sent; on failure it stays
	// generated. Status never regresses.
	UpdateInvoiceEmailResult(ctx context.Context, invoiceID string, sent bool) error

	// IncrementFreeInvoicesUsed atomically increments the tenant's free
	// usage counter and returns the new value. The increment must happen
	// at the data layer: concurrent deliveries for one tenant must not
	// lose updates.
	IncrementFreeInvoicesUsed(ctx context.Context, tenantID string) (int, error)

	// ListInvoices returns the tenant's invoices, newest first.
	ListInvoices(ctx context.Context, tenantID string) ([]*Invoice, error)
}

// EventCache deduplicates webhook deliveries by provider event id.
// It is optional: without one, redelivered events may produce duplicate
// invoices (the sender's at-least-once contract).
type EventCache interface {
	// MarkProcessed records the event id and reports whether this is the
	// first time it was seen. Entries expire after ttl.
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (first bool, err error)
}
