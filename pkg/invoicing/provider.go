package invoicing

import "context"

// Provider is the narrow contract an external invoicing service must
// implement. Implementations must distinguish business rejection (a normal
// ProviderResult with Accepted=false) from transport or authentication
// failure (an error wrapping ErrProviderUnavailable).
type Provider interface {
	// Name returns the provider name (e.g., "smartbill").
	Name() string

	// CreateInvoice submits the invoice and returns the provider's answer.
	CreateInvoice(ctx context.Context, req *InvoiceRequest) (*ProviderResult, error)

	// EmailInvoice asks the provider to email the invoice to the
	// recipient. Best-effort: a false result or an error never rolls back
	// an already-generated invoice.
	EmailInvoice(ctx context.Context, invoiceID, series, recipient string) (bool, error)
}

// ProviderFactory builds a Provider from a tenant's stored credentials.
// It returns ErrProviderNotConfigured when the credentials are unusable.
type ProviderFactory func(tenant *Tenant) (Provider, error)
