package invoicing

import "errors"

var (
	// ErrTenantNotFound is returned when no tenant matches the webhook
	// token or connected account id.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrProviderNotConfigured is returned when a tenant has no usable
	// invoicing provider credentials.
	ErrProviderNotConfigured = errors.New("invoicing provider not configured")

	// ErrProviderUnavailable is returned on transport or authentication
	// failure against the invoicing provider, as opposed to a business
	// rejection which is a normal ProviderResult.
	ErrProviderUnavailable = errors.New("invoicing provider unavailable")

	// ErrMissingCompanyProfile is returned by the mapper when the tenant's
	// company legal data is incomplete.
	ErrMissingCompanyProfile = errors.New("company profile incomplete")

	// ErrInvoiceNotFound is returned when an invoice row does not exist.
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrStorageUnavailable is returned when the data store cannot be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
