package invoicing

import (
	"time"
)

// SubscriptionStatus is the state of a tenant's paid subscription.
type SubscriptionStatus string

const (
	// SubscriptionNone means the tenant never subscribed.
	SubscriptionNone SubscriptionStatus = "none"
	// SubscriptionActive means the tenant has a paid subscription in good standing.
	SubscriptionActive SubscriptionStatus = "active"
	// SubscriptionPastDue means the tenant's own subscription billing failed.
	SubscriptionPastDue SubscriptionStatus = "past_due"
	// SubscriptionCanceled means the subscription was terminated.
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// ProviderKind selects which external invoicing service a tenant uses.
type ProviderKind string

const (
	// ProviderNone means no invoicing provider is configured.
	ProviderNone ProviderKind = ""
	// ProviderSmartBill is the SmartBill cloud invoicing service.
	ProviderSmartBill ProviderKind = "smartbill"
	// ProviderFGO is the FGO invoicing service (recognized, not yet implemented).
	ProviderFGO ProviderKind = "fgo"
)

// FreeInvoiceQuota is the number of invoices a tenant may generate
// without an active subscription.
const FreeInvoiceQuota = 3

// DefaultInvoiceSeries is used when a tenant has no series configured.
const DefaultInvoiceSeries = "FAC"

// DefaultVATRate is the fallback VAT percentage when a tenant has no
// default configured.
const DefaultVATRate = 19

// CompanyProfile holds the legal identity the tenant issues invoices under.
type CompanyProfile struct {
	Name        string
	VATCode     string
	Address     string
	BankAccount string
}

// Complete reports whether the profile carries the fields an invoicing
// provider requires. BankAccount is optional.
func (c CompanyProfile) Complete() bool {
	return c.Name != "" && c.VATCode != "" && c.Address != ""
}

// Tenant is a configuration snapshot of one account, as returned by the
// tenant resolver. It is a value object: mutating it does not write back
// to storage.
type Tenant struct {
	ID    string
	Email string

	SubscriptionStatus SubscriptionStatus
	SubscriptionID     string
	StripeCustomerID   string
	StripeAccountID    string
	SubscriptionPrice  string
	PeriodEnd          *time.Time

	FreeInvoicesUsed int

	WebhookToken string

	Provider          ProviderKind
	SmartBillUsername string
	SmartBillAPIKey   string
	FGOAPIKey         string
	InvoiceSeries     string
	Company           CompanyProfile
	DefaultVATRate    int
	PricesIncludeVAT  bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PaymentEvent is the normalized payment fact extracted from an inbound
// webhook. Amounts are in minor units (cents/bani).
type PaymentEvent struct {
	ID            string
	Amount        int64
	Currency      string
	Description   string
	CustomerID    string
	CustomerName  string
	CustomerEmail string
	CustomerAddr  string
	AccountID     string
}

// InvoiceStatus is the lifecycle state of a persisted invoice.
type InvoiceStatus string

const (
	// StatusPending means the invoice awaits provider configuration.
	StatusPending InvoiceStatus = "pending"
	// StatusGenerated means the provider accepted the invoice.
	StatusGenerated InvoiceStatus = "generated"
	// StatusSent means the invoice email was dispatched.
	StatusSent InvoiceStatus = "sent"
	// StatusFailed means the provider rejected the invoice or mapping failed.
	StatusFailed InvoiceStatus = "failed"
)

// Invoice is the persisted outcome of one payment event. Exactly one row
// is written per accepted payment; status mutates at most twice afterwards
// (provider result, then email result).
type Invoice struct {
	ID       string
	TenantID string

	StripePaymentID  string
	StripeCustomerID string
	StripeAmount     int64
	StripeCurrency   string

	CustomerName    string
	CustomerEmail   string
	CustomerAddress string

	InvoiceNumber string
	InvoiceSeries string
	Description   string
	Quantity      int
	UnitPrice     int64
	TotalAmount   int64

	ProviderInvoiceID  string
	ProviderInvoiceURL string

	Status       InvoiceStatus
	ErrorMessage string
	EmailSent    bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// InvoiceRequest is the provider-agnostic invoice the mapper produces.
// Monetary values are in the accounting currency (RON), not minor units.
type InvoiceRequest struct {
	ClientName    string
	ClientEmail   string
	ClientAddress string
	ClientVATCode string

	Series    string
	IssueDate time.Time
	DueDate   time.Time

	ProductName        string
	ProductDescription string
	Quantity           int
	UnitPrice          float64
	VATRate            int

	Company CompanyProfile
}

// ProviderResult is the outcome of a create-invoice call. A business
// rejection is a normal result (Accepted=false with ErrorText); transport
// failures are returned as errors by the Provider instead.
type ProviderResult struct {
	Accepted      bool
	InvoiceID     string
	InvoiceNumber string
	PDFURL        string
	ErrorText     string
}

// SubscriptionUpdate carries the fields a subscription lifecycle event
// writes onto the owning tenant.
type SubscriptionUpdate struct {
	Status    SubscriptionStatus
	PriceID   string
	PeriodEnd *time.Time
}

// SettingsUpdate is a partial tenant settings write. Nil fields are left
// untouched.
type SettingsUpdate struct {
	Provider          *ProviderKind
	SmartBillUsername *string
	SmartBillAPIKey   *string
	FGOAPIKey         *string
	InvoiceSeries     *string
	CompanyName       *string
	CompanyVATCode    *string
	CompanyAddress    *string
	BankAccount       *string
	DefaultVATRate    *int
	PricesIncludeVAT  *bool
}
