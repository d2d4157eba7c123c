package api

import (
	"time"

	"github.com/stripebill/stripebill/pkg/invoicing"
)

// SettingsResponse is the JSON shape returned by GetSettings and
// UpdateSettings. API keys are masked; the full value never leaves the
// server after it is stored.
type SettingsResponse struct {
	Provider          string `json:"provider"`
	SmartBillUsername string `json:"smartbillUsername"`
	SmartBillAPIKey   string `json:"smartbillApiKey"`
	FGOAPIKey         string `json:"fgoApiKey"`
	InvoiceSeries     string `json:"invoiceSeries"`
	CompanyName       string `json:"companyName"`
	CompanyVATCode    string `json:"companyVatCode"`
	CompanyAddress    string `json:"companyAddress"`
	BankAccount       string `json:"bankAccount"`
	DefaultVATRate    int    `json:"defaultVatRate"`
	PricesIncludeVAT  bool   `json:"pricesIncludeVat"`
	WebhookToken      string `json:"webhookToken"`
	SubscriptionState string `json:"subscriptionStatus"`
	FreeInvoicesUsed  int    `json:"freeInvoicesUsed"`
	FreeInvoiceQuota  int    `json:"freeInvoiceQuota"`
}

// SettingsPatch is the JSON body accepted by UpdateSettings. Absent
// fields keep their stored values.
type SettingsPatch struct {
	Provider          *string `json:"provider"`
	SmartBillUsername *string `json:"smartbillUsername"`
	SmartBillAPIKey   *string `json:"smartbillApiKey"`
	FGOAPIKey         *string `json:"fgoApiKey"`
	InvoiceSeries     *string `json:"invoiceSeries"`
	CompanyName       *string `json:"companyName"`
	CompanyVATCode    *string `json:"companyVatCode"`
	CompanyAddress    *string `json:"companyAddress"`
	BankAccount       *string `json:"bankAccount"`
	DefaultVATRate    *int    `json:"defaultVatRate"`
	PricesIncludeVAT  *bool   `json:"pricesIncludeVat"`
}

// InvoiceResponse is the JSON shape of one invoice in list responses.
type InvoiceResponse struct {
	ID                 string    `json:"id"`
	StripePaymentID    string    `json:"stripePaymentId"`
	CustomerName       string    `json:"customerName"`
	CustomerEmail      string    `json:"customerEmail,omitempty"`
	InvoiceNumber      string    `json:"invoiceNumber,omitempty"`
	InvoiceSeries      string    `json:"invoiceSeries,omitempty"`
	Description        string    `json:"description,omitempty"`
	StripeAmount       int64     `json:"stripeAmount"`
	StripeCurrency     string    `json:"stripeCurrency"`
	TotalAmount        int64     `json:"totalAmount"`
	ProviderInvoiceURL string    `json:"providerInvoiceUrl,omitempty"`
	Status             string    `json:"status"`
	ErrorMessage       string    `json:"errorMessage,omitempty"`
	EmailSent          bool      `json:"emailSent"`
	CreatedAt          time.Time `json:"createdAt"`
}

// InvoiceListResponse wraps the invoice list.
type InvoiceListResponse struct {
	Invoices []InvoiceResponse `json:"invoices"`
}

// TestConnectionResponse reports a provider credential check.
type TestConnectionResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func invoiceResponse(inv *invoicing.Invoice) InvoiceResponse {
	return InvoiceResponse{
		ID:                 inv.ID,
		StripePaymentID:    inv.StripePaymentID,
		CustomerName:       inv.CustomerName,
		CustomerEmail:      inv.CustomerEmail,
		InvoiceNumber:      inv.InvoiceNumber,
		InvoiceSeries:      inv.InvoiceSeries,
		Description:        inv.Description,
		StripeAmount:       inv.StripeAmount,
		StripeCurrency:     inv.StripeCurrency,
		TotalAmount:        inv.TotalAmount,
		ProviderInvoiceURL: inv.ProviderInvoiceURL,
		Status:             string(inv.Status),
		ErrorMessage:       inv.ErrorMessage,
		EmailSent:          inv.EmailSent,
		CreatedAt:          inv.CreatedAt,
	}
}
