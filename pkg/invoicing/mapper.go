package invoicing

import (
	"fmt"
	"time"
)

// DueDateOffset is added to the issue date when no due date is specified.
const DueDateOffset = 30 * 24 * time.Hour

// UnknownCustomerName is the sentinel used when a payment carries no
// customer identity. A missing customer never blocks invoice creation.
const UnknownCustomerName = "Unknown customer"

// defaultProductName is used when the payment has no description.
const defaultProductName = "Digital service"

// Mapper translates a payment event plus tenant configuration into a
// provider-agnostic invoice request. The clock is injectable so that
// mapping is deterministic under test.
type Mapper struct {
	rates ExchangeRates
	now   func() time.Time
}

// NewMapper creates a Mapper with the given exchange rates.
func NewMapper(rates ExchangeRates) *Mapper {
	return &Mapper{rates: rates, now: time.Now}
}

// WithClock overrides the mapper's time source.
func (m *Mapper) WithClock(now func() time.Time) *Mapper {
	m.now = now
	return m
}

// Map builds the invoice request for one payment. It fails with
// ErrMissingCompanyProfile when the tenant's legal data is incomplete;
// the caller records that as a failed invoice instead of calling the
// provider.
func (m *Mapper) Map(evt *PaymentEvent, tenant *Tenant) (*InvoiceRequest, error) {
	if !tenant.Company.Complete() {
		return nil, fmt.Errorf("tenant %s: %w", tenant.ID, ErrMissingCompanyProfile)
	}

	totalRON := m.rates.ToRON(evt.Amount, evt.Currency)

	vatRate := tenant.DefaultVATRate
	if vatRate == 0 {
		vatRate = DefaultVATRate
	}

	// Stripe prices may already carry VAT; back-calculate the net unit
	// price in that case.
	unitPrice := totalRON
	if tenant.PricesIncludeVAT {
		unitPrice = totalRON / (1 + float64(vatRate)/100)
	}

	series := tenant.InvoiceSeries
	if series == "" {
		series = DefaultInvoiceSeries
	}

	clientName := evt.CustomerName
	if clientName == "" {
		clientName = UnknownCustomerName
	}

	productName := evt.Description
	if productName == "" {
		productName = defaultProductName
	}

	productDesc := fmt.Sprintf("Stripe payment %s (VAT not included)", evt.ID)
	if tenant.PricesIncludeVAT {
		productDesc = fmt.Sprintf("Stripe payment %s (VAT included)", evt.ID)
	}

	issueDate := m.now().UTC().Truncate(24 * time.Hour)

	return &InvoiceRequest{
		ClientName:    clientName,
		ClientEmail:   evt.CustomerEmail,
		ClientAddress: evt.CustomerAddr,

		Series:    series,
		IssueDate: issueDate,
		DueDate:   issueDate.Add(DueDateOffset),

		ProductName:        productName,
		ProductDescription: productDesc,
		Quantity:           1,
		UnitPrice:          unitPrice,
		VATRate:            vatRate,

		Company: tenant.Company,
	}, nil
}
