// Package memory provides an in-memory implementation of invoicing.Store
// and invoicing.EventCache. It is the reference backend for tests and
// examples; all operations are safe for concurrent use.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stripebill/stripebill/pkg/invoicing"
)

// Store implements invoicing.Store backed by process memory.
type Store struct {
	mu       sync.RWMutex
	tenants  map[string]*invoicing.Tenant
	invoices map[string]*invoicing.Invoice
	seen     map[string]time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		tenants:  make(map[string]*invoicing.Tenant),
		invoices: make(map[string]*invoicing.Invoice),
		seen:     make(map[string]time.Time),
	}
}

// PutTenant inserts or replaces a tenant. Test/bootstrap helper.
func (s *Store) PutTenant(t *invoicing.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tenants[t.ID] = &cp
}

// GetTenant implements invoicing.Store.
func (s *Store) GetTenant(_ context.Context, id string) (*invoicing.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, invoicing.ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

// GetTenantByWebhookToken implements invoicing.Store. Matching is exact
// and case-sensitive.
func (s *Store) GetTenantByWebhookToken(_ context.Context, token string) (*invoicing.Tenant, error) {
	if token == "" {
		return nil, invoicing.ErrTenantNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tenants {
		if t.WebhookToken == token {
			cp := *t
			return &cp, nil
		}
	}
	return nil, invoicing.ErrTenantNotFound
}

// GetTenantByStripeAccount implements invoicing.Store.
func (s *Store) GetTenantByStripeAccount(_ context.Context, accountID string) (*invoicing.Tenant, error) {
	if accountID == "" {
		return nil, invoicing.ErrTenantNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tenants {
		if t.StripeAccountID == accountID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, invoicing.ErrTenantNotFound
}

// SetWebhookToken implements invoicing.Store.
func (s *Store) SetWebhookToken(_ context.Context, tenantID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return invoicing.ErrTenantNotFound
	}
	t.WebhookToken = token
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateSettings implements invoicing.Store.
func (s *Store) UpdateSettings(_ context.Context, tenantID string, upd *invoicing.SettingsUpdate) (*invoicing.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, invoicing.ErrTenantNotFound
	}

	if upd.Provider != nil {
		t.Provider = *upd.Provider
	}
	if upd.SmartBillUsername != nil {
		t.SmartBillUsername = *upd.SmartBillUsername
	}
	if upd.SmartBillAPIKey != nil {
		t.SmartBillAPIKey = *upd.SmartBillAPIKey
	}
	if upd.FGOAPIKey != nil {
		t.FGOAPIKey = *upd.FGOAPIKey
	}
	if upd.InvoiceSeries != nil {
		t.InvoiceSeries = *upd.InvoiceSeries
	}
	if upd.CompanyName != nil {
		t.Company.Name = *upd.CompanyName
	}
	if upd.CompanyVATCode != nil {
		t.Company.VATCode = *upd.CompanyVATCode
	}
	if upd.CompanyAddress != nil {
		t.Company.Address = *upd.CompanyAddress
	}
	if upd.BankAccount != nil {
		t.Company.BankAccount = *upd.BankAccount
	}
	if upd.DefaultVATRate != nil {
		t.DefaultVATRate = *upd.DefaultVATRate
	}
	if upd.PricesIncludeVAT != nil {
		t.PricesIncludeVAT = *upd.PricesIncludeVAT
	}
	t.UpdatedAt = time.Now().UTC()

	cp := *t
	return &cp, nil
}

// ActivateSubscription implements invoicing.Store.
func (s *Store) ActivateSubscription(_ context.Context, tenantID, customerID, subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return invoicing.ErrTenantNotFound
	}
	t.StripeCustomerID = customerID
	t.SubscriptionID = subscriptionID
	t.SubscriptionStatus = invoicing.SubscriptionActive
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateSubscriptionByCustomer implements invoicing.Store.
func (s *Store) UpdateSubscriptionByCustomer(_ context.Context, customerID string, upd *invoicing.SubscriptionUpdate) error {
	if customerID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tenants {
		if t.StripeCustomerID != customerID {
			continue
		}
		t.SubscriptionStatus = upd.Status
		if upd.PriceID != "" {
			t.SubscriptionPrice = upd.PriceID
		}
		if upd.PeriodEnd != nil {
			t.PeriodEnd = upd.PeriodEnd
		}
		t.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// ClearSubscriptionByCustomer implements invoicing.Store.
func (s *Store) ClearSubscriptionByCustomer(_ context.Context, customerID string) error {
	if customerID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tenants {
		if t.StripeCustomerID != customerID {
			continue
		}
		t.SubscriptionStatus = invoicing.SubscriptionCanceled
		t.SubscriptionID = ""
		t.PeriodEnd = nil
		t.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// CreateInvoice implements invoicing.Store.
func (s *Store) CreateInvoice(_ context.Context, inv *invoicing.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *inv
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.invoices[cp.ID] = &cp
	return nil
}

// UpdateInvoiceEmailResult implements invoicing.Store. Status never
// regresses: sent only advances from generated.
func (s *Store) UpdateInvoiceEmailResult(_ context.Context, invoiceID string, sent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[invoiceID]
	if !ok {
		return invoicing.ErrInvoiceNotFound
	}
	inv.EmailSent = sent
	if sent && inv.Status == invoicing.StatusGenerated {
		inv.Status = invoicing.StatusSent
	}
	inv.UpdatedAt = time.Now().UTC()
	return nil
}

// IncrementFreeInvoicesUsed implements invoicing.Store. The increment is
// atomic under the store lock.
func (s *Store) IncrementFreeInvoicesUsed(_ context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return 0, invoicing.ErrTenantNotFound
	}
	t.FreeInvoicesUsed++
	t.UpdatedAt = time.Now().UTC()
	return t.FreeInvoicesUsed, nil
}

// ListInvoices implements invoicing.Store. Newest first.
func (s *Store) ListInvoices(_ context.Context, tenantID string) ([]*invoicing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*invoicing.Invoice, 0)
	for _, inv := range s.invoices {
		if inv.TenantID == tenantID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// MarkProcessed implements invoicing.EventCache.
func (s *Store) MarkProcessed(_ context.Context, eventID string, ttl time.Duration) (bool, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.seen[eventID]; ok && exp.After(now) {
		return false, nil
	}
	s.seen[eventID] = now.Add(ttl)
	return true, nil
}

// GetInvoice returns an invoice by id. Test helper.
func (s *Store) GetInvoice(id string) (*invoicing.Invoice, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, false
	}
	cp := *inv
	return &cp, true
}

// InvoiceCount returns the number of stored invoices. Test helper.
func (s *Store) InvoiceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.invoices)
}
