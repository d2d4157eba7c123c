package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stripebill/stripebill/pkg/invoicing"
	"github.com/stripebill/stripebill/storage/memory"
)

const tenantHeader = "X-Tenant-ID"

func newTestHandler(t *testing.T, store *memory.Store) *Handler {
	t.Helper()
	h, err := NewHandler(Config{
		Store:       store,
		GetTenantID: FromHeader(tenantHeader),
	})
	require.NoError(t, err)
	return h
}

func putTenant(store *memory.Store, mutate func(*invoicing.Tenant)) {
	tenant := &invoicing.Tenant{
		ID:              "tenant-1",
		Email:           "owner@example.ro",
		SmartBillAPIKey: "secret-api-key-1234",
		InvoiceSeries:   "FCT",
		Provider:        invoicing.ProviderSmartBill,
		DefaultVATRate:  19,
		Company: invoicing.CompanyProfile{
			Name:    "Example SRL",
			VATCode: "RO12345678",
			Address: "Str. Exemplu 1, Bucuresti",
		},
	}
	if mutate != nil {
		mutate(tenant)
	}
	store.PutTenant(tenant)
}

func doRequest(t *testing.T, h *Handler, method, path, tenantID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if tenantID != "" {
		req.Header.Set(tenantHeader, tenantID)
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestGetSettings_LazyTokenGeneration(t *testing.T) {
	store := memory.New()
	putTenant(store, nil)
	h := newTestHandler(t, store)

	rec := doRequest(t, h, http.MethodGet, "/settings", "tenant-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SettingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.WebhookToken, 64, "token must be 32 random bytes hex-encoded")

	// The token is persisted and stable across reads.
	rec = doRequest(t, h, http.MethodGet, "/settings", "tenant-1", "")
	var second SettingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, resp.WebhookToken, second.WebhookToken)

	tenant, err := store.GetTenantByWebhookToken(context.Background(), resp.WebhookToken)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", tenant.ID)
}

func TestGetSettings_ExistingTokenKept(t *testing.T) {
	store := memory.New()
	putTenant(store, func(tenant *invoicing.Tenant) {
		tenant.WebhookToken = "existing-token"
	})
	h := newTestHandler(t, store)

	rec := doRequest(t, h, http.MethodGet, "/settings", "tenant-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SettingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "existing-token", resp.WebhookToken)
}

func TestGetSettings_MasksAPIKeys(t *testing.T) {
	store := memory.New()
	putTenant(store, nil)
	h := newTestHandler(t, store)

	rec := doRequest(t, h, http.MethodGet, "/settings", "tenant-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SettingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotContains(t, resp.SmartBillAPIKey, "secret-api-key")
	assert.True(t, strings.HasSuffix(resp.SmartBillAPIKey, "1234"),
		"mask keeps the last four characters: %q", resp.SmartBillAPIKey)
	assert.Empty(t, resp.FGOAPIKey, "unset keys stay empty, not masked")
}

func TestGetSettings_Unauthorized(t *testing.T) {
	h := newTestHandler(t, memory.New())
	rec := doRequest(t, h, http.MethodGet, "/settings", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetSettings_UnknownTenant(t *testing.T) {
	h := newTestHandler(t, memory.New())
	rec := doRequest(t, h, http.MethodGet, "/settings", "missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateSettings_PartialPatch(t *testing.T) {
	store := memory.New()
	putTenant(store, nil)
	h := newTestHandler(t, store)

	rec := doRequest(t, h, http.MethodPatch, "/settings", "tenant-1",
		`{"invoiceSeries":"PRO","defaultVatRate":21}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SettingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "PRO", resp.InvoiceSeries)
	assert.Equal(t, 21, resp.DefaultVATRate)
	// Untouched fields survive.
	assert.Equal(t, "Example SRL", resp.CompanyName)
	assert.Equal(t, "smartbill", resp.Provider)
}

func TestUpdateSettings_UnknownProviderRejected(t *testing.T) {
	store := memory.New()
	putTenant(store, nil)
	h := newTestHandler(t, store)

	rec := doRequest(t, h, http.MethodPatch, "/settings", "tenant-1",
		`{"provider":"quickbooks"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateSettings_InvalidJSON(t *testing.T) {
	store := memory.New()
	putTenant(store, nil)
	h := newTestHandler(t, store)

	rec := doRequest(t, h, http.MethodPatch, "/settings", "tenant-1", `{"invoiceSeries":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListInvoices(t *testing.T) {
	store := memory.New()
	putTenant(store, nil)
	ctx := context.Background()
	require.NoError(t, store.CreateInvoice(ctx, &invoicing.Invoice{
		ID:            "inv-1",
		TenantID:      "tenant-1",
		InvoiceNumber: "FCT-0001",
		Status:        invoicing.StatusSent,
		EmailSent:     true,
	}))
	require.NoError(t, store.CreateInvoice(ctx, &invoicing.Invoice{
		ID:       "inv-other",
		TenantID: "tenant-2",
		Status:   invoicing.StatusGenerated,
	}))

	h := newTestHandler(t, store)
	rec := doRequest(t, h, http.MethodGet, "/invoices", "tenant-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp InvoiceListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Invoices, 1)
	assert.Equal(t, "FCT-0001", resp.Invoices[0].InvoiceNumber)
	assert.Equal(t, "sent", resp.Invoices[0].Status)
	assert.True(t, resp.Invoices[0].EmailSent)
}

func TestTestConnection(t *testing.T) {
	store := memory.New()
	putTenant(store, nil)

	tests := []struct {
		name    string
		testErr error
		wantOK  bool
	}{
		{"credentials valid", nil, true},
		{"credentials rejected", fmt.Errorf("invalid credentials"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHandler(Config{
				Store:       store,
				GetTenantID: FromHeader(tenantHeader),
				TestConnection: func(context.Context, *invoicing.Tenant) error {
					return tt.testErr
				},
			})
			require.NoError(t, err)

			rec := doRequest(t, h, http.MethodPost, "/settings/test-connection", "tenant-1", "")
			require.Equal(t, http.StatusOK, rec.Code)

			var resp TestConnectionResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantOK, resp.OK)
		})
	}
}

func TestTestConnection_NotWired(t *testing.T) {
	store := memory.New()
	putTenant(store, nil)
	h := newTestHandler(t, store)

	rec := doRequest(t, h, http.MethodPost, "/settings/test-connection", "tenant-1", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
