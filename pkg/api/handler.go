package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stripebill/stripebill/internal/httputil"
	"github.com/stripebill/stripebill/pkg/invoicing"
)

const (
	maxTenantIDLen   = 255
	maxSettingsBytes = 64 * 1024
	maskedKey        = "••••••••"
	tokenBytes       = 32
)

// Handler provides HTTP endpoints for tenant settings and invoices.
type Handler struct {
	config Config
}

// Routes mounts the handler's endpoints on a chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/settings", h.GetSettings)
	r.Patch("/settings", h.UpdateSettings)
	r.Post("/settings/test-connection", h.TestConnection)
	r.Get("/invoices", h.ListInvoices)
	return r
}

// GetSettings returns the tenant's invoicing settings. The webhook token
// is generated lazily on first read so tenants who never use the token
// flow never get one.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}

	if tenant.WebhookToken == "" {
		token, err := newWebhookToken()
		if err != nil {
			h.handleError(w, r, fmt.Errorf("failed to generate webhook token: %w", err), http.StatusInternalServerError)
			return
		}
		if err := h.config.Store.SetWebhookToken(r.Context(), tenant.ID, token); err != nil {
			h.handleError(w, r, fmt.Errorf("failed to store webhook token: %w", err), http.StatusInternalServerError)
			return
		}
		tenant.WebhookToken = token
	}

	_ = httputil.WriteJSON(w, http.StatusOK, settingsResponse(tenant))
}

// UpdateSettings applies a partial settings update and returns the new
// settings snapshot.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	tenantID := h.tenantID(w, r)
	if tenantID == "" {
		return
	}

	body, err := httputil.ReadBodyStrict(w, r, maxSettingsBytes)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}

	var patch SettingsPatch
	if err := json.Unmarshal(body, &patch); err != nil {
		h.handleError(w, r, fmt.Errorf("invalid JSON: %w", err), http.StatusBadRequest)
		return
	}

	upd := &invoicing.SettingsUpdate{
		SmartBillUsername: patch.SmartBillUsername,
		SmartBillAPIKey:   patch.SmartBillAPIKey,
		FGOAPIKey:         patch.FGOAPIKey,
		InvoiceSeries:     patch.InvoiceSeries,
		CompanyName:       patch.CompanyName,
		CompanyVATCode:    patch.CompanyVATCode,
		CompanyAddress:    patch.CompanyAddress,
		BankAccount:       patch.BankAccount,
		DefaultVATRate:    patch.DefaultVATRate,
		PricesIncludeVAT:  patch.PricesIncludeVAT,
	}
	if patch.Provider != nil {
		kind := invoicing.ProviderKind(*patch.Provider)
		switch kind {
		case invoicing.ProviderNone, invoicing.ProviderSmartBill, invoicing.ProviderFGO:
		default:
			h.handleError(w, r, fmt.Errorf("unknown provider %q", *patch.Provider), http.StatusBadRequest)
			return
		}
		upd.Provider = &kind
	}

	tenant, err := h.config.Store.UpdateSettings(r.Context(), tenantID, upd)
	if err != nil {
		if errors.Is(err, invoicing.ErrTenantNotFound) {
			h.handleError(w, r, err, http.StatusNotFound)
			return
		}
		h.handleError(w, r, fmt.Errorf("failed to update settings: %w", err), http.StatusInternalServerError)
		return
	}

	_ = httputil.WriteJSON(w, http.StatusOK, settingsResponse(tenant))
}

// TestConnection verifies the tenant's provider credentials against the
// live provider API.
func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}

	if h.config.TestConnection == nil {
		h.handleError(w, r, fmt.Errorf("connection test not supported"), http.StatusNotImplemented)
		return
	}

	if err := h.config.TestConnection(r.Context(), tenant); err != nil {
		_ = httputil.WriteJSON(w, http.StatusOK, TestConnectionResponse{OK: false, Error: err.Error()})
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, TestConnectionResponse{OK: true})
}

// ListInvoices returns the tenant's invoices, newest first.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	tenantID := h.tenantID(w, r)
	if tenantID == "" {
		return
	}

	invoices, err := h.config.Store.ListInvoices(r.Context(), tenantID)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to list invoices: %w", err), http.StatusInternalServerError)
		return
	}

	out := InvoiceListResponse{Invoices: make([]InvoiceResponse, 0, len(invoices))}
	for _, inv := range invoices {
		out.Invoices = append(out.Invoices, invoiceResponse(inv))
	}
	_ = httputil.WriteJSON(w, http.StatusOK, out)
}

// tenantID extracts and validates the tenant id, writing the error
// response itself. Empty return means the response was already written.
func (h *Handler) tenantID(w http.ResponseWriter, r *http.Request) string {
	id := h.config.GetTenantID(r)
	if id == "" {
		h.handleError(w, r, fmt.Errorf("tenant ID not found"), http.StatusUnauthorized)
		return ""
	}
	if len(id) > maxTenantIDLen {
		h.handleError(w, r, fmt.Errorf("invalid tenant ID format"), http.StatusBadRequest)
		return ""
	}
	return id
}

func (h *Handler) tenant(w http.ResponseWriter, r *http.Request) (*invoicing.Tenant, bool) {
	tenantID := h.tenantID(w, r)
	if tenantID == "" {
		return nil, false
	}
	tenant, err := h.config.Store.GetTenant(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, invoicing.ErrTenantNotFound) {
			h.handleError(w, r, err, http.StatusNotFound)
			return nil, false
		}
		h.handleError(w, r, fmt.Errorf("failed to load tenant: %w", err), http.StatusInternalServerError)
		return nil, false
	}
	return tenant, true
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}
	h.config.Logger.Warn("settings API error",
		invoicing.Field{Key: "path", Value: r.URL.Path},
		invoicing.Field{Key: "status", Value: status},
		invoicing.Field{Key: "error", Value: err.Error()})
	_ = httputil.WriteJSON(w, status, map[string]string{"error": err.Error()})
}

func settingsResponse(t *invoicing.Tenant) SettingsResponse {
	return SettingsResponse{
		Provider:          string(t.Provider),
		SmartBillUsername: t.SmartBillUsername,
		SmartBillAPIKey:   maskKey(t.SmartBillAPIKey),
		FGOAPIKey:         maskKey(t.FGOAPIKey),
		InvoiceSeries:     t.InvoiceSeries,
		CompanyName:       t.Company.Name,
		CompanyVATCode:    t.Company.VATCode,
		CompanyAddress:    t.Company.Address,
		BankAccount:       t.Company.BankAccount,
		DefaultVATRate:    t.DefaultVATRate,
		PricesIncludeVAT:  t.PricesIncludeVAT,
		WebhookToken:      t.WebhookToken,
		SubscriptionState: string(t.SubscriptionStatus),
		FreeInvoicesUsed:  t.FreeInvoicesUsed,
		FreeInvoiceQuota:  invoicing.FreeInvoiceQuota,
	}
}

// maskKey hides all but the last four characters of a stored secret.
func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return maskedKey
	}
	return maskedKey + key[len(key)-4:]
}

func newWebhookToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
