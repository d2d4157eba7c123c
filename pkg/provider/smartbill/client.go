// Package smartbill implements the invoicing.Provider interface against the
// SmartBill cloud API (ws.smartbill.ro). Authentication is HTTP Basic with
// the company CIF as username and the account API key as password.
package smartbill

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stripebill/stripebill/pkg/invoicing"
)

const (
	providerName       = "smartbill"
	defaultBaseURL     = "https://ws.smartbill.ro"
	defaultHTTPTimeout = 10 * time.Second

	invoicePath  = "/SBORO/api/invoice"
	pdfPath      = "/SBORO/api/invoice/pdf"
	sendMailPath = "/SBORO/api/invoice/sendmail"
	seriesPath   = "/SBORO/api/series"
)

// Config holds SmartBill client configuration.
type Config struct {
	// Username is the company CIF registered with SmartBill.
	Username string

	// APIKey is the SmartBill account API key.
	APIKey string

	// BaseURL overrides the SmartBill endpoint (tests). Defaults to the
	// production endpoint.
	BaseURL string

	// HTTPClient is an optional HTTP client. If nil, a default client
	// with a 10s timeout is used.
	HTTPClient *http.Client

	// Metrics is an optional metrics collector.
	Metrics invoicing.Metrics
}

// Client calls the SmartBill invoice API.
type Client struct {
	username   string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	metrics    invoicing.Metrics
}

// New creates a SmartBill client. Returns ErrProviderNotConfigured when
// credentials are missing.
func New(config Config) (*Client, error) {
	username := strings.TrimSpace(config.Username)
	apiKey := strings.TrimSpace(config.APIKey)
	if username == "" || apiKey == "" {
		return nil, invoicing.ErrProviderNotConfigured
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &invoicing.NoopMetrics{}
	}

	return &Client{
		username:   username,
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		metrics:    metrics,
	}, nil
}

// FromTenant builds a Client from a tenant's stored credentials. It is the
// invoicing.ProviderFactory for SmartBill.
func FromTenant(tenant *invoicing.Tenant) (invoicing.Provider, error) {
	return New(Config{
		Username: tenant.SmartBillUsername,
		APIKey:   tenant.SmartBillAPIKey,
	})
}

// Name returns the provider name.
func (c *Client) Name() string {
	return providerName
}

// invoicePayload is the SmartBill create-invoice request shape.
type invoicePayload struct {
	CompanyVATCode string         `json:"companyVatCode"`
	Client         clientPayload  `json:"client"`
	IssueDate      string         `json:"issueDate"`
	DueDate        string         `json:"dueDate"`
	SeriesName     string         `json:"seriesName"`
	Products       []productLine  `json:"products"`
	Language       string         `json:"language"`
	Precision      int            `json:"precision"`
	Currency       string         `json:"currency"`
	CompanyData    companyPayload `json:"companyData"`
}

type clientPayload struct {
	Name    string `json:"name"`
	VATCode string `json:"vatCode"`
	Address string `json:"address"`
	Email   string `json:"email"`
}

type productLine struct {
	Name              string  `json:"name"`
	Code              string  `json:"code"`
	IsService         bool    `json:"isService"`
	MeasuringUnitName string  `json:"measuringUnitName"`
	Currency          string  `json:"currency"`
	Quantity          int     `json:"quantity"`
	Price             float64 `json:"price"`
	IsTaxIncluded     bool    `json:"isTaxIncluded"`
	TaxName           string  `json:"taxName"`
	TaxPercentage     int     `json:"taxPercentage"`
	IsDiscount        bool    `json:"isDiscount"`
}

type companyPayload struct {
	Name    string `json:"name"`
	VATCode string `json:"vatCode"`
	Address string `json:"address"`
	IBAN    string `json:"iban"`
}

// invoiceResponse is the SmartBill create-invoice answer. A populated
// Number means the invoice was issued; ErrorText carries the rejection.
type invoiceResponse struct {
	Number    string `json:"number"`
	Series    string `json:"series"`
	ErrorText string `json:"errorText"`
}

// CreateInvoice submits the invoice to SmartBill. Business rejections come
// back as a ProviderResult with Accepted=false; transport and auth
// failures wrap invoicing.ErrProviderUnavailable.
func (c *Client) CreateInvoice(ctx context.Context, req *invoicing.InvoiceRequest) (*invoicing.ProviderResult, error) {
	payload := invoicePayload{
		CompanyVATCode: req.Company.VATCode,
		Client: clientPayload{
			Name:    req.ClientName,
			VATCode: req.ClientVATCode,
			Address: req.ClientAddress,
			Email:   req.ClientEmail,
		},
		IssueDate:  req.IssueDate.Format("2006-01-02"),
		DueDate:    req.DueDate.Format("2006-01-02"),
		SeriesName: req.Series,
		Products: []productLine{{
			Name:              req.ProductName,
			IsService:         true,
			MeasuringUnitName: "buc",
			Currency:          "RON",
			Quantity:          req.Quantity,
			// SmartBill receives the net price; VAT is added from the
			// tax percentage.
			Price:         math.Round(req.UnitPrice*100) / 100,
			IsTaxIncluded: false,
			TaxName:       "TVA",
			TaxPercentage: req.VATRate,
		}},
		Language:  "RO",
		Precision: 2,
		Currency:  "RON",
		CompanyData: companyPayload{
			Name:    req.Company.Name,
			VATCode: req.Company.VATCode,
			Address: req.Company.Address,
			IBAN:    req.Company.BankAccount,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode invoice payload: %w", err)
	}

	start := time.Now()
	resp, err := c.do(ctx, http.MethodPost, invoicePath, bytes.NewReader(body))
	c.metrics.RecordProviderCallDuration(providerName, invoicePath, time.Since(start))
	if err != nil {
		c.metrics.RecordProviderCall(providerName, invoicePath, "unavailable")
		return nil, fmt.Errorf("%w: %v", invoicing.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.metrics.RecordProviderCall(providerName, invoicePath, "unavailable")
		return nil, fmt.Errorf("%w: authentication failed (HTTP %d)",
			invoicing.ErrProviderUnavailable, resp.StatusCode)
	}

	var result invoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.metrics.RecordProviderCall(providerName, invoicePath, "unavailable")
		return nil, fmt.Errorf("%w: unreadable response: %v", invoicing.ErrProviderUnavailable, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && result.Number != "" {
		c.metrics.RecordProviderCall(providerName, invoicePath, "ok")
		pdfURL := c.fetchPDFReference(ctx, result.Number, req.Series)
		return &invoicing.ProviderResult{
			Accepted:      true,
			InvoiceID:     result.Number,
			InvoiceNumber: fmt.Sprintf("%s-%s", req.Series, result.Number),
			PDFURL:        pdfURL,
		}, nil
	}

	errorText := result.ErrorText
	if errorText == "" {
		errorText = fmt.Sprintf("SmartBill rejected the invoice (HTTP %d)", resp.StatusCode)
	}
	c.metrics.RecordProviderCall(providerName, invoicePath, "rejected")
	return &invoicing.ProviderResult{
		Accepted:  false,
		ErrorText: errorText,
	}, nil
}

// fetchPDFReference verifies the PDF exists and returns a stable reference
// URL. Best-effort: an empty result only leaves the invoice without a PDF
// link.
func (c *Client) fetchPDFReference(ctx context.Context, number, series string) string {
	query := url.Values{}
	query.Set("cif", c.username)
	query.Set("seriesname", series)
	query.Set("number", number)

	resp, err := c.do(ctx, http.MethodGet, pdfPath+"?"+query.Encode(), nil)
	if err != nil {
		c.metrics.RecordProviderCall(providerName, pdfPath, "unavailable")
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.RecordProviderCall(providerName, pdfPath, "rejected")
		return ""
	}

	c.metrics.RecordProviderCall(providerName, pdfPath, "ok")
	return fmt.Sprintf("%s/invoice-pdf/%s", c.baseURL, number)
}

// sendMailPayload is the SmartBill send-invoice-email request shape.
type sendMailPayload struct {
	CIF        string `json:"cif"`
	SeriesName string `json:"seriesName"`
	Number     string `json:"number"`
	To         string `json:"to"`
	Subject    string `json:"subject"`
	BodyText   string `json:"bodyText"`
}

// EmailInvoice asks SmartBill to email the invoice. Best-effort: the
// boolean result only decides whether status advances to sent.
func (c *Client) EmailInvoice(ctx context.Context, invoiceID, series, recipient string) (bool, error) {
	payload := sendMailPayload{
		CIF:        c.username,
		SeriesName: series,
		Number:     invoiceID,
		To:         recipient,
		Subject:    fmt.Sprintf("Factura %s-%s", series, invoiceID),
		BodyText:   "Va multumim pentru plata! Gasiti factura atasata.",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to encode sendmail payload: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, sendMailPath, bytes.NewReader(body))
	if err != nil {
		c.metrics.RecordProviderCall(providerName, sendMailPath, "unavailable")
		return false, fmt.Errorf("%w: %v", invoicing.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if ok {
		c.metrics.RecordProviderCall(providerName, sendMailPath, "ok")
	} else {
		c.metrics.RecordProviderCall(providerName, sendMailPath, "rejected")
	}
	return ok, nil
}

// TestConnection verifies the stored credentials by listing the account's
// invoice series. Used by the settings surface before saving credentials.
func (c *Client) TestConnection(ctx context.Context) error {
	query := url.Values{}
	query.Set("cif", c.username)

	resp, err := c.do(ctx, http.MethodGet, seriesPath+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", invoicing.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("invalid credentials: check the CIF and API key")
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("access denied: enable API access in the SmartBill account")
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	default:
		return fmt.Errorf("%w: unexpected status %d", invoicing.ErrProviderUnavailable, resp.StatusCode)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	req.SetBasicAuth(c.username, c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.httpClient.Do(req)
}
