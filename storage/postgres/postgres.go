// Package postgres provides a PostgreSQL implementation of the
// invoicing.Store interface using pgx. The free-usage counter is
// incremented in SQL so concurrent webhook deliveries for one tenant
// cannot lose updates.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stripebill/stripebill/pkg/invoicing"
)

// Store implements invoicing.Store using PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tenants and invoices tables if they do not
// exist. Intended for bootstrap and tests; production deployments may
// manage the schema externally.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id                  TEXT PRIMARY KEY,
	email               TEXT NOT NULL DEFAULT '',
	subscription_status TEXT NOT NULL DEFAULT 'none',
	subscription_id     TEXT NOT NULL DEFAULT '',
	stripe_customer_id  TEXT NOT NULL DEFAULT '',
	stripe_account_id   TEXT NOT NULL DEFAULT '',
	subscription_price  TEXT NOT NULL DEFAULT '',
	period_end          TIMESTAMPTZ,
	free_invoices_used  INTEGER NOT NULL DEFAULT 0 CHECK (free_invoices_used >= 0),
	webhook_token       TEXT NOT NULL DEFAULT '',
	provider            TEXT NOT NULL DEFAULT '',
	smartbill_username  TEXT NOT NULL DEFAULT '',
	smartbill_api_key   TEXT NOT NULL DEFAULT '',
	fgo_api_key         TEXT NOT NULL DEFAULT '',
	invoice_series      TEXT NOT NULL DEFAULT '',
	company_name        TEXT NOT NULL DEFAULT '',
	company_vat_code    TEXT NOT NULL DEFAULT '',
	company_address     TEXT NOT NULL DEFAULT '',
	bank_account        TEXT NOT NULL DEFAULT '',
	default_vat_rate    INTEGER NOT NULL DEFAULT 0,
	prices_include_vat  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS tenants_webhook_token_idx
	ON tenants (webhook_token) WHERE webhook_token <> '';
CREATE INDEX IF NOT EXISTS tenants_stripe_account_idx
	ON tenants (stripe_account_id) WHERE stripe_account_id <> '';
CREATE INDEX IF NOT EXISTS tenants_stripe_customer_idx
	ON tenants (stripe_customer_id) WHERE stripe_customer_id <> '';

CREATE TABLE IF NOT EXISTS invoices (
	id                   TEXT PRIMARY KEY,
	tenant_id            TEXT NOT NULL REFERENCES tenants (id),
	stripe_payment_id    TEXT NOT NULL DEFAULT '',
	stripe_customer_id   TEXT NOT NULL DEFAULT '',
	stripe_amount        BIGINT NOT NULL DEFAULT 0,
	stripe_currency      TEXT NOT NULL DEFAULT '',
	customer_name        TEXT NOT NULL DEFAULT '',
	customer_email       TEXT NOT NULL DEFAULT '',
	customer_address     TEXT NOT NULL DEFAULT '',
	invoice_number       TEXT NOT NULL DEFAULT '',
	invoice_series       TEXT NOT NULL DEFAULT '',
	description          TEXT NOT NULL DEFAULT '',
	quantity             INTEGER NOT NULL DEFAULT 1,
	unit_price           BIGINT NOT NULL DEFAULT 0,
	total_amount         BIGINT NOT NULL DEFAULT 0,
	provider_invoice_id  TEXT NOT NULL DEFAULT '',
	provider_invoice_url TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL,
	error_message        TEXT NOT NULL DEFAULT '',
	email_sent           BOOLEAN NOT NULL DEFAULT FALSE,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS invoices_tenant_idx ON invoices (tenant_id, created_at DESC);
`

const tenantColumns = `id, email, subscription_status, subscription_id, stripe_customer_id,
	stripe_account_id, subscription_price, period_end, free_invoices_used, webhook_token,
	provider, smartbill_username, smartbill_api_key, fgo_api_key, invoice_series,
	company_name, company_vat_code, company_address, bank_account, default_vat_rate,
	prices_include_vat, created_at, updated_at`

func scanTenant(row pgx.Row) (*invoicing.Tenant, error) {
	var t invoicing.Tenant
	err := row.Scan(
		&t.ID, &t.Email, &t.SubscriptionStatus, &t.SubscriptionID, &t.StripeCustomerID,
		&t.StripeAccountID, &t.SubscriptionPrice, &t.PeriodEnd, &t.FreeInvoicesUsed, &t.WebhookToken,
		&t.Provider, &t.SmartBillUsername, &t.SmartBillAPIKey, &t.FGOAPIKey, &t.InvoiceSeries,
		&t.Company.Name, &t.Company.VATCode, &t.Company.Address, &t.Company.BankAccount, &t.DefaultVATRate,
		&t.PricesIncludeVAT, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, invoicing.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tenant: %w", err)
	}
	return &t, nil
}

// GetTenant implements invoicing.Store.
func (s *Store) GetTenant(ctx context.Context, id string) (*invoicing.Tenant, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	return scanTenant(row)
}

// GetTenantByWebhookToken implements invoicing.Store.
func (s *Store) GetTenantByWebhookToken(ctx context.Context, token string) (*invoicing.Tenant, error) {
	if token == "" {
		return nil, invoicing.ErrTenantNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE webhook_token = $1`, token)
	return scanTenant(row)
}

// GetTenantByStripeAccount implements invoicing.Store.
func (s *Store) GetTenantByStripeAccount(ctx context.Context, accountID string) (*invoicing.Tenant, error) {
	if accountID == "" {
		return nil, invoicing.ErrTenantNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE stripe_account_id = $1`, accountID)
	return scanTenant(row)
}

// SetWebhookToken implements invoicing.Store.
func (s *Store) SetWebhookToken(ctx context.Context, tenantID, token string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET webhook_token = $2, updated_at = now() WHERE id = $1`,
		tenantID, token)
	if err != nil {
		return fmt.Errorf("failed to set webhook token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return invoicing.ErrTenantNotFound
	}
	return nil
}

// UpdateSettings implements invoicing.Store. Only the provided fields are
// written; COALESCE keeps the stored value for nil parameters.
func (s *Store) UpdateSettings(ctx context.Context, tenantID string, upd *invoicing.SettingsUpdate) (*invoicing.Tenant, error) {
	var provider *string
	if upd.Provider != nil {
		p := string(*upd.Provider)
		provider = &p
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE tenants SET
			provider           = COALESCE($2, provider),
			smartbill_username = COALESCE($3, smartbill_username),
			smartbill_api_key  = COALESCE($4, smartbill_api_key),
			fgo_api_key        = COALESCE($5, fgo_api_key),
			invoice_series     = COALESCE($6, invoice_series),
			company_name       = COALESCE($7, company_name),
			company_vat_code   = COALESCE($8, company_vat_code),
			company_address    = COALESCE($9, company_address),
			bank_account       = COALESCE($10, bank_account),
			default_vat_rate   = COALESCE($11, default_vat_rate),
			prices_include_vat = COALESCE($12, prices_include_vat),
			updated_at         = now()
		WHERE id = $1
		RETURNING `+tenantColumns,
		tenantID, provider, upd.SmartBillUsername, upd.SmartBillAPIKey, upd.FGOAPIKey,
		upd.InvoiceSeries, upd.CompanyName, upd.CompanyVATCode, upd.CompanyAddress,
		upd.BankAccount, upd.DefaultVATRate, upd.PricesIncludeVAT)
	return scanTenant(row)
}

// ActivateSubscription implements invoicing.Store.
func (s *Store) ActivateSubscription(ctx context.Context, tenantID, customerID, subscriptionID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tenants SET
			stripe_customer_id  = $2,
			subscription_id     = $3,
			subscription_status = $4,
			updated_at          = now()
		WHERE id = $1`,
		tenantID, customerID, subscriptionID, invoicing.SubscriptionActive)
	if err != nil {
		return fmt.Errorf("failed to activate subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return invoicing.ErrTenantNotFound
	}
	return nil
}

// UpdateSubscriptionByCustomer implements invoicing.Store. Zero-valued
// fields are left untouched. Matching zero tenants is not an error.
func (s *Store) UpdateSubscriptionByCustomer(ctx context.Context, customerID string, upd *invoicing.SubscriptionUpdate) error {
	if customerID == "" {
		return nil
	}
	var priceID *string
	if upd.PriceID != "" {
		priceID = &upd.PriceID
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE tenants SET
			subscription_status = $2,
			subscription_price  = COALESCE($3, subscription_price),
			period_end          = COALESCE($4, period_end),
			updated_at          = now()
		WHERE stripe_customer_id = $1`,
		customerID, upd.Status, priceID, upd.PeriodEnd)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

// ClearSubscriptionByCustomer implements invoicing.Store.
func (s *Store) ClearSubscriptionByCustomer(ctx context.Context, customerID string) error {
	if customerID == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE tenants SET
			subscription_status = $2,
			subscription_id     = '',
			period_end          = NULL,
			updated_at          = now()
		WHERE stripe_customer_id = $1`,
		customerID, invoicing.SubscriptionCanceled)
	if err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}
	return nil
}

// CreateInvoice implements invoicing.Store.
func (s *Store) CreateInvoice(ctx context.Context, inv *invoicing.Invoice) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO invoices (
			id, tenant_id, stripe_payment_id, stripe_customer_id, stripe_amount,
			stripe_currency, customer_name, customer_email, customer_address,
			invoice_number, invoice_series, description, quantity, unit_price,
			total_amount, provider_invoice_id, provider_invoice_url, status,
			error_message, email_sent
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		)`,
		inv.ID, inv.TenantID, inv.StripePaymentID, inv.StripeCustomerID, inv.StripeAmount,
		inv.StripeCurrency, inv.CustomerName, inv.CustomerEmail, inv.CustomerAddress,
		inv.InvoiceNumber, inv.InvoiceSeries, inv.Description, inv.Quantity, inv.UnitPrice,
		inv.TotalAmount, inv.ProviderInvoiceID, inv.ProviderInvoiceURL, inv.Status,
		inv.ErrorMessage, inv.EmailSent)
	if err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

// UpdateInvoiceEmailResult implements invoicing.Store. The status advance
// to sent happens in SQL so it can never regress a failed or pending row.
func (s *Store) UpdateInvoiceEmailResult(ctx context.Context, invoiceID string, sent bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invoices SET
			email_sent = $2,
			status     = CASE WHEN $2 AND status = $3 THEN $4 ELSE status END,
			updated_at = now()
		WHERE id = $1`,
		invoiceID, sent, invoicing.StatusGenerated, invoicing.StatusSent)
	if err != nil {
		return fmt.Errorf("failed to update invoice email status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return invoicing.ErrInvoiceNotFound
	}
	return nil
}

// IncrementFreeInvoicesUsed implements invoicing.Store. The increment runs
// inside the database, so concurrent deliveries cannot lose updates.
func (s *Store) IncrementFreeInvoicesUsed(ctx context.Context, tenantID string) (int, error) {
	var used int
	err := s.pool.QueryRow(ctx, `
		UPDATE tenants SET
			free_invoices_used = free_invoices_used + 1,
			updated_at         = now()
		WHERE id = $1
		RETURNING free_invoices_used`,
		tenantID).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, invoicing.ErrTenantNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment free invoice counter: %w", err)
	}
	return used, nil
}

// ListInvoices implements invoicing.Store. Newest first.
func (s *Store) ListInvoices(ctx context.Context, tenantID string) ([]*invoicing.Invoice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, stripe_payment_id, stripe_customer_id, stripe_amount,
			stripe_currency, customer_name, customer_email, customer_address,
			invoice_number, invoice_series, description, quantity, unit_price,
			total_amount, provider_invoice_id, provider_invoice_url, status,
			error_message, email_sent, created_at, updated_at
		FROM invoices
		WHERE tenant_id = $1
		ORDER BY created_at DESC`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var out []*invoicing.Invoice
	for rows.Next() {
		var inv invoicing.Invoice
		if err := rows.Scan(
			&inv.ID, &inv.TenantID, &inv.StripePaymentID, &inv.StripeCustomerID, &inv.StripeAmount,
			&inv.StripeCurrency, &inv.CustomerName, &inv.CustomerEmail, &inv.CustomerAddress,
			&inv.InvoiceNumber, &inv.InvoiceSeries, &inv.Description, &inv.Quantity, &inv.UnitPrice,
			&inv.TotalAmount, &inv.ProviderInvoiceID, &inv.ProviderInvoiceURL, &inv.Status,
			&inv.ErrorMessage, &inv.EmailSent, &inv.CreatedAt, &inv.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		out = append(out, &inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read invoices: %w", err)
	}
	return out, nil
}

// CreateTenant inserts a tenant row. Registration and OAuth first-login
// flows call this once per account.
func (s *Store) CreateTenant(ctx context.Context, t *invoicing.Tenant) error {
	status := t.SubscriptionStatus
	if status == "" {
		status = invoicing.SubscriptionNone
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenants (
			id, email, subscription_status, stripe_account_id, webhook_token,
			provider, smartbill_username, smartbill_api_key, fgo_api_key,
			invoice_series, company_name, company_vat_code, company_address,
			bank_account, default_vat_rate, prices_include_vat
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)`,
		t.ID, t.Email, status, t.StripeAccountID, t.WebhookToken,
		t.Provider, t.SmartBillUsername, t.SmartBillAPIKey, t.FGOAPIKey,
		t.InvoiceSeries, t.Company.Name, t.Company.VATCode, t.Company.Address,
		t.Company.BankAccount, t.DefaultVATRate, t.PricesIncludeVAT)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}
