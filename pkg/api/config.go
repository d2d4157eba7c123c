// Package api provides the HTTP surface tenants use to manage their
// invoicing settings and inspect generated invoices.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/stripebill/stripebill/pkg/invoicing"
)

// Config holds configuration for the settings API handler.
type Config struct {
	// Store is the tenant/invoice store (required).
	Store invoicing.Store

	// GetTenantID extracts the authenticated tenant id from the request
	// (required). The caller's auth middleware decides how.
	GetTenantID func(*http.Request) string

	// TestConnection optionally verifies provider credentials for the
	// given tenant snapshot. Wired to the provider client's connection
	// check. If nil, the test endpoint reports not supported.
	TestConnection func(ctx context.Context, tenant *invoicing.Tenant) error

	// OnError handles errors (auth, internal, etc.).
	// If nil, uses default error handling.
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is optional structured logging. If nil, logging is disabled.
	Logger invoicing.Logger
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.GetTenantID == nil {
		return fmt.Errorf("getTenantID is required")
	}
	return nil
}

// NewHandler creates a new settings API handler with the given configuration.
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &invoicing.NoopLogger{}
	}
	return &Handler{config: config}, nil
}

// FromHeader returns a GetTenantID function that reads the id from a header.
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetTenantID function that reads the id from the
// request context.
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if id, ok := r.Context().Value(key).(string); ok {
			return id
		}
		return ""
	}
}
