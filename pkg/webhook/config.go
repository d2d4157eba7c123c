package webhook

import (
	"fmt"
	"time"

	"github.com/stripebill/stripebill/pkg/invoicing"
)

const (
	// TenantTokenHeader carries the per-tenant webhook token in the
	// token-based flow.
	TenantTokenHeader = "X-User-Token"

	defaultMaxBodyBytes  = 256 * 1024
	defaultEventCacheTTL = 24 * time.Hour
)

// Config holds the webhook handler configuration. Everything the pipeline
// needs is passed in here; no component reads ambient globals.
type Config struct {
	// Store is the tenant/invoice persistence layer (required).
	Store invoicing.Store

	// WebhookSecret is the Stripe endpoint signing secret (required).
	WebhookSecret string

	// Providers maps a tenant's configured provider kind to a factory
	// building a client from its credentials. A tenant whose kind has no
	// factory takes the misconfiguration path.
	Providers map[invoicing.ProviderKind]invoicing.ProviderFactory

	// Mapper translates payments into invoice requests. Defaults to a
	// mapper with the fixed exchange rates.
	Mapper *invoicing.Mapper

	// EventCache optionally deduplicates deliveries by Stripe event id.
	// If nil, redelivered events are reprocessed (at-least-once).
	EventCache invoicing.EventCache

	// EventCacheTTL is how long processed event ids are remembered
	// (default: 24 hours).
	EventCacheTTL time.Duration

	// Logger is used for structured logging (default: NoopLogger).
	Logger invoicing.Logger

	// Metrics is used for tracking pipeline operations (default: NoopMetrics).
	Metrics invoicing.Metrics
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.WebhookSecret == "" {
		return fmt.Errorf("webhook secret is required")
	}
	return nil
}

// Handler processes inbound Stripe webhook deliveries.
type Handler struct {
	store         invoicing.Store
	webhookSecret string
	providers     map[invoicing.ProviderKind]invoicing.ProviderFactory
	mapper        *invoicing.Mapper
	eventCache    invoicing.EventCache
	eventCacheTTL time.Duration
	logger        invoicing.Logger
	metrics       invoicing.Metrics
}

// NewHandler creates a webhook handler from the given configuration.
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	mapper := config.Mapper
	if mapper == nil {
		mapper = invoicing.NewMapper(invoicing.DefaultRates())
	}

	logger := config.Logger
	if logger == nil {
		logger = &invoicing.NoopLogger{}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &invoicing.NoopMetrics{}
	}

	ttl := config.EventCacheTTL
	if ttl <= 0 {
		ttl = defaultEventCacheTTL
	}

	return &Handler{
		store:         config.Store,
		webhookSecret: config.WebhookSecret,
		providers:     config.Providers,
		mapper:        mapper,
		eventCache:    config.EventCache,
		eventCacheTTL: ttl,
		logger:        logger,
		metrics:       metrics,
	}, nil
}
