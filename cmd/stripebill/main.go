// Command stripebill runs the StripeBill server: Stripe webhook intake,
// the tenant settings API and Prometheus metrics, backed by PostgreSQL
// and optionally Redis for webhook dedupe.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stripebill/stripebill/pkg/api"
	"github.com/stripebill/stripebill/pkg/invoicing"
	zerologadapter "github.com/stripebill/stripebill/pkg/invoicing/logger/zerolog"
	prommetrics "github.com/stripebill/stripebill/pkg/invoicing/metrics/prometheus"
	"github.com/stripebill/stripebill/pkg/provider/smartbill"
	"github.com/stripebill/stripebill/pkg/webhook"
	"github.com/stripebill/stripebill/storage/postgres"
	redisstore "github.com/stripebill/stripebill/storage/redis"
)

type config struct {
	ListenAddr          string        `env:"LISTEN_ADDR" envDefault:":8080"`
	DatabaseURL         string        `env:"DATABASE_URL,required"`
	StripeWebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET,required"`
	RedisAddr           string        `env:"REDIS_ADDR"`
	RedisPassword       string        `env:"REDIS_PASSWORD"`
	EURToRON            float64       `env:"EUR_TO_RON" envDefault:"5.0"`
	EventCacheTTL       time.Duration `env:"EVENT_CACHE_TTL" envDefault:"24h"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "stripebill:", err)
		os.Exit(1)
	}
}

func run() error {
	// Missing .env is fine in containerized deployments.
	_ = godotenv.Load()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("failed to parse configuration: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zl := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger := zerologadapter.NewLogger(zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgConfig := postgres.DefaultConfig()
	pgConfig.ConnectionString = cfg.DatabaseURL
	store, err := postgres.New(ctx, pgConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	var eventCache invoicing.EventCache
	if cfg.RedisAddr != "" {
		redisConfig := redisstore.DefaultConfig()
		redisConfig.Addr = cfg.RedisAddr
		redisConfig.Password = cfg.RedisPassword
		cache, err := redisstore.New(ctx, redisConfig)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer cache.Close()
		eventCache = cache
		logger.Info("webhook dedupe enabled", invoicing.Field{Key: "redis_addr", Value: cfg.RedisAddr})
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := prommetrics.NewMetrics(registry, "stripebill")

	mapper := invoicing.NewMapper(invoicing.ExchangeRates{EURToRON: cfg.EURToRON})

	webhookHandler, err := webhook.NewHandler(webhook.Config{
		Store:         store,
		WebhookSecret: cfg.StripeWebhookSecret,
		Providers: map[invoicing.ProviderKind]invoicing.ProviderFactory{
			invoicing.ProviderSmartBill: smartbill.FromTenant,
		},
		Mapper:        mapper,
		EventCache:    eventCache,
		EventCacheTTL: cfg.EventCacheTTL,
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create webhook handler: %w", err)
	}

	apiHandler, err := api.NewHandler(api.Config{
		Store:          store,
		GetTenantID:    api.FromHeader("X-Tenant-ID"),
		TestConnection: testProviderConnection,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create settings API: %w", err)
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Method(http.MethodPost, "/api/stripe/webhook", webhookHandler.ConnectHandler())
	r.Method(http.MethodPost, "/api/stripe/webhook/token", webhookHandler.TokenHandler())
	r.Mount("/api", apiHandler.Routes())
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", invoicing.Field{Key: "addr", Value: cfg.ListenAddr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// testProviderConnection checks the tenant's configured provider
// credentials against the live API.
func testProviderConnection(ctx context.Context, tenant *invoicing.Tenant) error {
	switch tenant.Provider {
	case invoicing.ProviderSmartBill:
		client, err := smartbill.New(smartbill.Config{
			Username: tenant.SmartBillUsername,
			APIKey:   tenant.SmartBillAPIKey,
		})
		if err != nil {
			return err
		}
		return client.TestConnection(ctx)
	case invoicing.ProviderNone:
		return invoicing.ErrProviderNotConfigured
	default:
		return fmt.Errorf("provider %q does not support connection tests", tenant.Provider)
	}
}
