package cmd

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/cache"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/factory"
	paymentgrpc "github.com/vibast-solutions/ms-go-payment-gateway/app/grpc"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/provider"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/repository"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/service"
	"github.com/vibast-solutions/ms-go-payment-gateway/config"
)

// gateway holds everything a command needs once configuration is loaded.
type gateway struct {
	cfg      *config.Config
	db       *sql.DB
	payments *service.PaymentService
	webhooks *service.WebhookRouter
	breaker  *provider.BreakerDoer
	dedup    *cache.RedisDeduplicator
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}
	return cfg
}

func mustOpenDatabase(cfg *config.Config) *sql.DB {
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}
	return db
}

func newMercadoPagoClient(cfg *config.Config) (*provider.MercadoPagoClient, *provider.BreakerDoer) {
	mp := cfg.MercadoPago

	var doer provider.HTTPDoer = &http.Client{Timeout: mp.HTTPTimeout}
	var breaker *provider.BreakerDoer
	if cfg.Breaker.Enabled {
		breaker = provider.NewBreakerDoer(doer, provider.BreakerConfig{
			Name:             "mercadopago",
			FailureThreshold: cfg.Breaker.FailureThreshold,
			OpenTimeout:      cfg.Breaker.OpenTimeout,
		})
		doer = breaker
	}

	retry := provider.NewRetryPolicy(
		mp.MaxRetryAttempts,
		mp.InitialRetryDelay,
		provider.WithRetryLogger(factory.NewModuleLogger("mercadopago-retry")),
	)

	client := provider.NewMercadoPagoClient(provider.MercadoPagoConfig{
		BaseURL:           mp.BaseURL,
		AccessToken:       mp.AccessToken,
		WebhookURL:        mp.WebhookURL,
		DefaultSuccessURL: mp.DefaultSuccessURL,
		DefaultFailureURL: mp.DefaultFailureURL,
		DefaultPendingURL: mp.DefaultPendingURL,
		DefaultCurrency:   mp.DefaultCurrency,
		MaxRetryAttempts:  mp.MaxRetryAttempts,
		InitialRetryDelay: mp.InitialRetryDelay,
		HTTPTimeout:       mp.HTTPTimeout,
	}, provider.WithHTTPDoer(doer), provider.WithRetryPolicy(retry))

	return client, breaker
}

func mustCreateGateway() (*gateway, func()) {
	cfg := mustLoadConfig()
	db := mustOpenDatabase(cfg)

	statusRepo := repository.NewPaymentStatusRepository(db)
	eventRepo := repository.NewPaymentEventRepository(db)
	webhookRepo := repository.NewWebhookEventRepository(db)

	client, breaker := newMercadoPagoClient(cfg)
	paymentService := service.NewPaymentService(client, statusRepo, eventRepo, cfg.Payments)

	if cfg.MercadoPago.WebhookSecret == "" {
		logrus.Warn("MERCADOPAGO_WEBHOOK_SECRET is empty; every webhook will be rejected")
	}
	verifier := provider.NewSignatureVerifier(
		provider.StaticSecret(cfg.MercadoPago.WebhookSecret),
		cfg.MercadoPago.WebhookURL,
		nil,
	)

	routerOpts := []service.WebhookRouterOption{
		service.WithWebhookEventLog(webhookRepo),
		service.WithPaymentEventLog(eventRepo),
	}

	var dedup *cache.RedisDeduplicator
	if cfg.Redis.Addr != "" {
		dedup = cache.NewRedisDeduplicator(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.DedupTTL)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := dedup.Ping(pingCtx)
		cancel()
		if err != nil {
			logrus.WithError(err).WithField("addr", cfg.Redis.Addr).Warn("Redis unreachable at startup; continuing with de-duplication enabled")
		}
		routerOpts = append(routerOpts, service.WithDeduplicator(dedup))
	}

	router := service.NewWebhookRouter(verifier, client, statusRepo, routerOpts...)

	cleanup := func() {
		if dedup != nil {
			if err := dedup.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close redis client")
			}
		}
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}

	return &gateway{
		cfg:      cfg,
		db:       db,
		payments: paymentService,
		webhooks: router,
		breaker:  breaker,
		dedup:    dedup,
	}, cleanup
}

// newHealthServer reports redis under its own name only: webhook dedup
// degrades to processing every delivery when it is down.
func (g *gateway) newHealthServer() *paymentgrpc.Server {
	var opts []paymentgrpc.ServerOption
	if g.dedup != nil {
		opts = append(opts, paymentgrpc.WithOptionalCheck("redis", g.dedup.Ping))
	}
	return paymentgrpc.NewServer(g.healthChecks(), opts...)
}

func (g *gateway) healthChecks() map[string]paymentgrpc.HealthCheck {
	checks := map[string]paymentgrpc.HealthCheck{
		"mysql": g.db.PingContext,
	}
	if g.breaker != nil {
		breaker := g.breaker
		checks["mercadopago"] = func(context.Context) error {
			if breaker.State() == gobreaker.StateOpen {
				return gobreaker.ErrOpenState
			}
			return nil
		}
	}
	return checks
}
