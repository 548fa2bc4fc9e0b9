package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/SimelweN/ReBookedSolutions-sub005/internal/courier"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/handlers"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/notifications"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/payments"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/auth"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/config"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/idempotency"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/observability"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/secrets"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	level, _ := config.Lookup("API_LOG_LEVEL")
	baseLogger, err := observability.NewLogger(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	resolver, err := newSecretResolver(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret resolver", zap.Error(err))
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(resolver),
		config.WithRequiredSecrets("Stripe.APIKey", "Stripe.WebhookSecret"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := services.BuildInfo{
		Version:     cfg.Server.Version,
		Environment: cfg.Security.Environment,
		StartedAt:   startedAt,
	}

	store, idempotencyStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("store close error", zap.Error(err))
		}
	}()

	messaging, err := openMessaging(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise messaging", zap.Error(err))
	}
	defer messaging.Close(logger)

	dispatcher, err := notifications.NewDispatcher(notifications.DispatcherConfig{
		Transport: messaging.notifications,
		Logger:    observability.EventLogger(logger.Named("notifications")),
	})
	if err != nil {
		logger.Fatal("failed to initialise notification dispatcher", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := dispatcher.Close(closeCtx); err != nil {
			logger.Warn("notification dispatcher close error", zap.Error(err))
		}
	}()

	gateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
		APIKey:   cfg.Stripe.APIKey,
		Currency: cfg.Stripe.Currency,
		Timeout:  cfg.Stripe.Timeout,
		Logger:   payments.StripeLogger(observability.EventLogger(logger.Named("stripe"))),
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe gateway", zap.Error(err))
	}

	courierClient, err := courier.NewClient(courier.Config{
		Providers:     courierProviders(cfg.Courier.Providers),
		Timeout:       cfg.Courier.Timeout,
		CacheTTL:      cfg.Courier.CacheTTL,
		RatePerSecond: cfg.Courier.RatePerSecond,
		Logger:        observability.EventLogger(logger.Named("courier")),
	})
	if err != nil {
		logger.Fatal("failed to initialise courier client", zap.Error(err))
	}

	metrics, err := observability.NewFulfilmentMetrics(otel.GetMeterProvider())
	if err != nil {
		logger.Fatal("failed to initialise metrics", zap.Error(err))
	}

	eligibility, err := services.ParsePayoutEligibility(cfg.Payouts.Eligibility)
	if err != nil {
		logger.Fatal("invalid payout eligibility", zap.Error(err))
	}

	svc, err := newServiceSet(serviceSetDeps{
		cfg:         cfg,
		store:       store,
		gateway:     gateway,
		courier:     courierClient,
		notifier:    dispatcher,
		events:      messaging.events,
		metrics:     metrics,
		eligibility: eligibility,
		logger:      logger,
	})
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}

	systemService, err := newSystemService(cfg, store, messaging, buildInfo)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)
	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg)
	replayGuard := idempotency.Middleware(idempotencyStore,
		idempotency.WithLogger(observability.EventLogger(logger.Named("idempotency"))),
	)

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}
	if systemService != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(systemService))
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLogger(logger),
		observability.TraceMiddleware(traceProjectID(cfg)),
		middleware.Recoverer,
		observability.RequestLogger(),
	}
	if cfg.Server.RequestTimeout > 0 {
		middlewares = append(middlewares, middleware.Timeout(cfg.Server.RequestTimeout))
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(authenticator, svc.checkout,
			handlers.WithCheckoutIdempotency(replayGuard),
			handlers.WithCheckoutPaymentVerification(svc.orders),
		).Routes),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(authenticator, svc.orders).Routes),
		handlers.WithSellerRoutes(handlers.NewSellerHandlers(authenticator, svc.orders).Routes),
		handlers.WithAdminRoutes(handlers.NewAdminHandlers(authenticator, svc.payouts, svc.orders).Routes),
		handlers.WithWebhookRoutes(handlers.NewPaymentWebhookHandlers(svc.orders, cfg.Stripe.WebhookSecret).Routes),
		handlers.WithInternalMiddlewares(oidcMiddleware, replayGuard),
		handlers.WithInternalRoutes(handlers.NewInternalHandlers(svc.sweeper, svc.payouts, svc.orders).Routes),
	}
	router := handlers.NewRouter(opts...)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      gziphandler.GzipHandler(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	var backgroundWG sync.WaitGroup
	startLoop(backgroundCtx, &backgroundWG, logger.Named("sweeper"), cfg.Sweeper.Interval, func(runCtx context.Context) {
		runSweeps(runCtx, logger.Named("sweeper"), svc.sweeper)
	})
	startLoop(backgroundCtx, &backgroundWG, logger.Named("payouts"), cfg.Payouts.Interval, func(runCtx context.Context) {
		runPayouts(runCtx, logger.Named("payouts"), svc.payouts)
	})

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.Store.Driver),
			zap.String("version", buildInfo.Version),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := <-shutdown
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	backgroundCancel()
	backgroundWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newSecretResolver(ctx context.Context, logger *zap.Logger) (*secrets.Resolver, error) {
	projectID, err := config.Lookup("API_SECRET_PROJECT_ID")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(projectID) == "" {
		projectID, _ = config.Lookup("API_FIREBASE_PROJECT_ID")
	}
	fallback, err := config.Lookup("API_SECRET_FALLBACK_FILE")
	if err != nil {
		return nil, err
	}
	return secrets.NewResolver(ctx, secrets.Config{
		ProjectID:    strings.TrimSpace(projectID),
		FallbackFile: strings.TrimSpace(fallback),
		Logger:       logger.Named("secrets"),
	})
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	oidc := cfg.Security.OIDC
	if strings.TrimSpace(oidc.Audience) == "" {
		logger.Warn("oidc audience not configured; internal endpoints will reject every request",
			zap.String("environment", cfg.Security.Environment))
	}
	if len(oidc.Issuers) == 0 {
		logger.Warn("oidc issuers not configured")
	}
	keys := auth.NewJWKSCache(oidc.JWKSURL, &http.Client{Timeout: 5 * time.Second}, logger)
	return auth.NewOIDCValidator(keys, logger).RequireOIDC(oidc.Audience, oidc.Issuers)
}

func courierProviders(in []config.CourierProvider) []courier.Provider {
	out := make([]courier.Provider, 0, len(in))
	for _, provider := range in {
		out = append(out, courier.Provider{
			Name:    provider.Name,
			BaseURL: provider.BaseURL,
			APIKey:  provider.APIKey,
		})
	}
	return out
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
