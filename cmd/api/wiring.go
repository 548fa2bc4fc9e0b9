package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/notifications"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/config"
	pfirestore "github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/firestore"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/idempotency"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/jobs"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/observability"
	ppostgres "github.com/SimelweN/ReBookedSolutions-sub005/internal/platform/postgres"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/repositories"
	firestoreRepo "github.com/SimelweN/ReBookedSolutions-sub005/internal/repositories/firestore"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/repositories/memory"
	postgresRepo "github.com/SimelweN/ReBookedSolutions-sub005/internal/repositories/postgres"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/services"
)

const backgroundRunTimeout = 2 * time.Minute

// openStore returns the order registry and the idempotency store on the same backend.
func openStore(ctx context.Context, cfg config.Config) (repositories.Registry, idempotency.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		return memory.NewStore(), idempotency.NewCacheStore(10 * time.Minute), nil
	case config.StoreDriverFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		store, err := firestoreRepo.NewStore(provider)
		if err != nil {
			return nil, nil, err
		}
		return store, idempotency.NewFirestoreStore(provider), nil
	case config.StoreDriverPostgres:
		pool, err := ppostgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		store, err := postgresRepo.NewStore(ctx, pool, cfg.Postgres.Migrate)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		keys, err := idempotency.NewPostgresStore(ctx, pool, cfg.Postgres.Migrate)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, keys, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// messaging holds the outbound transports. events stays a nil interface when no topic is set.
type messaging struct {
	client        *pubsub.Client
	topics        []*pubsub.Topic
	amqp          *jobs.AMQPNotificationTransport
	notifications notifications.Transport
	events        services.OrderEventPublisher
}

func openMessaging(ctx context.Context, cfg config.Config) (*messaging, error) {
	m := &messaging{}
	needsPubSub := cfg.Notifications.Transport == config.NotificationTransportPubSub || strings.TrimSpace(cfg.Events.Topic) != ""
	if needsPubSub {
		client, err := pubsub.NewClient(ctx, cfg.Notifications.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		m.client = client
	}

	switch cfg.Notifications.Transport {
	case config.NotificationTransportAMQP:
		transport, err := jobs.DialAMQPNotificationTransport(cfg.Notifications.AMQPURL, cfg.Notifications.Exchange)
		if err != nil {
			m.closeQuietly()
			return nil, err
		}
		m.amqp = transport
		m.notifications = transport
	default:
		topic := m.client.Topic(cfg.Notifications.Topic)
		m.topics = append(m.topics, topic)
		transport, err := jobs.NewPubSubNotificationTransport(topic)
		if err != nil {
			m.closeQuietly()
			return nil, err
		}
		m.notifications = transport
	}

	if name := strings.TrimSpace(cfg.Events.Topic); name != "" {
		topic := m.client.Topic(name)
		topic.EnableMessageOrdering = cfg.Events.Ordering
		m.topics = append(m.topics, topic)
		publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			m.closeQuietly()
			return nil, err
		}
		m.events = publisher
	}
	return m, nil
}

// healthChecks checks every configured Pub/Sub topic.
func (m *messaging) healthChecks() []repositories.DependencyCheck {
	checks := make([]repositories.DependencyCheck, 0, len(m.topics))
	for _, topic := range m.topics {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub:" + topic.ID(),
			Timeout: 2 * time.Second,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("topic does not exist")
				}
				return nil
			},
		})
	}
	return checks
}

func (m *messaging) Close(logger *zap.Logger) {
	for _, topic := range m.topics {
		topic.Stop()
	}
	if m.amqp != nil {
		if err := m.amqp.Close(); err != nil {
			logger.Warn("amqp close error", zap.Error(err))
		}
	}
	if m.client != nil {
		if err := m.client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
}

func (m *messaging) closeQuietly() {
	m.Close(zap.NewNop())
}

// paymentGateway is the Stripe surface shared by the order lifecycle and the payout worker.
type paymentGateway interface {
	services.PaymentGateway
	services.TransferGateway
}

type serviceSetDeps struct {
	cfg         config.Config
	store       repositories.Registry
	gateway     paymentGateway
	courier     services.CourierQuoter
	notifier    services.Notifier
	events      services.OrderEventPublisher
	metrics     services.Metrics
	eligibility services.PayoutEligibility
	logger      *zap.Logger
}

type serviceSet struct {
	checkout services.CheckoutService
	orders   services.OrderLifecycleService
	payouts  services.PayoutService
	sweeper  services.ExpirySweeper
}

func newServiceSet(deps serviceSetDeps) (serviceSet, error) {
	cfg := deps.cfg
	store := deps.store

	payoutService, err := services.NewPayoutService(services.PayoutServiceDeps{
		Payouts:         store.Payouts(),
		Orders:          store.Orders(),
		Sellers:         store.Sellers(),
		Gateway:         deps.gateway,
		Notifier:        deps.notifier,
		Metrics:         deps.metrics,
		Eligibility:     deps.eligibility,
		BatchSize:       cfg.Payouts.BatchSize,
		MaxAttempts:     cfg.Payouts.MaxAttempts,
		StaleAfter:      cfg.Payouts.StaleAfter,
		TransferTimeout: cfg.Stripe.Timeout,
		Logger:          observability.EventLogger(deps.logger.Named("payouts")),
	})
	if err != nil {
		return serviceSet{}, fmt.Errorf("payout service: %w", err)
	}

	orderService, err := services.NewOrderLifecycleService(services.OrderLifecycleServiceDeps{
		Orders:                     store.Orders(),
		Listings:                   store.Listings(),
		Payments:                   deps.gateway,
		Payouts:                    payoutService,
		Notifier:                   deps.notifier,
		Events:                     deps.events,
		Metrics:                    deps.metrics,
		Eligibility:                deps.eligibility,
		CommitWindow:               cfg.Lifecycle.CommitWindow,
		DeliveryConfirmationWindow: cfg.Lifecycle.DeliveryConfirmationWindow,
		GatewayTimeout:             cfg.Stripe.Timeout,
		Logger:                     observability.EventLogger(deps.logger.Named("orders")),
	})
	if err != nil {
		return serviceSet{}, fmt.Errorf("order lifecycle service: %w", err)
	}

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:   store.Orders(),
		Sellers:  store.Sellers(),
		Courier:  deps.courier,
		Currency: cfg.Stripe.Currency,
		Logger:   observability.EventLogger(deps.logger.Named("checkout")),
	})
	if err != nil {
		return serviceSet{}, fmt.Errorf("checkout service: %w", err)
	}

	sweeper, err := services.NewExpirySweeper(services.ExpirySweeperDeps{
		Orders:                     store.Orders(),
		Lifecycle:                  orderService,
		DeliveryConfirmationWindow: cfg.Lifecycle.DeliveryConfirmationWindow,
		BatchSize:                  cfg.Sweeper.BatchSize,
		Concurrency:                cfg.Sweeper.Concurrency,
		Logger:                     observability.EventLogger(deps.logger.Named("sweeper")),
	})
	if err != nil {
		return serviceSet{}, fmt.Errorf("expiry sweeper: %w", err)
	}

	return serviceSet{
		checkout: checkoutService,
		orders:   orderService,
		payouts:  payoutService,
		sweeper:  sweeper,
	}, nil
}

func newSystemService(cfg config.Config, store repositories.Registry, m *messaging, build services.BuildInfo) (services.SystemService, error) {
	storeHealth := store.Health()
	checks := []repositories.DependencyCheck{{
		Name:    "store",
		Timeout: 3 * time.Second,
		Check: func(ctx context.Context) error {
			report, err := storeHealth.Collect(ctx)
			if err != nil {
				return err
			}
			if report.Status != domain.HealthStatusOK {
				return fmt.Errorf("store status %s", report.Status)
			}
			return nil
		},
	}}
	checks = append(checks, m.healthChecks()...)

	health, err := repositories.NewDependencyHealthRepository(checks, nil)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository:           health,
		Orders:                     store.Orders(),
		Payouts:                    store.Payouts(),
		DeliveryConfirmationWindow: cfg.Lifecycle.DeliveryConfirmationWindow,
		PayoutStaleAfter:           cfg.Payouts.StaleAfter,
		Build:                      build,
	})
}

// startLoop runs fn every interval until ctx is cancelled. A non-positive interval disables it.
func startLoop(ctx context.Context, wg *sync.WaitGroup, logger *zap.Logger, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		logger.Info("background loop disabled")
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(ctx, backgroundRunTimeout)
				fn(runCtx)
				cancel()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func runSweeps(ctx context.Context, logger *zap.Logger, sweeper services.ExpirySweeper) {
	expired, err := sweeper.Sweep(ctx)
	if err != nil {
		logger.Error("expiry sweep error", zap.Error(err))
	} else if expired.Scanned > 0 {
		logger.Info("expiry sweep finished",
			zap.Int("scanned", expired.Scanned),
			zap.Int("transitioned", expired.Transitioned),
			zap.Int("errors", expired.Errors),
		)
	}

	completed, err := sweeper.SweepDeliveryConfirmations(ctx)
	if err != nil {
		logger.Error("delivery confirmation sweep error", zap.Error(err))
	} else if completed.Scanned > 0 {
		logger.Info("delivery confirmation sweep finished",
			zap.Int("scanned", completed.Scanned),
			zap.Int("transitioned", completed.Transitioned),
			zap.Int("errors", completed.Errors),
		)
	}

	refunded, err := sweeper.SweepRefunds(ctx)
	if err != nil {
		logger.Error("refund sweep error", zap.Error(err))
	} else if refunded.Scanned > 0 {
		logger.Info("refund sweep finished",
			zap.Int("scanned", refunded.Scanned),
			zap.Int("refunded", refunded.Transitioned),
			zap.Int("errors", refunded.Errors),
		)
	}
}

func runPayouts(ctx context.Context, logger *zap.Logger, payouts services.PayoutService) {
	run, err := payouts.RunBatch(ctx)
	if err != nil {
		logger.Error("payout batch error", zap.Error(err))
	} else if run.Scanned > 0 || run.Enqueued > 0 {
		logger.Info("payout batch finished",
			zap.Int("enqueued", run.Enqueued),
			zap.Int("scanned", run.Scanned),
			zap.Int("completed", run.Completed),
			zap.Int("retrying", run.Retrying),
			zap.Int("failed", run.Failed),
		)
	}

	reconciled, err := payouts.Reconcile(ctx)
	if err != nil {
		logger.Error("payout reconcile error", zap.Error(err))
	} else if reconciled.Scanned > 0 {
		logger.Info("payout reconcile finished",
			zap.Int("scanned", reconciled.Scanned),
			zap.Int("ambiguous", reconciled.Ambiguous),
		)
	}
}
