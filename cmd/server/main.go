package main

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/meterline/meterline/internal/api"
	v1 "github.com/meterline/meterline/internal/api/v1"
	"github.com/meterline/meterline/internal/cache"
	"github.com/meterline/meterline/internal/clickhouse"
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/auditlog"
	"github.com/meterline/meterline/internal/domain/events"
	"github.com/meterline/meterline/internal/domain/invoice"
	"github.com/meterline/meterline/internal/domain/meter"
	"github.com/meterline/meterline/internal/domain/price"
	"github.com/meterline/meterline/internal/domain/rollup"
	"github.com/meterline/meterline/internal/domain/subscription"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/publisher"
	"github.com/meterline/meterline/internal/pubsub"
	kafkaPubsub "github.com/meterline/meterline/internal/pubsub/kafka"
	memoryPubsub "github.com/meterline/meterline/internal/pubsub/memory"
	"github.com/meterline/meterline/internal/repository"
	"github.com/meterline/meterline/internal/service"
)

func init() {
	// gin logs through the structured logger; its own writer stays quiet
	gin.SetMode(gin.ReleaseMode)
}

func main() {
	fx.New(
		fx.Provide(
			config.NewConfig,
			logger.NewLogger,
			cache.NewInMemoryCache,
			postgres.NewDB,
			clickhouse.NewClickHouseStore,
			newPubSub,
			publisher.NewEventPublisher,

			repository.NewEventRepository,
			repository.NewRollupRepository,
			repository.NewMeterRepository,
			repository.NewPriceRepository,
			repository.NewSubscriptionRepository,
			repository.NewInvoiceRepository,
			repository.NewAuditLogRepository,

			newServiceParams,
			service.NewThrottleController,
			service.NewEventService,
			service.NewAggregationService,
			service.NewBillingService,
			service.NewRetentionService,
			service.NewMeterService,
			service.NewPriceService,
			service.NewSubscriptionService,

			v1.NewEventsHandler,
			v1.NewUsageHandler,
			v1.NewBillingHandler,
			v1.NewMeterHandler,
			v1.NewPriceHandler,
			v1.NewSubscriptionHandler,
			v1.NewHealthHandler,
			newHandlers,
			api.NewRouter,
		),
		fx.Invoke(startServer),
	).Run()
}

func newPubSub(cfg *config.Configuration, log *logger.Logger) (pubsub.PubSub, error) {
	switch cfg.Event.PublishDestination {
	case "kafka":
		return kafkaPubsub.NewPubSub(cfg, log)
	case "memory":
		return memoryPubsub.NewPubSub(log), nil
	default:
		return nil, ierr.NewError("unknown publish destination").
			WithHintf("event.publish_destination must be kafka or memory, got %s", cfg.Event.PublishDestination).
			Mark(ierr.ErrValidation)
	}
}

type serviceParamsInput struct {
	fx.In

	Logger *logger.Logger
	Config *config.Configuration
	DB     *postgres.DB
	Cache  cache.Cache

	EventRepo        events.Repository
	RollupRepo       rollup.Repository
	MeterRepo        meter.Repository
	PriceRepo        price.Repository
	SubscriptionRepo subscription.Repository
	InvoiceRepo      invoice.Repository
	AuditLogRepo     auditlog.Repository

	EventPublisher publisher.EventPublisher
	PubSub         pubsub.PubSub
}

func newServiceParams(in serviceParamsInput) service.ServiceParams {
	return service.ServiceParams{
		Logger:           in.Logger,
		Config:           in.Config,
		DB:               in.DB,
		Cache:            in.Cache,
		EventRepo:        in.EventRepo,
		RollupRepo:       in.RollupRepo,
		MeterRepo:        in.MeterRepo,
		PriceRepo:        in.PriceRepo,
		SubscriptionRepo: in.SubscriptionRepo,
		InvoiceRepo:      in.InvoiceRepo,
		AuditLogRepo:     in.AuditLogRepo,
		EventPublisher:   in.EventPublisher,
		PubSub:           in.PubSub,
	}
}

func newHandlers(
	eventsHandler *v1.EventsHandler,
	usageHandler *v1.UsageHandler,
	billingHandler *v1.BillingHandler,
	meterHandler *v1.MeterHandler,
	priceHandler *v1.PriceHandler,
	subscriptionHandler *v1.SubscriptionHandler,
	healthHandler *v1.HealthHandler,
) api.Handlers {
	return api.Handlers{
		Events:       eventsHandler,
		Usage:        usageHandler,
		Billing:      billingHandler,
		Meter:        meterHandler,
		Price:        priceHandler,
		Subscription: subscriptionHandler,
		Health:       healthHandler,
	}
}

type startServerInput struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Configuration
	Logger    *logger.Logger
	Router    *gin.Engine
	DB        *postgres.DB
	Store     *clickhouse.ClickHouseStore
	PubSub    pubsub.PubSub

	EventService       service.EventService
	AggregationService service.AggregationService
	RetentionService   service.RetentionService
}

func startServer(in startServerInput) {
	server := &http.Server{
		Addr:    in.Config.Server.Address,
		Handler: in.Router,
	}

	consumerCtx, cancelConsumers := context.WithCancel(context.Background())

	in.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			in.EventService.Start(consumerCtx)

			go func() {
				if err := in.AggregationService.StartConsumer(consumerCtx); err != nil {
					in.Logger.Errorw("aggregation consumer exited", "error", err)
				}
			}()

			in.RetentionService.Start(consumerCtx)

			go func() {
				in.Logger.Infow("starting server", "address", in.Config.Server.Address)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					in.Logger.Fatalw("server failed", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			in.Logger.Infow("shutting down server")

			if err := server.Shutdown(ctx); err != nil {
				in.Logger.Errorw("server shutdown failed", "error", err)
			}

			in.EventService.Stop()
			cancelConsumers()

			if err := in.PubSub.Close(); err != nil {
				in.Logger.Errorw("pubsub close failed", "error", err)
			}
			if err := in.Store.Close(); err != nil {
				in.Logger.Errorw("clickhouse close failed", "error", err)
			}
			in.DB.Close()
			return nil
		},
	})
}
