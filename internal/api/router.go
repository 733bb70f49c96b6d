package api

import (
	"github.com/gin-gonic/gin"

	v1 "github.com/meterline/meterline/internal/api/v1"
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/auditlog"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/rest/middleware"
	"github.com/meterline/meterline/internal/types"
)

// Handlers bundles the versioned API handlers for router wiring
type Handlers struct {
	Events       *v1.EventsHandler
	Usage        *v1.UsageHandler
	Billing      *v1.BillingHandler
	Meter        *v1.MeterHandler
	Price        *v1.PriceHandler
	Subscription *v1.SubscriptionHandler
	Health       *v1.HealthHandler
}

func NewRouter(handlers Handlers, cfg *config.Configuration, auditRepo auditlog.Repository, log *logger.Logger) *gin.Engine {
	if cfg.Deployment.Mode == types.ModeProd {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware,
		middleware.CORSMiddleware,
		middleware.ErrorHandler(log),
	)

	router.GET("/health", handlers.Health.Health)

	private := router.Group("/v1")
	private.Use(middleware.AuthMiddleware(cfg, auditRepo, log))
	{
		events := private.Group("/events")
		{
			events.POST("", handlers.Events.IngestEvent)
			events.POST("/batch", handlers.Events.BulkIngestEvents)
			events.POST("/usage", handlers.Events.GetUsage)
			events.POST("/query", handlers.Events.GetRawEvents)
		}

		usage := private.Group("/usage")
		{
			usage.GET("/summary", handlers.Usage.GetUsageSummary)
		}

		billing := private.Group("/billing")
		{
			billing.POST("/runs", handlers.Billing.RunBilling)
		}

		invoices := private.Group("/invoices")
		{
			invoices.GET("", handlers.Billing.ListInvoices)
			invoices.GET("/:id", handlers.Billing.GetInvoice)
			invoices.PUT("/:id/status", handlers.Billing.UpdateInvoiceStatus)
		}

		meters := private.Group("/meters")
		{
			meters.POST("", handlers.Meter.CreateMeter)
			meters.GET("", handlers.Meter.ListMeters)
			meters.GET("/:id", handlers.Meter.GetMeter)
			meters.DELETE("/:id", handlers.Meter.DisableMeter)
		}

		pricingRules := private.Group("/pricing-rules")
		{
			pricingRules.POST("", handlers.Price.CreatePricingRule)
			pricingRules.GET("", handlers.Price.ListPricingRules)
			pricingRules.GET("/:id", handlers.Price.GetPricingRule)
		}

		subscriptions := private.Group("/subscriptions")
		{
			subscriptions.POST("", handlers.Subscription.CreateSubscription)
			subscriptions.GET("/active", handlers.Subscription.GetActiveSubscription)
			subscriptions.GET("/:id", handlers.Subscription.GetSubscription)
		}
	}

	return router
}
