package service

import (
	"github.com/meterline/meterline/internal/cache"
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/auditlog"
	"github.com/meterline/meterline/internal/domain/events"
	"github.com/meterline/meterline/internal/domain/invoice"
	"github.com/meterline/meterline/internal/domain/meter"
	"github.com/meterline/meterline/internal/domain/price"
	"github.com/meterline/meterline/internal/domain/rollup"
	"github.com/meterline/meterline/internal/domain/subscription"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/publisher"
	"github.com/meterline/meterline/internal/pubsub"
)

// ServiceParams bundles the dependencies shared by all services so that
// constructors stay short and wiring stays in one place
type ServiceParams struct {
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
