package testutil

import (
	"context"

	"github.com/stretchr/testify/suite"

	"github.com/meterline/meterline/internal/cache"
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/publisher"
	"github.com/meterline/meterline/internal/pubsub"
	pubsubMemory "github.com/meterline/meterline/internal/pubsub/memory"
	"github.com/meterline/meterline/internal/service"
)

// Stores bundles the in-memory repositories backing a service test
type Stores struct {
	Events        *InMemoryEventStore
	Rollups       *InMemoryRollupStore
	Meters        *InMemoryMeterStore
	Prices        *InMemoryPriceStore
	Subscriptions *InMemorySubscriptionStore
	Invoices      *InMemoryInvoiceStore
	AuditLogs     *InMemoryAuditLogStore
}

// BaseServiceSuite provides a ready service wiring over in-memory stores
type BaseServiceSuite struct {
	suite.Suite
	ctx    context.Context
	cfg    *config.Configuration
	logger *logger.Logger
	stores Stores
	pubsub pubsub.PubSub
	params service.ServiceParams
}

// SetupSuite initializes the test suite
func (s *BaseServiceSuite) SetupSuite() {
	s.cfg = config.GetDefaultConfig()
	log, err := logger.NewLogger(s.cfg)
	if err != nil {
		s.T().Fatalf("failed to create logger: %v", err)
	}
	s.logger = log
}

// SetupTest gives every test a fresh context and fresh stores
func (s *BaseServiceSuite) SetupTest() {
	s.ctx = SetupContext()
	s.stores = Stores{
		Events:        NewInMemoryEventStore(),
		Rollups:       NewInMemoryRollupStore(),
		Meters:        NewInMemoryMeterStore(),
		Prices:        NewInMemoryPriceStore(),
		Subscriptions: NewInMemorySubscriptionStore(),
		Invoices:      NewInMemoryInvoiceStore(),
		AuditLogs:     NewInMemoryAuditLogStore(),
	}
	s.pubsub = pubsubMemory.NewPubSub(s.logger)

	s.params = service.ServiceParams{
		Logger:           s.logger,
		Config:           s.cfg,
		Cache:            cache.NewInMemoryCache(s.cfg, s.logger),
		EventRepo:        s.stores.Events,
		RollupRepo:       s.stores.Rollups,
		MeterRepo:        s.stores.Meters,
		PriceRepo:        s.stores.Prices,
		SubscriptionRepo: s.stores.Subscriptions,
		InvoiceRepo:      s.stores.Invoices,
		AuditLogRepo:     s.stores.AuditLogs,
		EventPublisher:   publisher.NewEventPublisher(s.cfg, s.pubsub, s.logger),
		PubSub:           s.pubsub,
	}
}

// TearDownTest closes per-test resources
func (s *BaseServiceSuite) TearDownTest() {
	if s.pubsub != nil {
		_ = s.pubsub.Close()
	}
}

// GetContext returns the tenant-scoped test context
func (s *BaseServiceSuite) GetContext() context.Context {
	return s.ctx
}

// GetConfig returns the test configuration
func (s *BaseServiceSuite) GetConfig() *config.Configuration {
	return s.cfg
}

// GetLogger returns the test logger
func (s *BaseServiceSuite) GetLogger() *logger.Logger {
	return s.logger
}

// GetStores returns the in-memory stores
func (s *BaseServiceSuite) GetStores() Stores {
	return s.stores
}

// GetParams returns the wired service params
func (s *BaseServiceSuite) GetParams() service.ServiceParams {
	return s.params
}
