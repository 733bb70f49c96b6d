package repository

import (
	"github.com/meterline/meterline/internal/cache"
	"github.com/meterline/meterline/internal/clickhouse"
	"github.com/meterline/meterline/internal/domain/auditlog"
	"github.com/meterline/meterline/internal/domain/events"
	"github.com/meterline/meterline/internal/domain/invoice"
	"github.com/meterline/meterline/internal/domain/meter"
	"github.com/meterline/meterline/internal/domain/price"
	"github.com/meterline/meterline/internal/domain/rollup"
	"github.com/meterline/meterline/internal/domain/subscription"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
	clickhouseRepo "github.com/meterline/meterline/internal/repository/clickhouse"
	postgresRepo "github.com/meterline/meterline/internal/repository/postgres"
)

func NewEventRepository(store *clickhouse.ClickHouseStore, logger *logger.Logger) events.Repository {
	return clickhouseRepo.NewEventRepository(store, logger)
}

func NewRollupRepository(db *postgres.DB, c cache.Cache, logger *logger.Logger) rollup.Repository {
	return postgresRepo.NewRollupRepository(db, c, logger)
}

func NewMeterRepository(db *postgres.DB, c cache.Cache, logger *logger.Logger) meter.Repository {
	return postgresRepo.NewMeterRepository(db, c, logger)
}

func NewPriceRepository(db *postgres.DB, c cache.Cache, logger *logger.Logger) price.Repository {
	return postgresRepo.NewPriceRepository(db, c, logger)
}

func NewSubscriptionRepository(db *postgres.DB, c cache.Cache, logger *logger.Logger) subscription.Repository {
	return postgresRepo.NewSubscriptionRepository(db, c, logger)
}

func NewInvoiceRepository(db *postgres.DB, logger *logger.Logger) invoice.Repository {
	return postgresRepo.NewInvoiceRepository(db, logger)
}

func NewAuditLogRepository(db *postgres.DB, logger *logger.Logger) auditlog.Repository {
	return postgresRepo.NewAuditLogRepository(db, logger)
}
