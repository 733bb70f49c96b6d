package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/logger"
)

// DB wraps sqlx.DB to provide transaction management and a bounded pool.
// Pool limits keep ingestion bursts from starving billing reads: when the
// pool is exhausted, acquisition blocks up to the configured timeout and
// then fails fast instead of queueing without bound.
type DB struct {
	*sqlx.DB
	logger         *logger.Logger
	acquireTimeout time.Duration
}

// Querier interface defines all database operations
// Both *sqlx.DB and *sqlx.Tx implement these methods
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

// NewDB creates a new DB instance
func NewDB(cfg *config.Configuration, log *logger.Logger) (*DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Postgres.GetDSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Postgres.ConnMaxLifetimeMins) * time.Minute)

	return &DB{
		DB:             db,
		logger:         log,
		acquireTimeout: time.Duration(cfg.Postgres.AcquireTimeoutMillis) * time.Millisecond,
	}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if err := db.DB.Close(); err != nil {
		db.logger.Errorw("error closing database", "error", err)
	}
}

// GetQuerier returns either the transaction from context or the base DB.
// Outside a transaction, calls go through the acquisition bound: with the
// pool exhausted they wait up to the configured timeout and then fail with
// context.DeadlineExceeded instead of queueing without bound.
func (db *DB) GetQuerier(ctx context.Context) Querier {
	if tx, ok := GetTx(ctx); ok {
		return tx
	}
	if db.acquireTimeout <= 0 {
		return db.DB
	}
	return &boundedQuerier{db: db, q: db.DB}
}

// WithAcquireTimeout bounds ctx by the configured pool acquisition timeout
func (db *DB) WithAcquireTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, db.acquireTimeout)
}

// boundedQuerier applies the acquisition timeout to operations that
// materialize their result before returning. QueryContext and QueryRowContext
// hand back rows that are read after the call, so the bound cannot outlive
// them; those run under the caller's context alone.
type boundedQuerier struct {
	db *DB
	q  Querier
}

func (b *boundedQuerier) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, cancel := b.db.WithAcquireTimeout(ctx)
	defer cancel()
	return b.q.ExecContext(ctx, query, args...)
}

func (b *boundedQuerier) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	ctx, cancel := b.db.WithAcquireTimeout(ctx)
	defer cancel()
	return b.q.GetContext(ctx, dest, query, args...)
}

func (b *boundedQuerier) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	ctx, cancel := b.db.WithAcquireTimeout(ctx)
	defer cancel()
	return b.q.SelectContext(ctx, dest, query, args...)
}

func (b *boundedQuerier) NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error) {
	ctx, cancel := b.db.WithAcquireTimeout(ctx)
	defer cancel()
	return b.q.NamedExecContext(ctx, query, arg)
}

func (b *boundedQuerier) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return b.q.QueryContext(ctx, query, args...)
}

func (b *boundedQuerier) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return b.q.QueryRowContext(ctx, query, args...)
}
