package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/meterline/meterline/internal/types"
)

type Configuration struct {
	Deployment  DeploymentConfig  `validate:"required"`
	Server      ServerConfig      `validate:"required"`
	Logging     LoggingConfig     `validate:"required"`
	Auth        AuthConfig        `validate:"required"`
	Postgres    PostgresConfig    `validate:"required"`
	ClickHouse  ClickHouseConfig  `validate:"required"`
	Kafka       KafkaConfig
	Event       EventConfig       `validate:"required"`
	Ingestion   IngestionConfig   `validate:"required"`
	Aggregation AggregationConfig `validate:"required"`
	Retention   RetentionConfig   `validate:"required"`
	Cache       CacheConfig
}

type DeploymentConfig struct {
	Mode types.RunMode `validate:"required"`
}

type ServerConfig struct {
	Address string `validate:"required"`
}

type LoggingConfig struct {
	Level types.LogLevel `validate:"required"`
}

type AuthConfig struct {
	// APIKeyHeader is the request header carrying the tenant-bound API key
	APIKeyHeader string
	// APIKeys maps a key hash to its tenant and actor binding. The tenant id
	// is always taken from here, never from the request payload.
	APIKeys map[string]APIKeyBinding
	// JWTSecret signs and validates bearer tokens
	JWTSecret string
}

type APIKeyBinding struct {
	TenantID string
	ActorID  string
}

type PostgresConfig struct {
	Host                 string
	Port                 int
	User                 string
	Password             string
	DBName               string
	SSLMode              string
	MaxOpenConns         int
	MaxIdleConns         int
	ConnMaxLifetimeMins  int
	AcquireTimeoutMillis int
}

type ClickHouseConfig struct {
	Address  string
	TLS      bool
	Username string
	Password string
	Database string
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
}

// EventConfig controls where post-ingest batch notifications are published
type EventConfig struct {
	PublishDestination string `validate:"required"` // "kafka" or "memory"
	Topic              string `validate:"required"`
}

// IngestionConfig controls the event write path
type IngestionConfig struct {
	// MaxBatchSize flushes the ingest buffer once this many rows are pending
	MaxBatchSize int `validate:"required,gt=0"`
	// FlushIntervalMillis flushes the ingest buffer after this long regardless of size
	FlushIntervalMillis int `validate:"required,gt=0"`
	// MaxFutureSkew rejects events with occurred_at further than this in the future
	MaxFutureSkewMins int `validate:"required,gt=0"`
	// ThrottleRatePerSec is the reduced per-tenant acceptance rate applied
	// while a throttle overage signal is active
	ThrottleRatePerSec float64 `validate:"required,gt=0"`
	ThrottleBurst      int     `validate:"required,gt=0"`
}

// AggregationConfig controls the rollup fold
type AggregationConfig struct {
	Granularities []types.BucketGranularity `validate:"required,min=1"`
	// WorkerCount bounds cross-key parallelism of incremental folds
	WorkerCount int `validate:"required,gt=0"`
	// MaxRetries is the retry ceiling for transient store errors before a
	// bucket is flagged for backfill repair
	MaxRetries int `validate:"required,gt=0"`
}

// RetentionConfig controls the raw-event retention window and compaction cadence
type RetentionConfig struct {
	RawEventDays    int `validate:"required,gt=0"`
	RunIntervalMins int `validate:"required,gt=0"`
	// ArchiveDir receives partition exports before the partition is dropped.
	// Empty disables archiving and partitions are dropped outright.
	ArchiveDir string
}

type CacheConfig struct {
	Enabled bool
	// Per-data-class TTLs; usage summaries churn faster than pricing
	RollupTTLSecs       int
	PricingTTLSecs      int
	SubscriptionTTLSecs int
}

func NewConfig() (*Configuration, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/meterline")

	v.SetEnvPrefix("METERLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("deployment.mode", string(types.ModeLocal))
	v.SetDefault("server.address", ":8080")
	v.SetDefault("logging.level", string(types.LogLevelInfo))
	v.SetDefault("auth.apikeyheader", "x-api-key")
	v.SetDefault("postgres.maxopenconns", 20)
	v.SetDefault("postgres.maxidleconns", 5)
	v.SetDefault("postgres.connmaxlifetimemins", 30)
	v.SetDefault("postgres.acquiretimeoutmillis", 5000)
	v.SetDefault("event.publishdestination", "memory")
	v.SetDefault("event.topic", "events.ingested")
	v.SetDefault("ingestion.maxbatchsize", 500)
	v.SetDefault("ingestion.flushintervalmillis", 200)
	v.SetDefault("ingestion.maxfutureskewmins", 15)
	v.SetDefault("ingestion.throttleratepersec", 10)
	v.SetDefault("ingestion.throttleburst", 20)
	v.SetDefault("aggregation.granularities", []string{string(types.GranularityHour), string(types.GranularityDay)})
	v.SetDefault("aggregation.workercount", 8)
	v.SetDefault("aggregation.maxretries", 5)
	v.SetDefault("retention.raweventdays", 90)
	v.SetDefault("retention.runintervalmins", 60)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.rollupttlsecs", 30)
	v.SetDefault("cache.pricingttlsecs", 900)
	v.SetDefault("cache.subscriptionttlsecs", 300)
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// GetDefaultConfig returns a default configuration for local development
// This is useful for running scripts or other non-web applications
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Logging:    LoggingConfig{Level: types.LogLevelDebug},
		Event:      EventConfig{PublishDestination: "memory", Topic: "events.ingested"},
		Ingestion: IngestionConfig{
			MaxBatchSize:        500,
			FlushIntervalMillis: 200,
			MaxFutureSkewMins:   15,
			ThrottleRatePerSec:  10,
			ThrottleBurst:       20,
		},
		Aggregation: AggregationConfig{
			Granularities: []types.BucketGranularity{types.GranularityHour, types.GranularityDay},
			WorkerCount:   8,
			MaxRetries:    5,
		},
		Retention: RetentionConfig{RawEventDays: 90, RunIntervalMins: 60},
		Cache: CacheConfig{
			Enabled:             true,
			RollupTTLSecs:       30,
			PricingTTLSecs:      900,
			SubscriptionTTLSecs: 300,
		},
	}
}

func (c IngestionConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMillis) * time.Millisecond
}

func (c IngestionConfig) MaxFutureSkew() time.Duration {
	return time.Duration(c.MaxFutureSkewMins) * time.Minute
}

func (c RetentionConfig) RawEventWindow() time.Duration {
	return time.Duration(c.RawEventDays) * 24 * time.Hour
}

func (c RetentionConfig) RunInterval() time.Duration {
	return time.Duration(c.RunIntervalMins) * time.Minute
}

func (c CacheConfig) RollupTTL() time.Duration {
	return time.Duration(c.RollupTTLSecs) * time.Second
}

func (c CacheConfig) PricingTTL() time.Duration {
	return time.Duration(c.PricingTTLSecs) * time.Second
}

func (c CacheConfig) SubscriptionTTL() time.Duration {
	return time.Duration(c.SubscriptionTTLSecs) * time.Second
}

func (c ClickHouseConfig) GetClientOptions() *clickhouse.Options {
	options := &clickhouse.Options{
		Addr: []string{c.Address},
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.Username,
			Password: c.Password,
		},
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	}
	if c.TLS {
		options.TLS = &tls.Config{}
	}
	return options
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s port=%d sslmode=%s",
		c.User,
		c.Password,
		c.DBName,
		c.Host,
		c.Port,
		c.SSLMode,
	)
}
