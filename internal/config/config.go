// Package config defines the global configuration structure for the
// HabitPulse reminder platform. Configuration is loaded once at process
// initialization (Lambda cold start) and is immutable thereafter. It follows
// 12-Factor App principles by strictly separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format fails the process immediately
// on startup.
package config

import (
	"time"

	"habitpulse/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"habitpulse-reminders"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server    ServerConfig
	Database  DatabaseConfig
	AWS       AWSConfig
	Gateway   GatewayConfig
	Scheduler SchedulerConfig
}

// ServerConfig holds HTTP server configuration for the ops API.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// Resource Identifiers
	HealthAlertQueue string `envconfig:"SQS_HEALTH_ALERTS"` // empty disables alerting
	ArchiveBucket    string `envconfig:"ARCHIVE_BUCKET"`    // cold storage for aged error records
	MetricNamespace  string `envconfig:"METRIC_NAMESPACE" default:"HabitPulse"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// GatewayConfig holds the external messaging provider credentials.
type GatewayConfig struct {
	BaseURL string       `envconfig:"GATEWAY_BASE_URL" validate:"required,url"`
	APIKey  SecretString `envconfig:"GATEWAY_API_KEY" validate:"required"`
	Sender  string       `envconfig:"GATEWAY_SENDER" default:"HabitPulse"`
	Timeout time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s"`
}

// SchedulerConfig holds the cadence and batch tuning for the scan, sweep,
// and health cycles.
type SchedulerConfig struct {
	ScanWindow     time.Duration `envconfig:"SCAN_WINDOW" default:"5m"`
	ScanBatch      int           `envconfig:"SCAN_BATCH" default:"500"`
	MaxConcurrency int           `envconfig:"SCAN_MAX_CONCURRENCY" default:"4"`
	StuckThreshold time.Duration `envconfig:"STUCK_THRESHOLD" default:"5m"`
	SweepBatch     int           `envconfig:"SWEEP_BATCH" default:"200"`
	ArchiveAge     time.Duration `envconfig:"ERROR_ARCHIVE_AGE" default:"720h"`
	ArchiveBatch   int           `envconfig:"ERROR_ARCHIVE_BATCH" default:"10000"`
}

// ConfigErrorType categorizes configuration loading failures to aid
// debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation
	// rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable
	// values into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
