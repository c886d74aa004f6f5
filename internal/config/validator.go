package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateStatic checks every section and reports all problems at once.
func ValidateStatic(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(cfg.Server)...)
	errs = append(errs, validateDatabase(cfg.Database)...)
	errs = append(errs, validatePipeline(cfg)...)
	errs = append(errs, validateQuery(cfg.Query)...)
	errs = append(errs, validateRetention(cfg.Retention)...)

	if cfg.DLQ.KafkaEnabled {
		errs = append(errs, validateKafka(cfg.Broker.Kafka)...)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func intRange(field string, value, min, max int) error {
	if value < min || value > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be between %d and %d, got %d", min, max, value),
		}
	}
	return nil
}

func durationRange(field string, value, min, max time.Duration) error {
	if value < min || value > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be between %s and %s, got %s", min, max, value),
		}
	}
	return nil
}

func collect(errs ...error) []error {
	var out []error
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

func validateServer(cfg ServerConfig) []error {
	return collect(
		intRange("server.port", cfg.Port, 1, 65535),
		durationRange("server.read_timeout", cfg.ReadTimeout, time.Millisecond, time.Hour),
		durationRange("server.write_timeout", cfg.WriteTimeout, time.Millisecond, time.Hour),
		intRange("server.retry_after_seconds", cfg.RetryAfterSeconds, 1, 300),
	)
}

func validatePipeline(cfg *Config) []error {
	errs := collect(
		intRange("buffer.capacity", cfg.Buffer.Capacity, 100, 1_000_000),
		intRange("worker.batch_size", cfg.Worker.BatchSize, 1, 10_000),
		durationRange("worker.drain_interval", cfg.Worker.DrainInterval, 100*time.Millisecond, time.Minute),
		intRange("worker.max_retries", cfg.Worker.MaxRetries, 0, 10),
		durationRange("worker.shutdown_timeout", cfg.Worker.ShutdownTimeout, 5*time.Second, 5*time.Minute),
		durationRange("checkpoint.interval", cfg.Checkpoint.Interval, time.Second, time.Minute),
		intRange("circuit_breaker.failure_threshold", int(cfg.CircuitBreaker.FailureThreshold), 1, 20),
		intRange("circuit_breaker.success_threshold", int(cfg.CircuitBreaker.SuccessThreshold), 1, 10),
		durationRange("circuit_breaker.timeout", cfg.CircuitBreaker.Timeout, time.Second, 5*time.Minute),
		intRange("validation.service_name_max_length", cfg.Validation.ServiceNameMaxLength, 10, 500),
		intRange("validation.message_max_length", cfg.Validation.MessageMaxLength, 100, 10_000),
		intRange("validation.metadata_max_size_kb", cfg.Validation.MetadataMaxSizeKB, 1, 100),
		intRange("validation.chunk_size", cfg.Validation.ChunkSize, 100, 10_000),
		intRange("validation.chunk_threshold", cfg.Validation.ChunkThreshold, 1, 1_000_000),
		intRange("storage.chunk_size", cfg.Storage.ChunkSize, 1, 10_000),
		intRange("storage.max_individual_attempts", cfg.Storage.MaxIndividualAttempts, 0, 100_000),
	)

	if strings.TrimSpace(cfg.Checkpoint.Path) == "" {
		errs = append(errs, &ValidationError{
			Field:   "checkpoint.path",
			Message: "checkpoint path is required",
		})
	}

	if cfg.Worker.BatchSize > cfg.Buffer.Capacity && cfg.Buffer.Capacity > 0 {
		errs = append(errs, &ValidationError{
			Field:   "worker.batch_size",
			Message: fmt.Sprintf("batch size %d exceeds buffer capacity %d", cfg.Worker.BatchSize, cfg.Buffer.Capacity),
		})
	}

	return errs
}

func validateQuery(cfg QueryConfig) []error {
	errs := collect(
		durationRange("query.timeout", cfg.Timeout, 100*time.Millisecond, 5*time.Minute),
		intRange("query.default_limit", cfg.DefaultLimit, 1, 10_000),
		intRange("query.max_limit", cfg.MaxLimit, 1, 10_000),
		intRange("query.max_range_days", cfg.MaxRangeDays, 1, 3650),
	)
	if cfg.DefaultLimit > cfg.MaxLimit {
		errs = append(errs, &ValidationError{
			Field:   "query.default_limit",
			Message: "default limit cannot exceed max limit",
		})
	}
	return errs
}

func validateRetention(cfg RetentionConfig) []error {
	if !cfg.Enabled {
		return nil
	}
	return collect(
		intRange("retention.days", cfg.Days, 1, 3650),
		durationRange("retention.interval", cfg.Interval, time.Minute, 30*24*time.Hour),
	)
}

func validateKafka(cfg KafkaConfig) []error {
	var errs []error

	if len(cfg.Brokers) == 0 {
		errs = append(errs, &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		})
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			errs = append(errs, &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			})
		}
	}

	if cfg.DLQTopic == "" {
		errs = append(errs, &ValidationError{
			Field:   "broker.kafka.dlq_topic",
			Message: "DLQ topic is required when Kafka notifications are enabled",
		})
	}

	if cfg.Retry.MaxAttempts < 0 {
		errs = append(errs, &ValidationError{
			Field:   "broker.kafka.retry.max_attempts",
			Message: "max_attempts must be non-negative",
		})
	}

	if cfg.Retry.MaxInterval > 0 && cfg.Retry.InitialInterval > 0 && cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		errs = append(errs, &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		})
	}

	if cfg.Retry.Multiplier <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "broker.kafka.retry.multiplier",
			Message: "multiplier must be positive",
		})
	}

	return errs
}

func validateDatabase(cfg DatabaseConfig) []error {
	var errs []error

	errs = append(errs, validatePostgres(cfg.Postgres)...)

	if cfg.RedisEnabled() {
		errs = append(errs, collect(intRange("database.redis.port", cfg.Redis.Port, 1, 65535))...)
	}

	if cfg.MongoEnabled() {
		errs = append(errs, validateMongoDB(cfg.MongoDB)...)
	}

	return errs
}

func validatePostgres(cfg PostgresConfig) []error {
	var errs []error

	if cfg.Host == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		})
	}

	if err := intRange("database.postgres.port", cfg.Port, 1, 65535); err != nil {
		errs = append(errs, err)
	}

	if cfg.User == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		})
	}

	if cfg.DBName == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		})
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		errs = append(errs, &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		})
	}

	if err := intRange("database.postgres.max_open_conns", cfg.MaxOpenConns, 5, 100); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func validateMongoDB(cfg MongoDBConfig) []error {
	var errs []error

	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		errs = append(errs, &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		})
	}

	if cfg.Database == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.mongodb.database",
			Message: "MongoDB database name is required",
		})
	}

	return errs
}
