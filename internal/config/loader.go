package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// requiredKeys must be present in the file or the environment; the pipeline
// refuses to start on implicit values for them.
var requiredKeys = []string{
	"buffer.capacity",
	"worker.batch_size",
	"worker.drain_interval",
	"worker.max_retries",
	"worker.shutdown_timeout",
	"checkpoint.interval",
	"checkpoint.path",
	"circuit_breaker.failure_threshold",
	"circuit_breaker.success_threshold",
	"circuit_breaker.timeout",
	"query.timeout",
}

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var missing []string
	for _, key := range requiredKeys {
		if !viper.IsSet(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 15*time.Second)
	viper.SetDefault("server.write_timeout", 15*time.Second)
	viper.SetDefault("server.retry_after_seconds", 5)

	viper.SetDefault("database.postgres.sslmode", "disable")
	viper.SetDefault("database.postgres.max_open_conns", 20)
	viper.SetDefault("database.run_migrations", true)

	viper.SetDefault("broker.kafka.dlq_topic", "events.dlq")
	viper.SetDefault("broker.kafka.retry.max_attempts", 3)
	viper.SetDefault("broker.kafka.retry.initial_interval", 100*time.Millisecond)
	viper.SetDefault("broker.kafka.retry.max_interval", 2*time.Second)
	viper.SetDefault("broker.kafka.retry.multiplier", 2.0)
	viper.SetDefault("broker.kafka.retry.max_elapsed_time", 10*time.Second)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("validation.service_name_max_length", 100)
	viper.SetDefault("validation.message_max_length", 2000)
	viper.SetDefault("validation.metadata_max_size_kb", 16)
	viper.SetDefault("validation.chunk_size", 1000)
	viper.SetDefault("validation.chunk_threshold", 1000)

	viper.SetDefault("storage.chunk_size", 500)
	viper.SetDefault("storage.max_individual_attempts", 1000)

	viper.SetDefault("query.default_limit", 100)
	viper.SetDefault("query.max_limit", 1000)
	viper.SetDefault("query.max_range_days", 30)

	viper.SetDefault("retention.enabled", true)
	viper.SetDefault("retention.days", 30)
	viper.SetDefault("retention.interval", 24*time.Hour)

	viper.SetDefault("worker.dead_letter_timeout", 5*time.Second)

	viper.SetDefault("dlq.default_limit", 50)
	viper.SetDefault("dlq.notify_queue_size", 1000)
	viper.SetDefault("dlq.notify_timeout", 5*time.Second)

	viper.SetDefault("reporting.cache_ttl", 30*time.Second)
	viper.SetDefault("reporting.snapshot_interval", time.Minute)
	viper.SetDefault("reporting.history_default_limit", 100)
	viper.SetDefault("reporting.history_retention", 7*24*time.Hour)

	viper.SetDefault("rate_limit.rps", 1000.0)
	viper.SetDefault("rate_limit.burst", 2000)
	viper.SetDefault("rate_limit.cleanup_interval", time.Minute)
	viper.SetDefault("rate_limit.max_age", 5*time.Minute)

	viper.SetDefault("tracing.service_name", "ingest-service")
	viper.SetDefault("tracing.sampler.type", "always")
}

func bindEnvVariables() {
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.dlq_topic", "BROKER_KAFKA_DLQ_TOPIC")

	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")

	viper.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	viper.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	viper.BindEnv("server.port", "SERVER_PORT")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("buffer.capacity", "BUFFER_CAPACITY")
	viper.BindEnv("worker.batch_size", "WORKER_BATCH_SIZE")
	viper.BindEnv("worker.drain_interval", "WORKER_DRAIN_INTERVAL")
	viper.BindEnv("worker.max_retries", "WORKER_MAX_RETRIES")
	viper.BindEnv("worker.shutdown_timeout", "WORKER_SHUTDOWN_TIMEOUT")
	viper.BindEnv("checkpoint.path", "CHECKPOINT_PATH")
	viper.BindEnv("checkpoint.interval", "CHECKPOINT_INTERVAL")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
}

func applyEnvOverrides(cfg *Config) {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}
}
