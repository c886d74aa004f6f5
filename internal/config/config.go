package config

import (
	"time"
)

// Config is loaded once at startup and never mutated afterwards. Components
// receive the sub-struct they need through their constructors.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Buffer         BufferConfig         `mapstructure:"buffer"`
	Checkpoint     CheckpointConfig     `mapstructure:"checkpoint"`
	Worker         WorkerConfig         `mapstructure:"worker"`
	Validation     ValidationConfig     `mapstructure:"validation"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Query          QueryConfig          `mapstructure:"query"`
	Retention      RetentionConfig      `mapstructure:"retention"`
	DLQ            DLQConfig            `mapstructure:"dlq"`
	Reporting      ReportingConfig      `mapstructure:"reporting"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	RetryAfterSeconds int           `mapstructure:"retry_after_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig `mapstructure:"postgres"`
	Redis         RedisConfig    `mapstructure:"redis"`
	MongoDB       MongoDBConfig  `mapstructure:"mongodb"`
	RunMigrations bool           `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// Redis and MongoDB are optional: an empty host/URI disables the features
// backed by them.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers  []string    `mapstructure:"brokers"`
	DLQTopic string      `mapstructure:"dlq_topic"`
	Retry    RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type BufferConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type CheckpointConfig struct {
	Path     string        `mapstructure:"path"`
	Interval time.Duration `mapstructure:"interval"`
}

type WorkerConfig struct {
	BatchSize         int           `mapstructure:"batch_size"`
	DrainInterval     time.Duration `mapstructure:"drain_interval"`
	MaxRetries        int           `mapstructure:"max_retries"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	// DeadLetterTimeout bounds the dead-letter writes of one batch.
	DeadLetterTimeout time.Duration `mapstructure:"dead_letter_timeout"`
}

type ValidationConfig struct {
	ServiceNameMaxLength int `mapstructure:"service_name_max_length"`
	MessageMaxLength     int `mapstructure:"message_max_length"`
	MetadataMaxSizeKB    int `mapstructure:"metadata_max_size_kb"`
	// Batches larger than ChunkThreshold are validated ChunkSize events at a
	// time with a scheduler yield in between.
	ChunkSize      int `mapstructure:"chunk_size"`
	ChunkThreshold int `mapstructure:"chunk_threshold"`
	// Rules are optional CEL expressions over `event`; each must evaluate to true.
	Rules []string `mapstructure:"rules"`
}

type CircuitBreakerConfig struct {
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	SuccessThreshold uint32        `mapstructure:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

type StorageConfig struct {
	ChunkSize             int `mapstructure:"chunk_size"`
	MaxIndividualAttempts int `mapstructure:"max_individual_attempts"`
}

type QueryConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	DefaultLimit int           `mapstructure:"default_limit"`
	MaxLimit     int           `mapstructure:"max_limit"`
	MaxRangeDays int           `mapstructure:"max_range_days"`
}

type RetentionConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Days     int           `mapstructure:"days"`
	Interval time.Duration `mapstructure:"interval"`
}

type DLQConfig struct {
	KafkaEnabled    bool          `mapstructure:"kafka_enabled"`
	DefaultLimit    int           `mapstructure:"default_limit"`
	NotifyQueueSize int           `mapstructure:"notify_queue_size"`
	// NotifyTimeout bounds each dead-letter notification publish.
	NotifyTimeout   time.Duration `mapstructure:"notify_timeout"`
}

type ReportingConfig struct {
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
	SnapshotInterval    time.Duration `mapstructure:"snapshot_interval"`
	HistoryDefaultLimit int           `mapstructure:"history_default_limit"`
	// HistoryRetention bounds how long snapshots are kept; zero keeps them forever.
	HistoryRetention    time.Duration `mapstructure:"history_retention"`
}

type RateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RPS             float64       `mapstructure:"rps"`
	Burst           int           `mapstructure:"burst"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	MaxAge          time.Duration `mapstructure:"max_age"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func (c DatabaseConfig) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c DatabaseConfig) MongoEnabled() bool {
	return c.MongoDB.URI != ""
}

func (c Config) KafkaEnabled() bool {
	return c.DLQ.KafkaEnabled && len(c.Broker.Kafka.Brokers) > 0
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
