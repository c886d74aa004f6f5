package constants

import "time"

const (
	ServiceName = "ingest-service"
)

const (
	EventIDPrefix    = "evt_"
	EventIDHexLength = 12
)

const (
	// MaxBatchSize caps a single drain regardless of configuration.
	MaxBatchSize = 10000
	// PerformanceLogEvery is the number of batches between summary log lines.
	PerformanceLogEvery = 100
	// InvalidEventLogSample bounds how many invalid events are logged per batch.
	InvalidEventLogSample = 3
	ShutdownYieldInterval = time.Millisecond
	DeadLetterTimeout     = 5 * time.Second
)

const (
	MetadataMaxDepth = 5
	MetadataMaxKeys  = 100
)

const (
	MinTimestampYear = 1970
	MaxTimestampYear = 2100
)

const (
	MaxQueryOffset = 10000
)

const (
	TableEvents          = "events"
	TableDeadLetterQueue = "dead_letter_queue"
	CollectionMetrics    = "metrics_history"
)

const (
	CacheKeyBusinessMetrics = "eventpipe:business_metrics"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
	NotifyQueueSize   = 1000
	NotifyTimeout     = 5 * time.Second
)

const (
	HealthCheckTimeout  = 5 * time.Second
	HTTPShutdownTimeout = 10 * time.Second
)
