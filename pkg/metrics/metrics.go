package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	BufferSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "event_buffer_size",
			Help: "Number of events currently held in the buffer (count)",
		},
	)

	BufferCapacity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "event_buffer_capacity",
			Help: "Configured maximum number of events in the buffer (count)",
		},
	)

	BufferEnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "event_buffer_enqueued_total",
			Help: "Total number of events accepted by the buffer (count)",
		},
	)

	BufferDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_buffer_dropped_total",
			Help: "Total number of events rejected because the buffer was full (count)",
		},
		[]string{"source"},
	)

	WorkerEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_events_total",
			Help: "Events handled by the batch worker by outcome (count)",
		},
		[]string{"outcome"},
	)

	WorkerBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_batches_total",
			Help: "Total number of batches processed by the worker (count)",
		},
		[]string{"status"},
	)

	WorkerBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_batch_duration_ms",
			Help:    "End-to-end duration of one batch cycle in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
	)

	WorkerInsertDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_insert_duration_ms",
			Help:    "Duration of the storage insert step of one batch in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
	)

	WorkerBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_batch_size",
			Help:    "Number of events drained per batch (count)",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of events written to the dead-letter store (count)",
		},
		[]string{"status"},
	)

	DLQReprocessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_reprocessed_total",
			Help: "Dead-letter reprocess attempts by result (count)",
		},
		[]string{"result"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	CircuitBreakerRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_rejections_total",
			Help: "Requests rejected without invoking the protected call (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"operation"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"topic", "status"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"database", "operation"},
	)

	CheckpointOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkpoint_operations_total",
			Help: "Checkpoint save/load operations by result (count)",
		},
		[]string{"operation", "status"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route, method and status code (count)",
		},
		[]string{"route", "method", "code"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_ms",
			Help:    "Duration of HTTP requests in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"route", "method"},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			BufferSize,
			BufferCapacity,
			BufferEnqueuedTotal,
			BufferDroppedTotal,
			WorkerEventsTotal,
			WorkerBatchesTotal,
			WorkerBatchDuration,
			WorkerInsertDuration,
			WorkerBatchSize,
			DLQMessagesTotal,
			DLQReprocessedTotal,
			CircuitBreakerState,
			CircuitBreakerRequests,
			CircuitBreakerFailures,
			CircuitBreakerRejections,
			RateLimitRequestsTotal,
			RetryAttemptsTotal,
			KafkaMessagesWrittenTotal,
			DatabaseQueriesTotal,
			DatabaseQueryDuration,
			CheckpointOperationsTotal,
			HTTPRequestsTotal,
			HTTPRequestDuration,
		)
	})
}

func SetBufferSize(size int) {
	BufferSize.Set(float64(size))
}

func SetBufferCapacity(capacity int) {
	BufferCapacity.Set(float64(capacity))
}

func IncBufferEnqueued() {
	BufferEnqueuedTotal.Inc()
}

func IncBufferDropped(source string) {
	BufferDroppedTotal.WithLabelValues(source).Inc()
}

func AddWorkerEvents(outcome string, n int) {
	if n <= 0 {
		return
	}
	WorkerEventsTotal.WithLabelValues(outcome).Add(float64(n))
}

func ObserveBatch(status string, size int, total, insert time.Duration) {
	WorkerBatchesTotal.WithLabelValues(status).Inc()
	WorkerBatchSize.Observe(float64(size))
	WorkerBatchDuration.Observe(float64(total.Milliseconds()))
	WorkerInsertDuration.Observe(float64(insert.Milliseconds()))
}

func IncDLQMessage(status string) {
	DLQMessagesTotal.WithLabelValues(status).Inc()
}

func IncDLQReprocessed(result string) {
	DLQReprocessedTotal.WithLabelValues(result).Inc()
}

func IncRetryAttempt(operation string) {
	RetryAttemptsTotal.WithLabelValues(operation).Inc()
}

func IncKafkaMessagesWritten(topic, status string) {
	KafkaMessagesWrittenTotal.WithLabelValues(topic, status).Inc()
}

func IncDatabaseQuery(database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(database, operation).Observe(float64(duration.Milliseconds()))
}

func IncCheckpoint(operation, status string) {
	CheckpointOperationsTotal.WithLabelValues(operation, status).Inc()
}

func ObserveHTTPRequest(route, method string, code int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	HTTPRequestDuration.WithLabelValues(route, method).Observe(float64(duration.Milliseconds()))
}
