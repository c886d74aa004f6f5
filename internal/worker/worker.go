// Package worker drains the event buffer on a fixed cadence and persists the
// drained events in batches.
package worker

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"eventpipe/internal/config"
	"eventpipe/internal/constants"
	"eventpipe/internal/logger"
	"eventpipe/internal/storage"
	apperrors "eventpipe/pkg/errors"
	"eventpipe/pkg/metrics"
	"eventpipe/pkg/models"
	"eventpipe/pkg/tracing"
)

type Queue interface {
	Enqueue(ev models.EnrichedEvent) bool
	Drain(maxCount int) []models.EnrichedEvent
	Size() int
}

type Gateway interface {
	BatchInsert(ctx context.Context, events []models.EnrichedEvent) (storage.BatchInsertResult, error)
}

// DeadLetterSink receives events that exhausted their retries.
type DeadLetterSink interface {
	AddToDLQ(ctx context.Context, ev models.EnrichedEvent, reason string, retryCount int) error
}

type BatchResult struct {
	Drained      int
	Invalid      int
	Persisted    int
	Failed       int
	Retried      int
	DeadLettered int
	Dropped      int
	// CircuitOpen is set when storage rejected the batch without trying it.
	CircuitOpen bool
	Err         error
}

type Stats struct {
	Running             bool       `json:"running"`
	BatchesProcessed    int64      `json:"batchesProcessed"`
	EventsProcessed     int64      `json:"eventsProcessed"`
	EventsPersisted     int64      `json:"eventsPersisted"`
	EventsInvalid       int64      `json:"eventsInvalid"`
	EventsRetried       int64      `json:"eventsRetried"`
	EventsDeadLettered  int64      `json:"eventsDeadLettered"`
	EventsDropped       int64      `json:"eventsDropped"`
	AverageBatchTimeMs  float64    `json:"averageBatchTimeMs"`
	AverageInsertTimeMs float64    `json:"averageInsertTimeMs"`
	LastBatchAt         *time.Time `json:"lastBatchAt,omitempty"`
}

type Worker struct {
	queue     Queue
	gateway   Gateway
	dlq       DeadLetterSink
	validator *Validator
	cfg       config.WorkerConfig
	logger    logger.Logger
	now       func() time.Time

	// processMu serializes batches between the ticker and the shutdown drain.
	processMu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	statsMu         sync.Mutex
	stats           Stats
	totalBatchTime  time.Duration
	totalInsertTime time.Duration
}

func New(queue Queue, gateway Gateway, dlq DeadLetterSink, validator *Validator, cfg config.WorkerConfig, log logger.Logger) *Worker {
	if cfg.DeadLetterTimeout <= 0 {
		cfg.DeadLetterTimeout = constants.DeadLetterTimeout
	}
	return &Worker{
		queue:     queue,
		gateway:   gateway,
		dlq:       dlq,
		validator: validator,
		cfg:       cfg,
		logger:    log,
		now:       time.Now,
	}
}

func (w *Worker) batchSize() int {
	return min(max(w.cfg.BatchSize, 1), constants.MaxBatchSize)
}

// Start launches the drain loop. Calling it on a running worker is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.running = true
	w.cancel = cancel
	w.done = make(chan struct{})

	w.logger.Infow("Batch worker started",
		"batch_size", w.batchSize(),
		"drain_interval", w.cfg.DrainInterval.String(),
		"max_retries", w.cfg.MaxRetries,
	)

	go w.loop(loopCtx, w.done)
}

func (w *Worker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessBatch(ctx)
		}
	}
}

// Stop halts the drain loop and then keeps processing batches until the
// buffer is empty, storage rejects the work, the shutdown timeout runs out or
// ctx ends. Whatever remains is left in the buffer for the final checkpoint.
func (w *Worker) Stop(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.running = false
		w.cancel()
		done := w.done
		w.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			w.logger.Warnw("Shutdown deadline reached while a batch was in flight",
				"remaining_events", w.queue.Size(),
			)
			return
		}
	} else {
		w.mu.Unlock()
	}

	deadline := w.now().Add(w.cfg.ShutdownTimeout)
	batches := 0

	for w.queue.Size() > 0 {
		if !w.now().Before(deadline) || ctx.Err() != nil {
			w.logger.Warnw("Shutdown timeout reached, leaving events in buffer",
				"timeout", w.cfg.ShutdownTimeout.String(),
				"remaining_events", w.queue.Size(),
			)
			break
		}

		result := w.ProcessBatch(ctx)
		batches++
		if result.CircuitOpen {
			w.logger.Warnw("Storage unavailable during shutdown, leaving events in buffer",
				"remaining_events", w.queue.Size(),
			)
			break
		}

		runtime.Gosched()
		time.Sleep(constants.ShutdownYieldInterval)
	}

	if batches > 0 {
		w.logger.Infow("Batch worker stopped", "final_batches", batches)
	} else {
		w.logger.Infow("Batch worker stopped (no events to process)")
	}
}

// ProcessBatch drains one batch, validates it, persists the valid events and
// routes failures to retry or the dead-letter sink. It never panics.
func (w *Worker) ProcessBatch(ctx context.Context) (result BatchResult) {
	w.processMu.Lock()
	defer w.processMu.Unlock()

	var batch []models.EnrichedEvent
	routed := false
	parent := ctx

	defer func() {
		if r := recover(); r != nil {
			err := apperrors.RecoverPanic(r)
			result.Err = err
			w.logger.Errorw("Panic while processing batch",
				"batch_size", len(batch),
				"error", err,
			)
			if !routed && len(batch) > 0 {
				failed := make([]storage.FailedEvent, len(batch))
				for i, ev := range batch {
					failed[i] = storage.FailedEvent{Event: ev, Reason: err.Error()}
				}
				w.routeFailedSafely(ctx, parent, failed, &result)
			}
		}
	}()

	batch = w.queue.Drain(w.batchSize())
	if len(batch) == 0 {
		return result
	}
	result.Drained = len(batch)

	// A drained batch is always routed to completion; storage calls are
	// bounded by the gateway's own timeout.
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracing.GetTracer("batch-worker").Start(ctx, "worker.process_batch")
	span.SetAttributes(attribute.Int("batch.size", len(batch)))
	defer span.End()

	start := w.now()

	valid, invalid := w.validator.Split(ctx, batch)
	result.Invalid = len(invalid)
	w.logInvalid(ctx, invalid)

	var insertTime time.Duration
	if len(valid) > 0 {
		insertStart := w.now()
		res, err := w.gateway.BatchInsert(ctx, valid)
		insertTime = w.now().Sub(insertStart)

		if err != nil {
			result.Err = err
			result.CircuitOpen = apperrors.IsCircuitOpen(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if len(res.Successful)+len(res.Failed) != len(valid) {
				res = storage.BatchInsertResult{Failed: failAll(valid, err.Error())}
			}
			w.logger.WarnwCtx(ctx, "Batch insert failed",
				"batch_size", len(valid),
				"persisted", len(res.Successful),
				"failed", len(res.Failed),
				"error", err,
			)
		} else if len(res.Failed) > 0 {
			w.logger.WarnwCtx(ctx, "Some events failed to insert",
				"persisted", len(res.Successful),
				"failed", len(res.Failed),
				"total_attempted", len(valid),
			)
		}

		result.Persisted = len(res.Successful)
		result.Failed = len(res.Failed)

		routed = true
		w.routeFailed(ctx, parent, res.Failed, &result)
	}

	total := w.now().Sub(start)
	w.record(result, total, insertTime)

	return result
}

func failAll(events []models.EnrichedEvent, reason string) []storage.FailedEvent {
	failed := make([]storage.FailedEvent, len(events))
	for i, ev := range events {
		failed[i] = storage.FailedEvent{Event: ev, Reason: reason}
	}
	return failed
}

func (w *Worker) logInvalid(ctx context.Context, invalid []InvalidEvent) {
	if len(invalid) == 0 {
		return
	}

	for i, inv := range invalid {
		if i >= constants.InvalidEventLogSample {
			break
		}
		w.logger.WarnwCtx(ctx, "Dropping invalid event",
			"event_id", inv.Event.EventID,
			"service", inv.Event.Service,
			"reason", inv.Reason,
		)
	}
	w.logger.WarnwCtx(ctx, "Invalid events dropped from batch", "count", len(invalid))
}

// deadLetterContext bounds the dead-letter writes of one batch by
// DeadLetterTimeout, or by the caller's deadline when that comes first.
func (w *Worker) deadLetterContext(ctx, parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.DeadLetterTimeout)
	d, ok := parent.Deadline()
	if !ok {
		return ctx, cancel
	}
	ctx, cancelParent := context.WithDeadline(ctx, d)
	return ctx, func() {
		cancelParent()
		cancel()
	}
}

// routeFailed re-enqueues each failed event with an incremented retry count,
// or hands it to the dead-letter sink once it has used up its retries.
func (w *Worker) routeFailed(ctx, parent context.Context, failed []storage.FailedEvent, result *BatchResult) {
	if len(failed) == 0 {
		return
	}
	sinkCtx, cancel := w.deadLetterContext(ctx, parent)
	defer cancel()

	for _, f := range failed {
		ev := f.Event

		if ev.RetryCount >= w.cfg.MaxRetries {
			result.DeadLettered++
			w.logger.ErrorwCtx(ctx, "Event permanently failed, moving to dead-letter queue",
				"event_id", ev.EventID,
				"service", ev.Service,
				"timestamp", ev.Timestamp,
				"retry_count", ev.RetryCount,
				"max_retries", w.cfg.MaxRetries,
				"reason", f.Reason,
			)
			if w.dlq == nil {
				continue
			}
			if err := w.dlq.AddToDLQ(sinkCtx, ev, f.Reason, ev.RetryCount); err != nil {
				w.logger.ErrorwCtx(ctx, "Failed to add event to dead-letter queue",
					"event_id", ev.EventID,
					"error", err,
				)
			}
			continue
		}

		retry := ev.Clone()
		retry.RetryCount = ev.RetryCount + 1

		if !w.queue.Enqueue(retry) {
			result.Dropped++
			metrics.IncBufferDropped("retry")
			w.logger.WarnwCtx(ctx, "Failed to re-enqueue event for retry: buffer full",
				"event_id", ev.EventID,
				"service", ev.Service,
				"retry_count", retry.RetryCount,
			)
			continue
		}

		result.Retried++
		metrics.IncRetryAttempt("batch_insert")
		w.logger.DebugwCtx(ctx, "Re-enqueued event for retry",
			"event_id", ev.EventID,
			"attempt", retry.RetryCount,
			"max_retries", w.cfg.MaxRetries,
		)
	}

	if result.Retried > 0 || result.Dropped > 0 || result.DeadLettered > 0 {
		w.logger.WarnwCtx(ctx, "Retry summary",
			"enqueued", result.Retried,
			"dropped", result.Dropped,
			"dead_lettered", result.DeadLettered,
		)
	}
}

func (w *Worker) routeFailedSafely(ctx, parent context.Context, failed []storage.FailedEvent, result *BatchResult) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Errorw("Panic while routing failed events",
				"count", len(failed),
				"error", apperrors.RecoverPanic(r),
			)
		}
	}()
	w.routeFailed(ctx, parent, failed, result)
}

func (w *Worker) record(result BatchResult, total, insert time.Duration) {
	status := "success"
	switch {
	case result.CircuitOpen:
		status = "circuit_open"
	case result.Err != nil:
		status = "error"
	case result.Failed > 0 || result.Invalid > 0:
		status = "partial"
	}

	metrics.ObserveBatch(status, result.Drained, total, insert)
	metrics.AddWorkerEvents("persisted", result.Persisted)
	metrics.AddWorkerEvents("invalid", result.Invalid)
	metrics.AddWorkerEvents("failed", result.Failed)
	metrics.AddWorkerEvents("retried", result.Retried)
	metrics.AddWorkerEvents("dead_lettered", result.DeadLettered)
	metrics.AddWorkerEvents("dropped", result.Dropped)

	w.statsMu.Lock()
	defer w.statsMu.Unlock()

	w.stats.BatchesProcessed++
	w.stats.EventsProcessed += int64(result.Drained)
	w.stats.EventsPersisted += int64(result.Persisted)
	w.stats.EventsInvalid += int64(result.Invalid)
	w.stats.EventsRetried += int64(result.Retried)
	w.stats.EventsDeadLettered += int64(result.DeadLettered)
	w.stats.EventsDropped += int64(result.Dropped)
	w.totalBatchTime += total
	w.totalInsertTime += insert
	now := w.now()
	w.stats.LastBatchAt = &now

	n := float64(w.stats.BatchesProcessed)
	w.stats.AverageBatchTimeMs = float64(w.totalBatchTime.Microseconds()) / 1000 / n
	w.stats.AverageInsertTimeMs = float64(w.totalInsertTime.Microseconds()) / 1000 / n

	if w.stats.BatchesProcessed%constants.PerformanceLogEvery == 0 {
		w.logger.Infow("Batch worker performance",
			"batches", w.stats.BatchesProcessed,
			"events", w.stats.EventsProcessed,
			"avg_batch_ms", w.stats.AverageBatchTimeMs,
			"avg_insert_ms", w.stats.AverageInsertTimeMs,
		)
	}
}

func (w *Worker) Stats() Stats {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()

	w.statsMu.Lock()
	defer w.statsMu.Unlock()

	s := w.stats
	s.Running = running
	if s.LastBatchAt != nil {
		t := *s.LastBatchAt
		s.LastBatchAt = &t
	}
	return s
}
