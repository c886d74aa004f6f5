package reporting

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"eventpipe/internal/buffer"
	"eventpipe/internal/config"
	"eventpipe/internal/logger"
	"eventpipe/internal/worker"
	"eventpipe/pkg/circuitbreaker"
)

const maxHistoryLimit = 1000

type BufferSample struct {
	Size               int     `bson:"size" json:"size"`
	Capacity           int     `bson:"capacity" json:"capacity"`
	UtilizationPercent float64 `bson:"utilization_percent" json:"utilizationPercent"`
	TotalEnqueued      uint64  `bson:"total_enqueued" json:"totalEnqueued"`
	TotalDropped       uint64  `bson:"total_dropped" json:"totalDropped"`
	DropRatePercent    float64 `bson:"drop_rate_percent" json:"dropRatePercent"`
	Throughput         float64 `bson:"throughput" json:"throughput"`
	HealthStatus       string  `bson:"health_status" json:"healthStatus"`
}

type BreakerSample struct {
	State        string `bson:"state" json:"state"`
	FailureCount uint32 `bson:"failure_count" json:"failureCount"`
	SuccessCount uint32 `bson:"success_count" json:"successCount"`
}

type WorkerSample struct {
	BatchesProcessed    int64   `bson:"batches_processed" json:"batchesProcessed"`
	EventsProcessed     int64   `bson:"events_processed" json:"eventsProcessed"`
	EventsPersisted     int64   `bson:"events_persisted" json:"eventsPersisted"`
	EventsDeadLettered  int64   `bson:"events_dead_lettered" json:"eventsDeadLettered"`
	AverageBatchTimeMs  float64 `bson:"average_batch_time_ms" json:"averageBatchTimeMs"`
	AverageInsertTimeMs float64 `bson:"average_insert_time_ms" json:"averageInsertTimeMs"`
}

// Snapshot is one point of the metrics history.
type Snapshot struct {
	Timestamp      time.Time     `bson:"timestamp" json:"timestamp"`
	Buffer         BufferSample  `bson:"buffer" json:"buffer"`
	CircuitBreaker BreakerSample `bson:"circuit_breaker" json:"circuitBreaker"`
	Worker         WorkerSample  `bson:"worker" json:"worker"`
}

type HistoryStore interface {
	Save(ctx context.Context, snap Snapshot) error
	// Recent returns up to limit snapshots, newest first.
	Recent(ctx context.Context, limit int) ([]Snapshot, error)
}

type MongoHistoryStore struct {
	collection *mongo.Collection
}

func NewMongoHistoryStore(db *mongo.Database, collection string) *MongoHistoryStore {
	return &MongoHistoryStore{collection: db.Collection(collection)}
}

func (s *MongoHistoryStore) Save(ctx context.Context, snap Snapshot) error {
	if _, err := s.collection.InsertOne(ctx, snap); err != nil {
		return fmt.Errorf("failed to save metrics snapshot: %w", err)
	}
	return nil
}

func (s *MongoHistoryStore) Recent(ctx context.Context, limit int) ([]Snapshot, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"_id": 0})

	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics snapshots: %w", err)
	}
	defer cursor.Close(ctx)

	snaps := make([]Snapshot, 0, limit)
	if err := cursor.All(ctx, &snaps); err != nil {
		return nil, fmt.Errorf("failed to decode metrics snapshots: %w", err)
	}
	return snaps, nil
}

type BufferSource interface {
	Metrics() buffer.MetricsSnapshot
}

type WorkerSource interface {
	Stats() worker.Stats
}

// Recorder periodically samples the pipeline and stores the result.
type Recorder struct {
	buffer  BufferSource
	breaker *circuitbreaker.Breaker
	worker  WorkerSource
	store   HistoryStore
	cfg     config.ReportingConfig
	logger  logger.Logger
	now     func() time.Time
}

func NewRecorder(buf BufferSource, breaker *circuitbreaker.Breaker, w WorkerSource, store HistoryStore, cfg config.ReportingConfig, log logger.Logger) *Recorder {
	return &Recorder{
		buffer:  buf,
		breaker: breaker,
		worker:  w,
		store:   store,
		cfg:     cfg,
		logger:  log,
		now:     time.Now,
	}
}

func (r *Recorder) Sample() Snapshot {
	b := r.buffer.Metrics()
	snap := Snapshot{
		Timestamp: r.now().UTC(),
		Buffer: BufferSample{
			Size:               b.CurrentSize,
			Capacity:           b.Capacity,
			UtilizationPercent: b.UtilizationPercent,
			TotalEnqueued:      b.TotalEnqueued,
			TotalDropped:       b.TotalDropped,
			DropRatePercent:    b.DropRate,
			Throughput:         b.Throughput,
			HealthStatus:       string(b.HealthStatus),
		},
	}

	if r.breaker != nil {
		cb := r.breaker.Metrics()
		snap.CircuitBreaker = BreakerSample{
			State:        string(cb.State),
			FailureCount: cb.FailureCount,
			SuccessCount: cb.SuccessCount,
		}
	}

	if r.worker != nil {
		ws := r.worker.Stats()
		snap.Worker = WorkerSample{
			BatchesProcessed:    ws.BatchesProcessed,
			EventsProcessed:     ws.EventsProcessed,
			EventsPersisted:     ws.EventsPersisted,
			EventsDeadLettered:  ws.EventsDeadLettered,
			AverageBatchTimeMs:  ws.AverageBatchTimeMs,
			AverageInsertTimeMs: ws.AverageInsertTimeMs,
		}
	}
	return snap
}

// Record stores one snapshot. Failures are logged and not returned.
func (r *Recorder) Record(ctx context.Context) {
	if err := r.store.Save(ctx, r.Sample()); err != nil {
		r.logger.WarnwCtx(ctx, "Failed to save metrics snapshot", "error", err)
		return
	}
	r.logger.DebugwCtx(ctx, "Metrics snapshot saved")
}

// Run records a snapshot every interval and a final one when ctx ends.
func (r *Recorder) Run(ctx context.Context) error {
	r.logger.Infow("Metrics history started", "interval", r.cfg.SnapshotInterval)
	ticker := time.NewTicker(r.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			r.Record(finalCtx)
			cancel()
			return nil
		case <-ticker.C:
			r.Record(ctx)
		}
	}
}

func (r *Recorder) History(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = r.cfg.HistoryDefaultLimit
	}
	if limit <= 0 {
		limit = 100
	}
	return r.store.Recent(ctx, min(limit, maxHistoryLimit))
}
