package reporting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventpipe/internal/buffer"
	"eventpipe/internal/config"
	"eventpipe/internal/logger"
	"eventpipe/internal/worker"
	"eventpipe/pkg/circuitbreaker"
)

type memHistory struct {
	mu      sync.Mutex
	snaps   []Snapshot
	saveErr error
	limit   int
}

func (m *memHistory) Save(ctx context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snaps = append(m.snaps, snap)
	return nil
}

func (m *memHistory) Recent(ctx context.Context, limit int) ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limit = limit
	out := make([]Snapshot, 0, limit)
	for i := len(m.snaps) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.snaps[i])
	}
	return out, nil
}

func (m *memHistory) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps)
}

type fakeBuffer struct {
	m buffer.MetricsSnapshot
}

func (f fakeBuffer) Metrics() buffer.MetricsSnapshot { return f.m }

type fakeWorker struct {
	s worker.Stats
}

func (f fakeWorker) Stats() worker.Stats { return f.s }

func newRecorder(store HistoryStore, cfg config.ReportingConfig) *Recorder {
	buf := fakeBuffer{m: buffer.MetricsSnapshot{
		CurrentSize:        700,
		Capacity:           1000,
		UtilizationPercent: 70,
		TotalEnqueued:      5000,
		HealthStatus:       buffer.HealthWarning,
	}}
	w := fakeWorker{s: worker.Stats{BatchesProcessed: 4, EventsPersisted: 4300, AverageBatchTimeMs: 12.5}}
	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "storage"})

	r := NewRecorder(buf, breaker, w, store, cfg, logger.NopLogger())
	r.now = func() time.Time { return fixedNow }
	return r
}

func TestRecorder_Sample(t *testing.T) {
	r := newRecorder(&memHistory{}, config.ReportingConfig{})

	snap := r.Sample()
	assert.Equal(t, fixedNow, snap.Timestamp)
	assert.Equal(t, 700, snap.Buffer.Size)
	assert.Equal(t, 70.0, snap.Buffer.UtilizationPercent)
	assert.Equal(t, "warning", snap.Buffer.HealthStatus)
	assert.Equal(t, string(circuitbreaker.StateClosed), snap.CircuitBreaker.State)
	assert.Equal(t, int64(4300), snap.Worker.EventsPersisted)
	assert.Equal(t, 12.5, snap.Worker.AverageBatchTimeMs)
}

func TestRecorder_RecordSwallowsErrors(t *testing.T) {
	store := &memHistory{saveErr: errors.New("mongo unavailable")}
	r := newRecorder(store, config.ReportingConfig{})

	assert.NotPanics(t, func() { r.Record(context.Background()) })
	assert.Zero(t, store.count())
}

func TestRecorder_RunSavesFinalSnapshot(t *testing.T) {
	store := &memHistory{}
	r := newRecorder(store, config.ReportingConfig{SnapshotInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return store.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("recorder did not stop")
	}
	assert.GreaterOrEqual(t, store.count(), 3)
}

func TestRecorder_HistoryLimits(t *testing.T) {
	store := &memHistory{}
	r := newRecorder(store, config.ReportingConfig{HistoryDefaultLimit: 24})
	for i := 0; i < 3; i++ {
		r.Record(context.Background())
	}

	snaps, err := r.History(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, snaps, 3)
	assert.Equal(t, 24, store.limit)

	_, err = r.History(context.Background(), 5000)
	require.NoError(t, err)
	assert.Equal(t, maxHistoryLimit, store.limit)

	_, err = r.History(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, store.limit)
}
