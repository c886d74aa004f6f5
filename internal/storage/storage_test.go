package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventpipe/pkg/circuitbreaker"
	apperrors "eventpipe/pkg/errors"
	"eventpipe/pkg/models"
)

func TestBuildInsert(t *testing.T) {
	ev1 := models.NewEventBuilder().WithService("a").WithMessage("one").Build()
	ev2 := models.NewEventBuilder().WithService("b").WithMessage("two").Build()
	now := time.Now()

	query, args := buildInsert([]eventRow{
		{event: ev1, eventTime: now},
		{event: ev2, eventTime: now, metadata: sql.NullString{String: `{"k":1}`, Valid: true}},
	})

	assert.True(t, strings.HasPrefix(query, "INSERT INTO events (event_id, timestamp, event_time, service, message, metadata_json, ingested_at) VALUES "))
	assert.Contains(t, query, "($1, $2, $3, $4, $5, $6, $7), ($8, $9, $10, $11, $12, $13, $14)")
	assert.True(t, strings.HasSuffix(query, "ON CONFLICT (event_id) DO NOTHING"))
	require.Len(t, args, 14)
	assert.Equal(t, ev1.EventID, args[0])
	assert.Equal(t, "two", args[11])
	assert.Equal(t, sql.NullString{String: `{"k":1}`, Valid: true}, args[12])
}

func TestSortFields(t *testing.T) {
	for _, f := range SortFields() {
		assert.True(t, IsSortField(f), f)
	}
	assert.False(t, IsSortField("event_time; DROP TABLE events"))
	assert.False(t, IsSortField("id"))
}

func TestIsUnavailable(t *testing.T) {
	ctx := context.Background()
	assert.True(t, isUnavailable(ctx, &beginError{err: errors.New("dial tcp: refused")}))
	assert.True(t, isUnavailable(ctx, sql.ErrConnDone))
	assert.True(t, isUnavailable(ctx, context.DeadlineExceeded))
	assert.False(t, isUnavailable(ctx, errors.New(`pq: value too long for type character varying(100)`)))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.True(t, isUnavailable(cancelled, errors.New("anything")))
}

type stubRepo struct {
	insert func(ctx context.Context, events []models.EnrichedEvent) (BatchInsertResult, error)
	calls  int32
}

func (s *stubRepo) BatchInsert(ctx context.Context, events []models.EnrichedEvent) (BatchInsertResult, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.insert(ctx, events)
}

func (s *stubRepo) FindByServiceAndTimeRangeWithCount(ctx context.Context, params QueryParams) (QueryResult, error) {
	atomic.AddInt32(&s.calls, 1)
	return QueryResult{Total: 7}, nil
}

func (s *stubRepo) DeleteOldEvents(ctx context.Context, retentionDays int) (int64, error) {
	atomic.AddInt32(&s.calls, 1)
	return int64(retentionDays), nil
}

func (s *stubRepo) Ping(ctx context.Context) error { return nil }

func newBreaker() *circuitbreaker.Breaker {
	return circuitbreaker.New(circuitbreaker.Config{
		Name:             "storage-test",
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	})
}

func TestProtectedRepository_TimeoutCountsAsFailure(t *testing.T) {
	repo := &stubRepo{insert: func(ctx context.Context, events []models.EnrichedEvent) (BatchInsertResult, error) {
		<-ctx.Done()
		return BatchInsertResult{}, ctx.Err()
	}}
	p := NewProtectedRepository(repo, newBreaker(), 10*time.Millisecond)
	ev := []models.EnrichedEvent{models.NewEventBuilder().Build()}

	_, err := p.BatchInsert(context.Background(), ev)
	require.Error(t, err)
	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.ErrTimeout.Code, appErr.Code)

	_, _ = p.BatchInsert(context.Background(), ev)
	assert.Equal(t, circuitbreaker.StateOpen, p.Breaker().State())

	before := atomic.LoadInt32(&repo.calls)
	_, err = p.BatchInsert(context.Background(), ev)
	assert.True(t, apperrors.IsCircuitOpen(err))
	assert.Equal(t, before, atomic.LoadInt32(&repo.calls))
}

func TestProtectedRepository_PassesPartialResult(t *testing.T) {
	ev := models.NewEventBuilder().Build()
	repo := &stubRepo{insert: func(ctx context.Context, events []models.EnrichedEvent) (BatchInsertResult, error) {
		return BatchInsertResult{Failed: []FailedEvent{{Event: ev, Reason: "down"}}}, ErrBatchFailed
	}}
	p := NewProtectedRepository(repo, newBreaker(), time.Second)

	res, err := p.BatchInsert(context.Background(), []models.EnrichedEvent{ev})
	assert.ErrorIs(t, err, ErrBatchFailed)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "down", res.Failed[0].Reason)
}

func TestProtectedRepository_QueriesGoThroughBreaker(t *testing.T) {
	repo := &stubRepo{}
	p := NewProtectedRepository(repo, newBreaker(), time.Second)

	res, err := p.FindByServiceAndTimeRangeWithCount(context.Background(), QueryParams{Service: "a"})
	require.NoError(t, err)
	assert.EqualValues(t, 7, res.Total)

	n, err := p.DeleteOldEvents(context.Background(), 30)
	require.NoError(t, err)
	assert.EqualValues(t, 30, n)
	assert.EqualValues(t, 2, atomic.LoadInt32(&repo.calls))
}

func TestProtectedRepository_NoAggregates(t *testing.T) {
	p := NewProtectedRepository(&stubRepo{}, newBreaker(), time.Second)
	_, err := p.CountEvents(context.Background())
	assert.Error(t, err)
}
