//go:build integration

package storage_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventpipe/internal/config"
	"eventpipe/internal/logger"
	"eventpipe/internal/storage"
	"eventpipe/internal/testinfra"
	"eventpipe/pkg/models"
)

func newRepo(t *testing.T) *storage.PostgresRepository {
	db := testinfra.Postgres(t)
	return storage.NewPostgresRepository(db, config.StorageConfig{ChunkSize: 3, MaxIndividualAttempts: 10}, logger.NopLogger())
}

func eventAt(service, message string, ts time.Time) models.EnrichedEvent {
	return models.NewEventBuilder().
		WithService(service).
		WithMessage(message).
		WithTimestamp(models.FormatTimestamp(ts)).
		Build()
}

func TestPostgresRepository_BatchInsertAndQuery(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	var events []models.EnrichedEvent
	for i := 0; i < 7; i++ {
		events = append(events, eventAt("checkout", "msg", base.Add(time.Duration(i)*time.Minute)))
	}
	events[2].Metadata = json.RawMessage(`{"user":"u1"}`)
	events = append(events, eventAt("billing", "other", base))

	res, err := repo.BatchInsert(ctx, events)
	require.NoError(t, err)
	assert.Len(t, res.Successful, 8)
	assert.Empty(t, res.Failed)

	out, err := repo.FindByServiceAndTimeRangeWithCount(ctx, storage.QueryParams{
		Service:   "checkout",
		From:      base.Add(-time.Minute),
		To:        base.Add(time.Hour),
		Limit:     5,
		SortBy:    "timestamp",
		SortOrder: storage.SortAsc,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 7, out.Total)
	require.Len(t, out.Events, 5)
	assert.Equal(t, events[0].EventID, out.Events[0].EventID)
	assert.Equal(t, events[0].Timestamp, out.Events[0].Timestamp)
	require.NotNil(t, out.Events[2].Metadata)
	assert.JSONEq(t, `{"user":"u1"}`, *out.Events[2].Metadata)
}

func TestPostgresRepository_DuplicateEventIDIsIgnored(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	ev := eventAt("checkout", "once", time.Now().UTC())

	_, err := repo.BatchInsert(ctx, []models.EnrichedEvent{ev})
	require.NoError(t, err)
	res, err := repo.BatchInsert(ctx, []models.EnrichedEvent{ev})
	require.NoError(t, err)
	assert.Len(t, res.Successful, 1)

	n, err := repo.CountEvents(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestPostgresRepository_ChunkFailureFallsBackToIndividualInserts(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	good1 := eventAt("checkout", "ok", now)
	bad := eventAt(strings.Repeat("s", 150), "service too long for column", now)
	good2 := eventAt("checkout", "ok", now)

	res, err := repo.BatchInsert(ctx, []models.EnrichedEvent{good1, bad, good2})
	require.NoError(t, err)
	assert.Len(t, res.Successful, 2)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, bad.EventID, res.Failed[0].Event.EventID)
}

func TestPostgresRepository_AllFailedReturnsErrBatchFailed(t *testing.T) {
	repo := newRepo(t)
	ev := eventAt("checkout", "x", time.Now().UTC())
	ev.Service = strings.Repeat("s", 150)

	res, err := repo.BatchInsert(context.Background(), []models.EnrichedEvent{ev})
	assert.ErrorIs(t, err, storage.ErrBatchFailed)
	assert.Len(t, res.Failed, 1)
}

func TestPostgresRepository_DeleteOldEvents(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := eventAt("checkout", "old", now.AddDate(0, 0, -40))
	fresh := eventAt("checkout", "fresh", now)
	_, err := repo.BatchInsert(ctx, []models.EnrichedEvent{old, fresh})
	require.NoError(t, err)

	deleted, err := repo.DeleteOldEvents(ctx, 30)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	_, err = repo.DeleteOldEvents(ctx, 0)
	assert.Error(t, err)
}

func TestPostgresRepository_Aggregates(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := repo.BatchInsert(ctx, []models.EnrichedEvent{
		eventAt("a", "1", now), eventAt("a", "2", now), eventAt("b", "3", now),
	})
	require.NoError(t, err)

	byService, err := repo.CountByService(ctx)
	require.NoError(t, err)
	require.Len(t, byService, 2)
	assert.Equal(t, storage.ServiceCount{Service: "a", Count: 2}, byService[0])

	recent, err := repo.CountSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 3, recent)

	hourly, err := repo.CountByHour(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.NotEmpty(t, hourly)
}
