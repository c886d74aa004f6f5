//go:build integration

package dlq_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventpipe/internal/dlq"
	"eventpipe/internal/testinfra"
	apperrors "eventpipe/pkg/errors"
	"eventpipe/pkg/models"
)

func entry(eventID, service string) *models.DeadLetterEvent {
	return &models.DeadLetterEvent{
		EventID:           eventID,
		OriginalEvent:     []byte(`{"eventId":"` + eventID + `","service":"` + service + `"}`),
		FailureReason:     "storage unavailable",
		RetryCount:        3,
		LastAttemptAt:     time.Now().UTC(),
		Service:           service,
		OriginalTimestamp: "2024-03-01T10:00:00.000Z",
	}
}

func TestPostgresRepository(t *testing.T) {
	db := testinfra.Postgres(t)
	repo := dlq.NewRepository(db)
	ctx := context.Background()

	first := entry("evt_00000000000a", "billing")
	require.NoError(t, repo.Upsert(ctx, first))
	require.NotEmpty(t, first.ID)
	require.NoError(t, repo.Upsert(ctx, entry("evt_00000000000b", "billing")))
	require.NoError(t, repo.Upsert(ctx, entry("evt_00000000000c", "auth")))

	t.Run("upsert keeps one row per event", func(t *testing.T) {
		again := entry("evt_00000000000a", "billing")
		again.FailureReason = "still unavailable"
		again.RetryCount = 4
		require.NoError(t, repo.Upsert(ctx, again))
		assert.Equal(t, first.ID, again.ID)

		got, err := repo.Get(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, "still unavailable", got.FailureReason)
		assert.Equal(t, 4, got.RetryCount)
	})

	t.Run("list filters by service", func(t *testing.T) {
		events, total, err := repo.List(ctx, dlq.ListOptions{Service: "billing", Limit: 10})
		require.NoError(t, err)
		assert.EqualValues(t, 2, total)
		assert.Len(t, events, 2)

		events, total, err = repo.List(ctx, dlq.ListOptions{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.EqualValues(t, 3, total)
		assert.Len(t, events, 1)
	})

	t.Run("reprocess claim is exclusive", func(t *testing.T) {
		ok, err := repo.MarkReprocessed(ctx, first.ID, time.Now())
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.MarkReprocessed(ctx, first.ID, time.Now())
		require.NoError(t, err)
		assert.False(t, ok)

		reprocessed := true
		events, total, err := repo.List(ctx, dlq.ListOptions{Reprocessed: &reprocessed, Limit: 10})
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
		require.Len(t, events, 1)
		assert.NotNil(t, events[0].ReprocessedAt)

		require.NoError(t, repo.ClearReprocessed(ctx, first.ID))
		got, err := repo.Get(ctx, first.ID)
		require.NoError(t, err)
		assert.False(t, got.Reprocessed)
	})

	t.Run("statistics", func(t *testing.T) {
		_, err := repo.MarkReprocessed(ctx, first.ID, time.Now())
		require.NoError(t, err)

		stats, err := repo.Statistics(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 3, stats.Total)
		assert.EqualValues(t, 1, stats.Reprocessed)
		assert.EqualValues(t, 2, stats.Pending)
		assert.EqualValues(t, 2, stats.ByService["billing"])
		assert.EqualValues(t, 1, stats.ByService["auth"])
		assert.NotNil(t, stats.OldestEvent)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, first.ID))
		_, err := repo.Get(ctx, first.ID)
		assert.True(t, apperrors.IsNotFound(err))
		assert.True(t, apperrors.IsNotFound(repo.Delete(ctx, first.ID)))
	})
}
