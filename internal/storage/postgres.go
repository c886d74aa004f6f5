package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"eventpipe/internal/config"
	"eventpipe/internal/logger"
	"eventpipe/pkg/metrics"
	"eventpipe/pkg/models"
)

const (
	insertColumns = 7
	// PostgreSQL caps bind parameters per statement at 65535.
	maxChunkSize = 65535 / insertColumns
)

// ErrBatchFailed is returned when no event of a batch could be stored.
var ErrBatchFailed = errors.New("no events in batch could be stored")

type PostgresRepository struct {
	db                    *sql.DB
	chunkSize             int
	maxIndividualAttempts int
	logger                logger.Logger
	now                   func() time.Time
}

func NewPostgresRepository(db *sql.DB, cfg config.StorageConfig, log logger.Logger) *PostgresRepository {
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 500
	}
	if chunkSize > maxChunkSize {
		chunkSize = maxChunkSize
	}
	return &PostgresRepository{
		db:                    db,
		chunkSize:             chunkSize,
		maxIndividualAttempts: cfg.MaxIndividualAttempts,
		logger:                log,
		now:                   time.Now,
	}
}

type eventRow struct {
	event     models.EnrichedEvent
	eventTime time.Time
	metadata  sql.NullString
}

// BatchInsert writes events chunk by chunk, one transaction per chunk.
// When a chunk fails it is rolled back and its events are retried one at a
// time so only the offending events are reported as failed. The returned
// error is non-nil only when the database is unreachable or nothing at all
// could be stored; the result is still populated in that case.
func (r *PostgresRepository) BatchInsert(ctx context.Context, events []models.EnrichedEvent) (BatchInsertResult, error) {
	var result BatchInsertResult
	if len(events) == 0 {
		return result, nil
	}

	start := r.now()
	defer func() {
		metrics.ObserveDatabaseQueryDuration("postgres", "batch_insert", r.now().Sub(start))
	}()

	rows := make([]eventRow, 0, len(events))
	for _, ev := range events {
		t, err := models.ParseTimestamp(ev.Timestamp)
		if err != nil {
			result.Failed = append(result.Failed, FailedEvent{Event: ev, Reason: err.Error()})
			continue
		}
		row := eventRow{event: ev, eventTime: t}
		if len(ev.Metadata) > 0 {
			row.metadata = sql.NullString{String: string(ev.Metadata), Valid: true}
		}
		rows = append(rows, row)
	}

	individualAttempts := 0
	for i := 0; i < len(rows); i += r.chunkSize {
		chunk := rows[i:min(i+r.chunkSize, len(rows))]

		err := r.insertChunk(ctx, chunk)
		if err == nil {
			for _, row := range chunk {
				result.Successful = append(result.Successful, row.event)
			}
			continue
		}

		if isUnavailable(ctx, err) {
			metrics.IncDatabaseQuery("postgres", "batch_insert", "error")
			for _, row := range rows[i:] {
				result.Failed = append(result.Failed, FailedEvent{Event: row.event, Reason: err.Error()})
			}
			return result, err
		}

		r.logger.Warnw("Chunk insert failed, falling back to individual inserts",
			"chunk_number", i/r.chunkSize+1,
			"chunk_size", len(chunk),
			"total_chunks", (len(rows)+r.chunkSize-1)/r.chunkSize,
			"error", err,
		)

		for _, row := range chunk {
			if individualAttempts >= r.maxIndividualAttempts {
				result.Failed = append(result.Failed, FailedEvent{
					Event:  row.event,
					Reason: fmt.Sprintf("chunk insert failed and individual fallback limit (%d) reached: %v", r.maxIndividualAttempts, err),
				})
				continue
			}
			individualAttempts++

			if ierr := r.insertOne(ctx, row); ierr != nil {
				result.Failed = append(result.Failed, FailedEvent{Event: row.event, Reason: ierr.Error()})
				continue
			}
			result.Successful = append(result.Successful, row.event)
		}
	}

	status := "success"
	if len(result.Failed) > 0 {
		status = "partial"
	}
	if len(result.Successful) == 0 {
		metrics.IncDatabaseQuery("postgres", "batch_insert", "error")
		return result, fmt.Errorf("%w: %s", ErrBatchFailed, result.Failed[0].Reason)
	}
	metrics.IncDatabaseQuery("postgres", "batch_insert", status)

	return result, nil
}

// isUnavailable separates connection-level failures, which say nothing
// about the data, from statement errors.
func isUnavailable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var begin *beginError
	return errors.Is(err, sql.ErrConnDone) || errors.As(err, &begin)
}

type beginError struct {
	err error
}

func (e *beginError) Error() string {
	return fmt.Sprintf("failed to begin transaction: %v", e.err)
}

func (e *beginError) Unwrap() error {
	return e.err
}

func (r *PostgresRepository) insertChunk(ctx context.Context, chunk []eventRow) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &beginError{err: err}
	}

	query, args := buildInsert(chunk)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to insert chunk: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunk: %w", err)
	}
	return nil
}

func (r *PostgresRepository) insertOne(ctx context.Context, row eventRow) error {
	query, args := buildInsert([]eventRow{row})
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert event %s: %w", row.event.EventID, err)
	}
	return nil
}

// buildInsert renders a multi-row insert. Conflicting event ids are skipped
// so a replayed event is not stored twice.
func buildInsert(rows []eventRow) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO events (event_id, timestamp, event_time, service, message, metadata_json, ingested_at) VALUES ")

	args := make([]interface{}, 0, len(rows)*insertColumns)
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * insertColumns
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args,
			row.event.EventID,
			row.event.Timestamp,
			row.eventTime,
			row.event.Service,
			row.event.Message,
			row.metadata,
			row.event.IngestedAt,
		)
	}
	sb.WriteString(" ON CONFLICT (event_id) DO NOTHING")
	return sb.String(), args
}

func (r *PostgresRepository) FindByServiceAndTimeRangeWithCount(ctx context.Context, params QueryParams) (QueryResult, error) {
	column, ok := sortColumns[params.SortBy]
	if !ok {
		column = sortColumns["timestamp"]
	}
	order := SortDesc
	if params.SortOrder == SortAsc {
		order = SortAsc
	}

	start := r.now()
	defer func() {
		metrics.ObserveDatabaseQueryDuration("postgres", "find_events", r.now().Sub(start))
	}()

	where := "WHERE service = $1 AND event_time >= $2 AND event_time <= $3"
	whereArgs := []interface{}{params.Service, params.From, params.To}

	var result QueryResult
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		query := fmt.Sprintf(
			`SELECT id, event_id, timestamp, service, message, metadata_json, ingested_at, created_at
			FROM events %s ORDER BY %s %s, id LIMIT $4 OFFSET $5`,
			where, column, order,
		)
		args := append(append([]interface{}{}, whereArgs...), params.Limit, params.Offset)

		rows, err := r.db.QueryContext(gctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to query events: %w", err)
		}
		defer rows.Close()

		events := make([]StoredEvent, 0, params.Limit)
		for rows.Next() {
			var ev StoredEvent
			var metadata sql.NullString
			if err := rows.Scan(&ev.ID, &ev.EventID, &ev.Timestamp, &ev.Service, &ev.Message, &metadata, &ev.IngestedAt, &ev.CreatedAt); err != nil {
				return fmt.Errorf("failed to scan event: %w", err)
			}
			if metadata.Valid {
				m := metadata.String
				ev.Metadata = &m
			}
			events = append(events, ev)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate events: %w", err)
		}
		result.Events = events
		return nil
	})

	g.Go(func() error {
		query := "SELECT COUNT(*) FROM events " + where
		if err := r.db.QueryRowContext(gctx, query, whereArgs...).Scan(&result.Total); err != nil {
			return fmt.Errorf("failed to count events: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		metrics.IncDatabaseQuery("postgres", "find_events", "error")
		return QueryResult{}, err
	}
	metrics.IncDatabaseQuery("postgres", "find_events", "success")
	return result, nil
}

func (r *PostgresRepository) DeleteOldEvents(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 1 {
		return 0, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}
	cutoff := r.now().UTC().AddDate(0, 0, -retentionDays)

	res, err := r.db.ExecContext(ctx, "DELETE FROM events WHERE event_time < $1", cutoff)
	if err != nil {
		metrics.IncDatabaseQuery("postgres", "delete_old_events", "error")
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	metrics.IncDatabaseQuery("postgres", "delete_old_events", "success")

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *PostgresRepository) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) CountByService(ctx context.Context) ([]ServiceCount, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT service, COUNT(*) AS count FROM events GROUP BY service ORDER BY count DESC, service")
	if err != nil {
		return nil, fmt.Errorf("failed to count events by service: %w", err)
	}
	defer rows.Close()

	var out []ServiceCount
	for rows.Next() {
		var sc ServiceCount
		if err := rows.Scan(&sc.Service, &sc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan service count: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events WHERE created_at >= $1", since).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count recent events: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) CountByHour(ctx context.Context, since time.Time) ([]HourlyCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT date_trunc('hour', created_at) AS hour, COUNT(*)
		FROM events
		WHERE created_at >= $1
		GROUP BY hour
		ORDER BY hour`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count events by hour: %w", err)
	}
	defer rows.Close()

	var out []HourlyCount
	for rows.Next() {
		var hc HourlyCount
		if err := rows.Scan(&hc.Hour, &hc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan hourly count: %w", err)
		}
		out = append(out, hc)
	}
	return out, rows.Err()
}
