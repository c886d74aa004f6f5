// Package dlq keeps events that could not be persisted after all retries.
package dlq

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	pkgerrors "eventpipe/pkg/errors"
	"eventpipe/pkg/metrics"
	"eventpipe/pkg/models"
)

const maxServiceLength = 100

type ListOptions struct {
	Service     string
	Reprocessed *bool
	Limit       int
	Offset      int
}

type Statistics struct {
	Total       int64            `json:"total"`
	Reprocessed int64            `json:"reprocessed"`
	Pending     int64            `json:"pending"`
	ByService   map[string]int64 `json:"byService"`
	OldestEvent *time.Time       `json:"oldestEvent"`
}

type Repository interface {
	// Upsert stores entry, or refreshes the existing entry for the same event.
	Upsert(ctx context.Context, entry *models.DeadLetterEvent) error
	List(ctx context.Context, opts ListOptions) ([]models.DeadLetterEvent, int64, error)
	Get(ctx context.Context, id string) (*models.DeadLetterEvent, error)
	Delete(ctx context.Context, id string) error
	// MarkReprocessed flips the flag only if it was unset and reports
	// whether it did.
	MarkReprocessed(ctx context.Context, id string, at time.Time) (bool, error)
	ClearReprocessed(ctx context.Context, id string) error
	Statistics(ctx context.Context) (Statistics, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, event_id, original_event, failure_reason, retry_count, last_attempt_at,
	reprocessed, reprocessed_at, COALESCE(service, ''), COALESCE(original_timestamp, ''), created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(s scanner) (models.DeadLetterEvent, error) {
	var e models.DeadLetterEvent
	var original []byte
	var reprocessedAt sql.NullTime
	err := s.Scan(
		&e.ID, &e.EventID, &original, &e.FailureReason, &e.RetryCount, &e.LastAttemptAt,
		&e.Reprocessed, &reprocessedAt, &e.Service, &e.OriginalTimestamp, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return e, err
	}
	e.OriginalEvent = original
	if reprocessedAt.Valid {
		t := reprocessedAt.Time
		e.ReprocessedAt = &t
	}
	return e, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, entry *models.DeadLetterEvent) error {
	service := entry.Service
	if r := []rune(service); len(r) > maxServiceLength {
		service = string(r[:maxServiceLength])
	}

	query := `
		INSERT INTO dead_letter_queue (event_id, original_event, failure_reason, retry_count, last_attempt_at, service, original_timestamp)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''))
		ON CONFLICT (event_id) DO UPDATE SET
			original_event  = EXCLUDED.original_event,
			failure_reason  = EXCLUDED.failure_reason,
			retry_count     = EXCLUDED.retry_count,
			last_attempt_at = EXCLUDED.last_attempt_at,
			reprocessed     = FALSE,
			reprocessed_at  = NULL,
			updated_at      = NOW()
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		entry.EventID, []byte(entry.OriginalEvent), entry.FailureReason, entry.RetryCount,
		entry.LastAttemptAt, service, entry.OriginalTimestamp,
	).Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		metrics.IncDatabaseQuery("postgres", "dlq_upsert", "error")
		return fmt.Errorf("failed to upsert dead letter event: %w", err)
	}
	metrics.IncDatabaseQuery("postgres", "dlq_upsert", "success")
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, opts ListOptions) ([]models.DeadLetterEvent, int64, error) {
	var conds []string
	var args []interface{}
	if opts.Service != "" {
		args = append(args, opts.Service)
		conds = append(conds, fmt.Sprintf("service = $%d", len(args)))
	}
	if opts.Reprocessed != nil {
		args = append(args, *opts.Reprocessed)
		conds = append(conds, fmt.Sprintf("reprocessed = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var entries []models.DeadLetterEvent
	var total int64
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		query := fmt.Sprintf(`SELECT %s FROM dead_letter_queue %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
			selectColumns, where, len(args)+1, len(args)+2)
		rows, err := r.db.QueryContext(gctx, query, append(append([]interface{}{}, args...), opts.Limit, opts.Offset)...)
		if err != nil {
			return fmt.Errorf("failed to list dead letter events: %w", err)
		}
		defer rows.Close()

		entries = make([]models.DeadLetterEvent, 0, opts.Limit)
		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				return fmt.Errorf("failed to scan dead letter event: %w", err)
			}
			entries = append(entries, e)
		}
		return rows.Err()
	})

	g.Go(func() error {
		query := "SELECT COUNT(*) FROM dead_letter_queue " + where
		if err := r.db.QueryRowContext(gctx, query, args...).Scan(&total); err != nil {
			return fmt.Errorf("failed to count dead letter events: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.DeadLetterEvent, error) {
	query := fmt.Sprintf("SELECT %s FROM dead_letter_queue WHERE id = $1", selectColumns)

	e, err := scanEntry(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter event: %w", err)
	}
	return &e, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM dead_letter_queue WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete dead letter event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

func (r *PostgresRepository) MarkReprocessed(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE dead_letter_queue
		SET reprocessed = TRUE, reprocessed_at = $2, updated_at = NOW()
		WHERE id = $1 AND reprocessed = FALSE`, id, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark dead letter event reprocessed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) ClearReprocessed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE dead_letter_queue
		SET reprocessed = FALSE, reprocessed_at = NULL, updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to clear reprocessed flag: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Statistics(ctx context.Context) (Statistics, error) {
	stats := Statistics{ByService: map[string]int64{}}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var oldest sql.NullTime
		err := r.db.QueryRowContext(gctx, `
			SELECT COUNT(*), COUNT(*) FILTER (WHERE reprocessed), MIN(created_at)
			FROM dead_letter_queue`).Scan(&stats.Total, &stats.Reprocessed, &oldest)
		if err != nil {
			return fmt.Errorf("failed to read dead letter totals: %w", err)
		}
		stats.Pending = stats.Total - stats.Reprocessed
		if oldest.Valid {
			t := oldest.Time
			stats.OldestEvent = &t
		}
		return nil
	})

	byService := map[string]int64{}
	g.Go(func() error {
		rows, err := r.db.QueryContext(gctx, `
			SELECT service, COUNT(*) FROM dead_letter_queue
			WHERE service IS NOT NULL
			GROUP BY service`)
		if err != nil {
			return fmt.Errorf("failed to count dead letter events by service: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var service string
			var count int64
			if err := rows.Scan(&service, &count); err != nil {
				return fmt.Errorf("failed to scan service count: %w", err)
			}
			byService[service] = count
		}
		return rows.Err()
	})

	if err := g.Wait(); err != nil {
		return Statistics{}, err
	}
	stats.ByService = byService
	return stats, nil
}

func notFound(id string) error {
	return pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("dead letter event not found: %s", id))
}

var _ Repository = (*PostgresRepository)(nil)
