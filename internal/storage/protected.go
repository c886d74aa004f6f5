package storage

import (
	"context"
	"errors"
	"time"

	"eventpipe/pkg/circuitbreaker"
	apperrors "eventpipe/pkg/errors"
	"eventpipe/pkg/models"
)

// ProtectedRepository guards every call to the underlying store with the
// circuit breaker and a per-call deadline. A deadline hit counts as a failure.
type ProtectedRepository struct {
	repo    Repository
	agg     AggregateReader
	breaker *circuitbreaker.Breaker
	timeout time.Duration
}

func NewProtectedRepository(repo Repository, breaker *circuitbreaker.Breaker, timeout time.Duration) *ProtectedRepository {
	p := &ProtectedRepository{
		repo:    repo,
		breaker: breaker,
		timeout: timeout,
	}
	if agg, ok := repo.(AggregateReader); ok {
		p.agg = agg
	}
	return p
}

func (p *ProtectedRepository) Breaker() *circuitbreaker.Breaker {
	return p.breaker
}

func call[T any](ctx context.Context, p *ProtectedRepository, fn func(ctx context.Context) (T, error)) (T, error) {
	return circuitbreaker.Execute(ctx, p.breaker, func(ctx context.Context) (T, error) {
		if p.timeout <= 0 {
			return fn(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		result, err := fn(ctx)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return result, apperrors.ErrTimeout.
				WithCause(err).
				WithDetail("timeout", p.timeout.String())
		}
		return result, err
	})
}

func (p *ProtectedRepository) BatchInsert(ctx context.Context, events []models.EnrichedEvent) (BatchInsertResult, error) {
	return call(ctx, p, func(ctx context.Context) (BatchInsertResult, error) {
		return p.repo.BatchInsert(ctx, events)
	})
}

func (p *ProtectedRepository) FindByServiceAndTimeRangeWithCount(ctx context.Context, params QueryParams) (QueryResult, error) {
	return call(ctx, p, func(ctx context.Context) (QueryResult, error) {
		return p.repo.FindByServiceAndTimeRangeWithCount(ctx, params)
	})
}

func (p *ProtectedRepository) DeleteOldEvents(ctx context.Context, retentionDays int) (int64, error) {
	return call(ctx, p, func(ctx context.Context) (int64, error) {
		return p.repo.DeleteOldEvents(ctx, retentionDays)
	})
}

// Ping bypasses the breaker so health checks see the real backend state.
func (p *ProtectedRepository) Ping(ctx context.Context) error {
	return p.repo.Ping(ctx)
}

var errNoAggregates = apperrors.ErrServiceUnavailable.WithMessage("store does not support aggregate queries")

func (p *ProtectedRepository) CountEvents(ctx context.Context) (int64, error) {
	if p.agg == nil {
		return 0, errNoAggregates
	}
	return call(ctx, p, p.agg.CountEvents)
}

func (p *ProtectedRepository) CountByService(ctx context.Context) ([]ServiceCount, error) {
	if p.agg == nil {
		return nil, errNoAggregates
	}
	return call(ctx, p, p.agg.CountByService)
}

func (p *ProtectedRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	if p.agg == nil {
		return 0, errNoAggregates
	}
	return call(ctx, p, func(ctx context.Context) (int64, error) {
		return p.agg.CountSince(ctx, since)
	})
}

func (p *ProtectedRepository) CountByHour(ctx context.Context, since time.Time) ([]HourlyCount, error) {
	if p.agg == nil {
		return nil, errNoAggregates
	}
	return call(ctx, p, func(ctx context.Context) ([]HourlyCount, error) {
		return p.agg.CountByHour(ctx, since)
	})
}

var (
	_ Repository      = (*PostgresRepository)(nil)
	_ AggregateReader = (*PostgresRepository)(nil)
	_ Repository      = (*ProtectedRepository)(nil)
	_ AggregateReader = (*ProtectedRepository)(nil)
)
