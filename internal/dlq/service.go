package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"eventpipe/internal/config"
	"eventpipe/internal/logger"
	pkgerrors "eventpipe/pkg/errors"
	"eventpipe/pkg/logging"
	"eventpipe/pkg/metrics"
	"eventpipe/pkg/models"
	"eventpipe/pkg/tracing"
)

const maxListLimit = 1000

type Enqueuer interface {
	Enqueue(ev models.EnrichedEvent) bool
}

type ListResult struct {
	Events []models.DeadLetterEvent `json:"events"`
	Total  int64                    `json:"total"`
}

type Service struct {
	repo     Repository
	queue    Enqueuer
	notifier Notifier
	cfg      config.DLQConfig
	logger   logger.Logger
	now      func() time.Time
}

// NewService wires the dead-letter store. notifier may be nil.
func NewService(repo Repository, queue Enqueuer, notifier Notifier, cfg config.DLQConfig, log logger.Logger) *Service {
	return &Service{
		repo:     repo,
		queue:    queue,
		notifier: notifier,
		cfg:      cfg,
		logger:   log,
		now:      time.Now,
	}
}

// AddToDLQ records an event that exhausted its retries. Adding the same
// event twice updates the existing entry.
func (s *Service) AddToDLQ(ctx context.Context, ev models.EnrichedEvent, reason string, retryCount int) error {
	ctx = logging.WithEventID(ctx, ev.EventID)
	ctx, span := tracing.GetTracer("dlq").Start(ctx, "dlq.add")
	defer span.End()

	original, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode dead letter event: %w", err)
	}

	entry := models.DeadLetterEvent{
		EventID:           ev.EventID,
		OriginalEvent:     original,
		FailureReason:     reason,
		RetryCount:        retryCount,
		LastAttemptAt:     s.now().UTC(),
		Service:           ev.Service,
		OriginalTimestamp: ev.Timestamp,
	}

	if err := s.repo.Upsert(ctx, &entry); err != nil {
		metrics.IncDLQMessage("error")
		span.RecordError(err)
		return err
	}
	metrics.IncDLQMessage("added")

	s.logger.WarnwCtx(ctx, "Event added to dead-letter queue",
		"service", ev.Service,
		"retry_count", retryCount,
		"reason", reason,
	)

	if s.notifier != nil {
		if err := s.notifier.NotifyDeadLetter(ctx, entry); err != nil {
			s.logger.WarnwCtx(ctx, "Failed to publish dead-letter notification", "error", err)
		}
	}

	return nil
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("invalid dead letter id: %q", id))
	}
	return nil
}

func (s *Service) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = s.cfg.DefaultLimit
	}
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	opts.Limit = min(opts.Limit, maxListLimit)
	opts.Offset = max(opts.Offset, 0)

	events, total, err := s.repo.List(ctx, opts)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Events: events, Total: total}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.DeadLetterEvent, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.InfowCtx(ctx, "Dead letter event deleted", "id", id)
	return nil
}

// ReprocessEvent puts the original event back into the buffer with a fresh
// retry budget. It returns false when the entry was already reprocessed or
// the buffer is full.
func (s *Service) ReprocessEvent(ctx context.Context, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}

	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	ctx = logging.WithEventID(ctx, entry.EventID)

	if entry.Reprocessed {
		s.logger.WarnwCtx(ctx, "Dead letter event already reprocessed", "id", id)
		metrics.IncDLQReprocessed("already_reprocessed")
		return false, nil
	}

	ev, err := entry.Event()
	if err != nil {
		return false, pkgerrors.ErrInternal.WithCause(err).WithDetail("message", "stored event cannot be decoded")
	}
	ev.RetryCount = 0

	claimed, err := s.repo.MarkReprocessed(ctx, id, s.now().UTC())
	if err != nil {
		return false, err
	}
	if !claimed {
		metrics.IncDLQReprocessed("already_reprocessed")
		return false, nil
	}

	if !s.queue.Enqueue(ev) {
		if err := s.repo.ClearReprocessed(ctx, id); err != nil {
			s.logger.ErrorwCtx(ctx, "Failed to release reprocess claim", "id", id, "error", err)
		}
		metrics.IncDLQReprocessed("buffer_full")
		s.logger.WarnwCtx(ctx, "Failed to re-enqueue dead letter event: buffer full", "id", id)
		return false, nil
	}

	metrics.IncDLQReprocessed("success")
	s.logger.InfowCtx(ctx, "Dead letter event re-enqueued", "id", id)
	return true, nil
}

func (s *Service) Statistics(ctx context.Context) (Statistics, error) {
	return s.repo.Statistics(ctx)
}
