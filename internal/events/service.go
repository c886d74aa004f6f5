package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"eventpipe/internal/config"
	"eventpipe/internal/constants"
	"eventpipe/internal/logger"
	"eventpipe/internal/storage"
	apperrors "eventpipe/pkg/errors"
	"eventpipe/pkg/logging"
	"eventpipe/pkg/models"
)

const (
	defaultSortField = "timestamp"
	maxPage          = 10000
)

type Enqueuer interface {
	Enqueue(ev models.EnrichedEvent) bool
}

// Store is the part of the storage gateway the API reads from.
type Store interface {
	FindByServiceAndTimeRangeWithCount(ctx context.Context, params storage.QueryParams) (storage.QueryResult, error)
	DeleteOldEvents(ctx context.Context, retentionDays int) (int64, error)
}

type Service struct {
	queue      Enqueuer
	store      Store
	server     config.ServerConfig
	validation config.ValidationConfig
	query      config.QueryConfig
	logger     logger.Logger
	now        func() time.Time
}

func NewService(queue Enqueuer, store Store, cfg *config.Config, log logger.Logger) *Service {
	return &Service{
		queue:      queue,
		store:      store,
		server:     cfg.Server,
		validation: cfg.Validation,
		query:      cfg.Query,
		logger:     log,
		now:        time.Now,
	}
}

// Ingest enriches the request and enqueues it. It never waits for storage.
// A full buffer is reported as ErrBufferSaturated carrying retry_after.
func (s *Service) Ingest(ctx context.Context, req CreateEventRequest) (IngestResponse, error) {
	ev, err := s.enrich(ctx, req)
	if err != nil {
		return IngestResponse{}, err
	}
	ctx = logging.WithEventID(ctx, ev.EventID)

	if !s.queue.Enqueue(ev) {
		s.logger.WarnwCtx(ctx, "Buffer saturated, rejecting event", "service", ev.Service)
		return IngestResponse{}, apperrors.ErrBufferSaturated.WithDetail("retry_after", s.server.RetryAfterSeconds)
	}

	return IngestResponse{
		Status:   "accepted",
		EventID:  ev.EventID,
		QueuedAt: ev.IngestedAt,
	}, nil
}

func (s *Service) enrich(ctx context.Context, req CreateEventRequest) (models.EnrichedEvent, error) {
	service := StripTags(req.Service)
	message := StripTags(req.Message)

	if service == "" {
		return models.EnrichedEvent{}, invalid("service", "service must not be empty")
	}
	if message == "" {
		return models.EnrichedEvent{}, invalid("message", "message must not be empty")
	}
	if limit := s.validation.ServiceNameMaxLength; limit > 0 && utf8.RuneCountInString(service) > limit {
		return models.EnrichedEvent{}, invalid("service", fmt.Sprintf("service name must be at most %d characters", limit))
	}
	if limit := s.validation.MessageMaxLength; limit > 0 && utf8.RuneCountInString(message) > limit {
		return models.EnrichedEvent{}, invalid("message", fmt.Sprintf("message must be at most %d characters", limit))
	}
	if limit := s.validation.MetadataMaxSizeKB; limit > 0 && len(req.Metadata) > limit*1024 {
		return models.EnrichedEvent{}, invalid("metadata", fmt.Sprintf("metadata size must not exceed %dKB", limit))
	}

	metadata, err := sanitizeMetadata(req.Metadata, metadataLimits{
		maxDepth: constants.MetadataMaxDepth,
		maxKeys:  constants.MetadataMaxKeys,
	})
	if err != nil {
		return models.EnrichedEvent{}, invalid("metadata", err.Error())
	}

	now := s.now()
	return models.NewEventBuilder().
		WithService(service).
		WithMessage(message).
		WithTimestamp(s.normalizeTimestamp(ctx, req.Timestamp, now)).
		WithMetadata(metadata).
		WithIngestedAt(now).
		Build(), nil
}

// normalizeTimestamp keeps the producer's value verbatim unless it cannot be
// parsed or falls outside the supported years, in which case now is used.
func (s *Service) normalizeTimestamp(ctx context.Context, value string, now time.Time) string {
	t, err := models.ParseTimestamp(value)
	if err == nil && t.Year() >= constants.MinTimestampYear && t.Year() <= constants.MaxTimestampYear {
		return value
	}
	s.logger.WarnwCtx(ctx, "Timestamp out of range, using current time", "timestamp", value)
	return models.FormatTimestamp(now)
}

func (s *Service) Search(ctx context.Context, req QueryRequest) (SearchResponse, error) {
	params, page, err := s.queryParams(req)
	if err != nil {
		return SearchResponse{}, err
	}
	ctx = logging.WithServiceName(ctx, params.Service)

	result, err := s.store.FindByServiceAndTimeRangeWithCount(ctx, params)
	if err != nil {
		s.logger.ErrorwCtx(ctx, "Error querying events",
			"error", err,
			"from", req.From,
			"to", req.To,
			"page", page,
		)
		return SearchResponse{}, err
	}

	items := make([]EventResponse, 0, len(result.Events))
	filtered := 0
	for _, e := range result.Events {
		item, err := toResponse(e)
		if err != nil {
			filtered++
			s.logger.WarnwCtx(ctx, "Skipping corrupt stored event", "id", e.ID, "error", err)
			continue
		}
		items = append(items, item)
	}

	return SearchResponse{
		Page:      page,
		PageSize:  params.Limit,
		SortField: params.SortBy,
		SortOrder: string(params.SortOrder),
		Total:     max(result.Total-int64(filtered), 0),
		Items:     items,
	}, nil
}

func (s *Service) queryParams(req QueryRequest) (storage.QueryParams, int, error) {
	service := strings.TrimSpace(req.Service)
	if service == "" {
		return storage.QueryParams{}, 0, invalid("service", "service is required")
	}
	if limit := s.validation.ServiceNameMaxLength; limit > 0 && utf8.RuneCountInString(service) > limit {
		return storage.QueryParams{}, 0, invalid("service", fmt.Sprintf("service name must be at most %d characters", limit))
	}

	from, err := models.ParseTimestamp(req.From)
	if err != nil {
		return storage.QueryParams{}, 0, invalid("from", "from must be a parseable timestamp")
	}
	to, err := models.ParseTimestamp(req.To)
	if err != nil {
		return storage.QueryParams{}, 0, invalid("to", "to must be a parseable timestamp")
	}
	if !from.Before(to) {
		return storage.QueryParams{}, 0, invalid("to", "'from' timestamp must be before 'to' timestamp")
	}
	if days := s.query.MaxRangeDays; days > 0 && to.Sub(from) > time.Duration(days)*24*time.Hour {
		return storage.QueryParams{}, 0, invalid("to", fmt.Sprintf("time range between 'from' and 'to' must not exceed %d days", days))
	}

	page := req.Page
	if page == 0 {
		page = 1
	}
	if page < 1 || page > maxPage {
		return storage.QueryParams{}, 0, invalid("page", fmt.Sprintf("page must be between 1 and %d", maxPage))
	}

	limit := req.PageSize
	if limit == 0 {
		limit = s.query.DefaultLimit
	}
	if limit < 1 {
		return storage.QueryParams{}, 0, invalid("pageSize", "pageSize must not be less than 1")
	}
	if s.query.MaxLimit > 0 {
		limit = min(limit, s.query.MaxLimit)
	}

	sortField := req.SortField
	if sortField == "" {
		sortField = defaultSortField
	}
	if !storage.IsSortField(sortField) {
		return storage.QueryParams{}, 0, invalid("sortField",
			"sortField must be one of: "+strings.Join(storage.SortFields(), ", "))
	}

	order := storage.SortDesc
	switch strings.ToUpper(req.SortOrder) {
	case "", string(storage.SortDesc):
	case string(storage.SortAsc):
		order = storage.SortAsc
	default:
		return storage.QueryParams{}, 0, invalid("sortOrder", "sortOrder must be either ASC or DESC (case insensitive)")
	}

	offset := min((page-1)*limit, constants.MaxQueryOffset*limit)

	return storage.QueryParams{
		Service:   service,
		From:      from,
		To:        to,
		Limit:     limit,
		Offset:    offset,
		SortBy:    sortField,
		SortOrder: order,
	}, page, nil
}

// Cleanup deletes events older than retentionDays.
func (s *Service) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 1 {
		return 0, invalid("retentionDays", "retention days must be at least 1")
	}
	return s.store.DeleteOldEvents(ctx, retentionDays)
}

func invalid(field, message string) error {
	return apperrors.ErrValidation.WithMessage(message).WithDetail("field", field)
}

// retryAfter returns the Retry-After header value carried by err, if any.
func retryAfter(err error) string {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		return ""
	}
	if v, ok := appErr.Details["retry_after"].(int); ok && v > 0 {
		return strconv.Itoa(v)
	}
	return ""
}
