// Package storage persists events to PostgreSQL.
package storage

import (
	"context"
	"time"

	"eventpipe/pkg/models"
)

type FailedEvent struct {
	Event  models.EnrichedEvent
	Reason string
}

// BatchInsertResult splits a batch into persisted and rejected events.
// Every input event appears in exactly one of the two lists.
type BatchInsertResult struct {
	Successful []models.EnrichedEvent
	Failed     []FailedEvent
}

type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

// sortColumns maps API sort fields to columns. Anything else is rejected.
var sortColumns = map[string]string{
	"timestamp":  "event_time",
	"service":    "service",
	"message":    "message",
	"ingestedAt": "ingested_at",
	"createdAt":  "created_at",
}

func IsSortField(field string) bool {
	_, ok := sortColumns[field]
	return ok
}

func SortFields() []string {
	return []string{"timestamp", "service", "message", "ingestedAt", "createdAt"}
}

type QueryParams struct {
	Service   string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
	SortBy    string
	SortOrder SortOrder
}

type StoredEvent struct {
	ID         string    `json:"id"`
	EventID    string    `json:"eventId"`
	Timestamp  string    `json:"timestamp"`
	Service    string    `json:"service"`
	Message    string    `json:"message"`
	Metadata   *string   `json:"metadata,omitempty"`
	IngestedAt string    `json:"ingestedAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

type QueryResult struct {
	Events []StoredEvent
	Total  int64
}

type ServiceCount struct {
	Service string `json:"service"`
	Count   int64  `json:"count"`
}

type HourlyCount struct {
	Hour  time.Time `json:"hour"`
	Count int64     `json:"count"`
}

// Repository is the durable event store used by the pipeline.
type Repository interface {
	BatchInsert(ctx context.Context, events []models.EnrichedEvent) (BatchInsertResult, error)
	FindByServiceAndTimeRangeWithCount(ctx context.Context, params QueryParams) (QueryResult, error)
	DeleteOldEvents(ctx context.Context, retentionDays int) (int64, error)
	Ping(ctx context.Context) error
}

// AggregateReader serves read-only reporting queries.
type AggregateReader interface {
	CountEvents(ctx context.Context) (int64, error)
	CountByService(ctx context.Context) ([]ServiceCount, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
	CountByHour(ctx context.Context, since time.Time) ([]HourlyCount, error)
}
