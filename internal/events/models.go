// Package events accepts events from producers and serves stored events back.
package events

import (
	"time"

	"github.com/goccy/go-json"

	"eventpipe/internal/storage"
)

// CreateEventRequest is the body of POST /api/v1/events. Length limits come
// from configuration and are checked by the service.
type CreateEventRequest struct {
	Timestamp string          `json:"timestamp" binding:"required"`
	Service   string          `json:"service" binding:"required"`
	Message   string          `json:"message" binding:"required"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

type IngestResponse struct {
	Status   string `json:"status"`
	EventID  string `json:"event_id"`
	QueuedAt string `json:"queued_at"`
}

type QueryRequest struct {
	Service   string `form:"service" binding:"required"`
	From      string `form:"from" binding:"required"`
	To        string `form:"to" binding:"required"`
	Page      int    `form:"page"`
	PageSize  int    `form:"pageSize"`
	SortField string `form:"sortField"`
	SortOrder string `form:"sortOrder"`
}

type EventResponse struct {
	ID         string          `json:"id"`
	EventID    string          `json:"eventId"`
	Timestamp  string          `json:"timestamp"`
	Service    string          `json:"service"`
	Message    string          `json:"message"`
	Metadata   json.RawMessage `json:"metadata"`
	IngestedAt string          `json:"ingestedAt"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type SearchResponse struct {
	Page      int             `json:"page"`
	PageSize  int             `json:"pageSize"`
	SortField string          `json:"sortField"`
	SortOrder string          `json:"sortOrder"`
	Total     int64           `json:"total"`
	Items     []EventResponse `json:"items"`
}

type CleanupResponse struct {
	Deleted       int64 `json:"deleted"`
	RetentionDays int   `json:"retentionDays"`
}

// toResponse fails only when the stored metadata is not valid JSON.
func toResponse(e storage.StoredEvent) (EventResponse, error) {
	resp := EventResponse{
		ID:         e.ID,
		EventID:    e.EventID,
		Timestamp:  e.Timestamp,
		Service:    e.Service,
		Message:    e.Message,
		Metadata:   json.RawMessage("null"),
		IngestedAt: e.IngestedAt,
		CreatedAt:  e.CreatedAt,
	}
	if e.Metadata != nil && *e.Metadata != "" {
		raw := json.RawMessage(*e.Metadata)
		if !json.Valid(raw) {
			return resp, errCorruptMetadata
		}
		resp.Metadata = raw
	}
	return resp, nil
}
