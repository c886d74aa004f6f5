package models

import (
	"time"

	"github.com/goccy/go-json"
)

type DeadLetterEvent struct {
	ID                string          `json:"id"`
	EventID           string          `json:"eventId"`
	OriginalEvent     json.RawMessage `json:"originalEvent"`
	FailureReason     string          `json:"failureReason"`
	RetryCount        int             `json:"retryCount"`
	LastAttemptAt     time.Time       `json:"lastAttemptAt"`
	Reprocessed       bool            `json:"reprocessed"`
	ReprocessedAt     *time.Time      `json:"reprocessedAt,omitempty"`
	Service           string          `json:"service"`
	OriginalTimestamp string          `json:"originalTimestamp"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// Event decodes the stored original event.
func (d *DeadLetterEvent) Event() (EnrichedEvent, error) {
	var ev EnrichedEvent
	err := json.Unmarshal(d.OriginalEvent, &ev)
	return ev, err
}
