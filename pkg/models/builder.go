package models

import (
	"time"

	"github.com/goccy/go-json"
)

type EventBuilder struct {
	event EnrichedEvent
}

func NewEventBuilder() *EventBuilder {
	return &EventBuilder{}
}

func (b *EventBuilder) WithEventID(id string) *EventBuilder {
	b.event.EventID = id
	return b
}

func (b *EventBuilder) WithService(service string) *EventBuilder {
	b.event.Service = service
	return b
}

func (b *EventBuilder) WithMessage(message string) *EventBuilder {
	b.event.Message = message
	return b
}

func (b *EventBuilder) WithTimestamp(timestamp string) *EventBuilder {
	b.event.Timestamp = timestamp
	return b
}

func (b *EventBuilder) WithMetadata(metadata json.RawMessage) *EventBuilder {
	b.event.Metadata = metadata
	return b
}

func (b *EventBuilder) WithIngestedAt(t time.Time) *EventBuilder {
	b.event.IngestedAt = FormatTimestamp(t)
	return b
}

func (b *EventBuilder) WithRetryCount(n int) *EventBuilder {
	b.event.RetryCount = n
	return b
}

// Build fills in an id, an ingestion time and a timestamp when they were not set.
func (b *EventBuilder) Build() EnrichedEvent {
	now := time.Now()
	if b.event.EventID == "" {
		b.event.EventID = NewEventID()
	}
	if b.event.IngestedAt == "" {
		b.event.IngestedAt = FormatTimestamp(now)
	}
	if b.event.Timestamp == "" {
		b.event.Timestamp = FormatTimestamp(now)
	}
	return b.event
}
