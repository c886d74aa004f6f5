package models

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"eventpipe/internal/constants"
)

var eventIDPattern = regexp.MustCompile(`(?i)^evt_[0-9a-f]{12}$`)

// EnrichedEvent is the unit that flows through the buffer, the worker and
// storage. EventID never changes once assigned.
type EnrichedEvent struct {
	EventID   string `json:"eventId"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
	Message   string `json:"message"`
	// Metadata is an opaque, size-capped JSON object. The size and shape
	// limits are enforced when the event is accepted.
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	IngestedAt string          `json:"ingestedAt"`
	RetryCount int             `json:"retryCount"`
}

func NewEventID() string {
	id := uuid.New()
	return constants.EventIDPrefix + hex.EncodeToString(id[:])[:constants.EventIDHexLength]
}

func IsValidEventID(id string) bool {
	return eventIDPattern.MatchString(id)
}

// Clone returns a copy that shares no mutable state with e.
func (e EnrichedEvent) Clone() EnrichedEvent {
	if e.Metadata != nil {
		e.Metadata = append(json.RawMessage(nil), e.Metadata...)
	}
	return e
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// ParseTimestamp accepts the date formats producers commonly send.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
