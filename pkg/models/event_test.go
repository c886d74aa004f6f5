package models

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewEventID()
		require.True(t, IsValidEventID(id), id)
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestIsValidEventID(t *testing.T) {
	assert.True(t, IsValidEventID("evt_0123456789ab"))
	assert.True(t, IsValidEventID("evt_0123456789AB"))
	assert.False(t, IsValidEventID("evt_0123456789a"))
	assert.False(t, IsValidEventID("evt_0123456789abc"))
	assert.False(t, IsValidEventID("xyz_0123456789ab"))
	assert.False(t, IsValidEventID("evt_0123456789zz"))
}

func TestParseTimestamp(t *testing.T) {
	valid := []string{
		"2024-01-15T10:30:00Z",
		"2024-01-15T10:30:00.123Z",
		"2024-01-15T10:30:00+02:00",
		"2024-01-15T10:30:00",
		"2024-01-15 10:30:00",
		"2024-01-15",
	}
	for _, v := range valid {
		_, err := ParseTimestamp(v)
		assert.NoError(t, err, v)
	}

	for _, v := range []string{"", "   ", "yesterday", "2024-13-45"} {
		_, err := ParseTimestamp(v)
		assert.Error(t, err, v)
	}
}

func TestCloneCopiesMetadata(t *testing.T) {
	ev := NewEventBuilder().WithMetadata(json.RawMessage(`{"a":1}`)).Build()
	cp := ev.Clone()
	cp.Metadata[2] = 'b'
	assert.Equal(t, `{"a":1}`, string(ev.Metadata))
}

func TestBuilderDefaults(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	ev := NewEventBuilder().
		WithService("checkout").
		WithMessage("order placed").
		WithIngestedAt(now).
		Build()

	assert.True(t, IsValidEventID(ev.EventID))
	assert.Equal(t, "2024-01-15T10:30:00.000Z", ev.IngestedAt)
	assert.NotEmpty(t, ev.Timestamp)
	assert.Zero(t, ev.RetryCount)
}

func TestDeadLetterEvent_Event(t *testing.T) {
	orig := NewEventBuilder().WithService("billing").WithMessage("m").WithRetryCount(3).Build()
	raw, err := json.Marshal(orig)
	require.NoError(t, err)

	d := &DeadLetterEvent{OriginalEvent: raw}
	got, err := d.Event()
	require.NoError(t, err)
	assert.Equal(t, orig, got)
}
