package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLogFields(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want []interface{}
	}{
		{
			name: "empty context",
			ctx:  context.Background(),
			want: []interface{}{},
		},
		{
			name: "correlation id only",
			ctx:  WithCorrelationID(context.Background(), "req-1"),
			want: []interface{}{CorrelationIDKey, "req-1"},
		},
		{
			name: "all fields",
			ctx: WithServiceName(
				WithEventID(WithCorrelationID(context.Background(), "req-1"), "evt_0123456789ab"),
				"checkout",
			),
			want: []interface{}{
				CorrelationIDKey, "req-1",
				EventIDKey, "evt_0123456789ab",
				ServiceNameKey, "checkout",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetLogFields(tt.ctx))
		})
	}
}

func TestContextKeysDoNotCollideWithPlainStrings(t *testing.T) {
	//nolint:staticcheck // deliberately using a raw string key
	ctx := context.WithValue(context.Background(), CorrelationIDKey, "raw")
	assert.Empty(t, GetCorrelationID(ctx))
}
