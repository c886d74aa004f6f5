package tracing

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"eventpipe/internal/config"
)

func TestTraceContextRoundTripThroughKafkaHeaders(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "dlq.publish")
	defer span.End()

	headers := InjectTraceContext(ctx, []kafka.Header{{Key: "event_id", Value: []byte("evt_0123456789ab")}})
	require.Len(t, headers, 2)
	assert.Equal(t, "event_id", headers[0].Key)
	assert.Equal(t, "traceparent", headers[1].Key)

	carrier := headerCarrier(headers)
	extracted := trace.SpanContextFromContext(otel.GetTextMapPropagator().Extract(context.Background(), &carrier))
	assert.True(t, extracted.IsValid())
	assert.Equal(t, span.SpanContext().TraceID(), extracted.TraceID())
}

func TestKafkaHeaderCarrier_SetOverwrites(t *testing.T) {
	c := &headerCarrier{{Key: "traceparent", Value: []byte("old")}}
	c.Set("traceparent", "new")

	assert.Equal(t, "new", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, c.Keys())
	assert.Empty(t, c.Get("missing"))
}

func TestInit_DisabledReturnsProvider(t *testing.T) {
	tp, err := Init(config.TracingConfig{}, "")
	require.NoError(t, err)
	assert.NotNil(t, tp.Tracer("x"))
	assert.NoError(t, tp.Shutdown(context.Background()))
}
