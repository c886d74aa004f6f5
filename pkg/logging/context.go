package logging

import (
	"context"
)

type contextKey string

const (
	CorrelationIDKey = "correlation_id"
	EventIDKey       = "event_id"
	ServiceNameKey   = "service_name"
)

const (
	correlationIDCtxKey contextKey = CorrelationIDKey
	eventIDCtxKey       contextKey = EventIDKey
	serviceNameCtxKey   contextKey = ServiceNameKey
)

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDCtxKey, correlationID)
}

func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, eventIDCtxKey, eventID)
}

// WithServiceName tags the context with the producing service of the event
// being handled, not the name of this process.
func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, serviceNameCtxKey, serviceName)
}

func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDCtxKey).(string); ok {
		return id
	}
	return ""
}

func GetEventID(ctx context.Context) string {
	if id, ok := ctx.Value(eventIDCtxKey).(string); ok {
		return id
	}
	return ""
}

func GetServiceName(ctx context.Context) string {
	if serviceName, ok := ctx.Value(serviceNameCtxKey).(string); ok {
		return serviceName
	}
	return ""
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 6)

	if id := GetCorrelationID(ctx); id != "" {
		fields = append(fields, CorrelationIDKey, id)
	}

	if id := GetEventID(ctx); id != "" {
		fields = append(fields, EventIDKey, id)
	}

	if serviceName := GetServiceName(ctx); serviceName != "" {
		fields = append(fields, ServiceNameKey, serviceName)
	}

	return fields
}
