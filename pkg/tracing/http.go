package tracing

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"eventpipe/pkg/logging"
)

// GinMiddleware starts a server span per request. Probes and the metrics
// scrape are not traced.
func GinMiddleware(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName, otelgin.WithGinFilter(func(c *gin.Context) bool {
		return !isProbe(c.Request.URL.Path)
	}))
}

// AnnotateRequest copies the correlation id onto the active span. It must run
// after the correlation id middleware.
func AnnotateRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if id := logging.GetCorrelationID(ctx); id != "" {
			trace.SpanFromContext(ctx).SetAttributes(attribute.String(logging.CorrelationIDKey, id))
		}
		c.Next()
	}
}

func isProbe(path string) bool {
	return path == "/metrics" || path == "/health" || strings.HasPrefix(path, "/health/")
}
