package events

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"eventpipe/internal/buffer"
	"eventpipe/internal/constants"
	"eventpipe/internal/logger"
	"eventpipe/internal/worker"
	"eventpipe/pkg/circuitbreaker"
	"eventpipe/pkg/errors"
	"eventpipe/pkg/health"
)

type BufferInspector interface {
	Metrics() buffer.MetricsSnapshot
}

type WorkerInspector interface {
	Stats() worker.Stats
}

// Handler serves the ingestion and query API plus the pipeline health views.
type Handler struct {
	service  *Service
	buffer   BufferInspector
	breaker  *circuitbreaker.Breaker
	worker   WorkerInspector
	database health.Pinger
	checks   *health.CheckerRegistry
	logger   logger.Logger
	started  time.Time
}

type HandlerDeps struct {
	Service  *Service
	Buffer   BufferInspector
	Breaker  *circuitbreaker.Breaker
	Worker   WorkerInspector
	Database health.Pinger
	Checks   *health.CheckerRegistry
	Logger   logger.Logger
}

func NewHandler(deps HandlerDeps) *Handler {
	checks := deps.Checks
	if checks == nil {
		checks = health.NewCheckerRegistry()
	}
	return &Handler{
		service:  deps.Service,
		buffer:   deps.Buffer,
		breaker:  deps.Breaker,
		worker:   deps.Worker,
		database: deps.Database,
		checks:   checks,
		logger:   deps.Logger,
		started:  time.Now(),
	}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/events", h.Ingest)
		v1.GET("/events", h.Search)
		v1.GET("/metrics", h.BufferMetrics)
		v1.POST("/admin/circuit-breaker/reset", h.ResetCircuitBreaker)
	}

	hc := router.Group("/health")
	{
		hc.GET("", h.Health)
		hc.GET("/buffer", h.BufferHealth)
		hc.GET("/database", h.DatabaseHealth)
		hc.GET("/detailed", h.DetailedHealth)
	}
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	}
	if v := retryAfter(err); v != "" {
		c.Header("Retry-After", v)
	}
	c.JSON(status, errors.ToErrorResponse(err))
}

func (h *Handler) Ingest(c *gin.Context) {
	var req CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	resp, err := h.service.Ingest(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

func (h *Handler) Search(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	resp, err := h.service.Search(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) BufferMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.buffer.Metrics())
}

func (h *Handler) ResetCircuitBreaker(c *gin.Context) {
	before := h.breaker.State()
	h.breaker.Reset()
	h.logger.WarnwCtx(c.Request.Context(), "Circuit breaker manually reset",
		"breaker", h.breaker.Name(),
		"previous_state", before,
	)
	c.JSON(http.StatusOK, gin.H{
		"message":       "circuit breaker reset",
		"previousState": before,
		"state":         h.breaker.State(),
	})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.serverInfo())
}

func (h *Handler) serverInfo() gin.H {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return gin.H{
		"status":        health.StatusHealthy,
		"service":       constants.ServiceName,
		"timestamp":     time.Now().UTC(),
		"uptimeSeconds": time.Since(h.started).Seconds(),
		"goroutines":    runtime.NumGoroutine(),
		"memory": gin.H{
			"heapAllocBytes": mem.HeapAlloc,
			"sysBytes":       mem.Sys,
			"numGC":          mem.NumGC,
		},
	}
}

func (h *Handler) BufferHealth(c *gin.Context) {
	m := h.buffer.Metrics()
	c.JSON(http.StatusOK, gin.H{
		"status": m.HealthStatus,
		"buffer": gin.H{
			"size":               m.CurrentSize,
			"capacity":           m.Capacity,
			"utilizationPercent": m.UtilizationPercent,
		},
		"metrics": gin.H{
			"totalEnqueued":   m.TotalEnqueued,
			"totalDropped":    m.TotalDropped,
			"dropRatePercent": m.DropRate,
			"throughput":      m.Throughput,
		},
	})
}

func (h *Handler) databaseHealth(ctx context.Context) (gin.H, bool) {
	body := gin.H{"circuitBreaker": h.breaker.Metrics()}
	if h.database == nil {
		body["status"] = health.StatusUnhealthy
		body["database"] = "not configured"
		return body, false
	}

	ctx, cancel := context.WithTimeout(ctx, constants.HealthCheckTimeout)
	defer cancel()
	if err := h.database.Ping(ctx); err != nil {
		h.logger.WarnwCtx(ctx, "Database health check failed", "error", err)
		body["status"] = health.StatusUnhealthy
		body["database"] = "disconnected"
		body["error"] = "database connection failed"
		return body, false
	}
	body["status"] = health.StatusHealthy
	body["database"] = "connected"
	return body, true
}

func (h *Handler) DatabaseHealth(c *gin.Context) {
	body, ok := h.databaseHealth(c.Request.Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, body)
}

func (h *Handler) DetailedHealth(c *gin.Context) {
	ctx := c.Request.Context()
	report := h.checks.Check(ctx)
	database, _ := h.databaseHealth(ctx)

	body := gin.H{
		"status":         report.Status,
		"timestamp":      report.Timestamp.UTC(),
		"server":         h.serverInfo(),
		"checks":         report.Checks,
		"database":       database,
		"buffer":         h.buffer.Metrics(),
		"circuitBreaker": h.breaker.Metrics(),
	}
	if h.worker != nil {
		body["worker"] = h.worker.Stats()
	}

	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, body)
}
