package reporting

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"eventpipe/internal/logger"
	"eventpipe/pkg/errors"
)

type metricsSource interface {
	BusinessMetrics(ctx context.Context) (BusinessMetrics, error)
}

type historySource interface {
	History(ctx context.Context, limit int) ([]Snapshot, error)
}

type Handler struct {
	business metricsSource
	history  historySource
	logger   logger.Logger
}

// NewHandler wires the reporting endpoints. history may be nil when MongoDB
// is not configured; the history route then answers 503.
func NewHandler(business *BusinessService, history *Recorder, log logger.Logger) *Handler {
	h := &Handler{business: business, logger: log}
	if history != nil {
		h.history = history
	}
	return h
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/health/business", h.Business)
	router.GET("/api/v1/metrics/history", h.History)
}

func (h *Handler) Business(c *gin.Context) {
	m, err := h.business.BusinessMetrics(c.Request.Context())
	if err != nil {
		h.logger.ErrorwCtx(c.Request.Context(), "Business metrics unavailable", "error", err)
		c.JSON(http.StatusServiceUnavailable, errors.ToErrorResponse(
			errors.ErrServiceUnavailable.WithMessage("business metrics unavailable"),
		))
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) History(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, errors.ToErrorResponse(
			errors.ErrServiceUnavailable.WithMessage("metrics history is not configured"),
		))
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
				errors.ErrValidation.WithDetail("field", "limit").WithMessage("limit must be a positive integer"),
			))
			return
		}
		limit = n
	}

	snaps, err := h.history.History(c.Request.Context(), limit)
	if err != nil {
		h.logger.ErrorwCtx(c.Request.Context(), "Failed to read metrics history", "error", err)
		c.JSON(http.StatusInternalServerError, errors.ToErrorResponse(errors.ErrInternal.WithCause(err)))
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps, "count": len(snaps)})
}
