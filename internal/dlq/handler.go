package dlq

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"eventpipe/internal/logger"
	"eventpipe/pkg/errors"
	"eventpipe/pkg/models"
)

type service interface {
	List(ctx context.Context, opts ListOptions) (ListResult, error)
	Get(ctx context.Context, id string) (*models.DeadLetterEvent, error)
	Delete(ctx context.Context, id string) error
	ReprocessEvent(ctx context.Context, id string) (bool, error)
	Statistics(ctx context.Context) (Statistics, error)
}

type Handler struct {
	service service
	logger  logger.Logger
}

func NewHandler(svc *Service, log logger.Logger) *Handler {
	return &Handler{service: svc, logger: log}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	dlq := router.Group("/api/v1/dlq")
	{
		dlq.GET("", h.List)
		dlq.GET("/statistics", h.Statistics)
		dlq.GET("/:id", h.Get)
		dlq.POST("/:id/reprocess", h.Reprocess)
		dlq.PATCH("/:id/reprocess", h.Reprocess)
		dlq.DELETE("/:id", h.Delete)
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, errors.ToErrorResponse(err))
}

func badQuery(c *gin.Context, field, message string) {
	c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
		errors.ErrValidation.WithMessage(message).WithDetail("field", field),
	))
}

func (h *Handler) List(c *gin.Context) {
	opts := ListOptions{Service: c.Query("service")}

	if v := c.Query("reprocessed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			badQuery(c, "reprocessed", "reprocessed must be true or false")
			return
		}
		opts.Reprocessed = &b
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			badQuery(c, "limit", "limit must be a positive integer")
			return
		}
		opts.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badQuery(c, "offset", "offset must be a non-negative integer")
			return
		}
		opts.Offset = n
	}

	result, err := h.service.List(c.Request.Context(), opts)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) Statistics(c *gin.Context) {
	stats, err := h.service.Statistics(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) Get(c *gin.Context) {
	entry, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handler) Reprocess(c *gin.Context) {
	ok, err := h.service.ReprocessEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	message := "event re-enqueued for processing"
	if !ok {
		message = "event was already reprocessed or the buffer is full"
	}
	c.JSON(http.StatusOK, gin.H{
		"reprocessed": ok,
		"message":     message,
	})
}

func (h *Handler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
