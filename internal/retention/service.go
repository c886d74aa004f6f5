// Package retention periodically removes events older than the configured
// retention window.
package retention

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"eventpipe/internal/config"
	"eventpipe/internal/logger"
	"eventpipe/pkg/errors"
)

type Cleaner interface {
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
}

type Service struct {
	cleaner Cleaner
	cfg     config.RetentionConfig
	logger  logger.Logger
}

func NewService(cleaner Cleaner, cfg config.RetentionConfig, log logger.Logger) *Service {
	return &Service{cleaner: cleaner, cfg: cfg, logger: log}
}

// Cleanup runs one pass. Failures are logged; the next tick tries again.
func (s *Service) Cleanup(ctx context.Context) {
	if _, err := s.CleanupNow(ctx); err != nil {
		s.logger.ErrorwCtx(ctx, "Retention cleanup failed", "error", err, "retention_days", s.cfg.Days)
	}
}

func (s *Service) CleanupNow(ctx context.Context) (int64, error) {
	start := time.Now()
	deleted, err := s.cleaner.Cleanup(ctx, s.cfg.Days)
	if err != nil {
		return 0, err
	}
	s.logger.InfowCtx(ctx, "Retention cleanup completed",
		"deleted", deleted,
		"retention_days", s.cfg.Days,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return deleted, nil
}

// Run calls Cleanup every retention interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Infow("Retention cleanup disabled")
		return nil
	}

	s.logger.Infow("Retention cleanup scheduled", "interval", s.cfg.Interval, "retention_days", s.cfg.Days)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Cleanup(ctx)
		}
	}
}

func (s *Service) RegisterRoutes(router gin.IRouter) {
	router.POST("/api/v1/admin/retention/cleanup", s.handleCleanup)
}

func (s *Service) handleCleanup(c *gin.Context) {
	deleted, err := s.CleanupNow(c.Request.Context())
	if err != nil {
		s.logger.ErrorwCtx(c.Request.Context(), "Manual retention cleanup failed", "error", err)
		c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deleted":       deleted,
		"retentionDays": s.cfg.Days,
	})
}
