package http

import (
	"errors"
	"net/http"

	"github.com/jmehdipour/webhook-gateway/internal/http/middleware"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"github.com/jmehdipour/webhook-gateway/internal/service/ops"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func replayDLQHandler(svc *ops.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, ok := middleware.TenantIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		job, err := svc.Replay(c.Request().Context(), tenantID, c.Param("id"))
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
		case errors.Is(err, repository.ErrNotDLQ):
			return c.JSON(http.StatusConflict, map[string]string{"error": "job is not in DLQ"})
		case err != nil:
			log.Error("replay failed", zap.String("job_id", c.Param("id")), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		log.Info("dlq job replayed", zap.String("tenant_id", tenantID), zap.String("job_id", job.ID))
		return c.JSON(http.StatusOK, job)
	}
}

func getDLQHandler(svc *ops.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, ok := middleware.TenantIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		view, err := svc.DeadLetter(c.Request().Context(), tenantID, c.Param("id"))
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
		case err != nil:
			log.Error("dead letter lookup failed", zap.String("job_id", c.Param("id")), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, view)
	}
}

func statsHandler(svc *ops.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, ok := middleware.TenantIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		counts, err := svc.Stats(c.Request().Context(), tenantID)
		if err != nil {
			log.Error("stats failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		return c.JSON(http.StatusOK, map[string]any{"jobs": counts})
	}
}
