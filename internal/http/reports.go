package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/webhook-gateway/internal/http/middleware"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"github.com/jmehdipour/webhook-gateway/internal/service/ops"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func listAttemptsHandler(svc *ops.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, ok := middleware.TenantIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		jobID := strings.TrimSpace(c.QueryParam("job_id"))
		if jobID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "job_id is required"})
		}

		limit := 100
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}

		attempts, err := svc.Attempts(c.Request().Context(), tenantID, jobID, limit)
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
		}
		if err != nil {
			log.Error("list attempts failed", zap.String("job_id", jobID), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"job_id":  jobID,
			"limit":   limit,
			"count":   len(attempts),
			"results": attempts,
		})
	}
}
