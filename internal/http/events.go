package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmehdipour/webhook-gateway/internal/http/middleware"
	"github.com/jmehdipour/webhook-gateway/internal/service/events"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type createEventReq struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

func createEventHandler(svc *events.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID, ok := middleware.TenantIDFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req createEventReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		evt, err := svc.Create(c.Request().Context(), tenantID, req.EventType, req.Payload)
		if err != nil {
			if errors.Is(err, events.ErrInvalidEventType) || errors.Is(err, events.ErrInvalidPayload) {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			}
			log.Error("create event failed", zap.String("tenant_id", tenantID), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusAccepted, map[string]any{
			"id":         evt.ID,
			"event_type": evt.EventType,
			"status":     evt.Status,
			"created_at": evt.CreatedAt,
		})
	}
}
