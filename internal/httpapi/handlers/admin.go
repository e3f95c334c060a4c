package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"pglo/internal/auth"
)

func requireAdmin(c echo.Context) error {
	claims, ok := auth.GetClaims(c)
	if !ok || !claims.IsAdmin {
		return echo.NewHTTPError(http.StatusForbidden, "admin token required")
	}
	return nil
}

func (h *Handler) TriggerSync(c echo.Context) error {
	if err := requireAdmin(c); err != nil {
		return err
	}

	if h.syncTrigger == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "archive sync not configured")
	}

	started, err := h.syncTrigger.TriggerSync(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !started {
		return c.JSON(http.StatusOK, map[string]any{
			"ok":      true,
			"message": "archive sync already running",
		})
	}
	return c.JSON(http.StatusAccepted, map[string]any{
		"ok":      true,
		"message": "archive sync started",
	})
}

func (h *Handler) GetSyncStatus(c echo.Context) error {
	if err := requireAdmin(c); err != nil {
		return err
	}

	if h.syncTrigger == nil {
		return c.JSON(http.StatusOK, map[string]any{
			"configured": false,
			"running":    false,
		})
	}

	status := h.syncTrigger.Status()
	resp := map[string]any{
		"configured": true,
		"running":    status.Running,
		"lastError":  status.LastError,
		"lastResult": nil,
	}
	if s := status.LastResult; s != nil {
		resp["lastResult"] = map[string]any{
			"objects":  s.Objects,
			"exported": s.Exported,
			"failed":   s.Failed,
			"bytes":    s.Bytes,
		}
	}
	return c.JSON(http.StatusOK, resp)
}
