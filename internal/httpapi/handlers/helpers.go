package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"pglo/internal/catalog"
	"pglo/internal/largeobject"
	"pglo/internal/service"
)

func mapServiceError(err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, largeobject.ErrInvalidArgument):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, largeobject.ErrObjectFreed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrUploadTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, largeobject.ErrUnsupported):
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
	case errors.Is(err, service.ErrNotConfigured):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func parseOID(c echo.Context) (largeobject.OID, error) {
	raw := strings.TrimSpace(c.Param("oid"))
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || v == 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid oid %q", raw))
	}
	return largeobject.OID(v), nil
}

func queryInt64(c echo.Context, key string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(c.QueryParam(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s %q", key, raw))
	}
	return v, nil
}

func queryBool(c echo.Context, key string) bool {
	switch strings.ToLower(strings.TrimSpace(c.QueryParam(key))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func exportJSON(exp catalog.Export) map[string]any {
	resp := map[string]any{
		"oid":    exp.OID,
		"key":    exp.Key,
		"digest": exp.Digest,
		"size":   exp.SizeBytes,
	}
	if !exp.CreatedAt.IsZero() {
		resp["id"] = exp.ID.String()
		resp["createdAt"] = toMillis(exp.CreatedAt)
	}
	return resp
}

// streamWriter defers the response header until the first byte so that a
// failure before any output can still be reported as an error status.
type streamWriter struct {
	c       echo.Context
	started bool
}

func (w *streamWriter) Write(p []byte) (int, error) {
	if !w.started {
		w.started = true
		w.c.Response().Header().Set(echo.HeaderContentType, echo.MIMEOctetStream)
		w.c.Response().WriteHeader(http.StatusOK)
	}
	return w.c.Response().Write(p)
}
