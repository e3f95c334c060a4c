package handlers

import (
	"math"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

func (h *Handler) ListObjects(c echo.Context) error {
	objects, err := h.svc.List(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	items := make([]map[string]any, 0, len(objects))
	for _, o := range objects {
		items = append(items, map[string]any{"oid": o.OID, "owner": o.Owner})
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) CreateObject(c echo.Context) error {
	oid, n, err := h.svc.Create(c.Request().Context(), c.Request().Body)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"oid": oid, "size": n})
}

// GetObject streams the object. pos is 1-based; len limits the byte count.
func (h *Handler) GetObject(c echo.Context) error {
	oid, err := parseOID(c)
	if err != nil {
		return err
	}
	pos, err := queryInt64(c, "pos", 1)
	if err != nil {
		return err
	}
	n, err := queryInt64(c, "len", -1)
	if err != nil {
		return err
	}

	w := &streamWriter{c: c}
	if _, err := h.svc.Stream(c.Request().Context(), oid, pos, n, w); err != nil {
		if w.started {
			c.Logger().Errorf("stream oid %d: %v", oid, err)
			return nil
		}
		return mapServiceError(err)
	}
	if !w.started {
		return c.Blob(http.StatusOK, echo.MIMEOctetStream, nil)
	}
	return nil
}

// GetText decodes len bytes from pos with the server's client encoding.
func (h *Handler) GetText(c echo.Context) error {
	oid, err := parseOID(c)
	if err != nil {
		return err
	}
	pos, err := queryInt64(c, "pos", 1)
	if err != nil {
		return err
	}
	n, err := queryInt64(c, "len", 0)
	if err != nil {
		return err
	}
	if n < 0 || n > math.MaxInt32 {
		return echo.NewHTTPError(http.StatusBadRequest, "len must be between 0 and 2147483647")
	}
	text, err := h.svc.ReadText(c.Request().Context(), oid, pos, int(n))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"oid": oid, "text": text})
}

func (h *Handler) GetLength(c echo.Context) error {
	oid, err := parseOID(c)
	if err != nil {
		return err
	}
	size, err := h.svc.Length(c.Request().Context(), oid)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"oid": oid, "length": size})
}

func (h *Handler) WriteObject(c echo.Context) error {
	oid, err := parseOID(c)
	if err != nil {
		return err
	}
	pos, err := queryInt64(c, "pos", 1)
	if err != nil {
		return err
	}
	n, err := h.svc.Write(c.Request().Context(), oid, pos, c.Request().Body)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"oid": oid, "written": n})
}

type truncateRequest struct {
	Length *int64 `json:"length"`
}

func (h *Handler) TruncateObject(c echo.Context) error {
	oid, err := parseOID(c)
	if err != nil {
		return err
	}
	var req truncateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if req.Length == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "length required")
	}
	if err := h.svc.Truncate(c.Request().Context(), oid, *req.Length); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"oid": oid, "length": *req.Length})
}

// FindInObject searches for pattern from start. With text=true the pattern
// is encoded with the client encoding first.
func (h *Handler) FindInObject(c echo.Context) error {
	oid, err := parseOID(c)
	if err != nil {
		return err
	}
	pattern := c.QueryParam("pattern")
	if pattern == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "pattern required")
	}
	start, err := queryInt64(c, "start", 1)
	if err != nil {
		return err
	}

	var at int64
	if queryBool(c, "text") {
		at, err = h.svc.FindText(c.Request().Context(), oid, pattern, start)
	} else {
		at, err = h.svc.Find(c.Request().Context(), oid, []byte(pattern), start)
	}
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"oid": oid, "position": at})
}

func (h *Handler) DeleteObject(c echo.Context) error {
	oid, err := parseOID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Unlink(c.Request().Context(), oid); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ExportObject(c echo.Context) error {
	oid, err := parseOID(c)
	if err != nil {
		return err
	}
	exp, err := h.svc.Export(c.Request().Context(), oid)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, exportJSON(exp))
}

func (h *Handler) GetLatestExport(c echo.Context) error {
	oid, err := parseOID(c)
	if err != nil {
		return err
	}
	exp, err := h.svc.LatestExport(c.Request().Context(), oid)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, exportJSON(exp))
}

func (h *Handler) ImportArchive(c echo.Context) error {
	key := strings.TrimSpace(c.Param("*"))
	oid, n, err := h.svc.Import(c.Request().Context(), key)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"oid": oid, "size": n, "key": key})
}
