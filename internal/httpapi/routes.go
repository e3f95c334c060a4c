package httpapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"pglo/internal/auth"
)

func (a *API) registerRoutes(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"ok":        true,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	authed := e.Group("")
	authed.Use(a.auth.Middleware)
	a.registerReadRoutes(authed)
	a.registerWriteRoutes(authed)
	a.registerAdminRoutes(authed)
}

func (a *API) registerReadRoutes(g *echo.Group) {
	g.GET("/objects", a.handler.ListObjects)
	g.GET("/objects/:oid", a.handler.GetObject)
	g.GET("/objects/:oid/text", a.handler.GetText)
	g.GET("/objects/:oid/length", a.handler.GetLength)
	g.GET("/objects/:oid/position", a.handler.FindInObject)
	g.GET("/objects/:oid/export", a.handler.GetLatestExport)
}

func (a *API) registerWriteRoutes(g *echo.Group) {
	w := g.Group("")
	w.Use(auth.RequireWrite)
	w.POST("/objects", a.handler.CreateObject)
	w.PUT("/objects/:oid", a.handler.WriteObject)
	w.POST("/objects/:oid/truncate", a.handler.TruncateObject)
	w.DELETE("/objects/:oid", a.handler.DeleteObject)
	w.POST("/objects/:oid/export", a.handler.ExportObject)
	w.POST("/imports/*", a.handler.ImportArchive)
}

func (a *API) registerAdminRoutes(g *echo.Group) {
	g.POST("/admin/archive/sync", a.handler.TriggerSync)
	g.GET("/admin/archive/sync", a.handler.GetSyncStatus)
}
