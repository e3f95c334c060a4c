package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"pglo/internal/auth"
	"pglo/internal/config"
	"pglo/internal/httpapi/handlers"
	"pglo/internal/httpapi/middlewares"
	"pglo/internal/ratelimit"
	"pglo/internal/service"
)

type API struct {
	cfg     config.Config
	auth    *auth.Authenticator
	handler *handlers.Handler
}

// New builds the API. trigger may be nil when no archive storage is set up.
func New(cfg config.Config, svc *service.Service, authn *auth.Authenticator, trigger handlers.SyncTrigger) *API {
	return &API{
		cfg:     cfg,
		auth:    authn,
		handler: handlers.New(svc, trigger),
	}
}

func (a *API) NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: a.cfg.CORSAllowedOrigins,
		AllowMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderAccept,
			echo.HeaderContentType,
			echo.HeaderAuthorization,
			"X-API-Token",
		},
		ExposeHeaders: []string{
			"RateLimit-Limit",
			"RateLimit-Remaining",
			"RateLimit-Reset",
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
			"Retry-After",
		},
		MaxAge: 600,
	}))
	if a.cfg.MaxUploadBytes > 0 {
		e.Use(middleware.BodyLimit(strconv.FormatInt(a.cfg.MaxUploadBytes, 10) + "B"))
	}
	e.Use(middlewares.NewRateLimitMiddleware(a.auth, ratelimit.Config{
		Window:   a.cfg.RateLimitWindow,
		ReadIP:   a.cfg.RateLimitReadIP,
		ReadKey:  a.cfg.RateLimitReadKey,
		WriteIP:  a.cfg.RateLimitWriteIP,
		WriteKey: a.cfg.RateLimitWriteKey,
	}))

	a.registerRoutes(e)
	return e
}
