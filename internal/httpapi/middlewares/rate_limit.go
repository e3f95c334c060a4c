package middlewares

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"pglo/internal/auth"
	"pglo/internal/ratelimit"
)

type tokenVerifier interface {
	Authenticate(context.Context, string) (auth.Claims, error)
}

// NewRateLimitMiddleware charges each request to a read or write bucket.
// Requests with a valid token are keyed by subject, everything else by client IP.
func NewRateLimitMiddleware(verifier tokenVerifier, cfg ratelimit.Config) echo.MiddlewareFunc {
	limiter := ratelimit.New(cfg)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			kind, bucket := rateLimitKey(c, verifier)
			res := limiter.Take(time.Now().UTC(), scopeFor(c.Request().Method), kind, bucket)
			writeHeaders(c.Response().Header(), res)
			if res.Allowed {
				return next(c)
			}

			c.Response().Header().Set("Retry-After", strconv.FormatInt(res.ResetIn, 10))
			return c.JSON(http.StatusTooManyRequests, map[string]any{
				"error":       "rate limit exceeded",
				"retry_after": res.ResetIn,
			})
		}
	}
}

// scopeFor puts uploads, truncates, deletes and archive runs in the write bucket.
func scopeFor(method string) ratelimit.Scope {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ratelimit.ScopeRead
	}
	return ratelimit.ScopeWrite
}

func rateLimitKey(c echo.Context, verifier tokenVerifier) (ratelimit.BucketKind, string) {
	if token := auth.TokenFromRequest(c.Request()); token != "" && verifier != nil {
		if claims, err := verifier.Authenticate(c.Request().Context(), token); err == nil {
			if subject := strings.TrimSpace(claims.Subject); subject != "" {
				return ratelimit.BucketKey, subject
			}
		}
	}
	return ratelimit.BucketIP, clientIP(c)
}

func clientIP(c echo.Context) string {
	if ip := strings.TrimSpace(c.RealIP()); ip != "" {
		return ip
	}
	addr := strings.TrimSpace(c.Request().RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if addr == "" {
		return "unknown"
	}
	return addr
}

func writeHeaders(h http.Header, res ratelimit.Result) {
	limit := strconv.Itoa(res.Limit)
	remaining := strconv.Itoa(res.Remaining)

	h.Set("X-RateLimit-Limit", limit)
	h.Set("X-RateLimit-Remaining", remaining)
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt, 10))
	h.Set("RateLimit-Limit", limit)
	h.Set("RateLimit-Remaining", remaining)
	h.Set("RateLimit-Reset", strconv.FormatInt(res.ResetIn, 10))
}
