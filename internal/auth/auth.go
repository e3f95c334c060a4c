package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidToken = errors.New("invalid API token")

const (
	ScopeRead  = "read"
	ScopeWrite = "write"
)

type Claims struct {
	Subject  string
	IsAdmin  bool
	CanWrite bool
}

const claimsContextKey = "auth_claims"

type tokenClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Authenticator accepts the admin token or an HS256 JWT signed with the
// configured secret. An admin token that looks like a bcrypt hash is compared
// as one.
type Authenticator struct {
	adminToken string
	adminHash  []byte
	jwtSecret  []byte
}

func NewAuthenticator(adminToken, jwtSecret string) *Authenticator {
	a := &Authenticator{jwtSecret: []byte(jwtSecret)}
	if isBcryptHash(adminToken) {
		a.adminHash = []byte(adminToken)
	} else {
		a.adminToken = adminToken
	}
	return a
}

func (a *Authenticator) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := TokenFromRequest(c.Request())
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing API token")
		}

		claims, err := a.Authenticate(c.Request().Context(), token)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid API token")
		}
		c.Set(claimsContextKey, claims)

		return next(c)
	}
}

// RequireWrite rejects requests whose token only grants read access. It must
// run after Middleware.
func RequireWrite(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, ok := GetClaims(c)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing API token")
		}
		if !claims.IsAdmin && !claims.CanWrite {
			return echo.NewHTTPError(http.StatusForbidden, "token does not grant write access")
		}
		return next(c)
	}
}

func (a *Authenticator) Authenticate(_ context.Context, token string) (Claims, error) {
	if a.isAdmin(token) {
		return Claims{Subject: "admin", IsAdmin: true, CanWrite: true}, nil
	}
	if len(a.jwtSecret) == 0 {
		return Claims{}, ErrInvalidToken
	}

	var tc tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &tc, func(*jwt.Token) (any, error) {
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(tc.Subject) == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	switch tc.Scope {
	case ScopeRead:
		return Claims{Subject: tc.Subject}, nil
	case ScopeWrite:
		return Claims{Subject: tc.Subject, CanWrite: true}, nil
	default:
		return Claims{}, fmt.Errorf("%w: unknown scope %q", ErrInvalidToken, tc.Scope)
	}
}

// IssueToken signs a token for subject. A zero ttl means the token never
// expires.
func (a *Authenticator) IssueToken(subject, scope string, ttl time.Duration) (string, error) {
	if len(a.jwtSecret) == 0 {
		return "", errors.New("JWT secret is not configured")
	}
	if scope != ScopeRead && scope != ScopeWrite {
		return "", fmt.Errorf("unknown scope %q", scope)
	}
	now := time.Now()
	tc := tokenClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		tc.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(a.jwtSecret)
}

func (a *Authenticator) isAdmin(token string) bool {
	if a.adminHash != nil {
		return bcrypt.CompareHashAndPassword(a.adminHash, []byte(token)) == nil
	}
	if a.adminToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.adminToken)) == 1
}

func isBcryptHash(s string) bool {
	if _, err := bcrypt.Cost([]byte(s)); err != nil {
		return false
	}
	return true
}

func GetClaims(c echo.Context) (Claims, bool) {
	raw := c.Get(claimsContextKey)
	if raw == nil {
		return Claims{}, false
	}
	claims, ok := raw.(Claims)
	return claims, ok
}

// TokenFromRequest returns the bearer token, or the X-API-Token header.
func TokenFromRequest(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return strings.TrimSpace(r.Header.Get("X-API-Token"))
}
