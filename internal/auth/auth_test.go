package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

func TestTokenFromRequest_BearerHeader(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		authz string
		want  string
	}{
		{"standard bearer", "Bearer my-token-123", "my-token-123"},
		{"lowercase bearer", "bearer my-token", "my-token"},
		{"bearer with extra spaces", "Bearer   spaced  ", "spaced"},
		{"empty bearer", "Bearer ", ""},
		{"non-bearer auth", "Basic dXNlcjpwYXNz", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, _ := http.NewRequest("GET", "/", nil)
			r.Header.Set("Authorization", tt.authz)
			got := TokenFromRequest(r)
			if got != tt.want {
				t.Fatalf("TokenFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTokenFromRequest_XAPITokenHeader(t *testing.T) {
	t.Parallel()
	r, _ := http.NewRequest("GET", "/", nil)
	r.Header.Set("X-API-Token", "  tok-456  ")
	got := TokenFromRequest(r)
	if got != "tok-456" {
		t.Fatalf("TokenFromRequest() = %q, want %q", got, "tok-456")
	}
}

func TestTokenFromRequest_BearerTakesPrecedence(t *testing.T) {
	t.Parallel()
	r, _ := http.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer from-bearer")
	r.Header.Set("X-API-Token", "from-header")
	got := TokenFromRequest(r)
	if got != "from-bearer" {
		t.Fatalf("TokenFromRequest() = %q, want %q", got, "from-bearer")
	}
}

func TestTokenFromRequest_NoHeaders(t *testing.T) {
	t.Parallel()
	r, _ := http.NewRequest("GET", "/", nil)
	got := TokenFromRequest(r)
	if got != "" {
		t.Fatalf("TokenFromRequest() = %q, want empty", got)
	}
}

func TestAuthenticate_AdminToken(t *testing.T) {
	t.Parallel()
	a := NewAuthenticator("s3cret", "")

	claims, err := a.Authenticate(context.Background(), "s3cret")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if !claims.IsAdmin || !claims.CanWrite || claims.Subject != "admin" {
		t.Fatalf("claims = %+v", claims)
	}
	if _, err := a.Authenticate(context.Background(), "wrong"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Authenticate(wrong) error = %v, want ErrInvalidToken", err)
	}
}

func TestAuthenticate_EmptyAdminTokenNeverMatches(t *testing.T) {
	t.Parallel()
	a := NewAuthenticator("", "")
	if _, err := a.Authenticate(context.Background(), ""); err == nil {
		t.Fatal("Authenticate(\"\") error = nil, want error")
	}
}

func TestAuthenticate_BcryptAdminToken(t *testing.T) {
	t.Parallel()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error = %v", err)
	}
	a := NewAuthenticator(string(hash), "")

	if claims, err := a.Authenticate(context.Background(), "hunter2"); err != nil || !claims.IsAdmin {
		t.Fatalf("Authenticate() = %+v, %v", claims, err)
	}
	if _, err := a.Authenticate(context.Background(), string(hash)); err == nil {
		t.Fatal("the hash itself must not authenticate")
	}
}

func TestAuthenticate_JWTScopes(t *testing.T) {
	t.Parallel()
	a := NewAuthenticator("", "signing-key")

	tests := []struct {
		scope     string
		wantWrite bool
	}{
		{ScopeRead, false},
		{ScopeWrite, true},
	}
	for _, tt := range tests {
		token, err := a.IssueToken("alice", tt.scope, time.Hour)
		if err != nil {
			t.Fatalf("IssueToken(%s) error = %v", tt.scope, err)
		}
		claims, err := a.Authenticate(context.Background(), token)
		if err != nil {
			t.Fatalf("Authenticate(%s) error = %v", tt.scope, err)
		}
		if claims.Subject != "alice" || claims.CanWrite != tt.wantWrite || claims.IsAdmin {
			t.Fatalf("%s claims = %+v", tt.scope, claims)
		}
	}
}

func TestAuthenticate_RejectsBadJWTs(t *testing.T) {
	t.Parallel()
	a := NewAuthenticator("", "signing-key")
	other := NewAuthenticator("", "other-key")

	foreign, _ := other.IssueToken("alice", ScopeWrite, time.Hour)
	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Scope: ScopeRead,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte("signing-key"))
	badScope, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Scope:            "admin",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
	}).SignedString([]byte("signing-key"))
	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Scope: ScopeRead,
	}).SignedString([]byte("signing-key"))

	for name, token := range map[string]string{
		"foreign key": foreign,
		"expired":     expired,
		"bad scope":   badScope,
		"no subject":  noSubject,
		"garbage":     "not.a.jwt",
	} {
		if _, err := a.Authenticate(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: Authenticate() error = %v, want ErrInvalidToken", name, err)
		}
	}
}

func TestRequireWrite(t *testing.T) {
	t.Parallel()
	a := NewAuthenticator("admin-token", "signing-key")
	readToken, _ := a.IssueToken("bob", ScopeRead, 0)
	writeToken, _ := a.IssueToken("bob", ScopeWrite, 0)

	e := echo.New()
	e.POST("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, a.Middleware, RequireWrite)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"read scope", readToken, http.StatusForbidden},
		{"write scope", writeToken, http.StatusNoContent},
		{"admin", "admin-token", http.StatusNoContent},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		if tt.token != "" {
			req.Header.Set("Authorization", "Bearer "+tt.token)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Fatalf("%s: status = %d, want %d", tt.name, rec.Code, tt.want)
		}
	}
}
