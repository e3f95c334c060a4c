package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"pglo/internal/archive"
	"pglo/internal/auth"
	"pglo/internal/config"
	"pglo/internal/db/dbtest"
	"pglo/internal/service"
	"pglo/internal/storage"
)

const adminToken = "test-admin"

type testServer struct {
	e        *echo.Echo
	sessions *dbtest.Sessions
	authn    *auth.Authenticator
	backend  *storage.LocalBackend
}

func newTestServer(t *testing.T, version int) *testServer {
	t.Helper()

	sessions := dbtest.New(version)
	backend, err := storage.NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBackend() error = %v", err)
	}
	svc, err := service.New(sessions, service.Options{
		Charset:  "windows-1252",
		Exporter: archive.NewExporter(sessions, backend, nil, nil),
		Importer: archive.NewImporter(sessions, backend, nil),
	})
	if err != nil {
		t.Fatalf("service.New() error = %v", err)
	}
	authn := auth.NewAuthenticator(adminToken, "jwt-secret")
	cfg := config.Config{
		CORSAllowedOrigins: []string{"http://localhost"},
		MaxUploadBytes:     1 << 20,
		RateLimitWindow:    time.Minute,
	}
	api := New(cfg, svc, authn, nil)
	return &testServer{e: api.NewEcho(), sessions: sessions, authn: authn, backend: backend}
}

func (s *testServer) do(t *testing.T, method, target, token string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	if method == http.MethodPost && strings.HasSuffix(target, "/truncate") {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthzIsPublic(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 90300)

	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestObjectLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 90300)

	rec := s.do(t, http.MethodPost, "/objects", adminToken, strings.NewReader("hello large world"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", rec.Code, rec.Body.String())
	}
	created := decode(t, rec)
	oid := int(created["oid"].(float64))
	base := "/objects/" + itoa(oid)

	rec = s.do(t, http.MethodGet, base, adminToken, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "hello large world" {
		t.Fatalf("get = %d %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != echo.MIMEOctetStream {
		t.Fatalf("content type = %q", ct)
	}

	rec = s.do(t, http.MethodGet, base+"?pos=7&len=5", adminToken, nil)
	if rec.Body.String() != "large" {
		t.Fatalf("ranged get = %q, want large", rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, base+"/position?pattern=world", adminToken, nil)
	if got := decode(t, rec)["position"]; got != float64(13) {
		t.Fatalf("position = %v, want 13", got)
	}

	rec = s.do(t, http.MethodPut, base+"?pos=7", adminToken, strings.NewReader("small"))
	if rec.Code != http.StatusOK {
		t.Fatalf("write status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, base+"/truncate", adminToken, strings.NewReader(`{"length":11}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("truncate status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, base+"/length", adminToken, nil)
	if got := decode(t, rec)["length"]; got != float64(11) {
		t.Fatalf("length = %v, want 11", got)
	}
	got, _ := s.sessions.Server.Bytes(uint32(oid))
	if string(got) != "hello small" {
		t.Fatalf("object = %q, want %q", got, "hello small")
	}

	rec = s.do(t, http.MethodDelete, base, adminToken, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, base+"/length", adminToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("length after delete status = %d, want 404", rec.Code)
	}
	if s.sessions.Open() != 0 {
		t.Fatalf("open sessions = %d, want 0", s.sessions.Open())
	}
}

func TestTextEndpoints(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 90300)
	oid := s.sessions.Server.Put([]byte("caf\xe9 cr\xe8me"))
	base := "/objects/" + itoa(int(oid))

	rec := s.do(t, http.MethodGet, base+"/text?pos=1&len=4", adminToken, nil)
	if got := decode(t, rec)["text"]; got != "café" {
		t.Fatalf("text = %v, want café", got)
	}
	rec = s.do(t, http.MethodGet, base+"/position?text=true&pattern=cr%C3%A8me", adminToken, nil)
	if got := decode(t, rec)["position"]; got != float64(6) {
		t.Fatalf("position = %v, want 6", got)
	}
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 80200)
	oid := s.sessions.Server.Put([]byte("abc"))
	base := "/objects/" + itoa(int(oid))

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"bad oid", http.MethodGet, "/objects/abc", "", http.StatusBadRequest},
		{"bad pos", http.MethodGet, base + "?pos=x", "", http.StatusBadRequest},
		{"zero pos", http.MethodGet, base + "/position?pattern=a&start=0", "", http.StatusBadRequest},
		{"empty pattern", http.MethodGet, base + "/position", "", http.StatusBadRequest},
		{"missing object", http.MethodGet, "/objects/4242/length", "", http.StatusNotFound},
		{"truncate unsupported", http.MethodPost, base + "/truncate", `{"length":1}`, http.StatusNotImplemented},
		{"truncate without length", http.MethodPost, base + "/truncate", `{}`, http.StatusBadRequest},
		{"sync not configured", http.MethodPost, "/admin/archive/sync", "", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		var body io.Reader
		if tt.body != "" {
			body = strings.NewReader(tt.body)
		}
		rec := s.do(t, tt.method, tt.target, adminToken, body)
		if rec.Code != tt.want {
			t.Fatalf("%s: status = %d, want %d (body=%s)", tt.name, rec.Code, tt.want, rec.Body.String())
		}
	}
}

func TestAuthScopes(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 90300)
	oid := s.sessions.Server.Put([]byte("abc"))
	readToken, err := s.authn.IssueToken("reader", auth.ScopeRead, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	if rec := s.do(t, http.MethodGet, "/objects/"+itoa(int(oid))+"/length", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/objects/"+itoa(int(oid))+"/length", readToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("read token status = %d, want 200", rec.Code)
	}
	if rec := s.do(t, http.MethodDelete, "/objects/"+itoa(int(oid)), readToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("read token delete status = %d, want 403", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/admin/archive/sync", readToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("read token admin status = %d, want 403", rec.Code)
	}
}

func TestExportAndImport(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 90300)
	oid := s.sessions.Server.Put([]byte("archive this"))

	rec := s.do(t, http.MethodPost, "/objects/"+itoa(int(oid))+"/export", adminToken, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("export status = %d body=%s", rec.Code, rec.Body.String())
	}
	key := decode(t, rec)["key"].(string)
	if !strings.HasPrefix(key, "sha256/") {
		t.Fatalf("key = %q", key)
	}

	rec = s.do(t, http.MethodPost, "/imports/"+key, adminToken, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("import status = %d body=%s", rec.Code, rec.Body.String())
	}
	restored := uint32(decode(t, rec)["oid"].(float64))
	got, _ := s.sessions.Server.Bytes(restored)
	if string(got) != "archive this" {
		t.Fatalf("restored = %q", got)
	}

	rec = s.do(t, http.MethodPost, "/imports/sha256/00/missing", adminToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing import status = %d, want 404", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/objects/"+itoa(int(oid))+"/export", adminToken, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("latest export without catalog status = %d, want 503", rec.Code)
	}
}

type stubRunner struct {
	summary archive.Summary
	err     error
}

func (r stubRunner) Run(context.Context) (archive.Summary, error) {
	return r.summary, r.err
}

func TestSyncTrigger(t *testing.T) {
	t.Parallel()

	trigger := NewSyncTrigger(stubRunner{summary: archive.Summary{Objects: 3, Exported: 2, Failed: 1}, err: errors.New("one failed")}, nil)
	started, err := trigger.TriggerSync(context.Background())
	if err != nil || !started {
		t.Fatalf("TriggerSync() = %v, %v", started, err)
	}
	trigger.Wait()

	status := trigger.Status()
	if status.Running {
		t.Fatal("status.Running = true after Wait()")
	}
	if status.LastResult == nil || status.LastResult.Exported != 2 {
		t.Fatalf("LastResult = %+v", status.LastResult)
	}
	if status.LastError != "one failed" {
		t.Fatalf("LastError = %q", status.LastError)
	}
}

func TestSyncEndpoints(t *testing.T) {
	t.Parallel()

	sessions := dbtest.New(90300)
	svc, err := service.New(sessions, service.Options{})
	if err != nil {
		t.Fatalf("service.New() error = %v", err)
	}
	trigger := NewSyncTrigger(stubRunner{summary: archive.Summary{Objects: 1, Exported: 1, Bytes: 9}}, nil)
	e := New(config.Config{RateLimitWindow: time.Minute}, svc, auth.NewAuthenticator(adminToken, ""), trigger).NewEcho()

	req := httptest.NewRequest(http.MethodPost, "/admin/archive/sync", nil)
	req.Header.Set("X-API-Token", adminToken)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("trigger status = %d, want 202", rec.Code)
	}
	trigger.Wait()

	req = httptest.NewRequest(http.MethodGet, "/admin/archive/sync", nil)
	req.Header.Set("X-API-Token", adminToken)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var status map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	result, _ := status["lastResult"].(map[string]any)
	if result == nil || result["bytes"] != float64(9) {
		t.Fatalf("status = %v", status)
	}
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
