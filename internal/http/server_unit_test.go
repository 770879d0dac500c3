package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"scanmark/internal/attend"
	"scanmark/internal/auth"
	"scanmark/internal/config"
)

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"":                 "",
		"Bearer abc":       "abc",
		"bearer abc":       "abc",
		"Bearer  abc ":     "abc",
		"Basic dXNlcg==":   "",
		"Bearerabc":        "",
		"Bearer abc extra": "abc extra",
	}
	for input, expect := range cases {
		if got := bearerToken(input); got != expect {
			t.Fatalf("bearerToken(%q) = %q, expected %q", input, got, expect)
		}
	}
}

func TestStatusForKind(t *testing.T) {
	cases := map[attend.Kind]int{
		attend.KindNotFound:     http.StatusNotFound,
		attend.KindConflict:     http.StatusConflict,
		attend.KindInvalid:      http.StatusBadRequest,
		attend.KindUnauthorized: http.StatusUnauthorized,
		attend.KindInternal:     http.StatusInternalServerError,
	}
	for kind, expect := range cases {
		if got := statusForKind(kind); got != expect {
			t.Fatalf("kind %d: expected %d, got %d", kind, expect, got)
		}
	}
}

func TestParseID(t *testing.T) {
	if id, err := parseID(" 42 "); err != nil || id != 42 {
		t.Fatalf("expected 42, got %d (%v)", id, err)
	}
	for _, raw := range []string{"", "0", "-3", "abc", "1.5"} {
		if _, err := parseID(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestParseOptionalTime(t *testing.T) {
	if parsed, err := parseOptionalTime(""); err != nil || parsed != nil {
		t.Fatalf("empty input must be nil, got %v (%v)", parsed, err)
	}
	for _, raw := range []string{"2026-03-14T09:00:00Z", "2026-03-14 09:00:00", "2026-03-14T09:00", "2026-03-14"} {
		parsed, err := parseOptionalTime(raw)
		if err != nil || parsed == nil {
			t.Fatalf("expected %q to parse, got %v", raw, err)
		}
		if parsed.Year() != 2026 || parsed.Month() != time.March || parsed.Day() != 14 {
			t.Fatalf("unexpected date for %q: %v", raw, parsed)
		}
	}
	if _, err := parseOptionalTime("not-a-time"); err == nil {
		t.Fatalf("expected error for garbage input")
	}
}

func TestExportRejectsMalformedSessionID(t *testing.T) {
	s := testServer()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/export?event_id=1&session_id=abc", nil)
	s.handleExport(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unparseable session_id, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "invalid_session_id") {
		t.Fatalf("expected invalid_session_id, got %s", w.Body.String())
	}
}

func TestRecentFeedKeyScopedToSession(t *testing.T) {
	if got := recentFeedKey(7, 3); got != "scanmark:recent:7:3" {
		t.Fatalf("unexpected key %q", got)
	}
	if recentFeedKey(7, 3) == recentFeedKey(7, 4) {
		t.Fatalf("feed keys must differ across sessions")
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/stats", nil)
	r.RemoteAddr = "192.0.2.7:51234"
	if ip := clientIP(r); ip != "192.0.2.7" {
		t.Fatalf("expected remote addr host, got %s", ip)
	}
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if ip := clientIP(r); ip != "203.0.113.9" {
		t.Fatalf("expected first forwarded hop, got %s", ip)
	}
}

func testServer() *Server {
	cfg := config.Config{
		AdminUsername: "admin",
		AdminPassword: "secret",
		JWTSecret:     "test-secret",
		JWTIssuer:     "scanmark-test",
		AdminTokenTTL: time.Minute,
	}
	return &Server{cfg: cfg}
}

func TestAdminLogin(t *testing.T) {
	s := testServer()

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(`{"username":"admin","password":"secret"}`))
	s.handleAdminLogin(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "access_token") {
		t.Fatalf("expected token in body: %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(`{"username":"admin","password":"wrong"}`))
	s.handleAdminLogin(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(`not json`))
	s.handleAdminLogin(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad body, got %d", w.Code)
	}
}

func TestAdminMiddleware(t *testing.T) {
	s := testServer()
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := s.adminMiddleware(next)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/api/events", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/admin/api/events", nil)
	r.Header.Set("Authorization", "Bearer garbage")
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", w.Code)
	}

	token, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, time.Minute, auth.Claims{Username: "admin", Role: auth.RoleAdmin})
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/admin/api/events", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusTeapot {
		t.Fatalf("expected pass-through, got %d", w.Code)
	}

	// A valid token without the admin role is rejected.
	token, err = auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, time.Minute, auth.Claims{Username: "viewer", Role: "viewer"})
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/admin/api/events", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for non-admin role, got %d", w.Code)
	}
}
