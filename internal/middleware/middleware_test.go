package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exchange-allocator/internal/model"
	"github.com/stemsi/exchange-allocator/internal/response"
	"github.com/stemsi/exchange-allocator/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubAuth struct {
	claims     *service.Claims
	validErr   error
	revokedErr error
}

func (s *stubAuth) ValidateToken(string) (*service.Claims, error) {
	return s.claims, s.validErr
}

func (s *stubAuth) CheckRevoked(context.Context, *service.Claims) error {
	return s.revokedErr
}

func serve(t *testing.T, handlers []gin.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/x", handlers...)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAdminJWT(t *testing.T) {
	admin := &service.Claims{TokenType: service.TokenTypeAdmin, UserID: 1}

	tests := []struct {
		name   string
		auth   *stubAuth
		header string
		want   int
	}{
		{"missing token", &stubAuth{claims: admin}, "", http.StatusUnauthorized},
		{"wrong scheme", &stubAuth{claims: admin}, "Basic abc", http.StatusUnauthorized},
		{"invalid token", &stubAuth{validErr: errors.New("bad")}, "Bearer abc", http.StatusUnauthorized},
		{"other audience", &stubAuth{claims: &service.Claims{TokenType: "student"}}, "Bearer abc", http.StatusForbidden},
		{"revoked", &stubAuth{claims: admin, revokedErr: service.ErrTokenRevoked}, "Bearer abc", http.StatusUnauthorized},
		{"revocation store down", &stubAuth{claims: admin, revokedErr: errors.New("dial tcp")}, "Bearer abc", http.StatusServiceUnavailable},
		{"ok", &stubAuth{claims: admin}, "Bearer abc", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(t, []gin.HandlerFunc{RequireAdminJWT(tt.auth)}, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestRequireAdminWSAuthReadsQuery(t *testing.T) {
	auth := &stubAuth{claims: &service.Claims{TokenType: service.TokenTypeAdmin}}

	req := httptest.NewRequest(http.MethodGet, "/x?token=abc", nil)
	if w := serve(t, []gin.HandlerFunc{RequireAdminWSAuth(auth)}, req); w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	if w := serve(t, []gin.HandlerFunc{RequireAdminWSAuth(auth)}, req); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRequirePermission(t *testing.T) {
	withClaims := func(perms ...string) gin.HandlerFunc {
		return func(c *gin.Context) {
			c.Set(ContextKeyClaims, &service.Claims{TokenType: service.TokenTypeAdmin, Permissions: perms})
		}
	}

	tests := []struct {
		name     string
		handlers []gin.HandlerFunc
		want     int
	}{
		{"no claims", []gin.HandlerFunc{RequirePermission(model.PermissionRunsRead)}, http.StatusUnauthorized},
		{"granted", []gin.HandlerFunc{withClaims("runs:read"), RequirePermission(model.PermissionRunsRead)}, http.StatusNoContent},
		{"missing one of all", []gin.HandlerFunc{withClaims("runs:read"), RequirePermission(model.PermissionRunsRead, model.PermissionRunsExport)}, http.StatusForbidden},
		{"any granted", []gin.HandlerFunc{withClaims("runs:export"), RequireAnyPermission(model.PermissionRunsRead, model.PermissionRunsExport)}, http.StatusNoContent},
		{"any denied", []gin.HandlerFunc{withClaims("scores:preview"), RequireAnyPermission(model.PermissionRunsRead)}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if w := serve(t, tt.handlers, req); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := NewRateLimiter(ctx, 2, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("a") {
		t.Fatal("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Fatal("other visitors have their own bucket")
	}

	now = now.Add(time.Minute)
	if !rl.Allow("a") {
		t.Fatal("bucket should refill after one interval")
	}

	now = now.Add(10 * time.Minute)
	rl.cleanup()
	if len(rl.visitors) != 0 {
		t.Errorf("stale visitors kept: %d", len(rl.visitors))
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := NewRateLimiter(ctx, 1, time.Minute)
	handlers := []gin.HandlerFunc{rl.Middleware()}

	if w := serve(t, handlers, httptest.NewRequest(http.MethodGet, "/x", nil)); w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	w := serve(t, handlers, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", w.Header().Get("Retry-After"))
	}
}

func TestBrotli(t *testing.T) {
	large := strings.Repeat("assignment,", 400)
	tests := []struct {
		name     string
		accept   string
		body     string
		skip     bool
		wantBrot bool
	}{
		{"large body", "gzip, br", large, false, true},
		{"short body passes through", "br", "ok", false, false},
		{"client refuses br", "br;q=0, gzip", large, false, false},
		{"no accept-encoding", "", large, false, false},
		{"skipper", "br", large, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(BrotliWithConfig(BrotliConfig{
				Quality: DefaultBrotliConfig.Quality,
				Skipper: func(*gin.Context) bool { return tt.skip },
			}))
			r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, tt.body) })

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Encoding", tt.accept)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			gotBrot := w.Header().Get("Content-Encoding") == "br"
			if gotBrot != tt.wantBrot {
				t.Fatalf("Content-Encoding = %q, want br=%v", w.Header().Get("Content-Encoding"), tt.wantBrot)
			}
			body := w.Body.Bytes()
			if gotBrot {
				body, _ = io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
			}
			if string(body) != tt.body {
				t.Errorf("body mismatch: got %d bytes, want %d", len(body), len(tt.body))
			}
		})
	}
}

func TestRedactQuery(t *testing.T) {
	q := url.Values{"token": {"eyJhbGciOi"}, "format": {"csv"}}
	got := redactQuery(q)
	if strings.Contains(got, "eyJhbGciOi") || !strings.Contains(got, "token=REDACTED") || !strings.Contains(got, "format=csv") {
		t.Errorf("redactQuery = %q", got)
	}
	if got := redactQuery(url.Values{}); got != "" {
		t.Errorf("empty query = %q", got)
	}
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"kept", "abc-123", true},
		{"generated when missing", "", false},
		{"control characters replaced", "abc\x1b[31m", false},
		{"too long replaced", strings.Repeat("a", 65), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.incoming != "" {
				req.Header.Set("X-Request-ID", tt.incoming)
			}
			w := serve(t, []gin.HandlerFunc{response.RequestIDMiddleware()}, req)
			got := w.Header().Get("X-Request-ID")
			if tt.keep && got != tt.incoming {
				t.Errorf("X-Request-ID = %q, want %q", got, tt.incoming)
			}
			if !tt.keep && (got == "" || got == tt.incoming) {
				t.Errorf("X-Request-ID = %q, want a fresh ID", got)
			}
		})
	}
}
