package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/princekumarofficial/channel-media-service/internal/storage/memory"
	"github.com/princekumarofficial/channel-media-service/internal/utils/jwt"
)

const testSecret = "test_secret"

func callerEcho(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			t.Fatal("Expected caller in context")
		}
		w.Header().Set("X-Caller", caller.ID())
		w.WriteHeader(http.StatusNoContent)
	})
}

func setupAuth(t *testing.T) (*Authenticator, string, string) {
	store := memory.New()
	ctx := context.Background()

	admin, err := store.CreateUser(ctx, "root", "hash", true)
	if err != nil {
		t.Fatalf("Failed to create admin: %v", err)
	}
	viewer, err := store.CreateUser(ctx, "viewer", "hash", false)
	if err != nil {
		t.Fatalf("Failed to create viewer: %v", err)
	}

	adminToken, err := jwt.CreateToken(admin.ID, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("Failed to create token: %v", err)
	}
	viewerToken, err := jwt.CreateToken(viewer.ID, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("Failed to create token: %v", err)
	}
	return NewAuthenticator(store, testSecret, "s3cret-key"), adminToken, viewerToken
}

func TestRequireAdmin(t *testing.T) {
	auth, adminToken, viewerToken := setupAuth(t)
	handler := auth.RequireAdmin(callerEcho(t))

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
		caller string
	}{
		{"no credentials", func(*http.Request) {}, http.StatusUnauthorized, ""},
		{"admin bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+adminToken) }, http.StatusNoContent, "user:1"},
		{"admin query token", func(r *http.Request) { r.URL.RawQuery = "token=" + adminToken }, http.StatusNoContent, "user:1"},
		{"non-admin", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+viewerToken) }, http.StatusForbidden, ""},
		{"garbage token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized, ""},
		{"basic scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }, http.StatusUnauthorized, ""},
		{"api key", func(r *http.Request) { r.Header.Set("X-API-Key", "s3cret-key") }, http.StatusNoContent, "api-key"},
		{"wrong api key", func(r *http.Request) { r.Header.Set("X-API-Key", "guess") }, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/media", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("Expected status %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if got := rec.Header().Get("X-Caller"); got != tt.caller {
				t.Fatalf("Expected caller %q, got %q", tt.caller, got)
			}
		})
	}
}

func TestAPIKeyDisabledWhenUnset(t *testing.T) {
	auth := NewAuthenticator(memory.New(), testSecret, "")
	req := httptest.NewRequest(http.MethodGet, "/api/media", nil)
	req.Header.Set("X-API-Key", "anything")

	if _, status, err := auth.Authenticate(req); err == nil || status != http.StatusUnauthorized {
		t.Fatalf("Expected 401 without a configured key, got %d (%v)", status, err)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rl := NewRateLimitConfig(client)
	handler := rl.RateLimitedHandler(ActionPull, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	do := func(caller Caller) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/diagnostics/trigger-pull", nil)
		req = req.WithContext(WithCaller(req.Context(), caller))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	admin := Caller{UserID: 1, Username: "root"}
	for i := 0; i < 5; i++ {
		if rec := do(admin); rec.Code != http.StatusAccepted {
			t.Fatalf("Request %d: expected 202, got %d", i+1, rec.Code)
		}
	}

	rec := do(admin)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "5" || rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("Unexpected rate limit headers: %v", rec.Header())
	}

	if rec := do(Caller{APIKey: true}); rec.Code != http.StatusAccepted {
		t.Fatalf("Expected the API key caller to have its own bucket, got %d", rec.Code)
	}
}

func TestRateLimitRequiresCaller(t *testing.T) {
	rl := &RateLimitConfig{}
	handler := rl.RateLimitedHandler(ActionApprove, func(w http.ResponseWriter, r *http.Request) {})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/media/1/approve", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", rec.Code)
	}
}
