package users

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/princekumarofficial/channel-media-service/internal/storage/memory"
	"github.com/princekumarofficial/channel-media-service/internal/types/users"
	"github.com/princekumarofficial/channel-media-service/internal/utils/jwt"
	"github.com/princekumarofficial/channel-media-service/internal/utils/password"
)

const testSecret = "login_test_secret"

func setupStore(t *testing.T) *memory.Store {
	store := memory.New()
	hash, err := password.HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	if _, err := store.CreateUser(context.Background(), "admin", hash, true); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	if _, err := store.CreateUser(context.Background(), "viewer", hash, false); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	return store
}

func login(t *testing.T, store *memory.Store, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	Login(store, testSecret, time.Hour).ServeHTTP(rec, req)
	return rec
}

func TestLoginIssuesToken(t *testing.T) {
	store := setupStore(t)

	rec := login(t, store, `{"username": "admin", "password": "correct-horse"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp users.TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	userID, err := jwt.ExtractUserIDFromToken(resp.Token, testSecret)
	if err != nil {
		t.Fatalf("Issued token does not validate: %v", err)
	}
	if userID != resp.UserID {
		t.Fatalf("Expected token for user %d, got %d", resp.UserID, userID)
	}
}

func TestLoginRejections(t *testing.T) {
	store := setupStore(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"wrong password", `{"username": "admin", "password": "battery-staple"}`, http.StatusUnauthorized},
		{"unknown user", `{"username": "nobody", "password": "correct-horse"}`, http.StatusUnauthorized},
		{"not an admin", `{"username": "viewer", "password": "correct-horse"}`, http.StatusForbidden},
		{"short password", `{"username": "admin", "password": "123"}`, http.StatusBadRequest},
		{"malformed body", `{"username":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := login(t, store, tt.body); rec.Code != tt.status {
				t.Fatalf("Expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}
