package jwt

import (
	"testing"
	"time"
)

func TestCreateAndExtract(t *testing.T) {
	token, err := CreateToken(42, "test-secret-key", time.Hour)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if token == "" {
		t.Fatal("Expected token to be generated")
	}

	id, err := ExtractUserIDFromToken(token, "test-secret-key")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if id != 42 {
		t.Errorf("Expected user id 42, got %d", id)
	}
}

func TestExtractWrongSecret(t *testing.T) {
	token, err := CreateToken(1, "test-secret-key", time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	if _, err := ExtractUserIDFromToken(token, "other-secret"); err == nil {
		t.Fatal("Expected error for token signed with another secret")
	}
}

func TestExtractExpired(t *testing.T) {
	token, err := CreateToken(1, "test-secret-key", -time.Minute)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	if _, err := ExtractUserIDFromToken(token, "test-secret-key"); err == nil {
		t.Fatal("Expected error for expired token")
	}
}

func TestExtractGarbage(t *testing.T) {
	if _, err := ExtractUserIDFromToken("invalid.token.here", "test-secret-key"); err != ErrInvalidToken {
		t.Fatalf("Expected ErrInvalidToken, got %v", err)
	}
}
