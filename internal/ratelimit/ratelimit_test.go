package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func setupTestRedis(t *testing.T) *redis.Client {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("Failed to connect to test Redis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client
}

func TestTokenBucket_Take(t *testing.T) {
	bucket := NewTokenBucket(setupTestRedis(t), 5, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := bucket.Take(ctx, "admin:1", "approve")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("Expected approve %d to be allowed", i+1)
		}
		if d.Remaining != int64(4-i) {
			t.Fatalf("Expected %d remaining, got %d", 4-i, d.Remaining)
		}
	}

	d, err := bucket.Take(ctx, "admin:1", "approve")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("Expected approve to be denied once the bucket is empty")
	}
	if d.Limit != 5 {
		t.Fatalf("Expected limit 5, got %d", d.Limit)
	}
}

func TestTokenBucket_CallersAndActionsAreIsolated(t *testing.T) {
	bucket := NewTokenBucket(setupTestRedis(t), 1, 1)
	ctx := context.Background()

	if ok, _ := bucket.Allow(ctx, "admin:1", "pull"); !ok {
		t.Fatal("Expected first pull to be allowed")
	}
	if ok, _ := bucket.Allow(ctx, "admin:1", "pull"); ok {
		t.Fatal("Expected second pull to be denied")
	}
	if ok, _ := bucket.Allow(ctx, "admin:2", "pull"); !ok {
		t.Fatal("Expected another caller to have its own bucket")
	}
	if ok, _ := bucket.Allow(ctx, "admin:1", "approve"); !ok {
		t.Fatal("Expected another action to have its own bucket")
	}
}

func TestTokenBucket_Refill(t *testing.T) {
	bucket := NewTokenBucket(setupTestRedis(t), 2, 2)
	ctx := context.Background()

	start := time.Unix(1_700_000_000, 0)
	bucket.now = func() time.Time { return start }
	for i := 0; i < 2; i++ {
		bucket.Allow(ctx, "key:x", "approve")
	}
	if ok, _ := bucket.Allow(ctx, "key:x", "approve"); ok {
		t.Fatal("Expected bucket to be empty")
	}

	bucket.now = func() time.Time { return start.Add(time.Minute) }
	remaining, err := bucket.Remaining(ctx, "key:x", "approve")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if remaining != 2 {
		t.Fatalf("Expected 2 tokens after a full window, got %d", remaining)
	}
}

func TestTokenBucket_Reset(t *testing.T) {
	bucket := NewTokenBucket(setupTestRedis(t), 3, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		bucket.Allow(ctx, "admin:9", "approve")
	}
	if err := bucket.Reset(ctx, "admin:9", "approve"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	remaining, err := bucket.Remaining(ctx, "admin:9", "approve")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if remaining != 3 {
		t.Fatalf("Expected 3 remaining tokens after reset, got %d", remaining)
	}
}
