package rate

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"polyatop/backend/internal/cache"
)

func TestWindowLimiterBlocksAfterLimit(t *testing.T) {
	l := NewWindowLimiter(2, time.Minute)
	ctx := context.Background()
	if !l.Allow(ctx, "u1") || !l.Allow(ctx, "u1") {
		t.Fatalf("expected first two calls to pass")
	}
	if l.Allow(ctx, "u1") {
		t.Fatalf("expected third call to be limited")
	}
	if !l.Allow(ctx, "u2") {
		t.Fatalf("expected other key to pass")
	}
}

func TestWindowLimiterResetsAfterWindow(t *testing.T) {
	l := NewWindowLimiter(1, time.Minute)
	now := time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	if !l.Allow(ctx, "u1") {
		t.Fatalf("expected first call to pass")
	}
	if l.Allow(ctx, "u1") {
		t.Fatalf("expected second call to be limited")
	}
	now = now.Add(61 * time.Second)
	if !l.Allow(ctx, "u1") {
		t.Fatalf("expected call in new window to pass")
	}
}

func TestWindowLimiterZeroLimitDisables(t *testing.T) {
	l := NewWindowLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		if !l.Allow(context.Background(), "u1") {
			t.Fatalf("expected unlimited limiter to pass")
		}
	}
}

func TestRedisWindowLimiter(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := cache.NewRedisClient(ctx, url)
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	defer client.Close()

	key := "user:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	t.Cleanup(func() { client.Del(context.Background(), "polyatop:test:rl:"+key) })

	l := NewRedisWindowLimiter(client, "polyatop:test:rl:", 2, time.Minute)
	if !l.Allow(ctx, key) || !l.Allow(ctx, key) {
		t.Fatalf("expected first two calls to pass")
	}
	if l.Allow(ctx, key) {
		t.Fatalf("expected third call to be limited")
	}
}

func TestRedisWindowLimiterRepairsMissingTTL(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := cache.NewRedisClient(ctx, url)
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	defer client.Close()

	key := "user:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	full := "polyatop:test:rl:" + key
	t.Cleanup(func() { client.Del(context.Background(), full) })

	// Counter over the limit with no expiry, as left by a failed EXPIRE.
	if err := client.Set(ctx, full, 5, 0).Err(); err != nil {
		t.Fatalf("seed counter: %v", err)
	}
	l := NewRedisWindowLimiter(client, "polyatop:test:rl:", 2, time.Minute)
	if l.Allow(ctx, key) {
		t.Fatalf("expected call over the limit to be refused")
	}
	ttl, err := client.TTL(ctx, full).Result()
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected the counter to get the window TTL, got %s", ttl)
	}
}
