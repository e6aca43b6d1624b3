package rate

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Limiter admits at most a fixed number of events per key and window.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// WindowLimiter is a fixed window counter kept in process memory.
type WindowLimiter struct {
	mu              sync.Mutex
	limit           int
	window          time.Duration
	items           map[string]*windowEntry
	lastCleanup     time.Time
	cleanupInterval time.Duration
	now             func() time.Time
}

type windowEntry struct {
	start time.Time
	count int
}

func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		limit:           limit,
		window:          window,
		items:           make(map[string]*windowEntry),
		lastCleanup:     time.Now(),
		cleanupInterval: window,
		now:             time.Now,
	}
}

func (l *WindowLimiter) Allow(_ context.Context, key string) bool {
	if l.limit <= 0 {
		return true
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeCleanup(now)

	entry, ok := l.items[key]
	if !ok || now.Sub(entry.start) >= l.window {
		l.items[key] = &windowEntry{start: now, count: 1}
		return true
	}
	if entry.count >= l.limit {
		return false
	}
	entry.count++
	return true
}

func (l *WindowLimiter) maybeCleanup(now time.Time) {
	if l.cleanupInterval <= 0 || l.window <= 0 {
		return
	}
	if !l.lastCleanup.IsZero() && now.Sub(l.lastCleanup) < l.cleanupInterval {
		return
	}
	for key, entry := range l.items {
		if now.Sub(entry.start) >= l.window {
			delete(l.items, key)
		}
	}
	l.lastCleanup = now
}

// RedisWindowLimiter shares the fixed window counter across API replicas.
// Redis errors fail open.
type RedisWindowLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewRedisWindowLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisWindowLimiter {
	return &RedisWindowLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

func (l *RedisWindowLimiter) Allow(ctx context.Context, key string) bool {
	if l.limit <= 0 {
		return true
	}
	k := l.prefix + key
	n, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return true
	}
	if n == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			l.client.Del(ctx, k)
		}
		return true
	}
	if n <= int64(l.limit) {
		return true
	}
	// A counter left without a TTL would never reset.
	if ttl, err := l.client.TTL(ctx, k).Result(); err == nil && ttl < 0 {
		l.client.Expire(ctx, k, l.window)
	}
	return false
}
