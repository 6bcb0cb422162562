package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter counts requests per key in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimit rejects a client that exceeds requestsPerMinute. Limiter errors
// fail open and are logged.
func RateLimit(limiter Limiter, requestsPerMinute int, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			ok, err := limiter.Allow(r.Context(), key, requestsPerMinute, time.Minute)
			if err != nil {
				logger.Warnw("Rate limiter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RedisLimiter shares counters across server instances.
type RedisLimiter struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	bucket := l.now().UnixNano() / int64(window)
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, bucket)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(limit), nil
}

// MemoryLimiter is the single-instance fallback when Redis is not configured.
type MemoryLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	now     func() time.Time
}

type client struct {
	count       int
	windowStart time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{clients: make(map[string]*client), now: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, exists := l.clients[key]
	if !exists || now.Sub(c.windowStart) >= window {
		if len(l.clients) > 10000 {
			l.prune(now, window)
		}
		l.clients[key] = &client{count: 1, windowStart: now}
		return limit > 0, nil
	}

	c.count++
	return c.count <= limit, nil
}

// prune drops expired windows; must hold mu.
func (l *MemoryLimiter) prune(now time.Time, window time.Duration) {
	for key, c := range l.clients {
		if now.Sub(c.windowStart) >= window {
			delete(l.clients, key)
		}
	}
}
