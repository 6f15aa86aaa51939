package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
	KeyPrefix   string
}

// DefaultRateLimitConfig returns default rate limit configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests: 120,
		Window:      time.Minute,
		KeyPrefix:   "ratelimit",
	}
}

// Limiter counts one request against key.
type Limiter interface {
	Take(ctx context.Context, key string) (remaining int, allowed bool, err error)
}

// RedisLimiter is a fixed-window counter shared by every instance.
type RedisLimiter struct {
	client *redis.Client
	config RateLimitConfig
}

// windowScript counts one hit and arms the window in a single round trip. A
// key left without a TTL gets one on its next hit.
var windowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// NewRedisLimiter returns a limiter backed by an atomic Redis counter.
func NewRedisLimiter(client *redis.Client, config RateLimitConfig) *RedisLimiter {
	return &RedisLimiter{client: client, config: config}
}

func (l *RedisLimiter) Take(ctx context.Context, key string) (int, bool, error) {
	key = l.config.KeyPrefix + ":" + key

	result, err := windowScript.Run(ctx, l.client, []string{key}, l.config.Window.Milliseconds()).Int64()
	if err != nil {
		return 0, false, err
	}

	remaining := max(0, l.config.MaxRequests-int(result))
	return remaining, result <= int64(l.config.MaxRequests), nil
}

// LocalLimiter is a per-process token bucket per key, used when Redis is disabled.
type LocalLimiter struct {
	mu       sync.Mutex
	config   RateLimitConfig
	limit    rate.Limit
	buckets  map[string]*bucket
	lastScan time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter returns an in-memory limiter allowing MaxRequests per Window.
func NewLocalLimiter(config RateLimitConfig) *LocalLimiter {
	return &LocalLimiter{
		config:  config,
		limit:   rate.Every(config.Window / time.Duration(max(1, config.MaxRequests))),
		buckets: make(map[string]*bucket),
	}
}

func (l *LocalLimiter) Take(_ context.Context, key string) (int, bool, error) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastScan) > l.config.Window {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > l.config.Window {
				delete(l.buckets, k)
			}
		}
		l.lastScan = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.config.MaxRequests)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	allowed := b.limiter.AllowN(now, 1)
	return max(0, int(b.limiter.TokensAt(now))), allowed, nil
}

// RateLimit creates a per-IP rate limiting middleware.
func RateLimit(limiter Limiter, config RateLimitConfig, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		remaining, allowed, err := limiter.Take(c.Context(), c.IP())
		if err != nil {
			logger.Error("rate limit backend error", zap.Error(err))
			// Fail open: allow request if the backend is unavailable
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(config.MaxRequests))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(config.Window).Unix(), 10))

		if !allowed {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}

		return c.Next()
	}
}
