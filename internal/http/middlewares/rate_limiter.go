package middlewares

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// limiterRedis is the slice of the redis client the limiter needs; tests
// substitute a fake.
type limiterRedis interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RateLimiter enforces a fixed-window request limit per derived key, backed
// by redis so the window survives restarts and is shared across replicas.
type RateLimiter struct {
	rdb    limiterRedis
	window time.Duration
	limit  int
}

func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limit:  limit,
		window: window,
	}

	// keep the interface field nil when no client is wired
	if rdb != nil {
		rl.rdb = rdb
	}

	return rl
}

// Middleware returns a gin.HandlerFunc enforcing the limit under the given
// scope. Redis failures fail open: a broken limiter must not take the login
// endpoint down with it.
func (rl *RateLimiter) Middleware(scope string, keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.rdb == nil {
			c.Next()
			return
		}

		key := keyFn(c)

		if key == "" {
			// fallback to IP if key cannot be derived
			key = clientIP(c)
		}

		rkey := "rl:" + scope + ":" + key

		count, err := rl.rdb.Incr(c.Request.Context(), rkey).Result()

		if err != nil {
			slog.Default().WarnContext(c.Request.Context(), "rate limiter unavailable", "scope", scope, "err", err)
			c.Next()
			return
		}

		if count == 1 {
			if err := rl.rdb.Expire(c.Request.Context(), rkey, rl.window).Err(); err != nil {
				// A counter without a TTL would never reset. Drop it and
				// fail open rather than lock the key out permanently.
				slog.Default().WarnContext(c.Request.Context(), "rate limiter unavailable", "scope", scope, "err", err)
				_ = rl.rdb.Del(c.Request.Context(), rkey).Err()
				c.Next()
				return
			}
		}

		if count > int64(rl.limit) {
			ttl, ttlErr := rl.rdb.TTL(c.Request.Context(), rkey).Result()

			retryAfter := int(rl.window.Seconds())

			if ttlErr == nil && ttl > 0 {
				retryAfter = int(ttl.Seconds())
			}

			c.Header("Retry-After", strconv.Itoa(retryAfter))

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "rate_limited",
					"message": "Too many requests. Please try again shortly.",
				},
			})

			return
		}

		c.Next()
	}
}

// for unauthenticated endpoints: rate limit by IP
func KeyByIP(c *gin.Context) string {
	return clientIP(c)
}

func clientIP(c *gin.Context) string {
	// Gin's ClientIP respects X-Forwarded-For / X-Real-IP if configured.
	ip := c.ClientIP()

	// Normalize an accidental host:port form

	host, _, err := net.SplitHostPort(ip)

	if err == nil && host != "" {
		return host
	}

	return ip
}
