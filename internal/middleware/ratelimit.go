package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"randomtalk-backend/pkg/logger"
	"randomtalk-backend/pkg/response"
)

// RateLimiter is a fixed-window Redis counter. Anonymous accounts are
// free to create, so the register endpoint in particular needs a cap
// per client IP.
type RateLimiter struct {
	redisClient *redis.Client
	name        string
	requests    int
	window      time.Duration
}

// NewRateLimiter creates a limiter allowing requests per window. The
// name keeps counters of different endpoints apart in Redis.
func NewRateLimiter(redisClient *redis.Client, name string, requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		name:        name,
		requests:    requests,
		window:      window,
	}
}

// Middleware returns the Gin middleware enforcing the limit.
// Authenticated requests are counted per user, anonymous ones per
// client IP. When Redis is unreachable the request passes.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var identifier string
		if userID, exists := c.Get("user_id"); exists {
			identifier = fmt.Sprintf("user:%v", userID)
		} else {
			identifier = fmt.Sprintf("ip:%s", c.ClientIP())
		}

		allowed, remaining, retryAfter, err := rl.allow(c.Request.Context(), identifier)
		if err != nil {
			logger.Warn("rate limit check failed, letting request through",
				zap.String("limiter", rl.name), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(retryAfter).Unix(), 10))

		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter/time.Second)))
			response.Error(c, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
			c.Abort()
			return
		}

		c.Next()
	}
}

// allow increments the identifier's window counter and reports whether
// the request fits. The first hit of a window arms the key's expiry.
func (rl *RateLimiter) allow(ctx context.Context, identifier string) (bool, int, time.Duration, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", rl.name, identifier)

	count, err := rl.redisClient.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, 0, fmt.Errorf("failed to count request: %w", err)
	}
	if count == 1 {
		if err := rl.redisClient.Expire(ctx, key, rl.window).Err(); err != nil {
			return false, 0, 0, fmt.Errorf("failed to arm window expiry: %w", err)
		}
	}

	retryAfter, err := rl.redisClient.TTL(ctx, key).Result()
	if err != nil {
		return false, 0, 0, fmt.Errorf("failed to read window ttl: %w", err)
	}
	if retryAfter < 0 {
		retryAfter = rl.window
	}

	remaining := rl.requests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return count <= int64(rl.requests), remaining, retryAfter, nil
}
