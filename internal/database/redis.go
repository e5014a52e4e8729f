package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"randomtalk-backend/pkg/logger"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// RedisClient wraps the Redis client with degraded mode support.
// Presence and pub/sub fanout are best-effort: when Redis is down the
// service keeps running on its authoritative store.
type RedisClient struct {
	Client       *redis.Client
	degradedMode bool
	mu           sync.RWMutex
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(cfg *RedisConfig) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{Client: client}, nil
}

// IsDegraded returns true if Redis is currently unreachable
func (r *RedisClient) IsDegraded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.degradedMode
}

func (r *RedisClient) setDegraded(degraded bool) {
	r.mu.Lock()
	changed := r.degradedMode != degraded
	r.degradedMode = degraded
	r.mu.Unlock()

	if changed {
		if degraded {
			logger.Warn("Redis entered degraded mode")
		} else {
			logger.Info("Redis recovered from degraded mode")
		}
	}
}

// StartHealthCheck pings Redis periodically and flips degraded mode
// accordingly. Run it in its own goroutine.
func (r *RedisClient) StartHealthCheck(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := r.Client.Ping(pingCtx).Err()
			cancel()
			r.setDegraded(err != nil)
		}
	}
}

// Close closes the Redis client
func (r *RedisClient) Close() error {
	return r.Client.Close()
}
