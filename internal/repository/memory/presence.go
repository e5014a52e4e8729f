package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"randomtalk-backend/pkg/constants"
)

// PresenceCache is the in-process stand-in for the Redis presence
// mirror, used when Redis is unavailable.
type PresenceCache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]time.Time
	now     func() time.Time
}

// NewPresenceCache creates an empty presence cache.
func NewPresenceCache() *PresenceCache {
	return &PresenceCache{
		entries: make(map[uuid.UUID]time.Time),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (c *PresenceCache) SetClock(now func() time.Time) {
	c.now = now
}

// SetUserOnline records the user with a fresh TTL.
func (c *PresenceCache) SetUserOnline(ctx context.Context, userID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = c.now().Add(constants.PresenceTTL)
	return nil
}

// SetUserOffline drops the user's entry.
func (c *PresenceCache) SetUserOffline(ctx context.Context, userID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	return nil
}

// RefreshPresence extends the user's TTL, matching a heartbeat.
func (c *PresenceCache) RefreshPresence(ctx context.Context, userID uuid.UUID) error {
	return c.SetUserOnline(ctx, userID)
}

// GetOnlineCount counts entries whose TTL has not lapsed.
func (c *PresenceCache) GetOnlineCount(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var count int64
	for _, expiresAt := range c.entries {
		if expiresAt.After(now) {
			count++
		}
	}
	return count, nil
}

// ExpireStale removes lapsed entries and returns their owners.
func (c *PresenceCache) ExpireStale(ctx context.Context) ([]uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var stale []uuid.UUID
	for userID, expiresAt := range c.entries {
		if !expiresAt.After(now) {
			delete(c.entries, userID)
			stale = append(stale, userID)
		}
	}
	return stale, nil
}

// IsDegraded always reports false: the in-process cache cannot lose
// its backing store.
func (c *PresenceCache) IsDegraded() bool {
	return false
}
