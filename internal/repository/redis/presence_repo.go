package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"randomtalk-backend/internal/database"
	"randomtalk-backend/pkg/constants"
)

// PresenceRepository mirrors user online state in Redis. The users table
// stays authoritative for matchmaking; this cache serves cheap online
// counts and auto-expires entries whose owner stopped heartbeating.
type PresenceRepository struct {
	client *database.RedisClient
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{client: client}
}

func presenceKey(userID uuid.UUID) string {
	return fmt.Sprintf("presence:%s", userID)
}

// SetUserOnline marks user as online with a TTL refreshed by heartbeats
func (r *PresenceRepository) SetUserOnline(ctx context.Context, userID uuid.UUID) error {
	err := r.client.Client.Set(ctx, presenceKey(userID), "online", constants.PresenceTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to set user online: %w", err)
	}

	err = r.client.Client.SAdd(ctx, "presence:online", userID.String()).Err()
	if err != nil {
		return fmt.Errorf("failed to add to online set: %w", err)
	}

	return nil
}

// SetUserOffline marks user as offline
func (r *PresenceRepository) SetUserOffline(ctx context.Context, userID uuid.UUID) error {
	err := r.client.Client.Del(ctx, presenceKey(userID)).Err()
	if err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}

	err = r.client.Client.SRem(ctx, "presence:online", userID.String()).Err()
	if err != nil {
		return fmt.Errorf("failed to remove from online set: %w", err)
	}

	return nil
}

// IsUserOnline checks if user is currently online
func (r *PresenceRepository) IsUserOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	exists, err := r.client.Client.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return exists > 0, nil
}

// RefreshPresence keeps user online (heartbeat)
func (r *PresenceRepository) RefreshPresence(ctx context.Context, userID uuid.UUID) error {
	err := r.client.Client.Expire(ctx, presenceKey(userID), constants.PresenceTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

// GetOnlineCount returns number of online users
func (r *PresenceRepository) GetOnlineCount(ctx context.Context) (int64, error) {
	count, err := r.client.Client.SCard(ctx, "presence:online").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count online users: %w", err)
	}
	return count, nil
}

// ExpireStale removes online-set members whose presence key has lapsed.
// Called periodically; SMEMBERS is acceptable at this system's scale.
func (r *PresenceRepository) ExpireStale(ctx context.Context) ([]uuid.UUID, error) {
	members, err := r.client.Client.SMembers(ctx, "presence:online").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list online users: %w", err)
	}

	var stale []uuid.UUID
	for _, member := range members {
		userID, err := uuid.Parse(member)
		if err != nil {
			r.client.Client.SRem(ctx, "presence:online", member)
			continue
		}
		exists, err := r.client.Client.Exists(ctx, presenceKey(userID)).Result()
		if err != nil {
			return stale, fmt.Errorf("failed to check presence: %w", err)
		}
		if exists == 0 {
			r.client.Client.SRem(ctx, "presence:online", member)
			stale = append(stale, userID)
		}
	}

	return stale, nil
}

// IsDegraded returns true if Redis is in degraded mode
func (r *PresenceRepository) IsDegraded() bool {
	return r.client.IsDegraded()
}
