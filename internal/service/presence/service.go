// Package presence keeps user availability state. The users table is
// authoritative; Redis carries a TTL mirror so missed heartbeats from
// crashed clients eventually surface as offline rows.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"randomtalk-backend/internal/domain"
	pkgcontext "randomtalk-backend/pkg/context"
	"randomtalk-backend/pkg/logger"
)

// UserStore is the slice of the user repository the presence service needs.
type UserStore interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	SetOnline(ctx context.Context, userID uuid.UUID, now time.Time) error
	SetOffline(ctx context.Context, userID uuid.UUID, now time.Time) error
	SetLookingForCall(ctx context.Context, userID uuid.UUID, looking bool, now time.Time) error
}

// Cache is the Redis presence mirror. A degraded cache keeps the
// service working off the users table alone.
type Cache interface {
	SetUserOnline(ctx context.Context, userID uuid.UUID) error
	SetUserOffline(ctx context.Context, userID uuid.UUID) error
	RefreshPresence(ctx context.Context, userID uuid.UUID) error
	GetOnlineCount(ctx context.Context) (int64, error)
	ExpireStale(ctx context.Context) ([]uuid.UUID, error)
	IsDegraded() bool
}

// Service handles presence business logic
type Service struct {
	users UserStore
	cache Cache
	now   func() time.Time
}

// NewService creates a new presence service
func NewService(users UserStore, cache Cache) *Service {
	return &Service{
		users: users,
		cache: cache,
		now:   time.Now,
	}
}

// SetOnline marks a user online in the store and the cache.
func (s *Service) SetOnline(ctx context.Context, userID uuid.UUID) error {
	if err := s.users.SetOnline(ctx, userID, s.now()); err != nil {
		return fmt.Errorf("failed to mark user online: %w", err)
	}
	if err := s.cache.SetUserOnline(ctx, userID); err != nil {
		logger.Warn("presence cache update failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
	return nil
}

// SetOffline marks a user offline. The store clears the looking flag so
// the user drops out of every candidate tier.
func (s *Service) SetOffline(ctx context.Context, userID uuid.UUID) error {
	if err := s.users.SetOffline(ctx, userID, s.now()); err != nil {
		return fmt.Errorf("failed to mark user offline: %w", err)
	}
	if err := s.cache.SetUserOffline(ctx, userID); err != nil {
		logger.Warn("presence cache update failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
	return nil
}

// Heartbeat refreshes last_seen and the cache TTL. Clients send it
// periodically while connected.
func (s *Service) Heartbeat(ctx context.Context, userID uuid.UUID) error {
	if err := s.users.SetOnline(ctx, userID, s.now()); err != nil {
		return fmt.Errorf("failed to refresh user activity: %w", err)
	}
	if err := s.cache.RefreshPresence(ctx, userID); err != nil {
		logger.Warn("presence cache refresh failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
	return nil
}

// SetLooking updates the user's looking-for-call flag.
func (s *Service) SetLooking(ctx context.Context, userID uuid.UUID, looking bool) error {
	if err := s.users.SetLookingForCall(ctx, userID, looking, s.now()); err != nil {
		return fmt.Errorf("failed to update looking flag: %w", err)
	}
	return nil
}

// Status returns the user's current availability.
func (s *Service) Status(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

// OnlineCount returns the number of users the cache considers online.
func (s *Service) OnlineCount(ctx context.Context) (int64, error) {
	return s.cache.GetOnlineCount(ctx)
}

// ReconcileStale sweeps cache entries whose TTL lapsed and marks the
// owners offline in the store. Run periodically from main.
func (s *Service) ReconcileStale(ctx context.Context) {
	if s.cache.IsDegraded() {
		return
	}
	staleIDs, err := s.cache.ExpireStale(ctx)
	if err != nil {
		logger.Warn("stale presence sweep failed", zap.Error(err))
		return
	}
	for _, userID := range staleIDs {
		if err := s.users.SetOffline(ctx, userID, s.now()); err != nil {
			logger.Warn("failed to mark stale user offline",
				zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
	if len(staleIDs) > 0 {
		logger.Info("marked stale users offline", zap.Int("count", len(staleIDs)))
	}
}

// StartReconciler runs ReconcileStale on the given interval until the
// context is cancelled.
func (s *Service) StartReconciler(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepCtx, cancel := pkgcontext.WithMediumTimeout(ctx)
				s.ReconcileStale(sweepCtx)
				cancel()
			}
		}
	}()
}
