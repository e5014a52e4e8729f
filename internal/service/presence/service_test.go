package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"randomtalk-backend/internal/domain"
)

// Mocks
type MockUserStore struct {
	mock.Mock
}

func (m *MockUserStore) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserStore) SetOnline(ctx context.Context, userID uuid.UUID, now time.Time) error {
	args := m.Called(ctx, userID, now)
	return args.Error(0)
}

func (m *MockUserStore) SetOffline(ctx context.Context, userID uuid.UUID, now time.Time) error {
	args := m.Called(ctx, userID, now)
	return args.Error(0)
}

func (m *MockUserStore) SetLookingForCall(ctx context.Context, userID uuid.UUID, looking bool, now time.Time) error {
	args := m.Called(ctx, userID, looking, now)
	return args.Error(0)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) SetUserOnline(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockCache) SetUserOffline(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockCache) RefreshPresence(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockCache) GetOnlineCount(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCache) ExpireStale(ctx context.Context) ([]uuid.UUID, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockCache) IsDegraded() bool {
	args := m.Called()
	return args.Bool(0)
}

func newService(users *MockUserStore, cache *MockCache, now time.Time) *Service {
	svc := NewService(users, cache)
	svc.now = func() time.Time { return now }
	return svc
}

func TestSetOnline(t *testing.T) {
	users := new(MockUserStore)
	cache := new(MockCache)
	now := time.Now()
	svc := newService(users, cache, now)
	userID := uuid.New()

	users.On("SetOnline", mock.Anything, userID, now).Return(nil)
	cache.On("SetUserOnline", mock.Anything, userID).Return(nil)

	err := svc.SetOnline(context.Background(), userID)
	assert.NoError(t, err)
	users.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestSetOnline_CacheFailureIsNotFatal(t *testing.T) {
	users := new(MockUserStore)
	cache := new(MockCache)
	now := time.Now()
	svc := newService(users, cache, now)
	userID := uuid.New()

	users.On("SetOnline", mock.Anything, userID, now).Return(nil)
	cache.On("SetUserOnline", mock.Anything, userID).Return(errors.New("redis down"))

	err := svc.SetOnline(context.Background(), userID)
	assert.NoError(t, err)
}

func TestSetOnline_StoreFailureIsFatal(t *testing.T) {
	users := new(MockUserStore)
	cache := new(MockCache)
	now := time.Now()
	svc := newService(users, cache, now)
	userID := uuid.New()

	users.On("SetOnline", mock.Anything, userID, now).Return(errors.New("db down"))

	err := svc.SetOnline(context.Background(), userID)
	assert.Error(t, err)
	cache.AssertNotCalled(t, "SetUserOnline", mock.Anything, mock.Anything)
}

func TestHeartbeat(t *testing.T) {
	users := new(MockUserStore)
	cache := new(MockCache)
	now := time.Now()
	svc := newService(users, cache, now)
	userID := uuid.New()

	users.On("SetOnline", mock.Anything, userID, now).Return(nil)
	cache.On("RefreshPresence", mock.Anything, userID).Return(nil)

	err := svc.Heartbeat(context.Background(), userID)
	assert.NoError(t, err)
	users.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestReconcileStale(t *testing.T) {
	users := new(MockUserStore)
	cache := new(MockCache)
	now := time.Now()
	svc := newService(users, cache, now)

	stale := []uuid.UUID{uuid.New(), uuid.New()}
	cache.On("IsDegraded").Return(false)
	cache.On("ExpireStale", mock.Anything).Return(stale, nil)
	for _, id := range stale {
		users.On("SetOffline", mock.Anything, id, now).Return(nil)
	}

	svc.ReconcileStale(context.Background())
	users.AssertExpectations(t)
}

func TestReconcileStale_SkippedWhenDegraded(t *testing.T) {
	users := new(MockUserStore)
	cache := new(MockCache)
	svc := newService(users, cache, time.Now())

	cache.On("IsDegraded").Return(true)

	svc.ReconcileStale(context.Background())
	cache.AssertNotCalled(t, "ExpireStale", mock.Anything)
}
