package user

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/bcrypt"

	"randomtalk-backend/internal/domain"
	"randomtalk-backend/pkg/jwt"
)

// Mocks
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	args := m.Called(ctx, username)
	return args.Bool(0), args.Error(1)
}

func newManager() *jwt.JWTManager {
	return jwt.NewJWTManager("test-secret-key-with-enough-length", 15*time.Minute, 30*24*time.Hour)
}

func TestRegister_GeneratesAnonymousIdentity(t *testing.T) {
	repo := new(MockUserRepository)
	svc := NewService(repo, newManager())

	var created *domain.User
	repo.On("UsernameExists", mock.Anything, mock.Anything).Return(false, nil)
	repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.User")).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(*domain.User)
		}).
		Return(nil)

	out, err := svc.Register(context.Background())
	assert.NoError(t, err)
	assert.NotEmpty(t, out.AccessToken)
	assert.NotEmpty(t, out.RefreshToken)

	assert.Regexp(t, regexp.MustCompile(`^User_[A-Z0-9]{6}$`), out.User.Username)
	assert.True(t, created.Online)
	assert.NotEmpty(t, created.PasswordHash)
	// Stored hash is bcrypt, never the raw password.
	assert.NoError(t, func() error {
		_, err := bcrypt.Cost([]byte(created.PasswordHash))
		return err
	}())
}

func TestRegister_RetriesOnUsernameCollision(t *testing.T) {
	repo := new(MockUserRepository)
	svc := NewService(repo, newManager())

	repo.On("UsernameExists", mock.Anything, mock.Anything).Return(true, nil).Once()
	repo.On("UsernameExists", mock.Anything, mock.Anything).Return(false, nil).Once()
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	out, err := svc.Register(context.Background())
	assert.NoError(t, err)
	assert.NotNil(t, out.User)
	repo.AssertNumberOfCalls(t, "UsernameExists", 2)
}

func TestRegister_TokensCarryIdentity(t *testing.T) {
	repo := new(MockUserRepository)
	manager := newManager()
	svc := NewService(repo, manager)

	repo.On("UsernameExists", mock.Anything, mock.Anything).Return(false, nil)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	out, err := svc.Register(context.Background())
	assert.NoError(t, err)

	claims, err := manager.ValidateToken(out.AccessToken)
	assert.NoError(t, err)
	assert.Equal(t, out.User.UserID, claims.UserID)
	assert.Equal(t, out.User.Username, claims.Username)
}

func TestRefresh(t *testing.T) {
	repo := new(MockUserRepository)
	manager := newManager()
	svc := NewService(repo, manager)

	user := &domain.User{UserID: uuid.New(), Username: "User_ABC123"}
	refreshToken, err := manager.GenerateRefreshToken(user.UserID)
	assert.NoError(t, err)

	repo.On("GetByID", mock.Anything, user.UserID).Return(user, nil)

	out, err := svc.Refresh(context.Background(), refreshToken)
	assert.NoError(t, err)

	claims, err := manager.ValidateToken(out.AccessToken)
	assert.NoError(t, err)
	assert.Equal(t, user.UserID, claims.UserID)
}

func TestRefresh_RejectsGarbageToken(t *testing.T) {
	repo := new(MockUserRepository)
	svc := NewService(repo, newManager())

	_, err := svc.Refresh(context.Background(), "not-a-token")
	assert.Error(t, err)
	repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}
