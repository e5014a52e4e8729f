// Package user implements anonymous account provisioning. Registration
// takes no input: the server generates a throwaway identity and hands
// back JWT tokens, so a visitor can start matching with one request.
package user

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"randomtalk-backend/internal/domain"
	"randomtalk-backend/pkg/jwt"
	"randomtalk-backend/pkg/logger"
)

const (
	usernamePrefix       = "User"
	usernameSuffixLen    = 6
	generatedPasswordLen = 12

	usernameAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// Username collisions are near-impossible over a 36^6 space, but the
	// generator still retries a few times before giving up.
	maxUsernameAttempts = 5
)

// UserRepository is the slice of the user store this service needs.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
}

// Service handles user provisioning business logic
type Service struct {
	users      UserRepository
	jwtManager *jwt.JWTManager
	now        func() time.Time
}

// NewService creates a new user service
func NewService(users UserRepository, jwtManager *jwt.JWTManager) *Service {
	return &Service{
		users:      users,
		jwtManager: jwtManager,
		now:        time.Now,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// RegisterOutput contains the provisioned identity and its tokens.
type RegisterOutput struct {
	User         *domain.UserResponse
	AccessToken  string
	RefreshToken string
}

// Register provisions an anonymous user with generated credentials and
// returns JWT tokens. The new user starts online.
func (s *Service) Register(ctx context.Context) (*RegisterOutput, error) {
	username, err := s.generateUsername(ctx)
	if err != nil {
		return nil, err
	}
	password, err := randomString(passwordAlphabet, generatedPasswordLen)
	if err != nil {
		return nil, fmt.Errorf("failed to generate password: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		UserID:       uuid.New(),
		Username:     username,
		PasswordHash: string(hash),
		Online:       true,
		LastSeen:     s.now(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrUsernameExists) {
			return nil, domain.ErrUsernameExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	accessToken, err := s.jwtManager.GenerateAccessToken(user.UserID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	logger.Info("anonymous user registered",
		zap.String("user_id", user.UserID.String()),
		zap.String("username", user.Username))

	return &RegisterOutput{
		User:         user.ToResponse(),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// RefreshOutput contains the renewed access token.
type RefreshOutput struct {
	AccessToken string
}

// Refresh exchanges a valid refresh token for a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*RefreshOutput, error) {
	claims, err := s.jwtManager.ValidateToken(refreshToken)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	accessToken, err := s.jwtManager.GenerateAccessToken(user.UserID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	return &RefreshOutput{AccessToken: accessToken}, nil
}

// Get retrieves a user by ID.
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.users.GetByID(ctx, userID)
}

func (s *Service) generateUsername(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxUsernameAttempts; attempt++ {
		suffix, err := randomString(usernameAlphabet, usernameSuffixLen)
		if err != nil {
			return "", fmt.Errorf("failed to generate username: %w", err)
		}
		username := fmt.Sprintf("%s_%s", usernamePrefix, suffix)

		exists, err := s.users.UsernameExists(ctx, username)
		if err != nil {
			return "", fmt.Errorf("failed to check username: %w", err)
		}
		if !exists {
			return username, nil
		}
	}
	return "", fmt.Errorf("failed to find a free username after %d attempts", maxUsernameAttempts)
}

func randomString(alphabet string, length int) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
