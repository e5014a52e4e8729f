package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

func TestGenerateAndValidateAccessToken(t *testing.T) {
	manager := NewJWTManager(testSecret, 15*time.Minute, 24*time.Hour)

	userID := uuid.New()
	token, err := manager.GenerateAccessToken(userID, "User_ABC123")
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := manager.ValidateToken(token)
	assert.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "User_ABC123", claims.Username)
	assert.Contains(t, claims.Audience, Audience)
}

func TestValidateExpiredToken(t *testing.T) {
	manager := NewJWTManager(testSecret, -1*time.Minute, 24*time.Hour)

	token, err := manager.GenerateAccessToken(uuid.New(), "User_EXPIRED")
	assert.NoError(t, err)

	_, err = manager.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	manager := NewJWTManager(testSecret, 15*time.Minute, 24*time.Hour)
	other := NewJWTManager("another-secret-key-also-32-characters!!", 15*time.Minute, 24*time.Hour)

	token, err := manager.GenerateAccessToken(uuid.New(), "User_X")
	assert.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func TestExtractUserID(t *testing.T) {
	manager := NewJWTManager(testSecret, 15*time.Minute, 24*time.Hour)

	userID := uuid.New()
	token, err := manager.GenerateAccessToken(userID, "User_Y")
	assert.NoError(t, err)

	extracted, err := manager.ExtractUserID(token)
	assert.NoError(t, err)
	assert.Equal(t, userID, extracted)
}
