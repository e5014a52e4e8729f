package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents an anonymous user entity.
// Maps to CockroachDB users table. Accounts are created with a generated
// handle and throwaway credentials; there is no profile beyond that.
type User struct {
	UserID         uuid.UUID  `json:"user_id" db:"user_id"`
	Username       string     `json:"username" db:"username"`
	PasswordHash   string     `json:"-" db:"password_hash"` // Never expose in JSON
	Online         bool       `json:"online" db:"online"`
	LastSeen       time.Time  `json:"last_seen" db:"last_seen"`
	LookingForCall bool       `json:"looking_for_call" db:"looking_for_call"`
	CurrentCallID  *uuid.UUID `json:"current_call_id,omitempty" db:"current_call_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// Available reports whether the user can be bound into a brand-new call:
// online with no current call.
func (u *User) Available() bool {
	return u.Online && u.CurrentCallID == nil
}

// UserResponse is the safe user representation returned to clients
type UserResponse struct {
	UserID    uuid.UUID `json:"user_id"`
	Username  string    `json:"username"`
	Online    bool      `json:"online"`
	LastSeen  time.Time `json:"last_seen"`
	CreatedAt time.Time `json:"created_at"`
}

// ToResponse converts User to UserResponse (removes sensitive data)
func (u *User) ToResponse() *UserResponse {
	return &UserResponse{
		UserID:    u.UserID,
		Username:  u.Username,
		Online:    u.Online,
		LastSeen:  u.LastSeen,
		CreatedAt: u.CreatedAt,
	}
}
