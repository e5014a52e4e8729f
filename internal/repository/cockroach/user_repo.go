package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"randomtalk-backend/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = domain.ErrNotFound

const userColumns = `user_id, username, password_hash, online, last_seen, looking_for_call, current_call_id, created_at`

// UserRepository handles user data operations in CockroachDB.
// The users row is the authoritative source for all matching state
// (online flag, looking flag, current call binding).
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(row pgx.Row) (*domain.User, error) {
	user := &domain.User{}
	err := row.Scan(
		&user.UserID,
		&user.Username,
		&user.PasswordHash,
		&user.Online,
		&user.LastSeen,
		&user.LookingForCall,
		&user.CurrentCallID,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return user, nil
}

// Create inserts a new user
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (user_id, username, password_hash, online, last_seen, looking_for_call)
		VALUES ($1, $2, $3, $4, $5, false)
		RETURNING created_at
	`

	err := r.pool.QueryRow(ctx, query,
		user.UserID,
		user.Username,
		user.PasswordHash,
		user.Online,
		user.LastSeen,
	).Scan(&user.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE user_id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, userID))
}

// GetByUsername retrieves a user by username
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return scanUser(r.pool.QueryRow(ctx, query, username))
}

// UsernameExists checks whether a username is already taken
func (r *UserRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}
	return exists, nil
}

// SetOnline marks the user online and refreshes last_seen
func (r *UserRepository) SetOnline(ctx context.Context, userID uuid.UUID, now time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET online = true, last_seen = $2 WHERE user_id = $1`,
		userID, now)
	if err != nil {
		return fmt.Errorf("failed to set user online: %w", err)
	}
	return nil
}

// SetOffline marks the user offline. The looking flag is cleared so an
// offline user never appears in tier-1 candidate sets.
func (r *UserRepository) SetOffline(ctx context.Context, userID uuid.UUID, now time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET online = false, looking_for_call = false, last_seen = $2 WHERE user_id = $1`,
		userID, now)
	if err != nil {
		return fmt.Errorf("failed to set user offline: %w", err)
	}
	return nil
}

// SetLookingForCall updates the looking flag and refreshes last_seen
func (r *UserRepository) SetLookingForCall(ctx context.Context, userID uuid.UUID, looking bool, now time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET looking_for_call = $2, last_seen = $3 WHERE user_id = $1`,
		userID, looking, now)
	if err != nil {
		return fmt.Errorf("failed to update looking flag: %w", err)
	}
	return nil
}

// ListSeeking returns tier-1 candidates: online users actively looking
// for a call who hold a waiting call, excluding the requester. Ordering
// is stable so matching is deterministic.
func (r *UserRepository) ListSeeking(ctx context.Context, exclude uuid.UUID) ([]*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE looking_for_call = true
		  AND online = true
		  AND current_call_id IS NOT NULL
		  AND user_id != $1
		ORDER BY created_at, user_id
	`
	return r.listUsers(ctx, query, exclude)
}

// ListRecentlyActive returns tier-2 candidates: online users seen since
// the given instant who are not looking and hold no call.
func (r *UserRepository) ListRecentlyActive(ctx context.Context, since time.Time, exclude uuid.UUID) ([]*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE online = true
		  AND last_seen >= $2
		  AND looking_for_call = false
		  AND current_call_id IS NULL
		  AND user_id != $1
		ORDER BY created_at, user_id
	`
	rows, err := r.pool.Query(ctx, query, exclude, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list recently active users: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

// ListOnline returns tier-3 candidates: every online user except the requester.
func (r *UserRepository) ListOnline(ctx context.Context, exclude uuid.UUID) ([]*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE online = true
		  AND user_id != $1
		ORDER BY created_at, user_id
	`
	return r.listUsers(ctx, query, exclude)
}

func (r *UserRepository) listUsers(ctx context.Context, query string, args ...any) ([]*domain.User, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

func collectUsers(rows pgx.Rows) ([]*domain.User, error) {
	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read users: %w", err)
	}
	return users, nil
}
