package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"randomtalk-backend/internal/domain"
)

// The view types expose slices of the Store under the same method names
// as the database-backed repositories, so a Store can stand in for any
// of them behind the service interfaces.

// CallRepo adapts the Store to the call repository surface.
type CallRepo struct{ s *Store }

// MessageRepo adapts the Store to the message repository surface.
type MessageRepo struct{ s *Store }

// Calls returns the call repository view.
func (s *Store) Calls() *CallRepo { return &CallRepo{s: s} }

// Messages returns the message repository view.
func (s *Store) Messages() *MessageRepo { return &MessageRepo{s: s} }

func (r *CallRepo) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	return r.s.GetCallByID(ctx, callID)
}

func (r *CallRepo) CreateCall(ctx context.Context, initiatorID uuid.UUID, now time.Time) (*domain.Call, error) {
	return r.s.CreateCall(ctx, initiatorID, now)
}

func (r *CallRepo) Terminate(ctx context.Context, userID uuid.UUID, status domain.CallStatus, now time.Time) (*domain.Termination, error) {
	return r.s.Terminate(ctx, userID, status, now)
}

func (r *MessageRepo) Save(message *domain.ChatMessage) error {
	return r.s.Save(message)
}

func (r *MessageRepo) GetByCall(callID uuid.UUID) ([]*domain.ChatMessage, error) {
	return r.s.GetMessagesByCall(callID)
}

func (r *MessageRepo) DeleteByCall(callID uuid.UUID) error {
	return r.s.DeleteMessagesByCall(callID)
}
