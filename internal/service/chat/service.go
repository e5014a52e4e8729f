// Package chat persists in-call text messages and serves their history.
// Access is restricted to the call's two parties.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"randomtalk-backend/internal/domain"
	"randomtalk-backend/pkg/constants"
)

// MessageStore is the slice of the message repository the chat needs.
type MessageStore interface {
	Save(message *domain.ChatMessage) error
	GetByCall(callID uuid.UUID) ([]*domain.ChatMessage, error)
	DeleteByCall(callID uuid.UUID) error
}

// CallAuthorizer verifies call membership. call.Service satisfies it.
type CallAuthorizer interface {
	Authorize(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error)
}

// UserStore resolves sender identities.
type UserStore interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// Recorder receives chat metrics. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordChatMessage()
}

// ErrEmptyMessage rejects blank or whitespace-only content.
var ErrEmptyMessage = fmt.Errorf("message content is empty")

// ErrMessageTooLong rejects content over the length cap.
var ErrMessageTooLong = fmt.Errorf("message content exceeds %d characters", constants.MaxChatMessageLength)

// Service handles chat business logic
type Service struct {
	messages MessageStore
	calls    CallAuthorizer
	users    UserStore
	metrics  Recorder
	now      func() time.Time
}

// NewService creates a new chat service
func NewService(messages MessageStore, calls CallAuthorizer, users UserStore, metrics Recorder) *Service {
	return &Service{
		messages: messages,
		calls:    calls,
		users:    users,
		metrics:  metrics,
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SaveMessage validates and persists a message with a server-assigned
// timestamp and the sender's display name.
func (s *Service) SaveMessage(ctx context.Context, callID, senderID uuid.UUID, content string) (*domain.ChatMessage, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	if len(content) > constants.MaxChatMessageLength {
		return nil, ErrMessageTooLong
	}

	if _, err := s.calls.Authorize(ctx, callID, senderID); err != nil {
		return nil, err
	}
	sender, err := s.users.GetByID(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sender: %w", err)
	}

	message := &domain.ChatMessage{
		MessageID:  uuid.New(),
		CallID:     callID,
		SenderID:   senderID,
		SenderName: sender.Username,
		Content:    content,
		SentAt:     s.now(),
	}
	if err := s.messages.Save(message); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordChatMessage()
	}
	return message, nil
}

// History returns a call's messages in send order.
func (s *Service) History(ctx context.Context, callID, userID uuid.UUID) ([]*domain.ChatMessage, error) {
	if _, err := s.calls.Authorize(ctx, callID, userID); err != nil {
		return nil, err
	}
	messages, err := s.messages.GetByCall(callID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return messages, nil
}

// Clear deletes a call's message history.
func (s *Service) Clear(ctx context.Context, callID, userID uuid.UUID) error {
	if _, err := s.calls.Authorize(ctx, callID, userID); err != nil {
		return err
	}
	if err := s.messages.DeleteByCall(callID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	return nil
}
