package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"randomtalk-backend/internal/domain"
)

// Mocks
type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) Save(message *domain.ChatMessage) error {
	args := m.Called(message)
	return args.Error(0)
}

func (m *MockMessageStore) GetByCall(callID uuid.UUID) ([]*domain.ChatMessage, error) {
	args := m.Called(callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ChatMessage), args.Error(1)
}

func (m *MockMessageStore) DeleteByCall(callID uuid.UUID) error {
	args := m.Called(callID)
	return args.Error(0)
}

type MockCallAuthorizer struct {
	mock.Mock
}

func (m *MockCallAuthorizer) Authorize(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, callID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Call), args.Error(1)
}

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

func TestSaveMessage(t *testing.T) {
	messages := new(MockMessageStore)
	calls := new(MockCallAuthorizer)
	users := new(MockUserStore)
	svc := NewService(messages, calls, users, nil)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })

	callID := uuid.New()
	senderID := uuid.New()
	sender := &domain.User{UserID: senderID, Username: "User_123456"}

	calls.On("Authorize", mock.Anything, callID, senderID).Return(&domain.Call{CallID: callID}, nil)
	users.On("GetByID", mock.Anything, senderID).Return(sender, nil)
	messages.On("Save", mock.MatchedBy(func(msg *domain.ChatMessage) bool {
		return msg.CallID == callID &&
			msg.SenderID == senderID &&
			msg.SenderName == "User_123456" &&
			msg.Content == "hello" &&
			msg.SentAt.Equal(now)
	})).Return(nil)

	msg, err := svc.SaveMessage(context.Background(), callID, senderID, "hello")
	assert.NoError(t, err)
	assert.Equal(t, "User_123456", msg.SenderName)
	assert.Equal(t, now, msg.SentAt)
	messages.AssertExpectations(t)
}

func TestSaveMessage_RejectsEmptyContent(t *testing.T) {
	svc := NewService(new(MockMessageStore), new(MockCallAuthorizer), new(MockUserStore), nil)

	_, err := svc.SaveMessage(context.Background(), uuid.New(), uuid.New(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSaveMessage_RejectsOversizedContent(t *testing.T) {
	svc := NewService(new(MockMessageStore), new(MockCallAuthorizer), new(MockUserStore), nil)

	_, err := svc.SaveMessage(context.Background(), uuid.New(), uuid.New(), strings.Repeat("x", 2001))
	assert.ErrorIs(t, err, ErrMessageTooLong)
}

func TestSaveMessage_RejectsOutsider(t *testing.T) {
	messages := new(MockMessageStore)
	calls := new(MockCallAuthorizer)
	svc := NewService(messages, calls, new(MockUserStore), nil)

	callID := uuid.New()
	outsiderID := uuid.New()
	calls.On("Authorize", mock.Anything, callID, outsiderID).Return(nil, domain.ErrNotParticipant)

	_, err := svc.SaveMessage(context.Background(), callID, outsiderID, "hello")
	assert.ErrorIs(t, err, domain.ErrNotParticipant)
	messages.AssertNotCalled(t, "Save", mock.Anything)
}

func TestHistory(t *testing.T) {
	messages := new(MockMessageStore)
	calls := new(MockCallAuthorizer)
	svc := NewService(messages, calls, new(MockUserStore), nil)

	callID := uuid.New()
	userID := uuid.New()
	stored := []*domain.ChatMessage{
		{MessageID: uuid.New(), CallID: callID, Content: "first"},
		{MessageID: uuid.New(), CallID: callID, Content: "second"},
	}

	calls.On("Authorize", mock.Anything, callID, userID).Return(&domain.Call{CallID: callID}, nil)
	messages.On("GetByCall", callID).Return(stored, nil)

	history, err := svc.History(context.Background(), callID, userID)
	assert.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Content)
}

func TestClear(t *testing.T) {
	messages := new(MockMessageStore)
	calls := new(MockCallAuthorizer)
	svc := NewService(messages, calls, new(MockUserStore), nil)

	callID := uuid.New()
	userID := uuid.New()

	calls.On("Authorize", mock.Anything, callID, userID).Return(&domain.Call{CallID: callID}, nil)
	messages.On("DeleteByCall", callID).Return(nil)

	err := svc.Clear(context.Background(), callID, userID)
	assert.NoError(t, err)
	messages.AssertExpectations(t)
}
