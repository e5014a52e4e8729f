package cassandra

import (
	"fmt"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"randomtalk-backend/internal/domain"
)

// MessageRepository handles chat message storage in Cassandra.
// Messages are partitioned by call; a call's chat is short-lived and
// small, so no time bucketing is needed.
type MessageRepository struct {
	session *gocql.Session
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(session *gocql.Session) *MessageRepository {
	return &MessageRepository{session: session}
}

// Save inserts a new chat message
func (r *MessageRepository) Save(message *domain.ChatMessage) error {
	if message.MessageID == uuid.Nil {
		message.MessageID = uuid.New()
	}

	query := `
		INSERT INTO chat_messages (call_id, sent_at, message_id, sender_id, sender_name, content)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	err := r.session.Query(query,
		message.CallID,
		message.SentAt,
		message.MessageID,
		message.SenderID,
		message.SenderName,
		message.Content,
	).Exec()

	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	return nil
}

// GetByCall retrieves all messages for a call in send order
func (r *MessageRepository) GetByCall(callID uuid.UUID) ([]*domain.ChatMessage, error) {
	query := `
		SELECT call_id, sent_at, message_id, sender_id, sender_name, content
		FROM chat_messages
		WHERE call_id = ?
		ORDER BY sent_at ASC
	`

	iter := r.session.Query(query, callID).Iter()

	var messages []*domain.ChatMessage
	for {
		message := &domain.ChatMessage{}
		if !iter.Scan(
			&message.CallID,
			&message.SentAt,
			&message.MessageID,
			&message.SenderID,
			&message.SenderName,
			&message.Content,
		) {
			break
		}
		messages = append(messages, message)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return messages, nil
}

// DeleteByCall removes every message belonging to a call
func (r *MessageRepository) DeleteByCall(callID uuid.UUID) error {
	query := `DELETE FROM chat_messages WHERE call_id = ?`
	if err := r.session.Query(query, callID).Exec(); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}
