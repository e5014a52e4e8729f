package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage represents a chat message exchanged inside a call.
// Maps to Cassandra chat_messages table, partitioned by call.
type ChatMessage struct {
	MessageID  uuid.UUID `json:"message_id" cql:"message_id"`
	CallID     uuid.UUID `json:"call_id" cql:"call_id"`
	SenderID   uuid.UUID `json:"sender_id" cql:"sender_id"`
	SenderName string    `json:"sender_name" cql:"sender_name"`
	Content    string    `json:"content" cql:"content"`
	SentAt     time.Time `json:"sent_at" cql:"sent_at"` // server-assigned
}

// ChatMessageCreate represents data needed to send a message over HTTP.
type ChatMessageCreate struct {
	Content string `json:"content" binding:"required,max=2000"`
}
