package chat

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"randomtalk-backend/internal/domain"
	"randomtalk-backend/internal/service/chat"
	apperrors "randomtalk-backend/pkg/errors"
	"randomtalk-backend/pkg/response"
)

// Handler handles chat history HTTP requests
type Handler struct {
	chatService *chat.Service
}

// NewHandler creates a new chat handler
func NewHandler(chatService *chat.Service) *Handler {
	return &Handler{chatService: chatService}
}

// History returns a call's messages in send order
// GET /v1/calls/:id/messages
func (h *Handler) History(c *gin.Context) {
	userID, callID, ok := callRequest(c)
	if !ok {
		return
	}

	messages, err := h.chatService.History(c.Request.Context(), callID, userID)
	if err != nil {
		respondChatError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"messages": messages,
		"count":    len(messages),
	})
}

// Send persists a message over HTTP, for clients without an open
// websocket
// POST /v1/calls/:id/messages
func (h *Handler) Send(c *gin.Context) {
	userID, callID, ok := callRequest(c)
	if !ok {
		return
	}

	var req domain.ChatMessageCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	message, err := h.chatService.SaveMessage(c.Request.Context(), callID, userID, req.Content)
	if err != nil {
		respondChatError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, message)
}

// Clear deletes a call's message history
// DELETE /v1/calls/:id/messages
func (h *Handler) Clear(c *gin.Context) {
	userID, callID, ok := callRequest(c)
	if !ok {
		return
	}

	if err := h.chatService.Clear(c.Request.Context(), callID, userID); err != nil {
		respondChatError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Chat history cleared"})
}

func callRequest(c *gin.Context) (userID, callID uuid.UUID, ok bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, uuid.Nil, false
	}
	userID, valid := userIDVal.(uuid.UUID)
	if !valid {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, uuid.Nil, false
	}

	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return uuid.Nil, uuid.Nil, false
	}

	return userID, callID, true
}

func respondChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		response.ValidationError(c, "Message content cannot be empty")
	case errors.Is(err, chat.ErrMessageTooLong):
		response.ValidationError(c, "Message content exceeds maximum length")
	case errors.Is(err, domain.ErrNotFound):
		response.AppError(c, apperrors.CallNotFoundError())
	case errors.Is(err, domain.ErrNotParticipant):
		response.Forbidden(c, "Not a participant in this call")
	default:
		response.AppError(c, err)
	}
}
