package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"randomtalk-backend/internal/domain"
	pkgcontext "randomtalk-backend/pkg/context"
	"randomtalk-backend/pkg/env"
	apperrors "randomtalk-backend/pkg/errors"
	"randomtalk-backend/pkg/logger"
	"randomtalk-backend/pkg/response"
)

// CallService is the slice of the call lifecycle the relay needs.
type CallService interface {
	Authorize(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error)
	EndCurrent(ctx context.Context, userID uuid.UUID) (*domain.Termination, error)
}

// ChatService persists relayed chat messages.
type ChatService interface {
	SaveMessage(ctx context.Context, callID, senderID uuid.UUID, content string) (*domain.ChatMessage, error)
}

// PresenceService tracks connection-driven availability.
type PresenceService interface {
	SetOnline(ctx context.Context, userID uuid.UUID) error
	SetOffline(ctx context.Context, userID uuid.UUID) error
}

// UserService resolves the connecting user's state.
type UserService interface {
	Get(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		allowed := env.GetString("WS_ALLOWED_ORIGINS", "")
		if allowed == "" {
			return true
		}
		origin := r.Header.Get("Origin")
		for _, candidate := range strings.Split(allowed, ",") {
			if origin == strings.TrimSpace(candidate) {
				return true
			}
		}
		return false
	},
}

// Handler upgrades relay connections and dispatches their messages.
type Handler struct {
	hub      *Hub
	calls    CallService
	chat     ChatService
	presence PresenceService
	users    UserService
	metrics  Recorder
}

// NewHandler creates a new relay handler
func NewHandler(hub *Hub, calls CallService, chat ChatService, presence PresenceService, users UserService, metrics Recorder) *Handler {
	return &Handler{
		hub:      hub,
		calls:    calls,
		chat:     chat,
		presence: presence,
		users:    users,
		metrics:  metrics,
	}
}

// ServeWS handles GET /ws/:room. The room is a call ID, or "matching"
// for the global match-announcement room.
func (h *Handler) ServeWS(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		response.AppError(c, apperrors.UnauthorizedError("authentication required"))
		return
	}
	username := c.GetString("username")

	room := c.Param("room")
	if room != GlobalRoom {
		callID, err := uuid.Parse(room)
		if err != nil {
			response.AppError(c, apperrors.InvalidFormatError("room must be a call id or \"matching\""))
			return
		}
		if _, err := h.calls.Authorize(c.Request.Context(), callID, userID); err != nil {
			h.respondAuthorizeError(c, err)
			return
		}
		room = callID.String()
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed",
			zap.String("room", room),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	client := &Client{
		hub:      h.hub,
		handler:  h,
		conn:     conn,
		send:     make(chan []byte, 256),
		userID:   userID,
		username: username,
		room:     room,
	}
	h.hub.register <- client

	ctx, cancel := pkgcontext.WithShortTimeout(context.Background())
	defer cancel()
	if err := h.presence.SetOnline(ctx, userID); err != nil {
		logger.Warn("failed to mark user online on connect",
			zap.String("user_id", userID.String()), zap.Error(err))
	}

	established, _ := json.Marshal(gin.H{
		"room":     room,
		"user_id":  userID,
		"username": username,
	})
	h.hub.Broadcast(&Message{
		Type:     TypeConnectionEstablished,
		Room:     room,
		TargetID: userID,
		Data:     established,
	})

	go client.writePump()
	go client.readPump()
}

// envelope is the wire format accepted from peers.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// dispatch routes one inbound frame. Protocol errors answer the sender
// with a notice and leave the connection open.
func (h *Handler) dispatch(c *Client, raw []byte) {
	var msg envelope
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.sendError(c, apperrors.InvalidFormatError("message must be a JSON object with type and data"))
		return
	}

	if h.metrics != nil {
		h.metrics.RecordWebSocketMessage(msg.Type)
	}

	switch msg.Type {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		h.relaySignal(c, msg)
	case TypeChatMessage:
		h.relayChat(c, msg)
	case TypeLookingForMatch:
		h.relayLooking(c, msg)
	default:
		h.sendError(c, apperrors.UnknownMessageTypeError(msg.Type))
	}
}

// relaySignal forwards WebRTC negotiation frames to the peer. Signaling
// only makes sense inside a call room.
func (h *Handler) relaySignal(c *Client, msg envelope) {
	if c.room == GlobalRoom {
		h.sendError(c, apperrors.InvalidFormatError("signaling messages require a call room"))
		return
	}
	if len(msg.Data) == 0 || !json.Valid(msg.Data) {
		h.sendError(c, apperrors.InvalidFormatError("signal payload must be valid JSON"))
		return
	}
	h.hub.Broadcast(&Message{
		Type:       msg.Type,
		Room:       c.room,
		SenderID:   c.userID,
		SenderName: c.username,
		Data:       msg.Data,
	})
}

type chatPayload struct {
	Content string `json:"content"`
}

// relayChat persists the message, then fans it out to the whole room,
// sender included, carrying the stored metadata.
func (h *Handler) relayChat(c *Client, msg envelope) {
	if c.room == GlobalRoom {
		h.sendError(c, apperrors.InvalidFormatError("chat messages require a call room"))
		return
	}
	var payload chatPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		h.sendError(c, apperrors.InvalidFormatError("chat payload must contain content"))
		return
	}

	callID, err := uuid.Parse(c.room)
	if err != nil {
		h.sendError(c, apperrors.InvalidFormatError("chat messages require a call room"))
		return
	}

	ctx, cancel := pkgcontext.WithShortTimeout(context.Background())
	defer cancel()
	message, err := h.chat.SaveMessage(ctx, callID, c.userID, payload.Content)
	if err != nil {
		h.sendError(c, apperrors.InvalidFormatError(err.Error()))
		return
	}

	data, _ := json.Marshal(gin.H{
		"message_id": message.MessageID,
		"content":    message.Content,
		"sent_at":    message.SentAt,
	})
	h.hub.Broadcast(&Message{
		Type:       TypeChatMessage,
		Room:       c.room,
		SenderID:   c.userID,
		SenderName: message.SenderName,
		Data:       data,
		Echo:       true,
	})
}

// relayLooking forwards a match-availability announcement to the other
// members of the global room.
func (h *Handler) relayLooking(c *Client, msg envelope) {
	if c.room != GlobalRoom {
		h.sendError(c, apperrors.InvalidFormatError("looking_for_match is only valid in the matching room"))
		return
	}
	h.hub.Broadcast(&Message{
		Type:       TypeLookingForMatch,
		Room:       GlobalRoom,
		SenderID:   c.userID,
		SenderName: c.username,
		Data:       msg.Data,
	})
}

// onDisconnect runs after the read pump exits: presence goes offline
// and, when the connection belonged to the user's current call, the
// call is ended on their behalf.
func (h *Handler) onDisconnect(c *Client) {
	ctx, cancel := pkgcontext.WithShortTimeout(context.Background())
	defer cancel()

	if err := h.presence.SetOffline(ctx, c.userID); err != nil {
		logger.Warn("failed to mark user offline on disconnect",
			zap.String("user_id", c.userID.String()), zap.Error(err))
	}

	if c.room == GlobalRoom {
		return
	}

	user, err := h.users.Get(ctx, c.userID)
	if err != nil {
		logger.Warn("failed to load user on disconnect",
			zap.String("user_id", c.userID.String()), zap.Error(err))
		return
	}
	if user.CurrentCallID == nil || user.CurrentCallID.String() != c.room {
		return
	}

	result, err := h.calls.EndCurrent(ctx, c.userID)
	if err != nil {
		logger.Warn("failed to end call on disconnect",
			zap.String("user_id", c.userID.String()), zap.Error(err))
		return
	}
	if result != nil {
		h.AnnounceTermination(result)
	}
}

// AnnounceTermination pushes call_ended to the rooms of both mirrored
// calls of a terminated pair.
func (h *Handler) AnnounceTermination(result *domain.Termination) {
	announce := func(call *domain.Call) {
		if call == nil {
			return
		}
		h.hub.BroadcastEvent(call.CallID.String(), TypeCallEnded, gin.H{
			"call_id":  call.CallID,
			"status":   call.Status,
			"duration": call.Duration,
		})
	}
	announce(result.Call)
	announce(result.PartnerCall)
}

// AnnounceMatch pushes match_found to the global room. The carried call
// ID is the relay room both matched users join.
func (h *Handler) AnnounceMatch(callID uuid.UUID, userIDs []uuid.UUID) {
	h.hub.BroadcastEvent(GlobalRoom, TypeMatchFound, gin.H{
		"call_id":       callID,
		"matched_users": userIDs,
	})
}

func (h *Handler) sendError(c *Client, appErr *apperrors.AppError) {
	if h.metrics != nil {
		h.metrics.RecordWebSocketError(string(appErr.Code))
	}
	data, _ := json.Marshal(gin.H{
		"code":    appErr.Code,
		"message": appErr.Message,
	})
	h.hub.Broadcast(&Message{
		Type:     TypeError,
		Room:     c.room,
		TargetID: c.userID,
		Data:     data,
	})
}

func (h *Handler) respondAuthorizeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		response.AppError(c, apperrors.CallNotFoundError())
	case errors.Is(err, domain.ErrNotParticipant):
		response.AppError(c, apperrors.UnauthorizedError("not a participant in this call"))
	default:
		response.AppError(c, err)
	}
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	val, exists := c.Get("user_id")
	if !exists {
		return uuid.Nil, false
	}
	userID, ok := val.(uuid.UUID)
	return userID, ok
}
