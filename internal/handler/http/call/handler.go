package call

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"randomtalk-backend/internal/domain"
	"randomtalk-backend/internal/service/call"
	"randomtalk-backend/internal/service/match"
	apperrors "randomtalk-backend/pkg/errors"
	"randomtalk-backend/pkg/response"
)

// Announcer pushes call lifecycle events to connected relay clients.
// The websocket handler satisfies it.
type Announcer interface {
	AnnounceMatch(callID uuid.UUID, userIDs []uuid.UUID)
	AnnounceTermination(result *domain.Termination)
}

// Handler handles call HTTP requests
type Handler struct {
	callService  *call.Service
	matchService *match.Service
	announcer    Announcer
}

// NewHandler creates a new call handler
func NewHandler(callService *call.Service, matchService *match.Service, announcer Announcer) *Handler {
	return &Handler{
		callService:  callService,
		matchService: matchService,
		announcer:    announcer,
	}
}

// Create opens a waiting call for the authenticated user
// POST /v1/calls
func (h *Handler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	created, err := h.callService.Create(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyInCall) {
			response.AppError(c, apperrors.AlreadyInCallError())
			return
		}
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, created.ToResponse())
}

// Get returns a call the requester participates in
// GET /v1/calls/:id
func (h *Handler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return
	}

	found, err := h.callService.Authorize(c.Request.Context(), callID, userID)
	if err != nil {
		h.respondCallError(c, err)
		return
	}

	response.Success(c, http.StatusOK, found.ToResponse())
}

// FindMatch pairs the requester with another user. The requester must
// hold a waiting call. Returns matched=false when nobody is available;
// the caller keeps waiting and may retry.
// POST /v1/calls/match
func (h *Handler) FindMatch(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	result, err := h.matchService.FindMatch(c.Request.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, match.ErrNoMatch):
			response.Success(c, http.StatusOK, gin.H{"matched": false})
		case errors.Is(err, domain.ErrNoActiveCall):
			response.AppError(c, apperrors.NoActiveCallError())
		default:
			response.AppError(c, err)
		}
		return
	}

	if h.announcer != nil {
		h.announcer.AnnounceMatch(result.Call.CallID, []uuid.UUID{userID, result.Partner.UserID})
	}

	response.Success(c, http.StatusOK, gin.H{
		"matched":      true,
		"call":         result.Call.ToResponse(),
		"matched_user": result.Partner.ToResponse(),
		"match_type":   result.Tier,
	})
}

// Skip ends the current call as a non-connection
// POST /v1/calls/skip
func (h *Handler) Skip(c *gin.Context) {
	h.terminate(c, h.callService.Skip)
}

// End hangs up the current call
// POST /v1/calls/end
func (h *Handler) End(c *gin.Context) {
	h.terminate(c, h.callService.End)
}

func (h *Handler) terminate(c *gin.Context, fn func(ctx context.Context, userID uuid.UUID) (*domain.Termination, error)) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	result, err := fn(c.Request.Context(), userID)
	if err != nil {
		h.respondCallError(c, err)
		return
	}

	if h.announcer != nil {
		h.announcer.AnnounceTermination(result)
	}

	response.Success(c, http.StatusOK, gin.H{
		"call":     result.Call.ToResponse(),
		"duration": result.Call.Duration,
	})
}

func (h *Handler) respondCallError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNoActiveCall):
		response.AppError(c, apperrors.NoActiveCallError())
	case errors.Is(err, domain.ErrNotFound):
		response.AppError(c, apperrors.CallNotFoundError())
	case errors.Is(err, domain.ErrNotParticipant):
		response.Forbidden(c, "Not a participant in this call")
	default:
		response.AppError(c, err)
	}
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}

	return userID, true
}
