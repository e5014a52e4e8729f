package user

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"randomtalk-backend/internal/domain"
	"randomtalk-backend/internal/service/call"
	"randomtalk-backend/internal/service/presence"
	"randomtalk-backend/internal/service/user"
	apperrors "randomtalk-backend/pkg/errors"
	"randomtalk-backend/pkg/response"
)

// Announcer pushes call lifecycle events to connected relay clients.
type Announcer interface {
	AnnounceTermination(result *domain.Termination)
}

// Handler handles user account and presence HTTP requests
type Handler struct {
	userService     *user.Service
	presenceService *presence.Service
	callService     *call.Service
	announcer       Announcer
}

// NewHandler creates a new user handler
func NewHandler(userService *user.Service, presenceService *presence.Service, callService *call.Service, announcer Announcer) *Handler {
	return &Handler{
		userService:     userService,
		presenceService: presenceService,
		callService:     callService,
		announcer:       announcer,
	}
}

// Register provisions an anonymous account. No input: username and
// password are generated server side and the password is returned once.
// POST /v1/users/register
func (h *Handler) Register(c *gin.Context) {
	output, err := h.userService.Register(c.Request.Context())
	if err != nil {
		if errors.Is(err, domain.ErrUsernameExists) {
			response.AppError(c, apperrors.UsernameExistsError())
			return
		}
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"user":          output.User,
		"access_token":  output.AccessToken,
		"refresh_token": output.RefreshToken,
	})
}

// RefreshTokenRequest carries the long-lived token to exchange
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh exchanges a refresh token for a new access token
// POST /v1/users/token/refresh
func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	output, err := h.userService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		response.AppError(c, apperrors.InvalidTokenError("Invalid or expired refresh token"))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"access_token": output.AccessToken,
	})
}

// Me returns the authenticated user's profile
// GET /v1/users/me
func (h *Handler) Me(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	u, err := h.userService.Get(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.AppError(c, apperrors.UserNotFoundError())
			return
		}
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, u.ToResponse())
}

// StatusRequest optionally flips match availability along with the
// heartbeat
type StatusRequest struct {
	LookingForCall *bool `json:"looking_for_call"`
}

// Status is the heartbeat endpoint. Clients post it periodically to
// stay visible to matchmaking; missing heartbeats let presence expire.
// POST /v1/users/status
func (h *Handler) Status(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req StatusRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationError(c, err.Error())
			return
		}
	}

	if err := h.presenceService.Heartbeat(c.Request.Context(), userID); err != nil {
		response.AppError(c, err)
		return
	}

	if req.LookingForCall != nil {
		if err := h.presenceService.SetLooking(c.Request.Context(), userID, *req.LookingForCall); err != nil {
			response.AppError(c, err)
			return
		}
	}

	u, err := h.presenceService.Status(c.Request.Context(), userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, u.ToResponse())
}

// OnlineCount reports how many users are currently connected
// GET /v1/users/online
func (h *Handler) OnlineCount(c *gin.Context) {
	count, err := h.presenceService.OnlineCount(c.Request.Context())
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"online": count})
}

// Logout marks the user offline and ends their current call, if any
// POST /v1/users/logout
func (h *Handler) Logout(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	result, err := h.callService.EndCurrent(c.Request.Context(), userID)
	if err != nil {
		response.AppError(c, err)
		return
	}
	if result != nil && h.announcer != nil {
		h.announcer.AnnounceTermination(result)
	}

	if err := h.presenceService.SetOffline(c.Request.Context(), userID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Logged out"})
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
