package handler

import (
	"errors"
	"io"
	"net/http"

	"account-service/internal/adapter/gin/middleware"
	"account-service/internal/usecase/user"
	pkgerrors "account-service/pkg/errors"
	"account-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UserHandler handles HTTP requests for account operations
type UserHandler struct {
	uc  user.Service
	log *zap.Logger
}

// NewUserHandler creates a new UserHandler instance
func NewUserHandler(uc user.Service, log *zap.Logger) *UserHandler {
	return &UserHandler{
		uc:  uc,
		log: log,
	}
}

// ProfileResponse represents the HTTP response for account data
type ProfileResponse struct {
	ID        int64    `json:"id"`
	Email     string   `json:"email"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Groups    []string `json:"groups"`
}

// MessageResponse represents a plain confirmation
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string              `json:"error"`
	Message string              `json:"message,omitempty"`
	Fields  map[string][]string `json:"fields,omitempty"`
}

// SignUp handles POST /users/signup/
func (h *UserHandler) SignUp(c *gin.Context) {
	var req user.SignUpRequest
	if !h.bind(c, &req, false) {
		return
	}

	profile, err := h.uc.SignUp(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toProfileResponse(profile))
}

// GetProfile handles GET /users/profile/
func (h *UserHandler) GetProfile(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		h.handleError(c, pkgerrors.ErrUnauthorized)
		return
	}

	profile, err := h.uc.GetProfile(c.Request.Context(), actor)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, toProfileResponse(profile))
}

// UpdateProfile handles PUT and PATCH /users/profile/
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		h.handleError(c, pkgerrors.ErrUnauthorized)
		return
	}

	var req user.UpdateProfileRequest
	if !h.bind(c, &req, true) {
		return
	}

	profile, err := h.uc.UpdateProfile(c.Request.Context(), actor, req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, toProfileResponse(profile))
}

// ChangePassword handles PUT and PATCH /users/password/
func (h *UserHandler) ChangePassword(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		h.handleError(c, pkgerrors.ErrUnauthorized)
		return
	}

	var req user.ChangePasswordRequest
	if !h.bind(c, &req, false) {
		return
	}

	if err := h.uc.ChangePassword(c.Request.Context(), actor, req); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "Password updated successfully"})
}

// bind decodes the JSON body into dst. Field rules are checked by the
// usecase, not here. An empty body is accepted when allowEmpty is set.
func (h *UserHandler) bind(c *gin.Context, dst any, allowEmpty bool) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}

	logger.WithContext(c.Request.Context(), h.log).Warn("malformed request body", zap.Error(err))
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "invalid_request",
		Message: "Request body must be a JSON object",
	})
	return false
}

// handleError maps a usecase error onto the HTTP error envelope.
func (h *UserHandler) handleError(c *gin.Context, err error) {
	log := logger.WithContext(c.Request.Context(), h.log)

	if list, ok := pkgerrors.AsValidationErrors(err); ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid input.",
			Fields:  list.Fields(),
		})
		return
	}

	status := pkgerrors.StatusOf(err)
	switch status {
	case http.StatusUnauthorized:
		middleware.Challenge(c)
		c.JSON(status, ErrorResponse{Error: "unauthorized", Message: err.Error()})
	case http.StatusNotFound:
		c.JSON(status, ErrorResponse{Error: "not_found", Message: err.Error()})
	case http.StatusConflict:
		c.JSON(status, ErrorResponse{Error: "conflict", Message: err.Error()})
	case http.StatusServiceUnavailable:
		log.Error("dependency unavailable", zap.Error(err))
		c.JSON(status, ErrorResponse{Error: "service_unavailable", Message: "Service temporarily unavailable"})
	default:
		log.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
	}
}

func toProfileResponse(p *user.Profile) ProfileResponse {
	groups := p.Groups
	if groups == nil {
		groups = []string{}
	}
	return ProfileResponse{
		ID:        p.ID,
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Groups:    groups,
	}
}
