package account

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kmathis/riskgate/internal/auth"
)

// Handler provides HTTP endpoints for account operations.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates an account handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes sets up authenticated account routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/banking/validate-receiver", h.ValidateReceiver)
}

// RegisterAdminRoutes sets up admin-only account routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/banking/admin/unblock-user", h.UnblockUser)
}

type validateReceiverRequest struct {
	BankCode      string `json:"bank_code" binding:"required"`
	AccountNumber string `json:"account_number" binding:"required"`
}

// ValidateReceiver handles POST /v1/banking/validate-receiver
func (h *Handler) ValidateReceiver(c *gin.Context) {
	var req validateReceiverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "bank_code and account_number are required",
		})
		return
	}

	info, err := h.svc.ValidateReceiver(c.Request.Context(), req.BankCode, req.AccountNumber)
	if err != nil {
		h.logger.Error("receiver validation failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "lookup_error",
			"message": "Failed to validate receiver",
		})
		return
	}
	c.JSON(http.StatusOK, info)
}

type unblockUserRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// UnblockUser handles POST /v1/banking/admin/unblock-user
func (h *Handler) UnblockUser(c *gin.Context) {
	var req unblockUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "A valid email is required",
		})
		return
	}

	u, err := h.svc.Reinstate(c.Request.Context(), req.Email)
	if err == ErrUserNotFound || err == ErrAccountNotFound {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No user with that email",
		})
		return
	}
	if err != nil {
		h.logger.Error("reinstate failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "unblock_error",
			"message": "Failed to unblock user",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": u.ID,
		"email":   u.Email,
		"status":  u.Status,
	})
}

// CallerProfile resolves the authenticated caller to a user and account,
// provisioning both on first touch.
func (h *Handler) CallerProfile(c *gin.Context) (*User, *Account, bool) {
	id, ok := auth.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Authentication required",
		})
		return nil, nil, false
	}

	u, acct, err := h.svc.GetOrCreateUser(c.Request.Context(), id.Email, id.FullName)
	if err != nil {
		h.logger.Error("caller resolution failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "profile_error",
			"message": "Failed to resolve caller profile",
		})
		return nil, nil, false
	}
	if u.Status == UserBlocked {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "account_blocked",
			"message": "This account has been suspended",
		})
		return nil, nil, false
	}
	return u, acct, true
}
