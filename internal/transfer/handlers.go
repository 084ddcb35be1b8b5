package transfer

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kmathis/riskgate/internal/account"
	"github.com/kmathis/riskgate/internal/logging"
	"github.com/kmathis/riskgate/internal/mfa"
	"github.com/kmathis/riskgate/internal/risk"
)

// Handler provides HTTP endpoints for the transfer pipeline.
type Handler struct {
	svc      *Service
	accounts *account.Handler
	seeder   *Seeder
	logger   *slog.Logger

	// exposeCodes returns MFA codes in challenge responses. Demo only;
	// production delivery goes out of band.
	exposeCodes bool
	seedEnabled bool
}

// NewHandler creates a transfer handler.
func NewHandler(svc *Service, accounts *account.Handler, seeder *Seeder, logger *slog.Logger, exposeCodes, seedEnabled bool) *Handler {
	return &Handler{
		svc:         svc,
		accounts:    accounts,
		seeder:      seeder,
		logger:      logger,
		exposeCodes: exposeCodes,
		seedEnabled: seedEnabled,
	}
}

// RegisterRoutes sets up authenticated transfer routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/banking/dashboard", h.Dashboard)
	r.GET("/banking/transactions", h.Transactions)
	r.POST("/banking/transfers/initiate", h.Initiate)
	r.POST("/banking/transfers/:id/mfa/challenge", h.IssueChallenge)
	r.POST("/banking/transfers/:id/mfa/verify", h.VerifyChallenge)
	r.POST("/banking/demo/seed", h.SeedDemo)
}

// Dashboard handles GET /v1/banking/dashboard
func (h *Handler) Dashboard(c *gin.Context) {
	u, acct, ok := h.accounts.CallerProfile(c)
	if !ok {
		return
	}

	recent, total, err := h.svc.History(c.Request.Context(), u.ID, 5, 0)
	if err != nil {
		h.logger.Error("dashboard history failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "dashboard_error",
			"message": "Failed to load dashboard",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":        u.ID,
			"email":     u.Email,
			"full_name": u.FullName,
			"status":    u.Status,
		},
		"account": gin.H{
			"id":             acct.ID,
			"account_number": acct.Number,
			"bank_code":      acct.BankCode,
			"currency":       acct.Currency,
			"balance":        acct.Balance,
			"active":         acct.Active,
		},
		"recent_transfers": recent,
		"transfer_count":   total,
	})
}

// Transactions handles GET /v1/banking/transactions?limit=&offset=
func (h *Handler) Transactions(c *gin.Context) {
	u, _, ok := h.accounts.CallerProfile(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, total, err := h.svc.History(c.Request.Context(), u.ID, limit, offset)
	if err != nil {
		h.logger.Error("transactions list failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "transactions_error",
			"message": "Failed to list transactions",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": items,
		"total":        total,
		"limit":        limit,
		"offset":       offset,
	})
}

type initiateRequest struct {
	ReceiverBankCode string  `json:"receiver_bank_code" binding:"required"`
	ReceiverNumber   string  `json:"receiver_account_number" binding:"required"`
	Amount           float64 `json:"amount" binding:"required,gt=0"`
	Note             string  `json:"note"`
}

// Initiate handles POST /v1/banking/transfers/initiate
func (h *Handler) Initiate(c *gin.Context) {
	u, acct, ok := h.accounts.CallerProfile(c)
	if !ok {
		return
	}

	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "receiver_bank_code, receiver_account_number, and a positive amount are required",
		})
		return
	}

	result, err := h.svc.Initiate(c.Request.Context(), InitiateRequest{
		Sender:           acct,
		SenderUserID:     u.ID,
		ReceiverBankCode: req.ReceiverBankCode,
		ReceiverNumber:   req.ReceiverNumber,
		Amount:           req.Amount,
		Note:             req.Note,
		RequestID:        logging.RequestID(c.Request.Context()),
	})
	if err != nil && result == nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusCreated
	body := gin.H{
		"transfer_id":       result.Transfer.ID,
		"status":            result.Transfer.Status,
		"risk_level":        result.Decision.Tier,
		"action":            result.Decision.Action,
		"fraud_probability": result.Transfer.FraudProbability,
		"model_version":     result.Transfer.ModelVersion,
		"message":           result.Decision.Message,
	}
	if result.Posting != nil {
		body["sender_balance"] = result.Posting.SenderBalance
		body["posted_at"] = result.Posting.PostedAt
	}
	if err != nil {
		// Authorization succeeded but posting is parked.
		status = http.StatusBadGateway
		body["error"] = "posting_failed"
		body["message"] = "Transfer authorized but posting failed; it will require operator attention."
	}
	c.JSON(status, body)
}

type verifyRequest struct {
	Code string `json:"code" binding:"required"`
}

// IssueChallenge handles POST /v1/banking/transfers/:id/mfa/challenge
func (h *Handler) IssueChallenge(c *gin.Context) {
	u, _, ok := h.accounts.CallerProfile(c)
	if !ok {
		return
	}

	transferID := c.Param("id")
	_, code, expiresAt, err := h.svc.IssueChallenge(c.Request.Context(), transferID, u.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	body := gin.H{
		"transfer_id": transferID,
		"expires_at":  expiresAt,
		"message":     "Verification code issued",
	}
	if h.exposeCodes {
		body["demo_code"] = code
	}
	c.JSON(http.StatusOK, body)
}

// VerifyChallenge handles POST /v1/banking/transfers/:id/mfa/verify
func (h *Handler) VerifyChallenge(c *gin.Context) {
	u, _, ok := h.accounts.CallerProfile(c)
	if !ok {
		return
	}

	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "A verification code is required",
		})
		return
	}

	transferID := c.Param("id")
	result, err := h.svc.VerifyChallenge(c.Request.Context(), transferID, req.Code, u.ID)
	if err != nil && result == nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusOK
	body := gin.H{
		"transfer_id": transferID,
		"status":      result.Transfer.Status,
	}
	if result.Posting != nil {
		body["sender_balance"] = result.Posting.SenderBalance
		body["posted_at"] = result.Posting.PostedAt
	}
	if err != nil {
		status = http.StatusBadGateway
		body["error"] = "posting_failed"
		body["message"] = "Verification succeeded but posting failed; it will require operator attention."
	}
	c.JSON(status, body)
}

// SeedDemo handles POST /v1/banking/demo/seed
func (h *Handler) SeedDemo(c *gin.Context) {
	if !h.seedEnabled || h.seeder == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Demo seeding is not enabled",
		})
		return
	}

	u, acct, ok := h.accounts.CallerProfile(c)
	if !ok {
		return
	}

	summary, err := h.seeder.Seed(c.Request.Context(), u, acct)
	if err != nil {
		h.logger.Error("demo seed failed", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "seed_failed",
			"message": "Failed to seed demo data",
		})
		return
	}
	c.JSON(http.StatusCreated, summary)
}

// writeError maps pipeline errors onto HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error) {
	var invalidCode *mfa.InvalidCodeError

	switch {
	case errors.Is(err, ErrTransferNotFound), errors.Is(err, mfa.ErrChallengeNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Transfer not found",
		})
	case errors.Is(err, ErrReceiverNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "receiver_not_found",
			"message": "No active account matches the receiver details",
		})
	case errors.Is(err, ErrNotTransferOwner):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "This transfer belongs to another user",
		})
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrSameAccount), errors.Is(err, risk.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	case errors.As(err, &invalidCode):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":              "invalid_code",
			"message":            "Incorrect verification code",
			"attempts_remaining": invalidCode.Remaining,
		})
	case errors.Is(err, mfa.ErrChallengeLocked):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "challenge_locked",
			"message": "Too many incorrect attempts; request a new challenge",
		})
	case errors.Is(err, mfa.ErrChallengeExpired):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "challenge_expired",
			"message": "The verification code expired; request a new challenge",
		})
	case errors.Is(err, mfa.ErrChallengeVerified), errors.Is(err, ErrMfaNotRequired), errors.Is(err, ErrStateConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "state_conflict",
			"message": err.Error(),
		})
	case errors.Is(err, ErrDependency):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "dependency_failure",
			"message": "An upstream dependency failed; please retry later",
		})
	default:
		h.logger.Error("unhandled transfer error", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Unexpected error",
		})
	}
}
