package scoring

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kmathis/riskgate/internal/logging"
	"github.com/kmathis/riskgate/internal/risk"
)

// Handler exposes raw model inference over HTTP.
type Handler struct {
	scorer     Scorer
	thresholds risk.Thresholds
	logger     *slog.Logger
}

// NewHandler creates a scoring handler.
func NewHandler(scorer Scorer, thresholds risk.Thresholds, logger *slog.Logger) *Handler {
	return &Handler{scorer: scorer, thresholds: thresholds, logger: logger}
}

// RegisterRoutes sets up scoring routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/predict", h.Predict)
}

// Predict handles POST /v1/predict: score an explicit feature payload
// and return the probability with the policy outcome.
func (h *Handler) Predict(c *gin.Context) {
	var features risk.Features
	if err := c.ShouldBindJSON(&features); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Malformed feature payload: " + err.Error(),
		})
		return
	}

	probability, err := h.scorer.Score(c.Request.Context(), features)
	if err != nil {
		h.logger.Error("prediction failed", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "dependency_failure",
			"message": "Scoring backend unavailable",
		})
		return
	}

	decision, err := risk.Evaluate(probability, h.thresholds)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "dependency_failure",
			"message": "Scoring backend returned an unusable probability",
		})
		return
	}

	logging.L(c.Request.Context()).Info("prediction served",
		slog.Float64("fraud_probability", probability),
		slog.String("risk_level", string(decision.Tier)),
		slog.String("model_version", h.scorer.Version()))

	c.JSON(http.StatusOK, gin.H{
		"fraud_probability": probability,
		"risk_level":        decision.Tier,
		"action":            decision.Action,
		"message":           decision.Message,
		"model_version":     h.scorer.Version(),
	})
}
