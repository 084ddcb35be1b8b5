// Package risk maps fraud probabilities to risk tiers and required actions.
//
// Policy bands are inclusive-low, exclusive-high:
//
//	p < low          → LOW / APPROVE
//	low <= p < high  → MEDIUM / step-up verification
//	p >= high        → HIGH / BLOCK
package risk

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidProbability = errors.New("fraud probability must be between 0 and 1")
	ErrInvalidThresholds  = errors.New("invalid risk thresholds")
	ErrInvalidInput       = errors.New("invalid input")
)

// Tier classifies a fraud probability.
type Tier string

const (
	TierLow    Tier = "LOW"
	TierMedium Tier = "MEDIUM"
	TierHigh   Tier = "HIGH"
)

// Action is the response the authorization pipeline must take.
type Action string

const (
	// ActionApprove posts the transfer immediately.
	ActionApprove Action = "APPROVE"
	// ActionStepUp demands step-up verification before posting. The wire
	// value keeps the historical name so stored rows and existing clients
	// stay compatible.
	ActionStepUp Action = "TRIGGER_MFA"
	// ActionBlock rejects the transfer and suspends the sender's account.
	ActionBlock Action = "BLOCK"
)

// Thresholds are the two ordered cut points of the tier policy.
type Thresholds struct {
	Low  float64
	High float64
}

// NewThresholds validates and returns a threshold pair.
func NewThresholds(low, high float64) (Thresholds, error) {
	if low < 0 || low > 1 {
		return Thresholds{}, fmt.Errorf("%w: low must be between 0 and 1", ErrInvalidThresholds)
	}
	if high < 0 || high > 1 {
		return Thresholds{}, fmt.Errorf("%w: high must be between 0 and 1", ErrInvalidThresholds)
	}
	if low >= high {
		return Thresholds{}, fmt.Errorf("%w: low must be less than high", ErrInvalidThresholds)
	}
	return Thresholds{Low: low, High: high}, nil
}

// Decision is the immutable outcome of evaluating one probability.
type Decision struct {
	Tier    Tier   `json:"risk_level"`
	Action  Action `json:"action"`
	Message string `json:"message"`
}

// Evaluate maps a fraud probability onto a decision. Pure, no I/O.
func Evaluate(probability float64, t Thresholds) (Decision, error) {
	if probability < 0 || probability > 1 {
		return Decision{}, ErrInvalidProbability
	}

	switch {
	case probability < t.Low:
		return Decision{
			Tier:    TierLow,
			Action:  ActionApprove,
			Message: "Transaction approved",
		}, nil
	case probability < t.High:
		return Decision{
			Tier:    TierMedium,
			Action:  ActionStepUp,
			Message: "Transaction flagged for multi-factor authentication",
		}, nil
	default:
		return Decision{
			Tier:    TierHigh,
			Action:  ActionBlock,
			Message: "Transaction blocked due to high fraud risk",
		}, nil
	}
}
