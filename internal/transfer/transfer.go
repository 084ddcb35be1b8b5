// Package transfer runs the risk-tiered authorization pipeline for
// P2P transfers.
//
// Flow:
//  1. Initiate scores the transfer and picks a tier
//  2. LOW posts funds immediately
//  3. MEDIUM parks the transfer until an MFA challenge is verified
//  4. HIGH rejects the transfer and suspends the sender
package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/kmathis/riskgate/internal/account"
	"github.com/kmathis/riskgate/internal/mfa"
	"github.com/kmathis/riskgate/internal/risk"
)

var (
	ErrTransferNotFound = errors.New("transfer not found")
	ErrInvalidInput     = errors.New("invalid transfer request")
	ErrReceiverNotFound = errors.New("receiver account not found")
	ErrSameAccount      = errors.New("sender and receiver are the same account")
	ErrNotTransferOwner = errors.New("transfer belongs to another user")
	ErrMfaNotRequired   = errors.New("transfer is not awaiting MFA")
	ErrStateConflict    = errors.New("transfer state changed")
	ErrDependency       = errors.New("dependency failure")
)

// Status is the authorization state of a transfer.
type Status string

const (
	// StatusMfaRequired parks the transfer until step-up verification.
	StatusMfaRequired Status = "MFA_REQUIRED"
	// StatusPendingPosting means authorization passed but funds have not
	// moved yet. A posting fault leaves the transfer here for operator
	// attention; there is no automatic retry.
	StatusPendingPosting Status = "COMPLETED_PENDING_POSTING"
	// StatusCompleted means funds moved.
	StatusCompleted Status = "COMPLETED"
	// StatusRejected is terminal; the sender was suspended.
	StatusRejected Status = "REJECTED_HIGH_RISK"
)

// Transfer is one authorization attempt with its risk assessment.
type Transfer struct {
	ID                string  `json:"id"`
	SenderUserID      string  `json:"sender_user_id"`
	SenderAccountID   string  `json:"sender_account_id"`
	SenderNumber      string  `json:"sender_account_number"`
	SenderBankCode    string  `json:"sender_bank_code"`
	ReceiverUserID    string  `json:"receiver_user_id"`
	ReceiverAccountID string  `json:"receiver_account_id"`
	ReceiverNumber    string  `json:"receiver_account_number"`
	ReceiverBankCode  string  `json:"receiver_bank_code"`
	Amount            float64 `json:"amount"`
	Currency          string  `json:"currency"`
	Note              string  `json:"note,omitempty"`

	Status           Status      `json:"status"`
	RiskTier         risk.Tier   `json:"risk_level"`
	Action           risk.Action `json:"action"`
	FraudProbability float64     `json:"fraud_probability"`
	ModelVersion     string      `json:"model_version"`
	RequestID        string      `json:"request_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists transfers.
type Store interface {
	Create(ctx context.Context, t *Transfer) error
	Get(ctx context.Context, id string) (*Transfer, error)
	// SetStatus transitions a transfer only when it is currently in the
	// expected state, so racing writers cannot both win.
	SetStatus(ctx context.Context, id string, from, to Status) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Transfer, error)
	CountByUser(ctx context.Context, userID string) (int, error)
}

// Accounts is the slice of the account service the pipeline needs.
type Accounts interface {
	Lookup(ctx context.Context, bankCode, number string) (*account.Account, error)
	Post(ctx context.Context, transferID, senderAccountID, receiverAccountID string, amount float64) (*account.PostingResult, error)
	Suspend(ctx context.Context, userID, accountID string) error
}

// Challenger issues and verifies step-up challenges.
type Challenger interface {
	Issue(ctx context.Context, transferID string) (*mfa.Challenge, string, error)
	Verify(ctx context.Context, transferID, code string) (*mfa.Challenge, error)
}

// Scorer mirrors scoring.Scorer so tests can stub probabilities.
type Scorer interface {
	Score(ctx context.Context, features risk.Features) (float64, error)
	Version() string
}
