package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kmathis/riskgate/internal/account"
	"github.com/kmathis/riskgate/internal/idgen"
	"github.com/kmathis/riskgate/internal/logging"
	"github.com/kmathis/riskgate/internal/metrics"
	"github.com/kmathis/riskgate/internal/risk"
	"github.com/kmathis/riskgate/internal/syncutil"
)

// Service drives a transfer through scoring, tiering, step-up
// verification, and posting.
type Service struct {
	store      Store
	accounts   Accounts
	scorer     Scorer
	challenges Challenger
	thresholds risk.Thresholds
	currency   string
	clock      func() time.Time

	// locks serializes state transitions per transfer ID.
	locks *syncutil.ContextShardedMutex
}

// NewService creates a transfer service.
func NewService(store Store, accounts Accounts, scorer Scorer, challenges Challenger, thresholds risk.Thresholds, currency string) *Service {
	return &Service{
		store:      store,
		accounts:   accounts,
		scorer:     scorer,
		challenges: challenges,
		thresholds: thresholds,
		currency:   currency,
		clock:      time.Now,
		locks:      syncutil.NewContextShardedMutex(),
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// InitiateRequest carries a resolved sender plus the receiver's bank
// details as the client supplied them.
type InitiateRequest struct {
	Sender           *account.Account
	SenderUserID     string
	ReceiverBankCode string
	ReceiverNumber   string
	Amount           float64
	Note             string
	RequestID        string
}

// Result is the outcome of an authorization step.
type Result struct {
	Transfer *Transfer              `json:"transfer"`
	Decision risk.Decision          `json:"decision"`
	Posting  *account.PostingResult `json:"posting,omitempty"`
}

// Initiate scores a transfer request and routes it by risk tier.
//
// APPROVE posts immediately; a posting fault surfaces as ErrDependency
// with the transfer parked in COMPLETED_PENDING_POSTING. TRIGGER_MFA
// parks the transfer in MFA_REQUIRED without moving funds. BLOCK
// records the rejection and suspends the sender.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*Result, error) {
	if req.Sender == nil || req.SenderUserID == "" {
		return nil, fmt.Errorf("%w: sender required", ErrInvalidInput)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than 0", ErrInvalidInput)
	}
	if len(req.Note) > 256 {
		return nil, fmt.Errorf("%w: note exceeds 256 characters", ErrInvalidInput)
	}

	receiver, err := s.accounts.Lookup(ctx, req.ReceiverBankCode, req.ReceiverNumber)
	if err == account.ErrAccountNotFound {
		return nil, ErrReceiverNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: receiver lookup: %v", ErrDependency, err)
	}
	if !receiver.Active {
		return nil, ErrReceiverNotFound
	}
	if receiver.ID == req.Sender.ID {
		return nil, ErrSameAccount
	}

	now := s.clock().UTC()
	fctx, err := risk.NewFeatureContext(req.Amount, req.Sender.Balance, receiver.Balance, now, -1)
	if err != nil {
		return nil, err
	}
	features := risk.BuildFeatures(fctx)

	probability, err := s.scorer.Score(ctx, features)
	if err != nil {
		return nil, fmt.Errorf("%w: scoring: %v", ErrDependency, err)
	}
	decision, err := risk.Evaluate(probability, s.thresholds)
	if err != nil {
		return nil, fmt.Errorf("%w: risk evaluation: %v", ErrDependency, err)
	}
	metrics.RiskDecisionsTotal.WithLabelValues(string(decision.Tier)).Inc()

	t := &Transfer{
		ID:                idgen.WithPrefix("tr_"),
		SenderUserID:      req.SenderUserID,
		SenderAccountID:   req.Sender.ID,
		SenderNumber:      req.Sender.Number,
		SenderBankCode:    req.Sender.BankCode,
		ReceiverUserID:    receiver.UserID,
		ReceiverAccountID: receiver.ID,
		ReceiverNumber:    receiver.Number,
		ReceiverBankCode:  receiver.BankCode,
		Amount:            req.Amount,
		Currency:          s.currency,
		Note:              req.Note,
		RiskTier:          decision.Tier,
		Action:            decision.Action,
		FraudProbability:  probability,
		ModelVersion:      s.scorer.Version(),
		RequestID:         req.RequestID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	switch decision.Action {
	case risk.ActionApprove:
		t.Status = StatusPendingPosting
		if err := s.store.Create(ctx, t); err != nil {
			return nil, fmt.Errorf("failed to record transfer: %w", err)
		}
		return s.post(ctx, t, decision)

	case risk.ActionStepUp:
		t.Status = StatusMfaRequired
		if err := s.store.Create(ctx, t); err != nil {
			return nil, fmt.Errorf("failed to record transfer: %w", err)
		}
		metrics.TransfersTotal.WithLabelValues(string(t.Status)).Inc()
		return &Result{Transfer: t, Decision: decision}, nil

	case risk.ActionBlock:
		t.Status = StatusRejected
		if err := s.store.Create(ctx, t); err != nil {
			return nil, fmt.Errorf("failed to record transfer: %w", err)
		}
		metrics.TransfersTotal.WithLabelValues(string(t.Status)).Inc()
		if err := s.accounts.Suspend(ctx, req.SenderUserID, req.Sender.ID); err != nil {
			// The rejection stands either way; the suspension is retried
			// by the next blocked attempt.
			logging.L(ctx).Error("failed to suspend sender after block",
				slog.String("transfer_id", t.ID),
				slog.String("error", err.Error()))
		}
		return &Result{Transfer: t, Decision: decision}, nil
	}

	return nil, fmt.Errorf("%w: unknown action %q", ErrDependency, decision.Action)
}

// IssueChallenge creates (or replaces) the step-up challenge for a
// transfer that is awaiting MFA. Only the sender may request one.
func (s *Service) IssueChallenge(ctx context.Context, transferID, callerUserID string) (*Transfer, string, time.Time, error) {
	unlock, err := s.locks.LockContext(ctx, transferID)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	defer unlock()

	t, err := s.store.Get(ctx, transferID)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	if t.SenderUserID != callerUserID {
		return nil, "", time.Time{}, ErrNotTransferOwner
	}
	if t.Status != StatusMfaRequired {
		return nil, "", time.Time{}, fmt.Errorf("%w: transfer is %s", ErrMfaNotRequired, t.Status)
	}

	ch, code, err := s.challenges.Issue(ctx, transferID)
	if err != nil {
		return nil, "", time.Time{}, fmt.Errorf("%w: challenge issue: %v", ErrDependency, err)
	}
	return t, code, ch.ExpiresAt, nil
}

// VerifyChallenge checks a step-up code and, on success, posts the
// transfer. The per-transfer lock plus the compare-and-set status
// transition guarantee a concurrent second verify observes a conflict
// rather than double-posting.
func (s *Service) VerifyChallenge(ctx context.Context, transferID, code, callerUserID string) (*Result, error) {
	unlock, err := s.locks.LockContext(ctx, transferID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.Get(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t.SenderUserID != callerUserID {
		return nil, ErrNotTransferOwner
	}
	if t.Status != StatusMfaRequired {
		return nil, fmt.Errorf("%w: transfer is %s", ErrMfaNotRequired, t.Status)
	}

	if _, err := s.challenges.Verify(ctx, transferID, code); err != nil {
		return nil, err
	}

	if err := s.store.SetStatus(ctx, transferID, StatusMfaRequired, StatusPendingPosting); err != nil {
		return nil, err
	}
	t.Status = StatusPendingPosting
	t.UpdatedAt = s.clock().UTC()

	decision := risk.Decision{Tier: t.RiskTier, Action: t.Action}
	return s.post(ctx, t, decision)
}

// post moves funds for an authorized transfer and marks it COMPLETED.
// On a posting fault the transfer stays in COMPLETED_PENDING_POSTING.
func (s *Service) post(ctx context.Context, t *Transfer, decision risk.Decision) (*Result, error) {
	posting, err := s.accounts.Post(ctx, t.ID, t.SenderAccountID, t.ReceiverAccountID, t.Amount)
	if err != nil {
		metrics.TransfersTotal.WithLabelValues(string(StatusPendingPosting)).Inc()
		logging.L(ctx).Error("posting failed, transfer parked",
			slog.String("transfer_id", t.ID),
			slog.String("error", err.Error()))
		return &Result{Transfer: t, Decision: decision},
			fmt.Errorf("%w: posting: %v", ErrDependency, err)
	}

	if err := s.store.SetStatus(ctx, t.ID, StatusPendingPosting, StatusCompleted); err != nil {
		return nil, err
	}
	t.Status = StatusCompleted
	t.UpdatedAt = s.clock().UTC()
	metrics.TransfersTotal.WithLabelValues(string(StatusCompleted)).Inc()

	return &Result{Transfer: t, Decision: decision, Posting: posting}, nil
}

// Get returns a transfer visible to its sender or receiver.
func (s *Service) Get(ctx context.Context, transferID, callerUserID string) (*Transfer, error) {
	t, err := s.store.Get(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t.SenderUserID != callerUserID && t.ReceiverUserID != callerUserID {
		return nil, ErrNotTransferOwner
	}
	return t, nil
}

// History lists a user's transfers, newest first.
func (s *Service) History(ctx context.Context, userID string, limit, offset int) ([]*Transfer, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	items, err := s.store.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.CountByUser(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
