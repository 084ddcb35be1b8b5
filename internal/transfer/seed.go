package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/kmathis/riskgate/internal/account"
	"github.com/kmathis/riskgate/internal/idgen"
	"github.com/kmathis/riskgate/internal/risk"
)

// Seeder populates demo transfer history for a user. Gated behind the
// ENABLE_DEMO_SEEDING flag; never wired in production configs.
type Seeder struct {
	store      Store
	accounts   *account.Service
	thresholds risk.Thresholds
	currency   string
}

// NewSeeder creates a demo seeder. Seeded rows are tiered with the same
// thresholds as live traffic so history never contradicts the policy.
func NewSeeder(store Store, accounts *account.Service, thresholds risk.Thresholds, currency string) *Seeder {
	return &Seeder{store: store, accounts: accounts, thresholds: thresholds, currency: currency}
}

// SeedSummary reports exactly what a seeding run wrote. It is always
// computed from the rows created, never reconstructed afterwards.
type SeedSummary struct {
	TransfersCreated int            `json:"transfers_created"`
	ByStatus         map[Status]int `json:"by_status"`
	PostedAmount     float64        `json:"posted_amount"`
	Counterparties   []string       `json:"counterparties"`
}

type seedSpec struct {
	amount      float64
	probability float64
	status      Status
	hoursAgo    int
	outgoing    bool
}

// Seed writes a handful of historical transfers in mixed states between
// the caller and two demo counterparties. Completed rows are posted
// through the ledger so balances stay consistent with history.
func (s *Seeder) Seed(ctx context.Context, u *account.User, acct *account.Account) (*SeedSummary, error) {
	counterparties := []struct {
		email string
		name  string
	}{
		{"demo.counterparty1@riskgate.internal", "Demo Counterparty One"},
		{"demo.counterparty2@riskgate.internal", "Demo Counterparty Two"},
	}

	var peers []*account.Account
	summary := &SeedSummary{ByStatus: make(map[Status]int)}
	for _, cp := range counterparties {
		_, peerAcct, err := s.accounts.GetOrCreateUser(ctx, cp.email, cp.name)
		if err != nil {
			return nil, fmt.Errorf("failed to provision counterparty: %w", err)
		}
		peers = append(peers, peerAcct)
		summary.Counterparties = append(summary.Counterparties, peerAcct.Number)
	}

	specs := []seedSpec{
		{amount: 45.00, probability: 0.03, status: StatusCompleted, hoursAgo: 72, outgoing: true},
		{amount: 120.50, probability: 0.07, status: StatusCompleted, hoursAgo: 48, outgoing: false},
		{amount: 18.25, probability: 0.02, status: StatusCompleted, hoursAgo: 30, outgoing: true},
		{amount: 310.00, probability: 0.22, status: StatusMfaRequired, hoursAgo: 6, outgoing: true},
		{amount: 890.00, probability: 0.71, status: StatusRejected, hoursAgo: 2, outgoing: true},
	}

	now := time.Now().UTC()
	for i, spec := range specs {
		peer := peers[i%len(peers)]
		sender, receiver := acct, peer
		senderUser := u.ID
		receiverUser := peer.UserID
		if !spec.outgoing {
			sender, receiver = peer, acct
			senderUser, receiverUser = peer.UserID, u.ID
		}

		decision, err := risk.Evaluate(spec.probability, s.thresholds)
		if err != nil {
			return nil, fmt.Errorf("%w: seed risk evaluation: %v", ErrDependency, err)
		}

		createdAt := now.Add(-time.Duration(spec.hoursAgo) * time.Hour)
		t := &Transfer{
			ID:                idgen.WithPrefix("tr_"),
			SenderUserID:      senderUser,
			SenderAccountID:   sender.ID,
			SenderNumber:      sender.Number,
			SenderBankCode:    sender.BankCode,
			ReceiverUserID:    receiverUser,
			ReceiverAccountID: receiver.ID,
			ReceiverNumber:    receiver.Number,
			ReceiverBankCode:  receiver.BankCode,
			Amount:            spec.amount,
			Currency:          s.currency,
			Note:              "demo seed",
			Status:            spec.status,
			RiskTier:          decision.Tier,
			Action:            actionFor(spec.status),
			FraudProbability:  spec.probability,
			ModelVersion:      "seed",
			CreatedAt:         createdAt,
			UpdatedAt:         createdAt,
		}

		if spec.status == StatusCompleted {
			// Post first: a transfer is only recorded COMPLETED when
			// funds actually moved.
			if _, err := s.accounts.Post(ctx, t.ID, sender.ID, receiver.ID, spec.amount); err != nil {
				return nil, fmt.Errorf("%w: seed posting: %v", ErrDependency, err)
			}
			summary.PostedAmount += spec.amount
		}
		if err := s.store.Create(ctx, t); err != nil {
			return nil, fmt.Errorf("failed to record seed transfer: %w", err)
		}

		summary.TransfersCreated++
		summary.ByStatus[spec.status]++
	}
	return summary, nil
}

func actionFor(status Status) risk.Action {
	switch status {
	case StatusMfaRequired:
		return risk.ActionStepUp
	case StatusRejected:
		return risk.ActionBlock
	default:
		return risk.ActionApprove
	}
}
