package account

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kmathis/riskgate/internal/idgen"
	"github.com/kmathis/riskgate/internal/logging"
	"github.com/kmathis/riskgate/internal/metrics"
)

// Service wraps the store with the business rules around user and
// account lifecycle.
type Service struct {
	store Store

	bankCode       string
	currency       string
	initialBalance float64
}

// Option configures a Service.
type Option func(*Service)

// WithDefaults sets the bank code, currency, and opening balance used
// when provisioning new accounts.
func WithDefaults(bankCode, currency string, initialBalance float64) Option {
	return func(s *Service) {
		s.bankCode = bankCode
		s.currency = currency
		s.initialBalance = initialBalance
	}
}

// NewService creates an account service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:          store,
		bankCode:       "RSKGT",
		currency:       "USD",
		initialBalance: 0,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreateUser resolves a user by email, provisioning a profile and
// a deposit account on first touch.
func (s *Service) GetOrCreateUser(ctx context.Context, email, fullName string) (*User, *Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil, fmt.Errorf("%w: email required", ErrUserNotFound)
	}

	u, err := s.store.GetUserByEmail(ctx, email)
	if err == nil {
		acct, aerr := s.store.GetAccountByUser(ctx, u.ID)
		if aerr != nil {
			return nil, nil, aerr
		}
		return u, acct, nil
	}
	if err != ErrUserNotFound {
		return nil, nil, err
	}

	now := time.Now().UTC()
	u = &User{
		ID:        idgen.WithPrefix("usr_"),
		Email:     email,
		FullName:  fullName,
		Status:    UserActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}

	acct := &Account{
		ID:        idgen.WithPrefix("acct_"),
		UserID:    u.ID,
		Number:    generateAccountNumber(),
		BankCode:  s.bankCode,
		Currency:  s.currency,
		Balance:   s.initialBalance,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		return nil, nil, fmt.Errorf("failed to create account: %w", err)
	}

	logging.L(ctx).Info("provisioned user and account",
		slog.String("user_id", u.ID),
		slog.String("account_id", acct.ID))
	return u, acct, nil
}

// Profile returns the user and their account.
func (s *Service) Profile(ctx context.Context, userID string) (*User, *Account, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	acct, err := s.store.GetAccountByUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return u, acct, nil
}

// ValidateReceiver checks that a receiving account exists and is active,
// returning only the holder name and a masked account number.
func (s *Service) ValidateReceiver(ctx context.Context, bankCode, number string) (*ReceiverInfo, error) {
	acct, err := s.store.GetAccountByNumber(ctx, bankCode, number)
	if err == ErrAccountNotFound {
		return &ReceiverInfo{Exists: false}, nil
	}
	if err != nil {
		return nil, err
	}
	if !acct.Active {
		return &ReceiverInfo{Exists: false}, nil
	}

	u, err := s.store.GetUser(ctx, acct.UserID)
	if err != nil {
		return nil, err
	}
	return &ReceiverInfo{
		Exists:        true,
		HolderName:    u.FullName,
		BankCode:      acct.BankCode,
		MaskedAccount: MaskAccountNumber(acct.Number),
	}, nil
}

// Suspend blocks a user and deactivates their account. Called when a
// transfer is rejected as high risk; one-way except through Reinstate.
func (s *Service) Suspend(ctx context.Context, userID, accountID string) error {
	if err := s.store.SetUserStatus(ctx, userID, UserBlocked); err != nil {
		return fmt.Errorf("failed to block user: %w", err)
	}
	if err := s.store.SetAccountActive(ctx, accountID, false); err != nil {
		return fmt.Errorf("failed to deactivate account: %w", err)
	}
	metrics.AccountsSuspendedTotal.Inc()
	logging.L(ctx).Warn("account suspended for high-risk activity",
		slog.String("user_id", userID),
		slog.String("account_id", accountID))
	return nil
}

// Reinstate unblocks a user by email and reactivates their account.
func (s *Service) Reinstate(ctx context.Context, email string) (*User, error) {
	u, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	if err := s.store.SetUserStatus(ctx, u.ID, UserActive); err != nil {
		return nil, fmt.Errorf("failed to unblock user: %w", err)
	}
	acct, err := s.store.GetAccountByUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetAccountActive(ctx, acct.ID, true); err != nil {
		return nil, fmt.Errorf("failed to reactivate account: %w", err)
	}

	u.Status = UserActive
	logging.L(ctx).Info("user reinstated", slog.String("user_id", u.ID))
	return u, nil
}

// Post moves funds between two accounts for a transfer.
func (s *Service) Post(ctx context.Context, transferID, senderAccountID, receiverAccountID string, amount float64) (*PostingResult, error) {
	return s.store.PostTransfer(ctx, transferID, senderAccountID, receiverAccountID, amount)
}

// Lookup fetches an account by bank details. Unlike ValidateReceiver it
// returns the full account, so it stays internal to transfer processing.
func (s *Service) Lookup(ctx context.Context, bankCode, number string) (*Account, error) {
	return s.store.GetAccountByNumber(ctx, bankCode, number)
}
