// Package account manages bank users, their deposit accounts, and the
// double-entry posting that moves funds between them.
//
// Flow:
//  1. First authenticated touch creates a user profile and a deposit account
//  2. Transfers post against two accounts atomically (debit + credit)
//  3. High-risk activity suspends the user and deactivates the account
//  4. An admin can reinstate a suspended user
package account

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrAccountNotFound   = errors.New("account not found")
	ErrUserBlocked       = errors.New("user is blocked")
	ErrAccountInactive   = errors.New("account is inactive")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrAlreadyPosted     = errors.New("transfer already posted")
)

// UserStatus is the lifecycle state of a bank user.
type UserStatus string

const (
	UserActive  UserStatus = "ACTIVE"
	UserBlocked UserStatus = "BLOCKED"
)

// User is a bank customer profile.
type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	FullName  string     `json:"full_name"`
	Status    UserStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Account is a deposit account owned by a user.
type Account struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Number    string    `json:"account_number"`
	BankCode  string    `json:"bank_code"`
	Currency  string    `json:"currency"`
	Balance   float64   `json:"balance"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PostingResult reports the balances after a transfer has been posted.
type PostingResult struct {
	TransferID      string    `json:"transfer_id"`
	SenderBalance   float64   `json:"sender_balance"`
	ReceiverBalance float64   `json:"receiver_balance"`
	PostedAt        time.Time `json:"posted_at"`
}

// ReceiverInfo is what a sender may learn about a receiving account
// before initiating a transfer. The account number comes back masked.
type ReceiverInfo struct {
	Exists        bool   `json:"exists"`
	HolderName    string `json:"holder_name,omitempty"`
	BankCode      string `json:"bank_code,omitempty"`
	MaskedAccount string `json:"masked_account_number,omitempty"`
}

// Store persists users, accounts, and postings.
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	SetUserStatus(ctx context.Context, id string, status UserStatus) error

	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	GetAccountByUser(ctx context.Context, userID string) (*Account, error)
	GetAccountByNumber(ctx context.Context, bankCode, number string) (*Account, error)
	SetAccountActive(ctx context.Context, id string, active bool) error

	// PostTransfer debits the sender and credits the receiver atomically.
	// A transfer ID that has already been posted returns ErrAlreadyPosted.
	PostTransfer(ctx context.Context, transferID, senderAccountID, receiverAccountID string, amount float64) (*PostingResult, error)
}

// generateAccountNumber returns a random 10-digit account number.
func generateAccountNumber() string {
	max := big.NewInt(10_000_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return fmt.Sprintf("%010d", n)
}

// MaskAccountNumber stars all but the last four digits.
func MaskAccountNumber(number string) string {
	if len(number) <= 4 {
		return number
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}
