// Package mfa implements short-lived step-up verification challenges
// bound to a single transfer.
//
// Challenge lifecycle:
//
//	PENDING → VERIFIED  (correct code, terminal)
//	PENDING → EXPIRED   (deadline passed, checked lazily at verify time)
//	PENDING → LOCKED    (attempts exhausted, terminal)
//
// No transition ever leaves a terminal state. Re-issuing a challenge for a
// transfer replaces the previous one wholesale: new code, attempts reset.
package mfa

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/kmathis/riskgate/internal/metrics"
	"github.com/kmathis/riskgate/internal/syncutil"
)

var (
	ErrChallengeNotFound = errors.New("MFA challenge not found")
	ErrChallengeLocked   = errors.New("MFA challenge is locked due to failed attempts")
	ErrChallengeVerified = errors.New("MFA challenge was already verified")
	ErrChallengeExpired  = errors.New("MFA code expired")
	ErrInvalidCode       = errors.New("invalid MFA code")
	ErrInvalidConfig     = errors.New("invalid MFA configuration")
)

// InvalidCodeError reports a wrong code and the attempts still available.
type InvalidCodeError struct {
	Remaining int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid MFA code, %d attempt(s) remaining", e.Remaining)
}

func (e *InvalidCodeError) Unwrap() error { return ErrInvalidCode }

// Status represents the state of a challenge.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusVerified Status = "VERIFIED"
	StatusExpired  Status = "EXPIRED"
	StatusLocked   Status = "LOCKED"
)

// Challenge is one step-up verification record. At most one exists per
// transfer at a time. CodeHash is a keyed digest; plaintext codes are never
// stored.
type Challenge struct {
	TransferID  string     `json:"transfer_id"`
	CodeHash    string     `json:"-"`
	CodeLength  int        `json:"code_length"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	Status      Status     `json:"status"`
	ExpiresAt   time.Time  `json:"expires_at"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Store persists challenges keyed by transfer ID.
type Store interface {
	// Upsert replaces any existing challenge for the same transfer.
	Upsert(ctx context.Context, ch *Challenge) error
	Get(ctx context.Context, transferID string) (*Challenge, error)
	Update(ctx context.Context, ch *Challenge) error
}

// Config holds challenge issuance parameters.
type Config struct {
	CodeTTL       time.Duration
	MaxAttempts   int
	CodeLength    int
	SigningSecret string
}

// Engine issues and verifies challenges.
type Engine struct {
	store Store
	cfg   Config
	clock func() time.Time
	locks syncutil.ShardedMutex // per-transfer ID locks serializing read-modify-write
}

// NewEngine validates the configuration and creates the challenge engine.
func NewEngine(store Store, cfg Config) (*Engine, error) {
	if cfg.CodeTTL <= 0 {
		return nil, fmt.Errorf("%w: code TTL must be greater than 0", ErrInvalidConfig)
	}
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("%w: max attempts must be greater than 0", ErrInvalidConfig)
	}
	if cfg.CodeLength < 4 || cfg.CodeLength > 10 {
		return nil, fmt.Errorf("%w: code length must be between 4 and 10", ErrInvalidConfig)
	}
	if cfg.SigningSecret == "" {
		return nil, fmt.Errorf("%w: signing secret must not be empty", ErrInvalidConfig)
	}
	return &Engine{
		store: store,
		cfg:   cfg,
		clock: time.Now,
	}, nil
}

// WithClock overrides the wall clock (for tests).
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Issue creates a challenge for the transfer, replacing any prior one.
// The plaintext code is returned exactly once and never persisted.
func (e *Engine) Issue(ctx context.Context, transferID string) (*Challenge, string, error) {
	unlock := e.locks.Lock(transferID)
	defer unlock()

	code, err := generateCode(e.cfg.CodeLength)
	if err != nil {
		return nil, "", err
	}

	now := e.clock()
	ch := &Challenge{
		TransferID:  transferID,
		CodeHash:    HashCode(e.cfg.SigningSecret, transferID, code),
		CodeLength:  e.cfg.CodeLength,
		Attempts:    0,
		MaxAttempts: e.cfg.MaxAttempts,
		Status:      StatusPending,
		ExpiresAt:   now.Add(e.cfg.CodeTTL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := e.store.Upsert(ctx, ch); err != nil {
		return nil, "", fmt.Errorf("failed to store MFA challenge: %w", err)
	}

	return ch, code, nil
}

// Verify checks a submitted code against the transfer's challenge.
//
// Expiry is evaluated lazily against the stored absolute deadline; a request
// arriving after expires_at behaves exactly like one racing a just-fired
// timer. Attempt increment and the lockout check are one atomic step, so a
// failed call never leaves a partial mutation behind.
func (e *Engine) Verify(ctx context.Context, transferID, code string) (*Challenge, error) {
	// Two concurrent verify calls must not both read attempts == max-1
	// and both pass.
	unlock := e.locks.Lock(transferID)
	defer unlock()

	ch, err := e.store.Get(ctx, transferID)
	if err != nil {
		return nil, err
	}

	switch ch.Status {
	case StatusLocked:
		metrics.MfaVerificationsTotal.WithLabelValues("locked").Inc()
		return nil, ErrChallengeLocked
	case StatusVerified:
		metrics.MfaVerificationsTotal.WithLabelValues("conflict").Inc()
		return nil, ErrChallengeVerified
	case StatusExpired:
		metrics.MfaVerificationsTotal.WithLabelValues("expired").Inc()
		return nil, ErrChallengeExpired
	}

	now := e.clock()
	if now.After(ch.ExpiresAt) {
		ch.Status = StatusExpired
		ch.UpdatedAt = now
		if err := e.store.Update(ctx, ch); err != nil {
			return nil, fmt.Errorf("failed to expire MFA challenge: %w", err)
		}
		metrics.MfaVerificationsTotal.WithLabelValues("expired").Inc()
		return nil, ErrChallengeExpired
	}

	expected := HashCode(e.cfg.SigningSecret, transferID, code)
	if !constantTimeEqual(expected, ch.CodeHash) {
		ch.Attempts++
		ch.UpdatedAt = now
		if ch.Attempts >= ch.MaxAttempts {
			ch.Status = StatusLocked
		}
		if err := e.store.Update(ctx, ch); err != nil {
			return nil, fmt.Errorf("failed to record MFA attempt: %w", err)
		}

		if ch.Status == StatusLocked {
			metrics.MfaVerificationsTotal.WithLabelValues("locked_out").Inc()
			return nil, fmt.Errorf("%w: attempts exhausted", ErrChallengeLocked)
		}
		metrics.MfaVerificationsTotal.WithLabelValues("invalid_code").Inc()
		return nil, &InvalidCodeError{Remaining: ch.MaxAttempts - ch.Attempts}
	}

	ch.Status = StatusVerified
	ch.VerifiedAt = &now
	ch.UpdatedAt = now
	if err := e.store.Update(ctx, ch); err != nil {
		return nil, fmt.Errorf("failed to mark MFA challenge verified: %w", err)
	}

	metrics.MfaVerificationsTotal.WithLabelValues("verified").Inc()
	return ch, nil
}

// HashCode computes the keyed digest binding a code to its transfer.
// Including the transfer ID prevents a leaked hash from being replayed
// against a different transfer.
func HashCode(secret, transferID, code string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(transferID + ":" + code))
	return hex.EncodeToString(mac.Sum(nil))
}

// constantTimeEqual compares two hex digests without leaking timing.
func constantTimeEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// generateCode draws a uniform numeric code of exactly length digits.
func generateCode(length int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate MFA code: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n), nil
}
