package mfa

import (
	"context"
	"database/sql"
	"fmt"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed challenge store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the transfer_mfa_challenges table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transfer_mfa_challenges (
			transfer_id   VARCHAR(64) PRIMARY KEY,
			code_hash     VARCHAR(64) NOT NULL,
			code_length   INT NOT NULL,
			attempts      INT NOT NULL DEFAULT 0,
			max_attempts  INT NOT NULL,
			status        VARCHAR(16) NOT NULL DEFAULT 'PENDING',
			expires_at    TIMESTAMPTZ NOT NULL,
			verified_at   TIMESTAMPTZ,
			created_at    TIMESTAMPTZ DEFAULT NOW(),
			updated_at    TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// Upsert replaces any existing challenge for the transfer in one statement.
func (p *PostgresStore) Upsert(ctx context.Context, ch *Challenge) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transfer_mfa_challenges (
			transfer_id, code_hash, code_length, attempts, max_attempts,
			status, expires_at, verified_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (transfer_id) DO UPDATE SET
			code_hash    = EXCLUDED.code_hash,
			code_length  = EXCLUDED.code_length,
			attempts     = EXCLUDED.attempts,
			max_attempts = EXCLUDED.max_attempts,
			status       = EXCLUDED.status,
			expires_at   = EXCLUDED.expires_at,
			verified_at  = EXCLUDED.verified_at,
			updated_at   = EXCLUDED.updated_at
	`,
		ch.TransferID, ch.CodeHash, ch.CodeLength, ch.Attempts, ch.MaxAttempts,
		string(ch.Status), ch.ExpiresAt, ch.VerifiedAt, ch.CreatedAt, ch.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert MFA challenge: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, transferID string) (*Challenge, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT transfer_id, code_hash, code_length, attempts, max_attempts,
		       status, expires_at, verified_at, created_at, updated_at
		FROM transfer_mfa_challenges
		WHERE transfer_id = $1
	`, transferID)

	var ch Challenge
	var status string
	var verifiedAt sql.NullTime
	err := row.Scan(
		&ch.TransferID, &ch.CodeHash, &ch.CodeLength, &ch.Attempts, &ch.MaxAttempts,
		&status, &ch.ExpiresAt, &verifiedAt, &ch.CreatedAt, &ch.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get MFA challenge: %w", err)
	}

	ch.Status = Status(status)
	if verifiedAt.Valid {
		ch.VerifiedAt = &verifiedAt.Time
	}
	return &ch, nil
}

func (p *PostgresStore) Update(ctx context.Context, ch *Challenge) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE transfer_mfa_challenges SET
			attempts    = $2,
			status      = $3,
			verified_at = $4,
			updated_at  = $5
		WHERE transfer_id = $1
	`, ch.TransferID, ch.Attempts, string(ch.Status), ch.VerifiedAt, ch.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update MFA challenge: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update MFA challenge: %w", err)
	}
	if n == 0 {
		return ErrChallengeNotFound
	}
	return nil
}
