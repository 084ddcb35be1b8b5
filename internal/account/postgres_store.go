package account

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed account store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the user, account, and posting tables.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bank_users (
			id          VARCHAR(40) PRIMARY KEY,
			email       VARCHAR(255) NOT NULL UNIQUE,
			full_name   VARCHAR(255) NOT NULL,
			status      VARCHAR(16) NOT NULL DEFAULT 'ACTIVE',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS bank_accounts (
			id              VARCHAR(40) PRIMARY KEY,
			user_id         VARCHAR(40) NOT NULL REFERENCES bank_users(id),
			account_number  VARCHAR(20) NOT NULL,
			bank_code       VARCHAR(16) NOT NULL,
			currency        VARCHAR(8)  NOT NULL,
			balance         NUMERIC(20,2) NOT NULL DEFAULT 0,
			active          BOOLEAN NOT NULL DEFAULT TRUE,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT chk_balance_nonneg CHECK (balance >= 0),
			CONSTRAINT uq_bank_account UNIQUE (bank_code, account_number)
		);

		CREATE TABLE IF NOT EXISTS transfer_postings (
			transfer_id       VARCHAR(40) PRIMARY KEY,
			sender_account    VARCHAR(40) NOT NULL,
			receiver_account  VARCHAR(40) NOT NULL,
			amount            NUMERIC(20,2) NOT NULL,
			posted_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_bank_accounts_user ON bank_accounts(user_id);
	`)
	return err
}

func (p *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bank_users (id, email, full_name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Email, u.FullName, string(u.Status), u.CreatedAt, u.UpdatedAt)
	return err
}

func (p *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, status, created_at, updated_at
		FROM bank_users WHERE id = $1
	`, id))
}

func (p *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, status, created_at, updated_at
		FROM bank_users WHERE email = $1
	`, email))
}

func (p *PostgresStore) scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	var status string
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &status, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Status = UserStatus(status)
	return u, nil
}

func (p *PostgresStore) SetUserStatus(ctx context.Context, id string, status UserStatus) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE bank_users SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, string(status))
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (p *PostgresStore) CreateAccount(ctx context.Context, a *Account) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bank_accounts (id, user_id, account_number, bank_code, currency, balance, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.UserID, a.Number, a.BankCode, a.Currency, a.Balance, a.Active, a.CreatedAt, a.UpdatedAt)
	return err
}

const accountColumns = `id, user_id, account_number, bank_code, currency, balance, active, created_at, updated_at`

func (p *PostgresStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	return p.scanAccount(p.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM bank_accounts WHERE id = $1`, id))
}

func (p *PostgresStore) GetAccountByUser(ctx context.Context, userID string) (*Account, error) {
	return p.scanAccount(p.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM bank_accounts WHERE user_id = $1 ORDER BY created_at LIMIT 1`, userID))
}

func (p *PostgresStore) GetAccountByNumber(ctx context.Context, bankCode, number string) (*Account, error) {
	return p.scanAccount(p.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM bank_accounts WHERE bank_code = $1 AND account_number = $2`, bankCode, number))
}

func (p *PostgresStore) scanAccount(row *sql.Row) (*Account, error) {
	a := &Account{}
	err := row.Scan(&a.ID, &a.UserID, &a.Number, &a.BankCode, &a.Currency, &a.Balance, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (p *PostgresStore) SetAccountActive(ctx context.Context, id string, active bool) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE bank_accounts SET active = $2, updated_at = NOW() WHERE id = $1
	`, id, active)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// PostTransfer moves funds in one serializable transaction. The posting
// row keyed by transfer ID makes the operation idempotent, and the
// balance CHECK constraint backstops the in-transaction funds check.
func (p *PostgresStore) PostTransfer(ctx context.Context, transferID, senderAccountID, receiverAccountID string, amount float64) (*PostingResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM transfer_postings WHERE transfer_id = $1)
	`, transferID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyPosted
	}

	// Lock both rows in a stable order to avoid deadlock between
	// concurrent postings touching the same pair.
	first, second := senderAccountID, receiverAccountID
	if second < first {
		first, second = second, first
	}
	for _, id := range []string{first, second} {
		var active bool
		err = tx.QueryRowContext(ctx, `
			SELECT active FROM bank_accounts WHERE id = $1 FOR UPDATE
		`, id).Scan(&active)
		if err == sql.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		if err != nil {
			return nil, err
		}
		if !active {
			return nil, ErrAccountInactive
		}
	}

	var senderBalance float64
	err = tx.QueryRowContext(ctx, `
		SELECT balance FROM bank_accounts WHERE id = $1
	`, senderAccountID).Scan(&senderBalance)
	if err != nil {
		return nil, err
	}
	if senderBalance < amount {
		return nil, ErrInsufficientFunds
	}

	var newSenderBalance float64
	err = tx.QueryRowContext(ctx, `
		UPDATE bank_accounts SET balance = balance - $2::NUMERIC(20,2), updated_at = NOW()
		WHERE id = $1 RETURNING balance
	`, senderAccountID, amount).Scan(&newSenderBalance)
	if err != nil {
		return nil, fmt.Errorf("failed to debit sender: %w", err)
	}

	var newReceiverBalance float64
	err = tx.QueryRowContext(ctx, `
		UPDATE bank_accounts SET balance = balance + $2::NUMERIC(20,2), updated_at = NOW()
		WHERE id = $1 RETURNING balance
	`, receiverAccountID, amount).Scan(&newReceiverBalance)
	if err != nil {
		return nil, fmt.Errorf("failed to credit receiver: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO transfer_postings (transfer_id, sender_account, receiver_account, amount, posted_at)
		VALUES ($1, $2, $3, $4::NUMERIC(20,2), $5)
	`, transferID, senderAccountID, receiverAccountID, amount, now)
	if err != nil {
		return nil, fmt.Errorf("failed to record posting: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &PostingResult{
		TransferID:      transferID,
		SenderBalance:   newSenderBalance,
		ReceiverBalance: newReceiverBalance,
		PostedAt:        now,
	}, nil
}
