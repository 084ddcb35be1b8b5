package transfer

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kmathis/riskgate/internal/risk"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed transfer store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the transfer_requests table.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transfer_requests (
			id                  VARCHAR(40) PRIMARY KEY,
			sender_user         VARCHAR(40) NOT NULL,
			sender_account      VARCHAR(40) NOT NULL,
			sender_number       VARCHAR(20) NOT NULL,
			sender_bank         VARCHAR(16) NOT NULL,
			receiver_user       VARCHAR(40) NOT NULL,
			receiver_account    VARCHAR(40) NOT NULL,
			receiver_number     VARCHAR(20) NOT NULL,
			receiver_bank       VARCHAR(16) NOT NULL,
			amount              NUMERIC(20,2) NOT NULL,
			currency            VARCHAR(8) NOT NULL,
			note                TEXT,
			status              VARCHAR(32) NOT NULL,
			risk_tier           VARCHAR(8) NOT NULL,
			action              VARCHAR(16) NOT NULL,
			fraud_probability   DOUBLE PRECISION NOT NULL,
			model_version       VARCHAR(64),
			request_id          VARCHAR(64),
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_transfers_sender ON transfer_requests(sender_user, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_transfers_receiver ON transfer_requests(receiver_user, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_transfers_status ON transfer_requests(status);
	`)
	return err
}

const transferColumns = `id, sender_user, sender_account, sender_number, sender_bank,
	receiver_user, receiver_account, receiver_number, receiver_bank,
	amount, currency, note, status, risk_tier, action,
	fraud_probability, model_version, request_id, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, t *Transfer) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transfer_requests (`+transferColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`,
		t.ID, t.SenderUserID, t.SenderAccountID, t.SenderNumber, t.SenderBankCode,
		t.ReceiverUserID, t.ReceiverAccountID, t.ReceiverNumber, t.ReceiverBankCode,
		t.Amount, t.Currency, t.Note, string(t.Status), string(t.RiskTier), string(t.Action),
		t.FraudProbability, t.ModelVersion, t.RequestID, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transfer, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM transfer_requests WHERE id = $1`, id)
	t, err := scanTransfer(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrTransferNotFound
	}
	return t, err
}

// SetStatus is a compare-and-set: the WHERE clause only matches the
// expected current state, so a lost race affects zero rows.
func (p *PostgresStore) SetStatus(ctx context.Context, id string, from, to Status) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE transfer_requests SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to))
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		t, gerr := p.Get(ctx, id)
		if gerr != nil {
			return gerr
		}
		return fmt.Errorf("%w: transfer is %s", ErrStateConflict, t.Status)
	}
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Transfer, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+transferColumns+` FROM transfer_requests
		WHERE sender_user = $1 OR receiver_user = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Transfer
	for rows.Next() {
		t, err := scanTransfer(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (p *PostgresStore) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transfer_requests WHERE sender_user = $1 OR receiver_user = $1
	`, userID).Scan(&count)
	return count, err
}

func scanTransfer(scan func(...any) error) (*Transfer, error) {
	t := &Transfer{}
	var note, modelVersion, requestID sql.NullString
	var status, tier, action string
	err := scan(
		&t.ID, &t.SenderUserID, &t.SenderAccountID, &t.SenderNumber, &t.SenderBankCode,
		&t.ReceiverUserID, &t.ReceiverAccountID, &t.ReceiverNumber, &t.ReceiverBankCode,
		&t.Amount, &t.Currency, &note, &status, &tier, &action,
		&t.FraudProbability, &modelVersion, &requestID, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Note = note.String
	t.Status = Status(status)
	t.RiskTier = risk.Tier(tier)
	t.Action = risk.Action(action)
	t.ModelVersion = modelVersion.String
	t.RequestID = requestID.String
	return t, nil
}
