package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/quisin/payments-core/internal/apperr"
	"github.com/quisin/payments-core/internal/models"
)

const uniqueViolation = "23505"

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) InitDB() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS payments (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			order_id UUID NOT NULL,
			restaurant_id UUID,
			payment_method VARCHAR(50) NOT NULL,
			payment_type VARCHAR(50) NOT NULL,
			status VARCHAR(50) NOT NULL,
			amount DECIMAL(19,2) NOT NULL,
			currency VARCHAR(3) NOT NULL,
			description VARCHAR(500),
			external_transaction_id VARCHAR(255),
			metadata JSONB,
			participants UUID[],
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		// One live payment per (payer, order); cancelled attempts don't count.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_user_order_active
			ON payments(user_id, order_id) WHERE status <> 'CANCELLED'`,
		`CREATE INDEX IF NOT EXISTS idx_payments_user_id ON payments(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_external_tx ON payments(external_transaction_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_method_status ON payments(payment_method, status)`,
		`CREATE TABLE IF NOT EXISTS payment_splits (
			id UUID PRIMARY KEY,
			payment_id UUID NOT NULL REFERENCES payments(id),
			user_id UUID NOT NULL,
			amount DECIMAL(19,2) NOT NULL,
			status VARCHAR(50) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_splits_payment_id ON payment_splits(payment_id)`,
	}

	for _, query := range queries {
		if _, err := r.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

const paymentColumns = `id, user_id, order_id, restaurant_id, payment_method, payment_type,
	status, amount, currency, description, external_transaction_id, metadata,
	participants, created_at, updated_at`

func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	return r.insert(ctx, r.db, payment)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *PaymentRepository) insert(ctx context.Context, ex execer, payment *models.Payment) error {
	metadata, err := marshalMetadata(payment.Metadata)
	if err != nil {
		return err
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO payments (id, user_id, order_id, restaurant_id, payment_method,
			payment_type, status, amount, currency, description,
			external_transaction_id, metadata, participants)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''), $12, $13)
	`, payment.ID, payment.UserID, payment.OrderID, nullUUID(payment.RestaurantID),
		payment.PaymentMethod, payment.PaymentType, payment.Status,
		payment.Amount.StringFixed(2), payment.Currency, payment.Description,
		payment.ExternalTransactionID, metadata, pq.Array(uuidStrings(payment.Participants)))

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return apperr.ConflictErr("payment for this order already exists")
	}
	return err
}

// CreateWithSplits persists the aggregate payment and its per-participant
// shares in one transaction so the sum invariant is never visible half-done.
func (r *PaymentRepository) CreateWithSplits(ctx context.Context, payment *models.Payment, splits []models.PaymentSplit) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := r.insert(ctx, tx, payment); err != nil {
		return err
	}

	for _, split := range splits {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payment_splits (id, payment_id, user_id, amount, status)
			VALUES ($1, $2, $3, $4, $5)
		`, split.ID, split.PaymentID, split.UserID, split.Amount.StringFixed(2), split.Status); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (r *PaymentRepository) GetActiveByUserAndOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Payment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE user_id = $1 AND order_id = $2 AND status <> 'CANCELLED'
	`, userID, orderID)
	return scanPayment(row)
}

func (r *PaymentRepository) GetByExternalTransactionID(ctx context.Context, externalID string) (*models.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE external_transaction_id = $1`, externalID)
	return scanPayment(row)
}

// Update applies a partial update: empty fields keep their stored value and
// metadata is merged key-wise into the existing document.
func (r *PaymentRepository) Update(ctx context.Context, id uuid.UUID, req models.UpdatePaymentRequest) (*models.Payment, error) {
	metadata, err := marshalMetadata(req.Metadata)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE payments SET
			status = COALESCE(NULLIF($2, ''), status),
			external_transaction_id = COALESCE(NULLIF($3, ''), external_transaction_id),
			metadata = CASE WHEN $4::jsonb IS NULL THEN metadata
				ELSE COALESCE(metadata, '{}'::jsonb) || $4::jsonb END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+paymentColumns,
		id, string(req.Status), req.ExternalTransactionID, metadata)
	return scanPayment(row)
}

func (r *PaymentRepository) ListByUser(ctx context.Context, userID uuid.UUID, status *models.PaymentStatus) ([]models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE user_id = $1`
	args := []any{userID}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPayments(rows)
}

func (r *PaymentRepository) ListByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]models.Payment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPayments(rows)
}

func (r *PaymentRepository) ListPendingCash(ctx context.Context, restaurantID uuid.UUID) ([]models.Payment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE restaurant_id = $1 AND payment_method = $2 AND status = $3
		ORDER BY created_at
	`, restaurantID, models.MethodCash, models.StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPayments(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		p            models.Payment
		restaurantID sql.NullString
		description  sql.NullString
		externalID   sql.NullString
		metadata     []byte
		participants pq.StringArray
		amount       string
	)

	err := row.Scan(&p.ID, &p.UserID, &p.OrderID, &restaurantID, &p.PaymentMethod,
		&p.PaymentType, &p.Status, &amount, &p.Currency, &description,
		&externalID, &metadata, &participants, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundErr("payment not found")
	}
	if err != nil {
		return nil, err
	}

	if p.Amount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	if restaurantID.Valid {
		if p.RestaurantID, err = uuid.Parse(restaurantID.String); err != nil {
			return nil, err
		}
	}
	p.Description = description.String
	p.ExternalTransactionID = externalID.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, err
		}
	}
	for _, s := range participants {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		p.Participants = append(p.Participants, id)
	}

	return &p, nil
}

func scanPayments(rows *sql.Rows) ([]models.Payment, error) {
	var payments []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
