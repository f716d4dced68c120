package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quisin/payments-core/internal/models"
)

type PaymentSplitRepository struct {
	db *sql.DB
}

func NewPaymentSplitRepository(db *sql.DB) *PaymentSplitRepository {
	return &PaymentSplitRepository{db: db}
}

func (r *PaymentSplitRepository) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentSplit, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, payment_id, user_id, amount, status
		FROM payment_splits WHERE payment_id = $1
		ORDER BY id
	`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var splits []models.PaymentSplit
	for rows.Next() {
		var (
			split  models.PaymentSplit
			amount string
		)
		if err := rows.Scan(&split.ID, &split.PaymentID, &split.UserID, &amount, &split.Status); err != nil {
			return nil, err
		}
		if split.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		splits = append(splits, split)
	}
	return splits, rows.Err()
}

func parseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
