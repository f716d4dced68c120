package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/quisin/payments-core/internal/models"
)

// PaymentRepository defines the contract for payment data access.
type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	CreateWithSplits(ctx context.Context, payment *models.Payment, splits []models.PaymentSplit) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetActiveByUserAndOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Payment, error)
	GetByExternalTransactionID(ctx context.Context, externalID string) (*models.Payment, error)
	Update(ctx context.Context, id uuid.UUID, req models.UpdatePaymentRequest) (*models.Payment, error)
	ListByUser(ctx context.Context, userID uuid.UUID, status *models.PaymentStatus) ([]models.Payment, error)
	ListByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]models.Payment, error)
	ListPendingCash(ctx context.Context, restaurantID uuid.UUID) ([]models.Payment, error)
}

// PaymentSplitRepository defines the contract for split-bill share access.
type PaymentSplitRepository interface {
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentSplit, error)
}
