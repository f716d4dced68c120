package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quisin/payments-core/internal/apperr"
	"github.com/quisin/payments-core/internal/events"
	"github.com/quisin/payments-core/internal/gateway"
	"github.com/quisin/payments-core/internal/interfaces"
	"github.com/quisin/payments-core/internal/models"
	"github.com/quisin/payments-core/internal/telemetry"
)

const updateLockTTL = 30 * time.Second

// charger is the slice of gateway.Registry the ledger uses.
type charger interface {
	Process(ctx context.Context, req gateway.ChargeRequest) (gateway.Result, error)
}

// observer receives committed payments for off-path monitoring.
type observer interface {
	Observe(payment *models.Payment)
}

// Ledger owns the authoritative Payment and PaymentSplit records: creation,
// status transitions and the duplicate-payment guard. Gateway calls happen
// synchronously on creation; settlement updates arrive later through the
// webhook reconciler on the same update path.
type Ledger struct {
	repo      interfaces.PaymentRepository
	splits    interfaces.PaymentSplitRepository
	gateways  charger
	publisher events.Publisher
	monitor   observer
	rdb       *redis.Client
}

func NewLedger(
	repo interfaces.PaymentRepository,
	splits interfaces.PaymentSplitRepository,
	gateways charger,
	publisher events.Publisher,
	monitor observer,
	rdb *redis.Client,
) *Ledger {
	return &Ledger{
		repo:      repo,
		splits:    splits,
		gateways:  gateways,
		publisher: publisher,
		monitor:   monitor,
		rdb:       rdb,
	}
}

// CreatePayment runs the duplicate guard, obtains a provisional status from
// the matching gateway adapter, and persists the payment. Provider failures
// do not fail the call: the gateway contract turns them into a FAILED result
// and the ledger still records the attempt.
func (l *Ledger) CreatePayment(ctx context.Context, req models.CreatePaymentRequest) (*models.Payment, error) {
	if err := validateCreateRequest(&req); err != nil {
		return nil, err
	}

	// Pre-check for a friendly error; the partial unique index is the
	// authoritative guard against concurrent submissions.
	existing, err := l.repo.GetActiveByUserAndOrder(ctx, req.UserID, req.OrderID)
	if err != nil && !apperr.IsKind(err, apperr.NotFound) {
		return nil, apperr.Wrap("duplicate check failed", err)
	}
	if existing != nil {
		return nil, apperr.ConflictErr("payment for this order already exists")
	}

	result, err := l.gateways.Process(ctx, gateway.ChargeRequest{
		Amount:      req.Amount,
		Method:      req.PaymentMethod,
		UserID:      req.UserID,
		PhoneNumber: req.Metadata["phoneNumber"],
	})
	if err != nil {
		return nil, err
	}
	if result.Failure != gateway.FailureNone {
		telemetry.Logger.Warn("Gateway reported failure",
			zap.String("method", string(req.PaymentMethod)),
			zap.String("failure", string(result.Failure)),
			zap.String("detail", result.Detail),
		)
	}

	payment := &models.Payment{
		ID:                    uuid.New(),
		UserID:                req.UserID,
		OrderID:               req.OrderID,
		RestaurantID:          req.RestaurantID,
		PaymentMethod:         req.PaymentMethod,
		PaymentType:           req.PaymentType,
		Status:                result.Status,
		Amount:                req.Amount,
		Currency:              req.Currency,
		Description:           req.Description,
		ExternalTransactionID: result.TransactionID,
		Metadata:              req.Metadata,
		CreatedAt:             time.Now(),
		UpdatedAt:             time.Now(),
	}
	if result.Failure != gateway.FailureNone {
		if payment.Metadata == nil {
			payment.Metadata = make(map[string]string)
		}
		payment.Metadata["gateway_failure"] = string(result.Failure)
	}

	if err := l.repo.Create(ctx, payment); err != nil {
		return nil, err
	}
	telemetry.PaymentsCreated.WithLabelValues(string(payment.PaymentMethod), string(payment.Status)).Inc()

	l.publisher.PublishPaymentEvent(ctx, payment)
	l.monitor.Observe(payment)
	return payment, nil
}

// CreateSplitPayment records one aggregate payment plus a share row per
// participant. It never calls a gateway adapter; each participant settles
// their share separately.
func (l *Ledger) CreateSplitPayment(ctx context.Context, req models.CreateSplitPaymentRequest) (*models.Payment, error) {
	if len(req.Participants) == 0 {
		return nil, apperr.InvalidErr("split payment requires at least one participant")
	}
	if !req.PaymentMethod.Valid() {
		return nil, apperr.InvalidErr(fmt.Sprintf("unknown payment method %s", req.PaymentMethod))
	}

	total := decimal.Zero
	for _, participant := range req.Participants {
		if !participant.Amount.GreaterThan(decimal.Zero) {
			return nil, apperr.InvalidErr("participant amounts must be greater than zero")
		}
		total = total.Add(participant.Amount)
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	participants := make([]uuid.UUID, len(req.Participants))
	for i, participant := range req.Participants {
		participants[i] = participant.UserID
	}

	payment := &models.Payment{
		ID:            uuid.New(),
		UserID:        req.Participants[0].UserID,
		OrderID:       req.OrderID,
		RestaurantID:  req.RestaurantID,
		PaymentMethod: req.PaymentMethod,
		PaymentType:   models.TypeSplitBill,
		Status:        models.StatusPending,
		Amount:        total,
		Currency:      currency,
		Participants:  participants,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	splits := make([]models.PaymentSplit, len(req.Participants))
	for i, participant := range req.Participants {
		splits[i] = models.PaymentSplit{
			ID:        uuid.New(),
			PaymentID: payment.ID,
			UserID:    participant.UserID,
			Amount:    participant.Amount,
			Status:    models.StatusPending,
		}
	}

	if err := l.repo.CreateWithSplits(ctx, payment, splits); err != nil {
		return nil, err
	}
	telemetry.PaymentsCreated.WithLabelValues(string(payment.PaymentMethod), string(payment.Status)).Inc()

	l.publisher.PublishPaymentEvent(ctx, payment)
	l.monitor.Observe(payment)
	return payment, nil
}

// UpdatePaymentStatus applies a partial update under a short per-payment
// lock. Re-applying the same update is a no-op by construction: provided
// fields are set to the same values and metadata merges key-wise.
func (l *Ledger) UpdatePaymentStatus(ctx context.Context, paymentID uuid.UUID, req models.UpdatePaymentRequest) (*models.Payment, error) {
	if req.Status != "" && !req.Status.Valid() {
		return nil, apperr.InvalidErr(fmt.Sprintf("unknown payment status %s", req.Status))
	}

	if l.rdb != nil {
		lockKey := fmt.Sprintf("payment_lock:%s", paymentID)
		locked := l.rdb.SetNX(ctx, lockKey, "1", updateLockTTL)
		if !locked.Val() {
			return nil, apperr.ConflictErr("payment is already being updated")
		}
		defer l.rdb.Del(ctx, lockKey)
	}

	payment, err := l.repo.Update(ctx, paymentID, req)
	if err != nil {
		return nil, err
	}
	telemetry.PaymentStatusUpdates.WithLabelValues(string(payment.Status)).Inc()

	telemetry.Logger.Info("Payment status updated",
		zap.String("payment_id", paymentID.String()),
		zap.String("status", string(payment.Status)),
	)

	l.publisher.PublishPaymentEvent(ctx, payment)
	l.monitor.Observe(payment)
	return payment, nil
}

// ConfirmCashPayment marks a cash payment settled after staff take the money.
func (l *Ledger) ConfirmCashPayment(ctx context.Context, paymentID uuid.UUID, amountReceived string, staffID uuid.UUID) (*models.Payment, error) {
	return l.UpdatePaymentStatus(ctx, paymentID, models.UpdatePaymentRequest{
		Status:                models.StatusSuccessful,
		ExternalTransactionID: "CASH-" + uuid.NewString(),
		Metadata: map[string]string{
			"amountReceived": amountReceived,
			"staffId":        staffID.String(),
			"confirmedAt":    fmt.Sprintf("%d", time.Now().UnixMilli()),
		},
	})
}

// CancelCashPayment voids a pending cash payment.
func (l *Ledger) CancelCashPayment(ctx context.Context, paymentID uuid.UUID, reason string, staffID uuid.UUID) (*models.Payment, error) {
	return l.UpdatePaymentStatus(ctx, paymentID, models.UpdatePaymentRequest{
		Status: models.StatusCancelled,
		Metadata: map[string]string{
			"reason":      reason,
			"staffId":     staffID.String(),
			"cancelledAt": fmt.Sprintf("%d", time.Now().UnixMilli()),
		},
	})
}

func (l *Ledger) GetPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	return l.repo.GetByID(ctx, paymentID)
}

func (l *Ledger) GetPaymentByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	return l.repo.GetByExternalTransactionID(ctx, externalID)
}

func (l *Ledger) GetPendingCashPayments(ctx context.Context, restaurantID uuid.UUID) ([]models.Payment, error) {
	return l.repo.ListPendingCash(ctx, restaurantID)
}

func (l *Ledger) GetPaymentsByUser(ctx context.Context, userID uuid.UUID, status *models.PaymentStatus) ([]models.Payment, error) {
	return l.repo.ListByUser(ctx, userID, status)
}

func (l *Ledger) GetPaymentSplits(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentSplit, error) {
	return l.splits.ListByPayment(ctx, paymentID)
}

func validateCreateRequest(req *models.CreatePaymentRequest) error {
	if !req.PaymentMethod.Valid() {
		return apperr.InvalidErr(fmt.Sprintf("unknown payment method %s", req.PaymentMethod))
	}
	if !req.PaymentType.Valid() {
		return apperr.InvalidErr(fmt.Sprintf("unknown payment type %s", req.PaymentType))
	}
	if !req.Amount.GreaterThan(decimal.Zero) {
		return apperr.InvalidErr("amount must be greater than zero")
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}
	return nil
}
