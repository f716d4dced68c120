package service

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quisin/payments-core/internal/apperr"
	"github.com/quisin/payments-core/internal/gateway"
	"github.com/quisin/payments-core/internal/models"
)

func newTestLedger(repo *memRepo, g charger) (*Ledger, *stubPublisher, *stubObserver) {
	publisher := &stubPublisher{}
	observer := &stubObserver{}
	ledger := NewLedger(repo, &memSplitRepo{repo: repo}, g, publisher, observer, nil)
	return ledger, publisher, observer
}

func pendingCharger(txID string) *stubCharger {
	return &stubCharger{result: gateway.Result{
		TransactionID: txID,
		Status:        models.StatusPending,
	}}
}

func createRequest() models.CreatePaymentRequest {
	return models.CreatePaymentRequest{
		UserID:        uuid.New(),
		OrderID:       uuid.New(),
		RestaurantID:  uuid.New(),
		PaymentMethod: models.MethodCash,
		PaymentType:   models.TypeSingleOrder,
		Amount:        decimal.RequireFromString("42.50"),
	}
}

func TestLedger_CreatePayment(t *testing.T) {
	ctx := context.Background()

	t.Run("Given a valid request Then the provisional gateway status is persisted", func(t *testing.T) {
		repo := newMemRepo()
		ledger, publisher, observer := newTestLedger(repo, pendingCharger("CASH-abc"))

		payment, err := ledger.CreatePayment(ctx, createRequest())
		if err != nil {
			t.Fatalf("CreatePayment failed: %v", err)
		}
		if payment.Status != models.StatusPending {
			t.Errorf("expected PENDING, got %s", payment.Status)
		}
		if payment.ExternalTransactionID != "CASH-abc" {
			t.Errorf("expected gateway transaction id, got %q", payment.ExternalTransactionID)
		}
		if payment.Currency != "USD" {
			t.Errorf("expected default currency USD, got %s", payment.Currency)
		}

		stored, err := repo.GetByID(ctx, payment.ID)
		if err != nil {
			t.Fatalf("payment not persisted: %v", err)
		}
		if stored.Status != models.StatusPending {
			t.Errorf("persisted status mismatch: %s", stored.Status)
		}
		if len(publisher.published) != 1 {
			t.Errorf("expected 1 lifecycle event, got %d", len(publisher.published))
		}
		if observer.count() != 1 {
			t.Errorf("expected 1 monitor observation, got %d", observer.count())
		}
	})

	t.Run("Given an active payment for the same order Then the duplicate is rejected", func(t *testing.T) {
		repo := newMemRepo()
		ledger, _, _ := newTestLedger(repo, pendingCharger("t1"))

		req := createRequest()
		if _, err := ledger.CreatePayment(ctx, req); err != nil {
			t.Fatalf("first CreatePayment failed: %v", err)
		}
		_, err := ledger.CreatePayment(ctx, req)
		if !apperr.IsKind(err, apperr.Conflict) {
			t.Fatalf("expected Conflict, got %v", err)
		}
	})

	t.Run("Given a cancelled payment for the order Then a retry is allowed", func(t *testing.T) {
		repo := newMemRepo()
		ledger, _, _ := newTestLedger(repo, pendingCharger("t1"))

		req := createRequest()
		first, err := ledger.CreatePayment(ctx, req)
		if err != nil {
			t.Fatalf("first CreatePayment failed: %v", err)
		}
		if _, err := repo.Update(ctx, first.ID, models.UpdatePaymentRequest{Status: models.StatusCancelled}); err != nil {
			t.Fatalf("cancel failed: %v", err)
		}

		if _, err := ledger.CreatePayment(ctx, req); err != nil {
			t.Fatalf("expected retry after cancellation to succeed, got %v", err)
		}
	})

	t.Run("Given an unreachable provider Then a FAILED payment is still recorded", func(t *testing.T) {
		repo := newMemRepo()
		down := &stubCharger{result: gateway.Result{
			TransactionID: "generated-id",
			Status:        models.StatusFailed,
			Failure:       gateway.FailureUnreachable,
			Detail:        "connection refused",
		}}
		ledger, _, _ := newTestLedger(repo, down)

		req := createRequest()
		req.PaymentMethod = models.MethodCreditCard
		payment, err := ledger.CreatePayment(ctx, req)
		if err != nil {
			t.Fatalf("expected failure containment, got error: %v", err)
		}
		if payment.Status != models.StatusFailed {
			t.Errorf("expected FAILED, got %s", payment.Status)
		}
		if payment.Metadata["gateway_failure"] != string(gateway.FailureUnreachable) {
			t.Errorf("expected gateway_failure metadata, got %v", payment.Metadata)
		}
		if _, err := repo.GetByID(ctx, payment.ID); err != nil {
			t.Errorf("failed payment not persisted: %v", err)
		}
	})

	t.Run("Given invalid requests Then validation rejects before the gateway", func(t *testing.T) {
		repo := newMemRepo()
		g := pendingCharger("t1")
		ledger, _, _ := newTestLedger(repo, g)

		zeroAmount := createRequest()
		zeroAmount.Amount = decimal.Zero
		if _, err := ledger.CreatePayment(ctx, zeroAmount); !apperr.IsKind(err, apperr.Invalid) {
			t.Errorf("zero amount: expected Invalid, got %v", err)
		}

		badMethod := createRequest()
		badMethod.PaymentMethod = "CARRIER_PIGEON"
		if _, err := ledger.CreatePayment(ctx, badMethod); !apperr.IsKind(err, apperr.Invalid) {
			t.Errorf("unknown method: expected Invalid, got %v", err)
		}

		// Known in stored records but has no provider adapter, so new
		// charges must be rejected at validation.
		bankTransfer := createRequest()
		bankTransfer.PaymentMethod = models.MethodBankTransfer
		if _, err := ledger.CreatePayment(ctx, bankTransfer); !apperr.IsKind(err, apperr.Invalid) {
			t.Errorf("bank transfer: expected Invalid, got %v", err)
		}

		if g.calls != 0 {
			t.Errorf("gateway should not be called for invalid requests, got %d calls", g.calls)
		}
	})
}

func TestLedger_CreateSplitPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("Given participant shares Then the aggregate equals their sum", func(t *testing.T) {
		repo := newMemRepo()
		ledger, _, observer := newTestLedger(repo, pendingCharger("unused"))

		alice, bob := uuid.New(), uuid.New()
		payment, err := ledger.CreateSplitPayment(ctx, models.CreateSplitPaymentRequest{
			OrderID:       uuid.New(),
			RestaurantID:  uuid.New(),
			PaymentMethod: models.MethodCreditCard,
			Participants: []models.ParticipantShare{
				{UserID: alice, Amount: decimal.RequireFromString("30.25")},
				{UserID: bob, Amount: decimal.RequireFromString("19.75")},
			},
		})
		if err != nil {
			t.Fatalf("CreateSplitPayment failed: %v", err)
		}
		if !payment.Amount.Equal(decimal.RequireFromString("50")) {
			t.Errorf("expected aggregate 50, got %s", payment.Amount)
		}
		if payment.PaymentType != models.TypeSplitBill {
			t.Errorf("expected SPLIT_BILL, got %s", payment.PaymentType)
		}

		splits, err := ledger.GetPaymentSplits(ctx, payment.ID)
		if err != nil {
			t.Fatalf("GetPaymentSplits failed: %v", err)
		}
		if len(splits) != 2 {
			t.Fatalf("expected 2 splits, got %d", len(splits))
		}
		total := decimal.Zero
		for _, s := range splits {
			total = total.Add(s.Amount)
			if s.PaymentID != payment.ID {
				t.Errorf("split not linked to payment: %s", s.PaymentID)
			}
		}
		if !total.Equal(payment.Amount) {
			t.Errorf("split sum %s does not equal payment amount %s", total, payment.Amount)
		}
		if observer.count() != 1 {
			t.Errorf("expected monitor hand-off, got %d", observer.count())
		}
	})

	t.Run("Given no participants Then the request is invalid", func(t *testing.T) {
		repo := newMemRepo()
		ledger, _, _ := newTestLedger(repo, pendingCharger("unused"))

		_, err := ledger.CreateSplitPayment(ctx, models.CreateSplitPaymentRequest{
			OrderID:       uuid.New(),
			PaymentMethod: models.MethodCreditCard,
		})
		if !apperr.IsKind(err, apperr.Invalid) {
			t.Fatalf("expected Invalid, got %v", err)
		}
	})

	t.Run("Given a non-positive share Then the request is invalid", func(t *testing.T) {
		repo := newMemRepo()
		ledger, _, _ := newTestLedger(repo, pendingCharger("unused"))

		_, err := ledger.CreateSplitPayment(ctx, models.CreateSplitPaymentRequest{
			OrderID:       uuid.New(),
			PaymentMethod: models.MethodCreditCard,
			Participants: []models.ParticipantShare{
				{UserID: uuid.New(), Amount: decimal.RequireFromString("25")},
				{UserID: uuid.New(), Amount: decimal.Zero},
			},
		})
		if !apperr.IsKind(err, apperr.Invalid) {
			t.Fatalf("expected Invalid, got %v", err)
		}
	})
}

func TestLedger_UpdatePaymentStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("Given an existing payment Then partial update merges metadata", func(t *testing.T) {
		repo := newMemRepo()
		ledger, _, _ := newTestLedger(repo, pendingCharger("t1"))
		payment, err := ledger.CreatePayment(ctx, createRequest())
		if err != nil {
			t.Fatalf("CreatePayment failed: %v", err)
		}

		updated, err := ledger.UpdatePaymentStatus(ctx, payment.ID, models.UpdatePaymentRequest{
			Status:   models.StatusSuccessful,
			Metadata: map[string]string{"receipt": "r-1"},
		})
		if err != nil {
			t.Fatalf("UpdatePaymentStatus failed: %v", err)
		}
		if updated.Status != models.StatusSuccessful {
			t.Errorf("expected SUCCESSFUL, got %s", updated.Status)
		}
		// ExternalTransactionID was not provided and must survive.
		if updated.ExternalTransactionID != "t1" {
			t.Errorf("expected transaction id preserved, got %q", updated.ExternalTransactionID)
		}
		if updated.Metadata["receipt"] != "r-1" {
			t.Errorf("expected merged metadata, got %v", updated.Metadata)
		}
	})

	t.Run("Given the same update twice Then the second is a no-op", func(t *testing.T) {
		repo := newMemRepo()
		ledger, _, _ := newTestLedger(repo, pendingCharger("t1"))
		payment, err := ledger.CreatePayment(ctx, createRequest())
		if err != nil {
			t.Fatalf("CreatePayment failed: %v", err)
		}

		update := models.UpdatePaymentRequest{
			Status:   models.StatusSuccessful,
			Metadata: map[string]string{"receipt": "r-1"},
		}
		first, err := ledger.UpdatePaymentStatus(ctx, payment.ID, update)
		if err != nil {
			t.Fatalf("first update failed: %v", err)
		}
		second, err := ledger.UpdatePaymentStatus(ctx, payment.ID, update)
		if err != nil {
			t.Fatalf("second update failed: %v", err)
		}
		if second.Status != first.Status || second.ExternalTransactionID != first.ExternalTransactionID {
			t.Errorf("repeated update changed the record: %+v vs %+v", first, second)
		}
		if len(second.Metadata) != len(first.Metadata) {
			t.Errorf("repeated update changed metadata: %v vs %v", first.Metadata, second.Metadata)
		}
	})

	t.Run("Given an unknown payment id Then NotFound", func(t *testing.T) {
		repo := newMemRepo()
		ledger, _, _ := newTestLedger(repo, pendingCharger("t1"))

		_, err := ledger.UpdatePaymentStatus(ctx, uuid.New(), models.UpdatePaymentRequest{
			Status: models.StatusSuccessful,
		})
		if !apperr.IsKind(err, apperr.NotFound) {
			t.Fatalf("expected NotFound, got %v", err)
		}
	})

	t.Run("Given an unknown status Then Invalid", func(t *testing.T) {
		repo := newMemRepo()
		ledger, _, _ := newTestLedger(repo, pendingCharger("t1"))

		_, err := ledger.UpdatePaymentStatus(ctx, uuid.New(), models.UpdatePaymentRequest{
			Status: "SHRUGGED",
		})
		if !apperr.IsKind(err, apperr.Invalid) {
			t.Fatalf("expected Invalid, got %v", err)
		}
	})
}

func TestLedger_CashLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("Given a pending cash payment When confirmed Then receipt and staff metadata are recorded", func(t *testing.T) {
		repo := newMemRepo()
		ledger, _, _ := newTestLedger(repo, pendingCharger("CASH-initial"))
		payment, err := ledger.CreatePayment(ctx, createRequest())
		if err != nil {
			t.Fatalf("CreatePayment failed: %v", err)
		}

		staffID := uuid.New()
		confirmed, err := ledger.ConfirmCashPayment(ctx, payment.ID, "45.00", staffID)
		if err != nil {
			t.Fatalf("ConfirmCashPayment failed: %v", err)
		}
		if confirmed.Status != models.StatusSuccessful {
			t.Errorf("expected SUCCESSFUL, got %s", confirmed.Status)
		}
		if !strings.HasPrefix(confirmed.ExternalTransactionID, "CASH-") {
			t.Errorf("expected CASH- receipt id, got %q", confirmed.ExternalTransactionID)
		}
		if confirmed.Metadata["amountReceived"] != "45.00" {
			t.Errorf("expected amountReceived metadata, got %v", confirmed.Metadata)
		}
		if confirmed.Metadata["staffId"] != staffID.String() {
			t.Errorf("expected staffId metadata, got %v", confirmed.Metadata)
		}
	})

	t.Run("Given a pending cash payment When cancelled Then the reason is recorded", func(t *testing.T) {
		repo := newMemRepo()
		ledger, _, _ := newTestLedger(repo, pendingCharger("CASH-initial"))
		payment, err := ledger.CreatePayment(ctx, createRequest())
		if err != nil {
			t.Fatalf("CreatePayment failed: %v", err)
		}

		cancelled, err := ledger.CancelCashPayment(ctx, payment.ID, "customer left", uuid.New())
		if err != nil {
			t.Fatalf("CancelCashPayment failed: %v", err)
		}
		if cancelled.Status != models.StatusCancelled {
			t.Errorf("expected CANCELLED, got %s", cancelled.Status)
		}
		if cancelled.Metadata["reason"] != "customer left" {
			t.Errorf("expected reason metadata, got %v", cancelled.Metadata)
		}
	})

	t.Run("Given pending cash payments Then the restaurant queue lists them", func(t *testing.T) {
		repo := newMemRepo()
		ledger, _, _ := newTestLedger(repo, pendingCharger("CASH-initial"))

		req := createRequest()
		if _, err := ledger.CreatePayment(ctx, req); err != nil {
			t.Fatalf("CreatePayment failed: %v", err)
		}
		other := createRequest()
		if _, err := ledger.CreatePayment(ctx, other); err != nil {
			t.Fatalf("CreatePayment failed: %v", err)
		}

		pending, err := ledger.GetPendingCashPayments(ctx, req.RestaurantID)
		if err != nil {
			t.Fatalf("GetPendingCashPayments failed: %v", err)
		}
		if len(pending) != 1 {
			t.Fatalf("expected 1 pending cash payment for restaurant, got %d", len(pending))
		}
		if pending[0].RestaurantID != req.RestaurantID {
			t.Errorf("wrong restaurant: %s", pending[0].RestaurantID)
		}
	})
}
