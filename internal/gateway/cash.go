package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/quisin/payments-core/internal/apperr"
	"github.com/quisin/payments-core/internal/models"
)

// CashGateway never talks to an external system. It issues a CASH-prefixed
// transaction id and leaves the payment PENDING until staff confirm receipt.
type CashGateway struct{}

func NewCashGateway() *CashGateway { return &CashGateway{} }

func (g *CashGateway) Name() string { return "cash" }

func (g *CashGateway) Methods() []models.PaymentMethod {
	return []models.PaymentMethod{models.MethodCash}
}

func (g *CashGateway) Process(_ context.Context, req ChargeRequest) (Result, error) {
	if err := validateMethod(req.Method, g.Name(), models.MethodCash); err != nil {
		return Result{}, err
	}
	if !req.Amount.GreaterThan(decimal.Zero) {
		return Result{}, apperr.InvalidErr("amount must be greater than zero")
	}

	return Result{
		TransactionID: "CASH-" + generatedTransactionID(),
		Status:        models.StatusPending,
	}, nil
}
