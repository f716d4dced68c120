// Package gateway holds one adapter per external payment provider behind a
// uniform synchronous contract. Adapters return a provisional status; the
// authoritative settlement arrives later through provider webhooks.
package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quisin/payments-core/internal/apperr"
	"github.com/quisin/payments-core/internal/models"
)

// FailureKind distinguishes a provider that rejected the charge from a
// provider we could not reach at all. Both surface as StatusFailed.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureDeclined    FailureKind = "PROVIDER_DECLINED"
	FailureUnreachable FailureKind = "PROVIDER_UNREACHABLE"
)

type ChargeRequest struct {
	Amount decimal.Decimal
	Method models.PaymentMethod
	UserID uuid.UUID
	// PhoneNumber is the payer's MSISDN; required by mobile-money providers.
	PhoneNumber string
}

// Result is always returned for provider-side failures; adapters never leak
// provider errors to the caller. The error return is reserved for
// precondition violations such as a method/adapter mismatch.
type Result struct {
	TransactionID string
	Status        models.PaymentStatus
	Failure       FailureKind
	Detail        string
}

type Gateway interface {
	Name() string
	Methods() []models.PaymentMethod
	Process(ctx context.Context, req ChargeRequest) (Result, error)
}

// Registry dispatches charge requests to the adapter registered for the
// payment method. Adding a provider is a Register call, not a new branch.
type Registry struct {
	mu       sync.RWMutex
	gateways map[models.PaymentMethod]Gateway
}

func NewRegistry() *Registry {
	return &Registry{gateways: make(map[models.PaymentMethod]Gateway)}
}

func (r *Registry) Register(g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range g.Methods() {
		r.gateways[m] = g
	}
}

func (r *Registry) Lookup(method models.PaymentMethod) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[method]
	if !ok {
		return nil, apperr.InvalidErr(fmt.Sprintf("no payment gateway registered for method %s", method))
	}
	return g, nil
}

// Process validates the method and forwards to the registered adapter.
func (r *Registry) Process(ctx context.Context, req ChargeRequest) (Result, error) {
	g, err := r.Lookup(req.Method)
	if err != nil {
		return Result{}, err
	}
	return g.Process(ctx, req)
}

func validateMethod(got models.PaymentMethod, name string, want ...models.PaymentMethod) error {
	for _, m := range want {
		if got == m {
			return nil
		}
	}
	return apperr.InvalidErr(fmt.Sprintf("invalid payment method %s for %s gateway", got, name))
}

func generatedTransactionID() string {
	return uuid.NewString()
}
