package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	MethodCash          PaymentMethod = "CASH"
	MethodCreditCard    PaymentMethod = "CREDIT_CARD"
	MethodDebitCard     PaymentMethod = "DEBIT_CARD"
	MethodMobileMoney   PaymentMethod = "MOBILE_MONEY"
	MethodDigitalWallet PaymentMethod = "DIGITAL_WALLET"
	MethodCrypto        PaymentMethod = "CRYPTOCURRENCY"

	// MethodBankTransfer exists in historical records but is not accepted
	// for new charges until a bank provider adapter is registered.
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
)

// Valid reports whether the method is accepted for new charges; every valid
// method has a registered gateway adapter.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCreditCard, MethodDebitCard, MethodMobileMoney,
		MethodDigitalWallet, MethodCrypto:
		return true
	}
	return false
}

type PaymentStatus string

const (
	StatusPending    PaymentStatus = "PENDING"
	StatusSuccessful PaymentStatus = "SUCCESSFUL"
	StatusFailed     PaymentStatus = "FAILED"
	StatusRefunded   PaymentStatus = "REFUNDED"
	StatusCancelled  PaymentStatus = "CANCELLED"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSuccessful, StatusFailed, StatusRefunded, StatusCancelled:
		return true
	}
	return false
}

type PaymentType string

const (
	TypeSingleOrder    PaymentType = "SINGLE_ORDER"
	TypeGroupOrder     PaymentType = "GROUP_ORDER"
	TypeSplitBill      PaymentType = "SPLIT_BILL"
	TypeReservationFee PaymentType = "RESERVATION_FEE"
)

func (t PaymentType) Valid() bool {
	switch t {
	case TypeSingleOrder, TypeGroupOrder, TypeSplitBill, TypeReservationFee:
		return true
	}
	return false
}

// Payment is the authoritative record of a single payment attempt. Payments
// are never deleted; cancellation and failure are terminal statuses.
type Payment struct {
	ID                    uuid.UUID         `json:"id"`
	UserID                uuid.UUID         `json:"user_id"`
	OrderID               uuid.UUID         `json:"order_id"`
	RestaurantID          uuid.UUID         `json:"restaurant_id"`
	PaymentMethod         PaymentMethod     `json:"payment_method"`
	PaymentType           PaymentType       `json:"payment_type"`
	Status                PaymentStatus     `json:"status"`
	Amount                decimal.Decimal   `json:"amount"`
	Currency              string            `json:"currency"`
	Description           string            `json:"description,omitempty"`
	ExternalTransactionID string            `json:"external_transaction_id,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
	Participants          []uuid.UUID       `json:"participants,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// PaymentSplit tracks one participant's share of a split-bill payment.
type PaymentSplit struct {
	ID        uuid.UUID       `json:"id"`
	PaymentID uuid.UUID       `json:"payment_id"`
	UserID    uuid.UUID       `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    PaymentStatus   `json:"status"`
}

type CreatePaymentRequest struct {
	UserID        uuid.UUID         `json:"user_id" binding:"required"`
	OrderID       uuid.UUID         `json:"order_id" binding:"required"`
	RestaurantID  uuid.UUID         `json:"restaurant_id"`
	PaymentMethod PaymentMethod     `json:"payment_method" binding:"required"`
	PaymentType   PaymentType       `json:"payment_type" binding:"required"`
	Amount        decimal.Decimal   `json:"amount" binding:"required"`
	Currency      string            `json:"currency"`
	Description   string            `json:"description"`
	Metadata      map[string]string `json:"metadata"`
}

type ParticipantShare struct {
	UserID uuid.UUID       `json:"user_id" binding:"required"`
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

type CreateSplitPaymentRequest struct {
	OrderID       uuid.UUID          `json:"order_id" binding:"required"`
	RestaurantID  uuid.UUID          `json:"restaurant_id"`
	PaymentMethod PaymentMethod      `json:"payment_method" binding:"required"`
	Currency      string             `json:"currency"`
	Participants  []ParticipantShare `json:"participants" binding:"required"`
}

// UpdatePaymentRequest carries a partial update: zero-valued fields are left
// untouched and metadata is merged into the existing map, not replaced.
type UpdatePaymentRequest struct {
	Status                PaymentStatus     `json:"status,omitempty"`
	ExternalTransactionID string            `json:"external_transaction_id,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
}

type FraudRecommendation string

const (
	RecommendationApprove FraudRecommendation = "APPROVE"
	RecommendationReview  FraudRecommendation = "REVIEW"
	RecommendationBlock   FraudRecommendation = "BLOCK"
)

// FraudRiskAssessment is computed fresh per transaction and never persisted.
type FraudRiskAssessment struct {
	RiskScore      float64             `json:"risk_score"`
	Flags          []string            `json:"flags"`
	Recommendation FraudRecommendation `json:"recommendation"`
}

// TransactionMonitoringEvent is a bounded-lifetime in-memory snapshot of an
// observed payment, used for the fraud/velocity window.
type TransactionMonitoringEvent struct {
	PaymentID     uuid.UUID       `json:"payment_id"`
	UserID        uuid.UUID       `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     time.Time       `json:"timestamp"`
	Status        PaymentStatus   `json:"status"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
}
