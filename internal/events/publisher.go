// Package events publishes payment lifecycle events for downstream
// collaborators (notification, audit, analytics).
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quisin/payments-core/internal/models"
	"github.com/quisin/payments-core/internal/telemetry"
)

const Topic = "payment.events"

type EventType string

const (
	PaymentInitiated  EventType = "PAYMENT_INITIATED"
	PaymentSuccessful EventType = "PAYMENT_SUCCESSFUL"
	PaymentFailed     EventType = "PAYMENT_FAILED"
	PaymentRefunded   EventType = "PAYMENT_REFUNDED"
	PaymentCancelled  EventType = "PAYMENT_CANCELLED"
)

type PaymentEvent struct {
	EventID       uuid.UUID            `json:"event_id"`
	EventType     EventType            `json:"event_type"`
	PaymentID     uuid.UUID            `json:"payment_id"`
	OrderID       uuid.UUID            `json:"order_id"`
	UserID        uuid.UUID            `json:"user_id"`
	Status        models.PaymentStatus `json:"status"`
	Amount        decimal.Decimal      `json:"amount"`
	Currency      string               `json:"currency"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	Timestamp     time.Time            `json:"timestamp"`
}

// Publisher is the outbound eventing hook invoked after every create/update.
type Publisher interface {
	PublishPaymentEvent(ctx context.Context, payment *models.Payment)
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers),
			Topic:    Topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// PublishPaymentEvent is best-effort: a broker failure is logged, never
// surfaced into the payment write path.
func (p *KafkaPublisher) PublishPaymentEvent(ctx context.Context, payment *models.Payment) {
	event := PaymentEvent{
		EventID:       uuid.New(),
		EventType:     eventTypeFor(payment.Status),
		PaymentID:     payment.ID,
		OrderID:       payment.OrderID,
		UserID:        payment.UserID,
		Status:        payment.Status,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		PaymentMethod: payment.PaymentMethod,
		Timestamp:     time.Now(),
	}

	value, err := json.Marshal(event)
	if err != nil {
		telemetry.Logger.Error("Error marshaling payment event", zap.Error(err))
		return
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(payment.ID.String()),
		Value: value,
	}); err != nil {
		telemetry.Logger.Error("Error publishing payment event",
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err),
		)
	}
}

func eventTypeFor(status models.PaymentStatus) EventType {
	switch status {
	case models.StatusSuccessful:
		return PaymentSuccessful
	case models.StatusFailed:
		return PaymentFailed
	case models.StatusRefunded:
		return PaymentRefunded
	case models.StatusCancelled:
		return PaymentCancelled
	default:
		return PaymentInitiated
	}
}
