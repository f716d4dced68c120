package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quisin/payments-core/internal/models"
	"github.com/quisin/payments-core/internal/telemetry"
)

const (
	SubjectFraudReview  = "fraud.review"
	SubjectFraudBlocked = "fraud.blocked"

	defaultRetention = 24 * time.Hour
	defaultQueueSize = 256
	defaultWorkers   = 4
)

// riskAssessor is what the monitor needs from the fraud service.
type riskAssessor interface {
	AssessTransactionRisk(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, method models.PaymentMethod) (models.FraudRiskAssessment, error)
	BlockTransaction(ctx context.Context, paymentID uuid.UUID, reason string) error
}

// alertPublisher matches nats.Conn's Publish signature.
type alertPublisher interface {
	Publish(subject string, data []byte) error
}

// FraudAlert is the message published on review/block subjects.
type FraudAlert struct {
	PaymentID      uuid.UUID                  `json:"payment_id"`
	UserID         uuid.UUID                  `json:"user_id"`
	RiskScore      float64                    `json:"risk_score"`
	Flags          []string                   `json:"flags"`
	Recommendation models.FraudRecommendation `json:"recommendation"`
}

// Monitor keeps a bounded window of recently observed payments and scores
// each one off the request path. Observations are handed to a background
// worker pool through a bounded queue; when the queue is full the
// observation is dropped and counted (at-most-once delivery).
type Monitor struct {
	assessor  riskAssessor
	alerts    alertPublisher
	retention time.Duration
	now       func() time.Time

	mu     sync.RWMutex
	events map[uuid.UUID]models.TransactionMonitoringEvent

	queue chan *models.Payment
	wg    sync.WaitGroup
	stop  sync.Once
}

func NewMonitor(assessor riskAssessor, alerts alertPublisher) *Monitor {
	return &Monitor{
		assessor:  assessor,
		alerts:    alerts,
		retention: defaultRetention,
		now:       time.Now,
		events:    make(map[uuid.UUID]models.TransactionMonitoringEvent),
		queue:     make(chan *models.Payment, defaultQueueSize),
	}
}

// Start launches the worker pool. Workers drain the queue until Stop closes it.
func (m *Monitor) Start(ctx context.Context) {
	for i := 0; i < defaultWorkers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for payment := range m.queue {
				m.process(ctx, payment)
			}
		}()
	}
}

// Stop closes the queue and waits for in-flight observations to finish.
func (m *Monitor) Stop() {
	m.stop.Do(func() { close(m.queue) })
	m.wg.Wait()
}

// Observe hands a payment to the monitoring workers without blocking the
// caller. A full queue drops the observation rather than stalling payment
// creation.
func (m *Monitor) Observe(payment *models.Payment) {
	select {
	case m.queue <- payment:
	default:
		telemetry.MonitorDropped.Inc()
		telemetry.Logger.Warn("Monitoring queue full, dropping observation",
			zap.String("payment_id", payment.ID.String()),
		)
	}
}

func (m *Monitor) process(ctx context.Context, payment *models.Payment) {
	event := models.TransactionMonitoringEvent{
		PaymentID:     payment.ID,
		UserID:        payment.UserID,
		Amount:        payment.Amount,
		Timestamp:     m.now(),
		Status:        payment.Status,
		PaymentMethod: payment.PaymentMethod,
	}

	m.mu.Lock()
	m.events[event.PaymentID] = event
	m.mu.Unlock()

	// Scoring failures stay inside the monitor; the payment itself is
	// already committed.
	assessment, err := m.assessor.AssessTransactionRisk(ctx, payment.UserID, payment.Amount, payment.PaymentMethod)
	if err != nil {
		telemetry.Logger.Error("Fraud assessment failed",
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err),
		)
		m.sweep()
		return
	}

	switch assessment.Recommendation {
	case models.RecommendationReview:
		m.publishAlert(SubjectFraudReview, event, assessment)
	case models.RecommendationBlock:
		m.publishAlert(SubjectFraudBlocked, event, assessment)
		if err := m.assessor.BlockTransaction(ctx, payment.ID, "high fraud risk score"); err != nil {
			telemetry.Logger.Error("Failed to block transaction",
				zap.String("payment_id", payment.ID.String()),
				zap.Error(err),
			)
		}
	}

	m.sweep()
}

func (m *Monitor) publishAlert(subject string, event models.TransactionMonitoringEvent, assessment models.FraudRiskAssessment) {
	alert := FraudAlert{
		PaymentID:      event.PaymentID,
		UserID:         event.UserID,
		RiskScore:      assessment.RiskScore,
		Flags:          assessment.Flags,
		Recommendation: assessment.Recommendation,
	}

	data, err := json.Marshal(alert)
	if err != nil {
		telemetry.Logger.Error("Error marshaling fraud alert", zap.Error(err))
		return
	}
	if m.alerts == nil {
		return
	}
	if err := m.alerts.Publish(subject, data); err != nil {
		telemetry.Logger.Error("Error publishing fraud alert",
			zap.String("subject", subject),
			zap.String("payment_id", event.PaymentID.String()),
			zap.Error(err),
		)
	}

	telemetry.Logger.Info("High-risk transaction flagged",
		zap.String("payment_id", event.PaymentID.String()),
		zap.Float64("risk_score", assessment.RiskScore),
		zap.Strings("flags", assessment.Flags),
		zap.String("recommendation", string(assessment.Recommendation)),
	)
}

// sweep evicts events past the retention horizon. Runs opportunistically
// after every processed observation.
func (m *Monitor) sweep() {
	cutoff := m.now().Add(-m.retention)

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, event := range m.events {
		if event.Timestamp.Before(cutoff) {
			delete(m.events, id)
		}
	}
}

// RecentTransactions returns the full in-memory window.
func (m *Monitor) RecentTransactions() []models.TransactionMonitoringEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.TransactionMonitoringEvent, 0, len(m.events))
	for _, event := range m.events {
		out = append(out, event)
	}
	return out
}

// TransactionHistory returns a payer's window entries, newest first.
func (m *Monitor) TransactionHistory(userID uuid.UUID) []models.TransactionMonitoringEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.TransactionMonitoringEvent
	for _, event := range m.events {
		if event.UserID == userID {
			out = append(out, event)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}
