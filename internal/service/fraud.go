package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quisin/payments-core/internal/interfaces"
	"github.com/quisin/payments-core/internal/models"
	"github.com/quisin/payments-core/internal/telemetry"
)

// Signal weights. Each signal contributes independently and is individually
// capped, so every flag on an assessment is auditable on its own.
const (
	amountAnomalyHigh = 30.0
	amountAnomalyMid  = 20.0
	velocityHigh      = 25.0
	velocityMid       = 15.0
	methodRiskCrypto  = 20.0
	methodRiskMobile  = 10.0
	methodRiskBase    = 5.0
	failureRatioMax   = 25.0

	blockThreshold  = 80.0
	reviewThreshold = 50.0
)

const (
	FlagUnusualAmount      = "UNUSUAL_AMOUNT"
	FlagHighVelocity       = "HIGH_VELOCITY"
	FlagHighRiskMethod     = "HIGH_RISK_METHOD"
	FlagHistoricalFailures = "HISTORICAL_FAILURES"
)

// historyWindow bounds how far back the assessor reads a payer's history.
// The velocity signal only looks at the trailing 24 hours within it.
const historyWindow = 90 * 24 * time.Hour

// FraudAssessor computes an additive, rule-based risk score over a payer's
// recent payment history. Deliberately not statistical: the score is
// reproducible from the same history and each flag maps to one rule.
type FraudAssessor struct {
	repo interfaces.PaymentRepository
	now  func() time.Time
}

func NewFraudAssessor(repo interfaces.PaymentRepository) *FraudAssessor {
	return &FraudAssessor{repo: repo, now: time.Now}
}

func (a *FraudAssessor) AssessTransactionRisk(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, method models.PaymentMethod) (models.FraudRiskAssessment, error) {
	history, err := a.repo.ListByUserSince(ctx, userID, a.now().Add(-historyWindow))
	if err != nil {
		return models.FraudRiskAssessment{}, err
	}

	var (
		score float64
		flags []string
	)

	if s := amountAnomalyScore(amount, history); s > 0 {
		score += s
		flags = append(flags, FlagUnusualAmount)
	}
	if s := velocityScore(history, a.now()); s > 0 {
		score += s
		flags = append(flags, FlagHighVelocity)
	}
	score += geographicConsistencyScore()
	if s := methodRiskScore(method); s > 0 {
		score += s
		if s > methodRiskBase {
			flags = append(flags, FlagHighRiskMethod)
		}
	}
	if s := failureRatioScore(history); s > 0 {
		score += s
		flags = append(flags, FlagHistoricalFailures)
	}

	assessment := models.FraudRiskAssessment{
		RiskScore:      score,
		Flags:          flags,
		Recommendation: RecommendationForScore(score),
	}
	telemetry.FraudAssessments.WithLabelValues(string(assessment.Recommendation)).Inc()
	return assessment, nil
}

// RecommendationForScore applies the fixed decision thresholds.
func RecommendationForScore(score float64) models.FraudRecommendation {
	switch {
	case score > blockThreshold:
		return models.RecommendationBlock
	case score > reviewThreshold:
		return models.RecommendationReview
	default:
		return models.RecommendationApprove
	}
}

// BlockTransaction records the block on the payment and logs the attempt.
// It does not reverse an already-settled payment; it prevents further
// settlement by flagging the record.
func (a *FraudAssessor) BlockTransaction(ctx context.Context, paymentID uuid.UUID, reason string) error {
	_, err := a.repo.Update(ctx, paymentID, models.UpdatePaymentRequest{
		Metadata: map[string]string{
			"fraud_blocked":      "true",
			"fraud_block_reason": reason,
		},
	})
	if err != nil {
		return err
	}

	telemetry.Logger.Warn("Transaction blocked for fraud",
		zap.String("payment_id", paymentID.String()),
		zap.String("reason", reason),
	)
	return nil
}

func amountAnomalyScore(amount decimal.Decimal, history []models.Payment) float64 {
	var sum float64
	for _, p := range history {
		sum += p.Amount.InexactFloat64()
	}
	var average float64
	if len(history) > 0 {
		average = sum / float64(len(history))
	}

	value := amount.InexactFloat64()
	switch {
	case value > average*3:
		return amountAnomalyHigh
	case value > average*2:
		return amountAnomalyMid
	default:
		return 0
	}
}

func velocityScore(history []models.Payment, now time.Time) float64 {
	cutoff := now.Add(-24 * time.Hour)
	recent := 0
	for _, p := range history {
		if p.CreatedAt.After(cutoff) {
			recent++
		}
	}

	switch {
	case recent > 5:
		return velocityHigh
	case recent > 3:
		return velocityMid
	default:
		return 0
	}
}

// Placeholder until device/IP geo signals are wired in.
func geographicConsistencyScore() float64 { return 0 }

func methodRiskScore(method models.PaymentMethod) float64 {
	switch method {
	case models.MethodCrypto:
		return methodRiskCrypto
	case models.MethodMobileMoney:
		return methodRiskMobile
	default:
		return methodRiskBase
	}
}

func failureRatioScore(history []models.Payment) float64 {
	if len(history) == 0 {
		return 0
	}
	failed := 0
	for _, p := range history {
		if p.Status == models.StatusFailed {
			failed++
		}
	}
	return float64(failed) / float64(len(history)) * failureRatioMax
}
