package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quisin/payments-core/internal/models"
)

func seedHistory(repo *memRepo, userID uuid.UUID, count int, amount float64, age time.Duration, status models.PaymentStatus) {
	for i := 0; i < count; i++ {
		repo.seed(models.Payment{
			ID:            uuid.New(),
			UserID:        userID,
			OrderID:       uuid.New(),
			PaymentMethod: models.MethodCreditCard,
			PaymentType:   models.TypeSingleOrder,
			Status:        status,
			Amount:        decimal.NewFromFloat(amount),
			Currency:      "USD",
			CreatedAt:     time.Now().Add(-age),
		})
	}
}

func TestFraudAssessor_AssessTransactionRisk(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("Given no history When assessing a card payment Then only base method risk applies", func(t *testing.T) {
		repo := newMemRepo()
		assessor := NewFraudAssessor(repo)

		// No history: average is zero, so any positive amount trips the
		// amount-anomaly signal, matching the historical-average rule.
		got, err := assessor.AssessTransactionRisk(ctx, userID, decimal.NewFromFloat(20), models.MethodCreditCard)
		if err != nil {
			t.Fatalf("AssessTransactionRisk failed: %v", err)
		}
		want := amountAnomalyHigh + methodRiskBase
		if got.RiskScore != want {
			t.Errorf("expected score %v, got %v", want, got.RiskScore)
		}
		if got.Recommendation != models.RecommendationApprove {
			t.Errorf("expected APPROVE, got %s", got.Recommendation)
		}
	})

	t.Run("Given stable history When amount is within range Then score is only method risk", func(t *testing.T) {
		repo := newMemRepo()
		seedHistory(repo, userID, 3, 50, 72*time.Hour, models.StatusSuccessful)
		assessor := NewFraudAssessor(repo)

		got, err := assessor.AssessTransactionRisk(ctx, userID, decimal.NewFromFloat(50), models.MethodCreditCard)
		if err != nil {
			t.Fatalf("AssessTransactionRisk failed: %v", err)
		}
		if got.RiskScore != methodRiskBase {
			t.Errorf("expected score %v, got %v", methodRiskBase, got.RiskScore)
		}
		if len(got.Flags) != 0 {
			t.Errorf("expected no flags, got %v", got.Flags)
		}
	})

	t.Run("Given history When amount exceeds 3x average Then anomaly flag and +30", func(t *testing.T) {
		repo := newMemRepo()
		seedHistory(repo, userID, 4, 10, 72*time.Hour, models.StatusSuccessful)
		assessor := NewFraudAssessor(repo)

		got, err := assessor.AssessTransactionRisk(ctx, userID, decimal.NewFromFloat(35), models.MethodCreditCard)
		if err != nil {
			t.Fatalf("AssessTransactionRisk failed: %v", err)
		}
		if got.RiskScore != amountAnomalyHigh+methodRiskBase {
			t.Errorf("expected score %v, got %v", amountAnomalyHigh+methodRiskBase, got.RiskScore)
		}
		if !hasFlag(got.Flags, FlagUnusualAmount) {
			t.Errorf("expected %s flag, got %v", FlagUnusualAmount, got.Flags)
		}
	})

	t.Run("Given history When amount exceeds 2x average Then +20", func(t *testing.T) {
		repo := newMemRepo()
		seedHistory(repo, userID, 4, 10, 72*time.Hour, models.StatusSuccessful)
		assessor := NewFraudAssessor(repo)

		got, err := assessor.AssessTransactionRisk(ctx, userID, decimal.NewFromFloat(25), models.MethodCreditCard)
		if err != nil {
			t.Fatalf("AssessTransactionRisk failed: %v", err)
		}
		if got.RiskScore != amountAnomalyMid+methodRiskBase {
			t.Errorf("expected score %v, got %v", amountAnomalyMid+methodRiskBase, got.RiskScore)
		}
	})

	t.Run("Given velocity grows Then score never decreases", func(t *testing.T) {
		scoreFor := func(recent int) float64 {
			repo := newMemRepo()
			seedHistory(repo, userID, recent, 50, time.Hour, models.StatusSuccessful)
			assessor := NewFraudAssessor(repo)
			got, err := assessor.AssessTransactionRisk(ctx, userID, decimal.NewFromFloat(50), models.MethodCreditCard)
			if err != nil {
				t.Fatalf("AssessTransactionRisk failed: %v", err)
			}
			return got.RiskScore
		}

		if s3, s4 := scoreFor(3), scoreFor(4); s4 < s3 {
			t.Errorf("score decreased when velocity grew: %v -> %v", s3, s4)
		}
		if s4, s6 := scoreFor(4), scoreFor(6); s6 < s4 {
			t.Errorf("score decreased when velocity grew: %v -> %v", s4, s6)
		}
	})

	t.Run("Given more than 5 recent payments Then velocity contributes 25", func(t *testing.T) {
		repo := newMemRepo()
		seedHistory(repo, userID, 6, 50, time.Hour, models.StatusSuccessful)
		assessor := NewFraudAssessor(repo)

		got, err := assessor.AssessTransactionRisk(ctx, userID, decimal.NewFromFloat(50), models.MethodCreditCard)
		if err != nil {
			t.Fatalf("AssessTransactionRisk failed: %v", err)
		}
		if got.RiskScore != velocityHigh+methodRiskBase {
			t.Errorf("expected score %v, got %v", velocityHigh+methodRiskBase, got.RiskScore)
		}
		if !hasFlag(got.Flags, FlagHighVelocity) {
			t.Errorf("expected %s flag, got %v", FlagHighVelocity, got.Flags)
		}
	})

	t.Run("Given payment methods Then crypto outranks mobile money outranks cards", func(t *testing.T) {
		repo := newMemRepo()
		seedHistory(repo, userID, 3, 50, 72*time.Hour, models.StatusSuccessful)
		assessor := NewFraudAssessor(repo)

		scoreFor := func(method models.PaymentMethod) float64 {
			got, err := assessor.AssessTransactionRisk(ctx, userID, decimal.NewFromFloat(50), method)
			if err != nil {
				t.Fatalf("AssessTransactionRisk failed: %v", err)
			}
			return got.RiskScore
		}

		card := scoreFor(models.MethodCreditCard)
		mobile := scoreFor(models.MethodMobileMoney)
		crypto := scoreFor(models.MethodCrypto)
		if !(crypto > mobile && mobile > card) {
			t.Errorf("expected crypto > mobile > card, got %v %v %v", crypto, mobile, card)
		}
		if crypto-card != methodRiskCrypto-methodRiskBase {
			t.Errorf("expected crypto premium %v, got %v", methodRiskCrypto-methodRiskBase, crypto-card)
		}
	})

	t.Run("Given failed history Then failure ratio contributes proportionally", func(t *testing.T) {
		repo := newMemRepo()
		seedHistory(repo, userID, 3, 50, 72*time.Hour, models.StatusSuccessful)
		seedHistory(repo, userID, 1, 50, 72*time.Hour, models.StatusFailed)
		assessor := NewFraudAssessor(repo)

		got, err := assessor.AssessTransactionRisk(ctx, userID, decimal.NewFromFloat(50), models.MethodCreditCard)
		if err != nil {
			t.Fatalf("AssessTransactionRisk failed: %v", err)
		}
		// 1 failed of 4 payments: 0.25 * 25 = 6.25 on top of base method risk.
		want := methodRiskBase + 6.25
		if got.RiskScore != want {
			t.Errorf("expected score %v, got %v", want, got.RiskScore)
		}
		if !hasFlag(got.Flags, FlagHistoricalFailures) {
			t.Errorf("expected %s flag, got %v", FlagHistoricalFailures, got.Flags)
		}
	})

	t.Run("Given burst of large crypto payments Then recommendation is BLOCK", func(t *testing.T) {
		repo := newMemRepo()
		seedHistory(repo, userID, 4, 10, time.Minute, models.StatusSuccessful)
		seedHistory(repo, userID, 2, 10, time.Minute, models.StatusFailed)
		assessor := NewFraudAssessor(repo)

		// 6 payments in the last minute, a third failed, amount well over
		// 3x average, riskiest method: 30 + 25 + 20 + 8.33.
		got, err := assessor.AssessTransactionRisk(ctx, userID, decimal.NewFromFloat(100), models.MethodCrypto)
		if err != nil {
			t.Fatalf("AssessTransactionRisk failed: %v", err)
		}
		if got.RiskScore <= blockThreshold {
			t.Errorf("expected score above %v, got %v", blockThreshold, got.RiskScore)
		}
		if got.Recommendation != models.RecommendationBlock {
			t.Errorf("expected BLOCK, got %s", got.Recommendation)
		}
	})
}

func TestRecommendationForScore_Boundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  models.FraudRecommendation
	}{
		{50, models.RecommendationApprove},
		{51, models.RecommendationReview},
		{80, models.RecommendationReview},
		{81, models.RecommendationBlock},
	}

	for _, tc := range cases {
		if got := RecommendationForScore(tc.score); got != tc.want {
			t.Errorf("score %v: expected %s, got %s", tc.score, tc.want, got)
		}
	}
}

func TestFraudAssessor_BlockTransaction(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	payment := models.Payment{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		OrderID:       uuid.New(),
		PaymentMethod: models.MethodCrypto,
		PaymentType:   models.TypeSingleOrder,
		Status:        models.StatusSuccessful,
		Amount:        decimal.NewFromFloat(500),
		Currency:      "USD",
		CreatedAt:     time.Now(),
	}
	repo.seed(payment)
	assessor := NewFraudAssessor(repo)

	if err := assessor.BlockTransaction(ctx, payment.ID, "high fraud risk score"); err != nil {
		t.Fatalf("BlockTransaction failed: %v", err)
	}

	got, err := repo.GetByID(ctx, payment.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Metadata["fraud_blocked"] != "true" {
		t.Errorf("expected fraud_blocked metadata, got %v", got.Metadata)
	}
	// Blocking flags the record; it never rolls back a settled payment.
	if got.Status != models.StatusSuccessful {
		t.Errorf("expected status unchanged, got %s", got.Status)
	}
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}
