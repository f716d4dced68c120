package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quisin/payments-core/internal/apperr"
	"github.com/quisin/payments-core/internal/gateway"
	"github.com/quisin/payments-core/internal/models"
)

// memRepo is an in-memory PaymentRepository that mirrors the Postgres
// implementation's semantics: duplicate guard on active (user, order) pairs
// and key-wise metadata merge on partial updates.
type memRepo struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*models.Payment
	splits   map[uuid.UUID][]models.PaymentSplit

	updateErr error
	listErr   error
}

func newMemRepo() *memRepo {
	return &memRepo{
		payments: make(map[uuid.UUID]*models.Payment),
		splits:   make(map[uuid.UUID][]models.PaymentSplit),
	}
}

func (r *memRepo) seed(p models.Payment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := p
	r.payments[p.ID] = &stored
}

func (r *memRepo) Create(_ context.Context, payment *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.payments {
		if existing.UserID == payment.UserID && existing.OrderID == payment.OrderID &&
			existing.Status != models.StatusCancelled {
			return apperr.ConflictErr("payment for this order already exists")
		}
	}
	stored := *payment
	r.payments[payment.ID] = &stored
	return nil
}

func (r *memRepo) CreateWithSplits(ctx context.Context, payment *models.Payment, splits []models.PaymentSplit) error {
	if err := r.Create(ctx, payment); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.splits[payment.ID] = append([]models.PaymentSplit(nil), splits...)
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, apperr.NotFoundErr("payment not found")
	}
	out := *p
	return &out, nil
}

func (r *memRepo) GetActiveByUserAndOrder(_ context.Context, userID, orderID uuid.UUID) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.UserID == userID && p.OrderID == orderID && p.Status != models.StatusCancelled {
			out := *p
			return &out, nil
		}
	}
	return nil, apperr.NotFoundErr("payment not found")
}

func (r *memRepo) GetByExternalTransactionID(_ context.Context, externalID string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.ExternalTransactionID == externalID {
			out := *p
			return &out, nil
		}
	}
	return nil, apperr.NotFoundErr("payment not found")
}

func (r *memRepo) Update(_ context.Context, id uuid.UUID, req models.UpdatePaymentRequest) (*models.Payment, error) {
	if r.updateErr != nil {
		return nil, r.updateErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, apperr.NotFoundErr("payment not found")
	}
	if req.Status != "" {
		p.Status = req.Status
	}
	if req.ExternalTransactionID != "" {
		p.ExternalTransactionID = req.ExternalTransactionID
	}
	if req.Metadata != nil {
		if p.Metadata == nil {
			p.Metadata = make(map[string]string)
		}
		for k, v := range req.Metadata {
			p.Metadata[k] = v
		}
	}
	p.UpdatedAt = time.Now()
	out := *p
	return &out, nil
}

func (r *memRepo) ListByUser(_ context.Context, userID uuid.UUID, status *models.PaymentStatus) ([]models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Payment
	for _, p := range r.payments {
		if p.UserID != userID {
			continue
		}
		if status != nil && p.Status != *status {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (r *memRepo) ListByUserSince(_ context.Context, userID uuid.UUID, since time.Time) ([]models.Payment, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Payment
	for _, p := range r.payments {
		if p.UserID == userID && !p.CreatedAt.Before(since) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *memRepo) ListPendingCash(_ context.Context, restaurantID uuid.UUID) ([]models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Payment
	for _, p := range r.payments {
		if p.RestaurantID == restaurantID && p.PaymentMethod == models.MethodCash &&
			p.Status == models.StatusPending {
			out = append(out, *p)
		}
	}
	return out, nil
}

type memSplitRepo struct {
	repo *memRepo
}

func (r *memSplitRepo) ListByPayment(_ context.Context, paymentID uuid.UUID) ([]models.PaymentSplit, error) {
	r.repo.mu.Lock()
	defer r.repo.mu.Unlock()
	return append([]models.PaymentSplit(nil), r.repo.splits[paymentID]...), nil
}

// stubCharger returns a canned gateway result.
type stubCharger struct {
	result gateway.Result
	err    error
	calls  int
}

func (c *stubCharger) Process(_ context.Context, _ gateway.ChargeRequest) (gateway.Result, error) {
	c.calls++
	return c.result, c.err
}

type stubPublisher struct {
	mu        sync.Mutex
	published []models.Payment
}

func (p *stubPublisher) PublishPaymentEvent(_ context.Context, payment *models.Payment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, *payment)
}

type stubObserver struct {
	mu       sync.Mutex
	observed []models.Payment
}

func (o *stubObserver) Observe(payment *models.Payment) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observed = append(o.observed, *payment)
}

func (o *stubObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.observed)
}

// stubAssessor drives the monitor with canned assessments.
type stubAssessor struct {
	mu         sync.Mutex
	assessment models.FraudRiskAssessment
	err        error
	blocked    []uuid.UUID
}

func (a *stubAssessor) AssessTransactionRisk(_ context.Context, _ uuid.UUID, _ decimal.Decimal, _ models.PaymentMethod) (models.FraudRiskAssessment, error) {
	return a.assessment, a.err
}

func (a *stubAssessor) BlockTransaction(_ context.Context, paymentID uuid.UUID, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blocked = append(a.blocked, paymentID)
	return nil
}

type stubAlerts struct {
	mu       sync.Mutex
	subjects []string
}

func (s *stubAlerts) Publish(subject string, _ []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects = append(s.subjects, subject)
	return nil
}
